package lending

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"lendledger/native/lending/userconfig"
	"lendledger/storage"
)

var (
	reservePrefix    = []byte("lending/reserve:")
	reservesListKey  = ethcrypto.Keccak256([]byte("lending/reserves-list"))
	userConfigPrefix = []byte("lending/userconfig:")
	auctionPrefix    = []byte("lending/auction:")
)

// auctionIndexPrefix keys are not hashed so running auctions can be walked
// by prefix. Values hold the owner.
var auctionIndexPrefix = []byte("lending/auction-index:")

func reserveKey(asset common.Address) []byte {
	return ethcrypto.Keccak256(reservePrefix, asset.Bytes())
}

func userConfigKey(user common.Address) []byte {
	return ethcrypto.Keccak256(userConfigPrefix, user.Bytes())
}

func auctionKey(asset common.Address, tokenID *big.Int) []byte {
	return ethcrypto.Keccak256(auctionPrefix, asset.Bytes(), common.BigToHash(tokenID).Bytes())
}

func auctionIndexKey(asset common.Address, tokenID *big.Int) []byte {
	key := append(append([]byte(nil), auctionIndexPrefix...), asset.Bytes()...)
	return append(key, common.BigToHash(tokenID).Bytes()...)
}

// KVStore persists engine state as RLP records under keccak256 keys.
// Commit writes a single storage batch.
type KVStore struct {
	db storage.Database
}

// NewKVStore wraps db.
func NewKVStore(db storage.Database) *KVStore {
	return &KVStore{db: db}
}

func (s *KVStore) get(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("lending store: decode: %w", err)
	}
	return true, nil
}

func (s *KVStore) GetReserve(asset common.Address) (*Reserve, error) {
	r := new(Reserve)
	ok, err := s.get(reserveKey(asset), r)
	if err != nil || !ok {
		return nil, err
	}
	return r, nil
}

func (s *KVStore) ReservesList() ([]common.Address, error) {
	var list []common.Address
	if _, err := s.get(reservesListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *KVStore) GetUserConfig(user common.Address) (userconfig.Map, error) {
	var raw []byte
	if _, err := s.get(userConfigKey(user), &raw); err != nil {
		return userconfig.Map{}, err
	}
	return userconfig.FromBytes(raw), nil
}

func (s *KVStore) GetAuction(asset common.Address, tokenID *big.Int) (*Auction, error) {
	a := new(Auction)
	ok, err := s.get(auctionKey(asset, tokenID), a)
	if err != nil || !ok {
		return nil, err
	}
	return a, nil
}

func (s *KVStore) AuctionOwners() ([]common.Address, error) {
	seen := make(map[common.Address]bool)
	err := s.db.Iterate(auctionIndexPrefix, func(_, value []byte) error {
		if len(value) != common.AddressLength {
			return fmt.Errorf("lending store: malformed auction index entry")
		}
		seen[common.BytesToAddress(value)] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortedOwners(seen), nil
}

func (s *KVStore) Commit(cs *Changeset) error {
	if cs.Empty() {
		return nil
	}
	batch := storage.NewBatch()
	put := func(key []byte, value interface{}) error {
		encoded, err := rlp.EncodeToBytes(value)
		if err != nil {
			return fmt.Errorf("lending store: encode: %w", err)
		}
		batch.Put(key, encoded)
		return nil
	}
	for _, r := range cs.Reserves {
		if err := put(reserveKey(r.Asset), r); err != nil {
			return err
		}
	}
	if cs.ListChanged {
		if err := put(reservesListKey, cs.ReservesList); err != nil {
			return err
		}
	}
	for user, cfg := range cs.UserConfigs {
		if cfg.IsEmpty() {
			batch.Delete(userConfigKey(user))
			continue
		}
		if err := put(userConfigKey(user), cfg.Bytes()); err != nil {
			return err
		}
	}
	for _, a := range cs.Auctions {
		if err := put(auctionKey(a.Asset, a.TokenID), a); err != nil {
			return err
		}
		batch.Put(auctionIndexKey(a.Asset, a.TokenID), a.Owner.Bytes())
	}
	for _, a := range cs.DeletedAuctions {
		batch.Delete(auctionKey(a.Asset, a.TokenID))
		batch.Delete(auctionIndexKey(a.Asset, a.TokenID))
	}
	return s.db.Write(batch)
}
