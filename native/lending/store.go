package lending

import (
	"bytes"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/native/lending/userconfig"
)

// Store persists reserves, user configurations and auctions. Reads return
// copies; writes land only through Commit so that each engine action is
// applied atomically.
type Store interface {
	// GetReserve returns nil when the asset is not listed.
	GetReserve(asset common.Address) (*Reserve, error)
	// ReservesList returns listed assets indexed by reserve id.
	ReservesList() ([]common.Address, error)
	GetUserConfig(user common.Address) (userconfig.Map, error)
	// GetAuction returns nil when no auction exists for the token.
	GetAuction(asset common.Address, tokenID *big.Int) (*Auction, error)
	// AuctionOwners lists the distinct owners of running auctions in
	// ascending address order.
	AuctionOwners() ([]common.Address, error)
	Commit(cs *Changeset) error
}

// AuctionKey identifies an auction.
type AuctionKey struct {
	Asset   common.Address
	TokenID string
}

func auctionKeyOf(asset common.Address, tokenID *big.Int) AuctionKey {
	return AuctionKey{Asset: asset, TokenID: tokenID.String()}
}

// Changeset is the set of writes produced by one engine action.
type Changeset struct {
	Reserves     []*Reserve
	ReservesList []common.Address
	ListChanged  bool
	UserConfigs  map[common.Address]userconfig.Map
	Auctions     []*Auction
	// DeletedAuctions are removed after Auctions are written.
	DeletedAuctions []*Auction
}

// Empty reports whether the changeset carries no writes.
func (cs *Changeset) Empty() bool {
	return cs == nil || (len(cs.Reserves) == 0 && !cs.ListChanged && len(cs.UserConfigs) == 0 &&
		len(cs.Auctions) == 0 && len(cs.DeletedAuctions) == 0)
}

// MemoryStore keeps engine state in maps.
type MemoryStore struct {
	mu       sync.RWMutex
	reserves map[common.Address]*Reserve
	list     []common.Address
	users    map[common.Address]userconfig.Map
	auctions map[AuctionKey]*Auction
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reserves: make(map[common.Address]*Reserve),
		users:    make(map[common.Address]userconfig.Map),
		auctions: make(map[AuctionKey]*Auction),
	}
}

func (s *MemoryStore) GetReserve(asset common.Address) (*Reserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reserves[asset].Clone(), nil
}

func (s *MemoryStore) ReservesList() ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]common.Address(nil), s.list...), nil
}

func (s *MemoryStore) GetUserConfig(user common.Address) (userconfig.Map, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[user].Clone(), nil
}

func (s *MemoryStore) GetAuction(asset common.Address, tokenID *big.Int) (*Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.auctions[auctionKeyOf(asset, tokenID)].Clone(), nil
}

func (s *MemoryStore) AuctionOwners() ([]common.Address, error) {
	s.mu.RLock()
	seen := make(map[common.Address]bool)
	for _, a := range s.auctions {
		seen[a.Owner] = true
	}
	s.mu.RUnlock()
	return sortedOwners(seen), nil
}

func sortedOwners(seen map[common.Address]bool) []common.Address {
	owners := make([]common.Address, 0, len(seen))
	for owner := range seen {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return bytes.Compare(owners[i][:], owners[j][:]) < 0 })
	return owners
}

func (s *MemoryStore) Commit(cs *Changeset) error {
	if cs.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range cs.Reserves {
		s.reserves[r.Asset] = r.Clone()
	}
	if cs.ListChanged {
		s.list = append([]common.Address(nil), cs.ReservesList...)
	}
	for user, cfg := range cs.UserConfigs {
		if cfg.IsEmpty() {
			delete(s.users, user)
			continue
		}
		s.users[user] = cfg.Clone()
	}
	for _, a := range cs.Auctions {
		s.auctions[auctionKeyOf(a.Asset, a.TokenID)] = a.Clone()
	}
	for _, a := range cs.DeletedAuctions {
		delete(s.auctions, auctionKeyOf(a.Asset, a.TokenID))
	}
	return nil
}
