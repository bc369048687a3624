// Package tokens implements the reference receipt, debt and non-fungible
// collateral ledgers consumed by the lending engine. Balances are stored in
// scaled form; callers supply the reserve index that converts them.
package tokens

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/storage"
)

var (
	// ErrInvalidMintAmount is returned when an amount scales to zero.
	ErrInvalidMintAmount = errors.New("tokens: invalid mint amount")
	// ErrInvalidBurnAmount is returned when an amount scales to zero.
	ErrInvalidBurnAmount = errors.New("tokens: invalid burn amount")
	// ErrInsufficientBalance is returned when a burn or transfer exceeds the balance.
	ErrInsufficientBalance = errors.New("tokens: insufficient balance")
	// ErrNotOwner is returned when an NFT operation is not issued by the owner.
	ErrNotOwner = errors.New("tokens: caller does not own token")
	// ErrTokenExists is returned when minting an id that is already held.
	ErrTokenExists = errors.New("tokens: token already minted")
)

// TokenData describes a non-fungible token being supplied.
type TokenData struct {
	TokenID         *big.Int
	UseAsCollateral bool
}

// Custody moves underlying assets out of a reserve vault.
type Custody interface {
	Transfer(asset, from, to common.Address, amount *big.Int) error
	TransferNFT(asset, from, to common.Address, tokenID *big.Int) error
}

// scaledBook stores scaled balances for one ledger under a key prefix.
type scaledBook struct {
	db     storage.Database
	prefix []byte
}

func newScaledBook(db storage.Database, kind string, asset common.Address) scaledBook {
	prefix := append([]byte("tokens/"+kind+"/"), asset.Bytes()...)
	return scaledBook{db: db, prefix: append(prefix, '/')}
}

func (b scaledBook) key(user common.Address) []byte {
	key := append([]byte(nil), b.prefix...)
	return append(key, user.Bytes()...)
}

func (b scaledBook) totalKey() []byte {
	return append(append([]byte(nil), b.prefix...), []byte("total")...)
}

func (b scaledBook) read(key []byte) (*big.Int, error) {
	raw, err := b.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

func (b scaledBook) balance(user common.Address) (*big.Int, error) { return b.read(b.key(user)) }

func (b scaledBook) total() (*big.Int, error) { return b.read(b.totalKey()) }

// balanceOrZero serves the read-only getters, which have no error return.
func (b scaledBook) balanceOrZero(user common.Address) *big.Int {
	bal, err := b.balance(user)
	if err != nil {
		return big.NewInt(0)
	}
	return bal
}

func (b scaledBook) totalOrZero() *big.Int {
	total, err := b.total()
	if err != nil {
		return big.NewInt(0)
	}
	return total
}

// apply adds delta (which may be negative) to the user's balance and the total.
func (b scaledBook) apply(batch *storage.Batch, user common.Address, delta *big.Int) error {
	bal, err := b.balance(user)
	if err != nil {
		return err
	}
	total, err := b.total()
	if err != nil {
		return err
	}
	bal.Add(bal, delta)
	if bal.Sign() < 0 {
		return ErrInsufficientBalance
	}
	total.Add(total, delta)
	if total.Sign() < 0 {
		return ErrInsufficientBalance
	}
	if bal.Sign() == 0 {
		batch.Delete(b.key(user))
	} else {
		batch.Put(b.key(user), bal.Bytes())
	}
	batch.Put(b.totalKey(), total.Bytes())
	return nil
}

func (b scaledBook) move(batch *storage.Batch, from, to common.Address, scaled *big.Int) error {
	fromBal, err := b.balance(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(scaled) < 0 {
		return ErrInsufficientBalance
	}
	if from == to {
		return nil
	}
	toBal, err := b.balance(to)
	if err != nil {
		return err
	}
	rest := new(big.Int).Sub(fromBal, scaled)
	if rest.Sign() == 0 {
		batch.Delete(b.key(from))
	} else {
		batch.Put(b.key(from), rest.Bytes())
	}
	batch.Put(b.key(to), toBal.Add(toBal, scaled).Bytes())
	return nil
}
