// Package bank provides custody of underlying assets: fungible balances per
// (asset, holder) and ownership of non-fungible token ids. Lending reserves
// hold their underlying in vault accounts tracked here.
package bank

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/storage"
)

var (
	// ErrInsufficientFunds is returned when a transfer exceeds the sender balance.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	// ErrNotOwner is returned when an NFT transfer does not originate from the owner.
	ErrNotOwner = errors.New("bank: sender does not own token")
	// ErrTokenExists is returned when minting an NFT id that already exists.
	ErrTokenExists = errors.New("bank: token already minted")
	// ErrInvalidAmount is returned for nil or negative amounts.
	ErrInvalidAmount = errors.New("bank: amount must not be negative")
)

var (
	balancePrefix = []byte("bank/bal/")
	ownerPrefix   = []byte("bank/nft/")
)

// Bank tracks underlying asset custody on top of a key-value database.
type Bank struct {
	mu sync.Mutex
	db storage.Database
}

// New returns a bank persisting into db.
func New(db storage.Database) *Bank {
	return &Bank{db: db}
}

func balanceKey(asset, holder common.Address) []byte {
	key := make([]byte, 0, len(balancePrefix)+2*common.AddressLength)
	key = append(key, balancePrefix...)
	key = append(key, asset.Bytes()...)
	return append(key, holder.Bytes()...)
}

func ownerKey(asset common.Address, tokenID *big.Int) []byte {
	key := make([]byte, 0, len(ownerPrefix)+common.AddressLength+common.HashLength)
	key = append(key, ownerPrefix...)
	key = append(key, asset.Bytes()...)
	return append(key, common.BigToHash(tokenID).Bytes()...)
}

func (b *Bank) balance(asset, holder common.Address) (*big.Int, error) {
	raw, err := b.db.Get(balanceKey(asset, holder))
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

// BalanceOf returns the fungible balance of holder in asset. Storage errors
// read as a zero balance.
func (b *Bank) BalanceOf(asset, holder common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, err := b.balance(asset, holder)
	if err != nil {
		return big.NewInt(0)
	}
	return bal
}

// Mint credits amount of asset to holder.
func (b *Bank) Mint(asset, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, err := b.balance(asset, to)
	if err != nil {
		return err
	}
	return b.db.Put(balanceKey(asset, to), new(big.Int).Add(bal, amount).Bytes())
}

// Transfer moves amount of asset between holders atomically.
func (b *Bank) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fromBal, err := b.balance(asset, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, fromBal, amount)
	}
	toBal, err := b.balance(asset, to)
	if err != nil {
		return err
	}
	batch := storage.NewBatch()
	batch.Put(balanceKey(asset, from), new(big.Int).Sub(fromBal, amount).Bytes())
	batch.Put(balanceKey(asset, to), new(big.Int).Add(toBal, amount).Bytes())
	return b.db.Write(batch)
}

// MintNFT creates tokenID of asset owned by to.
func (b *Bank) MintNFT(asset, to common.Address, tokenID *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	exists, err := b.db.Has(ownerKey(asset, tokenID))
	if err != nil {
		return err
	}
	if exists {
		return ErrTokenExists
	}
	return b.db.Put(ownerKey(asset, tokenID), to.Bytes())
}

// OwnerOf returns the current owner of the token id.
func (b *Bank) OwnerOf(asset common.Address, tokenID *big.Int) (common.Address, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	owner, ok, err := b.owner(asset, tokenID)
	if err != nil {
		return common.Address{}, false
	}
	return owner, ok
}

func (b *Bank) owner(asset common.Address, tokenID *big.Int) (common.Address, bool, error) {
	raw, err := b.db.Get(ownerKey(asset, tokenID))
	if errors.Is(err, storage.ErrNotFound) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, fmt.Errorf("bank: read owner of %s: %w", tokenID, err)
	}
	return common.BytesToAddress(raw), true, nil
}

// TransferNFT moves ownership of the token id from one holder to another.
func (b *Bank) TransferNFT(asset, from, to common.Address, tokenID *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	owner, ok, err := b.owner(asset, tokenID)
	if err != nil {
		return err
	}
	if !ok || owner != from {
		return fmt.Errorf("%w: token %s", ErrNotOwner, tokenID)
	}
	return b.db.Put(ownerKey(asset, tokenID), to.Bytes())
}
