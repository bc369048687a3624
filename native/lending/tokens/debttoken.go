package tokens

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/native/lending/fixedpoint"
	"lendledger/storage"
)

// DebtToken tracks variable debt in scaled form.
type DebtToken struct {
	book scaledBook
}

// NewDebtToken returns the debt ledger of asset.
func NewDebtToken(db storage.Database, asset common.Address) *DebtToken {
	return &DebtToken{book: newScaledBook(db, "debt", asset)}
}

// Mint records new debt for onBehalfOf. It returns whether the account had
// no debt before and the new scaled total supply.
func (d *DebtToken) Mint(_ common.Address, onBehalfOf common.Address, amount, index *big.Int) (bool, *big.Int, error) {
	scaled := fixedpoint.RayDiv(amount, index)
	if scaled.Sign() == 0 {
		return false, nil, ErrInvalidMintAmount
	}
	held, err := d.book.balance(onBehalfOf)
	if err != nil {
		return false, nil, err
	}
	batch := storage.NewBatch()
	if err := d.book.apply(batch, onBehalfOf, scaled); err != nil {
		return false, nil, err
	}
	if err := d.book.db.Write(batch); err != nil {
		return false, nil, err
	}
	total, err := d.book.total()
	if err != nil {
		return false, nil, err
	}
	return held.Sign() == 0, total, nil
}

// Burn removes amount of debt from the account. Repaying the full current
// debt clears every scaled unit.
func (d *DebtToken) Burn(from common.Address, amount, index *big.Int) (*big.Int, error) {
	scaled := fixedpoint.RayDiv(amount, index)
	held, err := d.book.balance(from)
	if err != nil {
		return nil, err
	}
	switch current := fixedpoint.RayMul(held, index); amount.Cmp(current) {
	case 1:
		return nil, ErrInsufficientBalance
	case 0:
		scaled = held
	}
	if scaled.Cmp(held) > 0 {
		scaled = held
	}
	if scaled.Sign() == 0 {
		return nil, ErrInvalidBurnAmount
	}
	batch := storage.NewBatch()
	if err := d.book.apply(batch, from, new(big.Int).Neg(scaled)); err != nil {
		return nil, err
	}
	if err := d.book.db.Write(batch); err != nil {
		return nil, err
	}
	return d.book.total()
}

// ScaledBalanceOf returns the stored scaled debt.
func (d *DebtToken) ScaledBalanceOf(user common.Address) *big.Int { return d.book.balanceOrZero(user) }

// BalanceOf returns the debt expressed at index.
func (d *DebtToken) BalanceOf(user common.Address, index *big.Int) *big.Int {
	return fixedpoint.RayMul(d.book.balanceOrZero(user), index)
}

// ScaledTotalSupply returns the sum of every scaled debt balance.
func (d *DebtToken) ScaledTotalSupply() *big.Int { return d.book.totalOrZero() }
