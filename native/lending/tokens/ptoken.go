package tokens

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/native/lending/fixedpoint"
	"lendledger/storage"
)

// PToken is the interest-bearing receipt ledger of a fungible reserve. Burns
// release underlying from the reserve vault through the custody.
type PToken struct {
	book     scaledBook
	asset    common.Address
	vault    common.Address
	treasury common.Address
	custody  Custody
}

// NewPToken returns the receipt ledger of asset.
func NewPToken(db storage.Database, asset, vault, treasury common.Address, custody Custody) *PToken {
	return &PToken{
		book:     newScaledBook(db, "ptoken", asset),
		asset:    asset,
		vault:    vault,
		treasury: treasury,
		custody:  custody,
	}
}

// Treasury returns the account credited by MintToTreasury.
func (p *PToken) Treasury() common.Address { return p.treasury }

// Mint credits amount/index scaled units to onBehalfOf and reports whether
// this was its first receipt balance.
func (p *PToken) Mint(_ common.Address, onBehalfOf common.Address, amount, index *big.Int) (bool, error) {
	scaled := fixedpoint.RayDiv(amount, index)
	if scaled.Sign() == 0 {
		return false, ErrInvalidMintAmount
	}
	held, err := p.book.balance(onBehalfOf)
	if err != nil {
		return false, err
	}
	first := held.Sign() == 0
	batch := storage.NewBatch()
	if err := p.book.apply(batch, onBehalfOf, scaled); err != nil {
		return false, err
	}
	return first, p.book.db.Write(batch)
}

// Burn destroys amount of caller's receipt balance and sends the underlying
// to the recipient. Burning the full current balance clears every scaled unit.
func (p *PToken) Burn(caller, to common.Address, amount, index *big.Int) error {
	scaled, err := p.scaledFor(caller, amount, index)
	if err != nil {
		return err
	}
	if scaled.Sign() == 0 {
		return ErrInvalidBurnAmount
	}
	batch := storage.NewBatch()
	if err := p.book.apply(batch, caller, new(big.Int).Neg(scaled)); err != nil {
		return err
	}
	if err := p.book.db.Write(batch); err != nil {
		return err
	}
	if to == p.vault {
		return nil
	}
	return p.custody.Transfer(p.asset, p.vault, to, amount)
}

func (p *PToken) scaledFor(user common.Address, amount, index *big.Int) (*big.Int, error) {
	held, err := p.book.balance(user)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(fixedpoint.RayMul(held, index)) == 0 {
		return held, nil
	}
	scaled := fixedpoint.RayDiv(amount, index)
	if scaled.Cmp(held) > 0 {
		return nil, ErrInsufficientBalance
	}
	return scaled, nil
}

// ScaledBalanceOf returns the stored scaled balance.
func (p *PToken) ScaledBalanceOf(user common.Address) *big.Int { return p.book.balanceOrZero(user) }

// BalanceOf returns the scaled balance expressed at index.
func (p *PToken) BalanceOf(user common.Address, index *big.Int) *big.Int {
	return fixedpoint.RayMul(p.book.balanceOrZero(user), index)
}

// ScaledTotalSupply returns the sum of every scaled balance.
func (p *PToken) ScaledTotalSupply() *big.Int { return p.book.totalOrZero() }

// Transfer moves amount of receipt balance between accounts.
func (p *PToken) Transfer(from, to common.Address, amount, index *big.Int) error {
	scaled, err := p.scaledFor(from, amount, index)
	if err != nil {
		return err
	}
	batch := storage.NewBatch()
	if err := p.book.move(batch, from, to, scaled); err != nil {
		return err
	}
	return p.book.db.Write(batch)
}

// TransferOnLiquidation moves seized receipt balance to the liquidator or treasury.
func (p *PToken) TransferOnLiquidation(from, to common.Address, amount, index *big.Int) error {
	return p.Transfer(from, to, amount, index)
}

// MintToTreasury credits accrued reserve income to the treasury account.
func (p *PToken) MintToTreasury(amount, index *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	_, err := p.Mint(p.treasury, p.treasury, amount, index)
	return err
}
