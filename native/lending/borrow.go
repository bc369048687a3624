package lending

import (
	"math/big"

	"lendledger/core/events"
	"lendledger/native/lending/fixedpoint"
)

// Borrow mints variable debt to the user and releases the underlying from
// the reserve vault.
func (e *Engine) Borrow(p BorrowParams) error {
	return e.run("borrow", func(x *execution) error {
		if err := validateAmount(p.Amount); err != nil {
			return err
		}
		c, err := x.touchClass(p.Asset, AssetClassFungible)
		if err != nil {
			return err
		}
		r := c.reserve
		cfg, err := x.userConfig(p.User)
		if err != nil {
			return err
		}
		data, err := x.accountData(p.User)
		if err != nil {
			return err
		}
		price, err := x.price(p.Asset)
		if err != nil {
			return err
		}
		params := borrowParams{
			reserve:     c,
			amount:      p.Amount,
			amountBase:  toBase(p.Amount, price, r.Configuration.Decimals),
			userConfig:  cfg.Clone(),
			accountData: data,
		}
		if id, ok := cfg.FirstBorrowingIndex(); ok && cfg.IsBorrowingOne() {
			debtReserve, err := x.reserveByID(id)
			if err != nil {
				return err
			}
			if debtReserve.reserve.Configuration.SiloedBorrowing {
				params.siloedDebtID = &id
			}
		}
		if err := validateBorrow(params); err != nil {
			return err
		}
		first, _, err := c.ledgers.DebtToken.Mint(p.User, p.User, p.Amount, r.VariableBorrowIndex)
		if err != nil {
			return err
		}
		if err := e.custody.Transfer(p.Asset, r.Vault, p.User, p.Amount); err != nil {
			return err
		}
		if first {
			if err := x.setBorrowing(p.User, r, true); err != nil {
				return err
			}
		}
		if err := x.updateRates(c, nil, p.Amount); err != nil {
			return err
		}
		x.emit(&events.LendingBorrow{
			Reserve:    p.Asset,
			User:       p.User,
			OnBehalfOf: p.User,
			Amount:     cloneBig(p.Amount),
			BorrowRate: cloneBig(r.CurrentVariableBorrowRate),
		})
		return nil
	})
}

// Repay burns debt of OnBehalfOf paid with the caller's underlying. It
// returns the amount repaid.
func (e *Engine) Repay(p RepayParams) (*big.Int, error) {
	var repaid *big.Int
	err := e.run("repay", func(x *execution) error {
		onBehalfOf := orDefault(p.OnBehalfOf, p.User)
		c, err := x.touchClass(p.Asset, AssetClassFungible)
		if err != nil {
			return err
		}
		r := c.reserve
		debt := x.userDebt(c, onBehalfOf)
		if err := validateRepay(c, p.Amount, debt, onBehalfOf != p.User); err != nil {
			return err
		}
		payback := debt
		if !fixedpoint.IsMaxUint256(p.Amount) && p.Amount.Cmp(debt) < 0 {
			payback = new(big.Int).Set(p.Amount)
		}
		if payback.Cmp(debt) != 0 && fixedpoint.RayDiv(payback, r.VariableBorrowIndex).Sign() == 0 {
			return ErrInvalidAmount
		}
		if e.custody.BalanceOf(p.Asset, p.User).Cmp(payback) < 0 {
			return ErrInsufficientBalance
		}
		if err := e.custody.Transfer(p.Asset, p.User, r.Vault, payback); err != nil {
			return err
		}
		if _, err := c.ledgers.DebtToken.Burn(onBehalfOf, payback, r.VariableBorrowIndex); err != nil {
			return err
		}
		if err := x.releaseBorrowing(onBehalfOf, c); err != nil {
			return err
		}
		if err := x.updateRates(c, payback, nil); err != nil {
			return err
		}
		x.emit(&events.LendingRepay{Reserve: p.Asset, User: onBehalfOf, Repayer: p.User, Amount: cloneBig(payback)})
		repaid = cloneBig(payback)
		return x.settleStaleAuctions(onBehalfOf)
	})
	if err != nil {
		return nil, err
	}
	return repaid, nil
}
