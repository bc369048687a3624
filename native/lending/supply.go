package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/core/events"
	"lendledger/native/lending/fixedpoint"
)

func (x *execution) touchClass(asset common.Address, class AssetClass) (*reserveCache, error) {
	c, err := x.touch(asset)
	if err != nil {
		return nil, err
	}
	if c.reserve.Class != class {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidAssetClass, asset.Hex(), c.reserve.Class)
	}
	return c, nil
}

// collateralDecreaseAllowed checks the health of user after removing
// decreaseAmount of collateral held in reserve c. Users without debt or not
// using the reserve as collateral are always allowed.
func (x *execution) collateralDecreaseAllowed(c *reserveCache, user common.Address, decreaseBase func(price *big.Int) *big.Int) error {
	cfg, err := x.userConfig(user)
	if err != nil {
		return err
	}
	if !cfg.IsUsingAsCollateral(c.reserve.ID) || !cfg.IsBorrowingAny() {
		return nil
	}
	data, err := x.accountData(user)
	if err != nil {
		return err
	}
	price, err := x.price(c.reserve.Asset)
	if err != nil {
		return err
	}
	return validateHFAndLtv(c.reserve, data, decreaseBase(price))
}

// Supply deposits underlying into the reserve and mints receipts to
// OnBehalfOf. The first deposit enables the reserve as collateral when its
// LTV is nonzero.
func (e *Engine) Supply(p SupplyParams) error {
	return e.run("supply", func(x *execution) error {
		onBehalfOf := orDefault(p.OnBehalfOf, p.User)
		c, err := x.touchClass(p.Asset, AssetClassFungible)
		if err != nil {
			return err
		}
		if err := validateSupply(c, p.Amount); err != nil {
			return err
		}
		r := c.reserve
		if e.custody.BalanceOf(p.Asset, p.User).Cmp(p.Amount) < 0 {
			return ErrInsufficientBalance
		}
		if err := e.custody.Transfer(p.Asset, p.User, r.Vault, p.Amount); err != nil {
			return err
		}
		first, err := c.ledgers.PToken.Mint(p.User, onBehalfOf, p.Amount, r.LiquidityIndex)
		if err != nil {
			return err
		}
		if first && r.Configuration.LTV != 0 {
			if err := x.setCollateral(onBehalfOf, r, true); err != nil {
				return err
			}
		}
		if err := x.updateRates(c, p.Amount, nil); err != nil {
			return err
		}
		x.emit(&events.LendingSupply{Reserve: p.Asset, User: p.User, OnBehalfOf: onBehalfOf, Amount: cloneBig(p.Amount)})
		return x.settleStaleAuctions(onBehalfOf)
	})
}

// Withdraw burns receipts and sends the underlying to To. It returns the
// amount withdrawn.
func (e *Engine) Withdraw(p WithdrawParams) (*big.Int, error) {
	var withdrawn *big.Int
	err := e.run("withdraw", func(x *execution) error {
		to := orDefault(p.To, p.User)
		c, err := x.touchClass(p.Asset, AssetClassFungible)
		if err != nil {
			return err
		}
		r := c.reserve
		balance := c.ledgers.PToken.BalanceOf(p.User, r.LiquidityIndex)
		amount := p.Amount
		if fixedpoint.IsMaxUint256(amount) {
			amount = balance
		}
		if err := validateWithdraw(c, amount, balance); err != nil {
			return err
		}
		if err := x.collateralDecreaseAllowed(c, p.User, func(price *big.Int) *big.Int {
			return toBase(amount, price, r.Configuration.Decimals)
		}); err != nil {
			return err
		}
		if err := c.ledgers.PToken.Burn(p.User, to, amount, r.LiquidityIndex); err != nil {
			return err
		}
		if err := x.releaseCollateral(p.User, c); err != nil {
			return err
		}
		if err := x.updateRates(c, nil, amount); err != nil {
			return err
		}
		x.emit(&events.LendingWithdraw{Reserve: p.Asset, User: p.User, To: to, Amount: cloneBig(amount)})
		withdrawn = cloneBig(amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return withdrawn, nil
}

// SetUserUseERC20AsCollateral enables or disables a fungible reserve as the
// user's collateral. Requesting the current state is a no-op.
func (e *Engine) SetUserUseERC20AsCollateral(asset, user common.Address, useAsCollateral bool) error {
	return e.run("set_collateral", func(x *execution) error {
		c, err := x.reserve(asset)
		if err != nil {
			return err
		}
		cfg, err := x.userConfig(user)
		if err != nil {
			return err
		}
		if cfg.IsUsingAsCollateral(c.reserve.ID) == useAsCollateral {
			return nil
		}
		c, err = x.touchClass(asset, AssetClassFungible)
		if err != nil {
			return err
		}
		r := c.reserve
		balance := x.userCollateralBalance(c, user)
		if err := validateSetUseERC20AsCollateral(c, balance); err != nil {
			return err
		}
		if useAsCollateral {
			if r.Configuration.LTV == 0 {
				return fmt.Errorf("%w: reserve has zero ltv", ErrLtvValidationFailed)
			}
			if err := x.setCollateral(user, r, true); err != nil {
				return err
			}
			return x.settleStaleAuctions(user)
		}
		if err := x.collateralDecreaseAllowed(c, user, func(price *big.Int) *big.Int {
			return toBase(balance, price, r.Configuration.Decimals)
		}); err != nil {
			return err
		}
		return x.setCollateral(user, r, false)
	})
}

// TransferCollateral moves receipt balance between accounts, enforcing the
// sender's health when the receipts back debt.
func (e *Engine) TransferCollateral(p TransferParams) error {
	return e.run("transfer", func(x *execution) error {
		c, err := x.touchClass(p.Asset, AssetClassFungible)
		if err != nil {
			return err
		}
		if err := validateTransfer(c, AssetClassFungible); err != nil {
			return err
		}
		if p.From == p.To {
			return fmt.Errorf("%w: sender and recipient are equal", ErrInvalidAmount)
		}
		r := c.reserve
		balance := c.ledgers.PToken.BalanceOf(p.From, r.LiquidityIndex)
		amount := p.Amount
		if fixedpoint.IsMaxUint256(amount) {
			amount = balance
		}
		if err := validateAmount(amount); err != nil {
			return err
		}
		if amount.Cmp(balance) > 0 {
			return ErrInsufficientBalance
		}
		if err := x.collateralDecreaseAllowed(c, p.From, func(price *big.Int) *big.Int {
			return toBase(amount, price, r.Configuration.Decimals)
		}); err != nil {
			return err
		}
		receiverWasEmpty := zeroIfNil(c.ledgers.PToken.ScaledBalanceOf(p.To)).Sign() == 0
		if err := c.ledgers.PToken.Transfer(p.From, p.To, amount, r.LiquidityIndex); err != nil {
			return err
		}
		if err := x.releaseCollateral(p.From, c); err != nil {
			return err
		}
		if receiverWasEmpty && r.Configuration.LTV != 0 {
			if err := x.setCollateral(p.To, r, true); err != nil {
				return err
			}
		}
		x.emit(&events.LendingBalanceTransfer{Reserve: p.Asset, From: p.From, To: p.To, Amount: cloneBig(amount)})
		return x.settleStaleAuctions(p.To)
	})
}
