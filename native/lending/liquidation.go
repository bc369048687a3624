package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/core/events"
	"lendledger/native/lending/fixedpoint"
)

// LiquidationResult reports the amounts moved by a fungible liquidation.
type LiquidationResult struct {
	DebtRepaid           *big.Int
	CollateralLiquidated *big.Int
	ProtocolFee          *big.Int
}

// ERC721LiquidationResult reports the settlement of an auctioned token.
type ERC721LiquidationResult struct {
	Price      *big.Int
	DebtRepaid *big.Int
	Surplus    *big.Int
	BadDebt    *big.Int
}

// calculateAvailableCollateralToLiquidate converts the debt to cover into
// collateral including the liquidation bonus, capping at the user's balance.
// The protocol fee is the configured share of the bonus portion.
func calculateAvailableCollateralToLiquidate(collateral ReserveConfiguration, debtDecimals uint8, collateralPrice, debtPrice, debtToCover, userCollateral *big.Int) (collateralAmount, debtAmount, protocolFee *big.Int) {
	collateralUnit := fixedpoint.Pow10(collateral.Decimals)
	debtUnit := fixedpoint.Pow10(debtDecimals)

	num := new(big.Int).Mul(debtPrice, debtToCover)
	num.Mul(num, collateralUnit)
	den := new(big.Int).Mul(collateralPrice, debtUnit)
	baseCollateral := num.Quo(num, den)
	maxCollateral := fixedpoint.PercentMul(baseCollateral, collateral.LiquidationBonus)

	if maxCollateral.Cmp(userCollateral) > 0 {
		collateralAmount = new(big.Int).Set(userCollateral)
		n := new(big.Int).Mul(collateralPrice, collateralAmount)
		n.Mul(n, debtUnit)
		d := new(big.Int).Mul(debtPrice, collateralUnit)
		debtAmount = fixedpoint.PercentDiv(n.Quo(n, d), collateral.LiquidationBonus)
	} else {
		collateralAmount = maxCollateral
		debtAmount = new(big.Int).Set(debtToCover)
	}

	protocolFee = big.NewInt(0)
	if collateral.LiquidationProtocolFee != 0 {
		bonus := new(big.Int).Sub(collateralAmount, fixedpoint.PercentDiv(collateralAmount, collateral.LiquidationBonus))
		protocolFee = fixedpoint.PercentMul(bonus, collateral.LiquidationProtocolFee)
		collateralAmount = new(big.Int).Sub(collateralAmount, protocolFee)
	}
	return collateralAmount, debtAmount, protocolFee
}

// LiquidationCall repays debt of an unhealthy user with the liquidator's
// underlying and transfers discounted collateral to the liquidator, either
// as receipts or as underlying.
func (e *Engine) LiquidationCall(p LiquidationCallParams) (*LiquidationResult, error) {
	var result *LiquidationResult
	err := e.run("liquidation_call", func(x *execution) error {
		coll, err := x.touchClass(p.CollateralAsset, AssetClassFungible)
		if err != nil {
			return err
		}
		debt, err := x.touchClass(p.DebtAsset, AssetClassFungible)
		if err != nil {
			return err
		}
		if err := validateAmount(p.DebtToCover); err != nil {
			return err
		}
		cfg, err := x.userConfig(p.User)
		if err != nil {
			return err
		}
		data, err := x.accountData(p.User)
		if err != nil {
			return err
		}
		userDebt := x.userDebt(debt, p.User)
		userCollateral := x.userCollateralBalance(coll, p.User)
		if err := validateLiquidationCall(liquidationCallParams{
			collateral:      coll,
			debt:            debt,
			userConfig:      cfg.Clone(),
			healthFactor:    data.HealthFactor,
			userDebt:        userDebt,
			collateralValue: userCollateral,
		}); err != nil {
			return err
		}
		collateralPrice, err := x.price(p.CollateralAsset)
		if err != nil {
			return err
		}
		debtPrice, err := x.price(p.DebtAsset)
		if err != nil {
			return err
		}
		collRes, debtRes := coll.reserve, debt.reserve

		maxLiquidatable := fixedpoint.PercentMul(userDebt, e.params.CloseFactor)
		remaining := new(big.Int).Sub(userDebt, maxLiquidatable)
		if toBase(remaining, debtPrice, debtRes.Configuration.Decimals).Cmp(e.params.DustFloorBase) < 0 {
			maxLiquidatable = new(big.Int).Set(userDebt)
		}
		toCover := p.DebtToCover
		if fixedpoint.IsMaxUint256(toCover) || toCover.Cmp(maxLiquidatable) > 0 {
			toCover = maxLiquidatable
		}
		collateralAmount, debtAmount, fee := calculateAvailableCollateralToLiquidate(
			collRes.Configuration, debtRes.Configuration.Decimals, collateralPrice, debtPrice, toCover, userCollateral)
		if debtAmount.Sign() == 0 || collateralAmount.Sign() == 0 {
			return fmt.Errorf("%w: liquidation rounds to zero", ErrInvalidAmount)
		}
		if fee.Sign() > 0 && e.params.Treasury == (common.Address{}) {
			return fmt.Errorf("%w: treasury not configured for protocol fee", ErrInvalidReserveParams)
		}
		if e.custody.BalanceOf(p.DebtAsset, p.Liquidator).Cmp(debtAmount) < 0 {
			return ErrInsufficientBalance
		}
		if !p.ReceivePToken {
			available := coll.availableLiquidity()
			if p.CollateralAsset == p.DebtAsset {
				available.Add(available, debtAmount)
			}
			if collateralAmount.Cmp(available) > 0 {
				return ErrInsufficientLiquidity
			}
		}
		fullDebt := debtAmount.Cmp(userDebt) == 0
		if !fullDebt && fixedpoint.RayDiv(debtAmount, debtRes.VariableBorrowIndex).Sign() == 0 {
			return fmt.Errorf("%w: liquidation rounds to zero", ErrInvalidAmount)
		}
		fullCollateral := new(big.Int).Add(collateralAmount, fee).Cmp(userCollateral) == 0

		if err := e.custody.Transfer(p.DebtAsset, p.Liquidator, debtRes.Vault, debtAmount); err != nil {
			return err
		}
		if _, err := debt.ledgers.DebtToken.Burn(p.User, debtAmount, debtRes.VariableBorrowIndex); err != nil {
			return err
		}
		if err := x.releaseBorrowing(p.User, debt); err != nil {
			return err
		}
		if err := x.updateRates(debt, debtAmount, nil); err != nil {
			return err
		}

		if fee.Sign() > 0 {
			if err := coll.ledgers.PToken.TransferOnLiquidation(p.User, e.params.Treasury, fee, collRes.LiquidityIndex); err != nil {
				return err
			}
		}
		if fullCollateral {
			collateralAmount = coll.ledgers.PToken.BalanceOf(p.User, collRes.LiquidityIndex)
		}
		if p.ReceivePToken {
			liquidatorWasEmpty := zeroIfNil(coll.ledgers.PToken.ScaledBalanceOf(p.Liquidator)).Sign() == 0
			if err := coll.ledgers.PToken.TransferOnLiquidation(p.User, p.Liquidator, collateralAmount, collRes.LiquidityIndex); err != nil {
				return err
			}
			if liquidatorWasEmpty && collRes.Configuration.LTV != 0 {
				if err := x.setCollateral(p.Liquidator, collRes, true); err != nil {
					return err
				}
			}
		} else {
			if err := coll.ledgers.PToken.Burn(p.User, p.Liquidator, collateralAmount, collRes.LiquidityIndex); err != nil {
				return err
			}
			if err := x.updateRates(coll, nil, collateralAmount); err != nil {
				return err
			}
		}
		if err := x.releaseCollateral(p.User, coll); err != nil {
			return err
		}

		x.emit(&events.LendingLiquidationCall{
			CollateralAsset:      p.CollateralAsset,
			DebtAsset:            p.DebtAsset,
			User:                 p.User,
			DebtToCover:          cloneBig(debtAmount),
			LiquidatedCollateral: cloneBig(collateralAmount),
			ProtocolFee:          cloneBig(fee),
			Liquidator:           p.Liquidator,
			ReceivePToken:        p.ReceivePToken,
		})
		result = &LiquidationResult{DebtRepaid: debtAmount, CollateralLiquidated: collateralAmount, ProtocolFee: fee}
		x.onCommit(func() {
			e.metrics.ObserveLiquidation("fungible", p.DebtAsset)
			e.logger.Info("position liquidated",
				"user", p.User.Hex(),
				"collateral", p.CollateralAsset.Hex(),
				"debt", p.DebtAsset.Hex(),
				"debtRepaid", debtAmount.String(),
				"collateralLiquidated", collateralAmount.String())
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) auctionTicks(a *Auction, now uint64) (AuctionStrategy, uint64, error) {
	strategy, ok := e.auctionStrategies[a.Strategy]
	if !ok {
		return nil, 0, fmt.Errorf("%w: auction strategy %q", ErrStrategyNotRegistered, a.Strategy)
	}
	tick := a.TickLength
	if tick == 0 {
		tick = 1
	}
	if now <= a.StartTime {
		return strategy, 0, nil
	}
	return strategy, (now - a.StartTime) / tick, nil
}

// StartAuction opens a Dutch auction over a collateral token whose owner's
// NFT health factor is below one.
func (e *Engine) StartAuction(p StartAuctionParams) error {
	return e.run("start_auction", func(x *execution) error {
		c, err := x.touchClass(p.Asset, AssetClassNonFungible)
		if err != nil {
			return err
		}
		if p.TokenID == nil {
			return ErrInvalidAmount
		}
		r := c.reserve
		owner, known := c.ledgers.NToken.OwnerOf(p.TokenID)
		cfg, err := x.userConfig(p.User)
		if err != nil {
			return err
		}
		existing, err := x.auction(p.Asset, p.TokenID)
		if err != nil {
			return err
		}
		data, err := x.accountData(p.User)
		if err != nil {
			return err
		}
		if err := validateStartAuction(startAuctionParams{
			collateral:       c,
			ownerMatches:     known && owner == p.User,
			usedAsCollateral: c.ledgers.NToken.IsUsedAsCollateral(p.TokenID) && cfg.IsUsingAsCollateral(r.ID),
			existing:         existing,
			erc721HF:         data.ERC721HealthFactor,
		}); err != nil {
			return err
		}
		strategy, ok := e.auctionStrategies[r.AuctionStrategy]
		if !ok {
			return fmt.Errorf("%w: auction strategy %q", ErrStrategyNotRegistered, r.AuctionStrategy)
		}
		a := &Auction{
			Asset:      p.Asset,
			TokenID:    cloneBig(p.TokenID),
			Owner:      p.User,
			StartTime:  x.now,
			TickLength: strategy.TickLength(),
			Strategy:   r.AuctionStrategy,
		}
		x.putAuction(a)
		x.emit(&events.LendingAuctionStarted{Asset: p.Asset, TokenID: cloneBig(p.TokenID), User: p.User, StartTime: x.now})
		x.onCommit(func() {
			e.metrics.ObserveAuctionStarted(p.Asset)
			e.logger.Info("auction started", "asset", p.Asset.Hex(), "tokenId", p.TokenID.String(), "user", p.User.Hex())
		})
		return nil
	})
}

// LiquidateERC721 sells an auctioned token to the liquidator at the current
// auction price. Proceeds repay the user's debt in the liquidation asset;
// any excess goes to the user and any shortfall left without collateral is
// reported as bad debt.
func (e *Engine) LiquidateERC721(p LiquidateERC721Params) (*ERC721LiquidationResult, error) {
	var result *ERC721LiquidationResult
	err := e.run("liquidate_erc721", func(x *execution) error {
		coll, err := x.touchClass(p.CollateralAsset, AssetClassNonFungible)
		if err != nil {
			return err
		}
		liq, err := x.touchClass(p.LiquidationAsset, AssetClassFungible)
		if err != nil {
			return err
		}
		if p.TokenID == nil {
			return ErrInvalidAmount
		}
		owner, known := coll.ledgers.NToken.OwnerOf(p.TokenID)
		if !known || owner != p.User {
			return fmt.Errorf("%w: token %s", ErrNotTokenOwner, p.TokenID)
		}
		cfg, err := x.userConfig(p.User)
		if err != nil {
			return err
		}
		a, err := x.auction(p.CollateralAsset, p.TokenID)
		if err != nil {
			return err
		}
		data, err := x.accountData(p.User)
		if err != nil {
			return err
		}
		userDebt := x.userDebt(liq, p.User)
		var (
			strategy AuctionStrategy
			ticks    uint64
			minTicks uint64
		)
		if a != nil {
			strategy, ticks, err = e.auctionTicks(a, x.now)
			if err != nil {
				return err
			}
			minTicks = strategy.MinTicks()
		}
		if err := validateLiquidateERC721(liquidateERC721Params{
			collateral:       coll,
			liquidation:      liq,
			auction:          a,
			data:             data,
			recoveryHF:       e.params.RecoveryHealthFactor,
			userDebt:         userDebt,
			usedAsCollateral: coll.ledgers.NToken.IsUsedAsCollateral(p.TokenID) && cfg.IsUsingAsCollateral(coll.reserve.ID),
			ticks:            ticks,
			minTicks:         minTicks,
		}); err != nil {
			return err
		}

		floor, err := x.price(p.CollateralAsset)
		if err != nil {
			return err
		}
		liqPrice, err := x.price(p.LiquidationAsset)
		if err != nil {
			return err
		}
		liqRes := liq.reserve
		priceBase := fixedpoint.PercentMul(floor, strategy.PriceMultiplier(ticks).Uint64())
		price := fromBase(priceBase, liqPrice, liqRes.Configuration.Decimals)
		if price.Sign() == 0 {
			return fmt.Errorf("%w: auction price rounds to zero", ErrInvalidAmount)
		}
		if p.MaxLiquidationAmount != nil && price.Cmp(p.MaxLiquidationAmount) > 0 {
			return ErrLiquidationPriceExceedsMax
		}
		if e.custody.BalanceOf(p.LiquidationAsset, p.Liquidator).Cmp(price) < 0 {
			return ErrInsufficientBalance
		}
		debtRepaid := new(big.Int).Set(minBig(price, userDebt))
		surplus := new(big.Int).Sub(price, debtRepaid)
		fullDebt := debtRepaid.Cmp(userDebt) == 0
		if !fullDebt && fixedpoint.RayDiv(debtRepaid, liqRes.VariableBorrowIndex).Sign() == 0 {
			return fmt.Errorf("%w: repayment rounds to zero", ErrInvalidAmount)
		}

		if err := e.custody.Transfer(p.LiquidationAsset, p.Liquidator, liqRes.Vault, debtRepaid); err != nil {
			return err
		}
		if surplus.Sign() > 0 {
			if err := e.custody.Transfer(p.LiquidationAsset, p.Liquidator, p.User, surplus); err != nil {
				return err
			}
		}
		if _, err := liq.ledgers.DebtToken.Burn(p.User, debtRepaid, liqRes.VariableBorrowIndex); err != nil {
			return err
		}
		if err := x.releaseBorrowing(p.User, liq); err != nil {
			return err
		}
		if err := x.updateRates(liq, debtRepaid, nil); err != nil {
			return err
		}
		if p.ReceiveNToken {
			err = coll.ledgers.NToken.TransferOnLiquidation(p.User, p.Liquidator, p.TokenID)
		} else {
			_, err = coll.ledgers.NToken.Burn(p.User, p.Liquidator, []*big.Int{p.TokenID})
		}
		if err != nil {
			return err
		}
		if coll.ledgers.NToken.CollateralizedBalanceOf(p.User) == 0 {
			if err := x.setCollateral(p.User, coll.reserve, false); err != nil {
				return err
			}
		}
		x.deleteAuction(a, "liquidated")

		badDebt := big.NewInt(0)
		if !cfg.IsUsingAsCollateralAny() {
			badDebt = x.userDebt(liq, p.User)
		}
		x.emit(&events.LendingLiquidateERC721{
			CollateralAsset:  p.CollateralAsset,
			LiquidationAsset: p.LiquidationAsset,
			User:             p.User,
			TokenID:          cloneBig(p.TokenID),
			Price:            cloneBig(price),
			DebtRepaid:       cloneBig(debtRepaid),
			Surplus:          cloneBig(surplus),
			BadDebt:          cloneBig(badDebt),
			Liquidator:       p.Liquidator,
			ReceiveNToken:    p.ReceiveNToken,
		})
		result = &ERC721LiquidationResult{Price: price, DebtRepaid: debtRepaid, Surplus: surplus, BadDebt: badDebt}
		x.onCommit(func() {
			e.metrics.ObserveLiquidation("erc721", p.LiquidationAsset)
			if badDebt.Sign() > 0 {
				e.metrics.ObserveBadDebt(p.LiquidationAsset, badDebt)
				e.logger.Warn("bad debt left after auction", "user", p.User.Hex(), "asset", p.LiquidationAsset.Hex(), "amount", badDebt.String())
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetAuctionData returns the auction of a token with its current price.
func (e *Engine) GetAuctionData(asset common.Address, tokenID *big.Int) (*AuctionData, error) {
	var out *AuctionData
	err := e.view(func(x *execution) error {
		c, err := x.reserve(asset)
		if err != nil {
			return err
		}
		if !c.reserve.IsNonFungible() {
			return ErrInvalidAssetClass
		}
		a, err := x.auction(asset, tokenID)
		if err != nil {
			return err
		}
		if a == nil {
			return ErrAuctionNotStarted
		}
		strategy, ticks, err := e.auctionTicks(a, x.now)
		if err != nil {
			return err
		}
		floor, err := x.price(asset)
		if err != nil {
			return err
		}
		multiplier := strategy.PriceMultiplier(ticks)
		data, err := x.accountData(a.Owner)
		if err != nil {
			return err
		}
		out = &AuctionData{
			Asset:        a.Asset,
			TokenID:      cloneBig(a.TokenID),
			Owner:        a.Owner,
			StartTime:    a.StartTime,
			TickLength:   a.TickLength,
			TicksElapsed: ticks,
			Multiplier:   multiplier,
			Price:        fixedpoint.PercentMul(floor, multiplier.Uint64()),
			Stale:        data.StaleAuctions,
		}
		return nil
	})
	return out, err
}

// SettleAuctions ends the auctions of every owner whose position has
// recovered to the recovery health factor, and returns how many ended. A
// recovery that happens through prices alone is recorded here; a later dip
// then needs a fresh auction instead of resuming the old one. Owners whose
// position cannot be valued are skipped.
func (e *Engine) SettleAuctions() (int, error) {
	var settled int
	err := e.run("settle_auctions", func(x *execution) error {
		settled = 0
		owners, err := e.store.AuctionOwners()
		if err != nil {
			return err
		}
		for _, owner := range owners {
			before := len(x.auctionDeletes)
			if err := x.settleStaleAuctions(owner); err != nil {
				e.logger.Warn("auction settlement skipped", "user", owner.Hex(), "error", err)
				continue
			}
			settled += len(x.auctionDeletes) - before
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return settled, nil
}
