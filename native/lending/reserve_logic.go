package lending

import (
	"math/big"

	"lendledger/core/events"
	"lendledger/native/lending/fixedpoint"
)

// reserveCache is the working copy of a reserve inside one action. The vault
// liquidity is captured when the reserve is first loaded so rate updates see
// the balance before the action's own transfers.
type reserveCache struct {
	reserve *Reserve
	ledgers Ledgers

	snapshotLiquidity *big.Int
	liquidityAdded    *big.Int
	liquidityTaken    *big.Int

	dirty bool
}

func newReserveCache(r *Reserve, ledgers Ledgers, vaultBalance *big.Int) *reserveCache {
	return &reserveCache{
		reserve:           r,
		ledgers:           ledgers,
		snapshotLiquidity: zeroIfNil(vaultBalance),
		liquidityAdded:    big.NewInt(0),
		liquidityTaken:    big.NewInt(0),
	}
}

// availableLiquidity is the vault balance adjusted by the deltas recorded so far.
func (c *reserveCache) availableLiquidity() *big.Int {
	out := new(big.Int).Add(c.snapshotLiquidity, c.liquidityAdded)
	return out.Sub(out, c.liquidityTaken)
}

func (c *reserveCache) scaledVariableDebt() *big.Int {
	if c.ledgers.DebtToken == nil {
		return big.NewInt(0)
	}
	return zeroIfNil(c.ledgers.DebtToken.ScaledTotalSupply())
}

// totalVariableDebt returns the reserve's debt at the current borrow index.
func (c *reserveCache) totalVariableDebt() *big.Int {
	return fixedpoint.RayMul(c.scaledVariableDebt(), c.reserve.VariableBorrowIndex)
}

// totalSupplied returns receipts plus unminted treasury income at the current
// liquidity index.
func (c *reserveCache) totalSupplied() *big.Int {
	scaled := new(big.Int).Set(zeroIfNil(c.reserve.AccruedToTreasury))
	if c.ledgers.PToken != nil {
		scaled.Add(scaled, zeroIfNil(c.ledgers.PToken.ScaledTotalSupply()))
	}
	return fixedpoint.RayMul(scaled, c.reserve.LiquidityIndex)
}

// updateState brings the indices up to now and accrues the treasury share of
// the interest generated since the last update. A second call within the same
// timestamp is a no-op.
func (c *reserveCache) updateState(now uint64) {
	r := c.reserve
	if now <= r.LastUpdateTimestamp {
		return
	}
	if r.IsNonFungible() {
		r.LastUpdateTimestamp = now
		c.dirty = true
		return
	}
	currLiquidityIndex := r.LiquidityIndex
	currBorrowIndex := r.VariableBorrowIndex
	scaledDebt := c.scaledVariableDebt()

	if r.CurrentLiquidityRate.Sign() != 0 {
		factor := calculateLinearInterest(r.CurrentLiquidityRate, r.LastUpdateTimestamp, now)
		r.LiquidityIndex = fixedpoint.RayMul(factor, currLiquidityIndex)
	}
	if scaledDebt.Sign() != 0 {
		factor := calculateLinearInterest(r.CurrentVariableBorrowRate, r.LastUpdateTimestamp, now)
		r.VariableBorrowIndex = fixedpoint.RayMul(factor, currBorrowIndex)
	}
	c.accrueToTreasury(scaledDebt, currBorrowIndex, currLiquidityIndex)
	r.LastUpdateTimestamp = now
	c.dirty = true
}

func (c *reserveCache) accrueToTreasury(scaledDebt, prevBorrowIndex, prevLiquidityIndex *big.Int) {
	r := c.reserve
	if r.Configuration.ReserveFactor == 0 || scaledDebt.Sign() == 0 {
		return
	}
	prevDebt := fixedpoint.RayMul(scaledDebt, prevBorrowIndex)
	currDebt := fixedpoint.RayMul(scaledDebt, r.VariableBorrowIndex)
	accrued := new(big.Int).Sub(currDebt, prevDebt)
	toMint := fixedpoint.PercentMul(accrued, r.Configuration.ReserveFactor)
	if toMint.Sign() == 0 {
		return
	}
	scaled := fixedpoint.RayDiv(toMint, prevLiquidityIndex)
	r.AccruedToTreasury = new(big.Int).Add(zeroIfNil(r.AccruedToTreasury), scaled)
}

// updateInterestRates recomputes the reserve's rates from the liquidity
// available after the given deltas and the current total debt.
func (c *reserveCache) updateInterestRates(strategy InterestRateStrategy, liquidityAdded, liquidityTaken *big.Int) *events.LendingReserveDataUpdated {
	r := c.reserve
	c.liquidityAdded.Add(c.liquidityAdded, zeroIfNil(liquidityAdded))
	c.liquidityTaken.Add(c.liquidityTaken, zeroIfNil(liquidityTaken))
	available := c.availableLiquidity()
	if available.Sign() < 0 {
		available.SetInt64(0)
	}
	liquidityRate, borrowRate := strategy.CalculateRates(available, c.totalVariableDebt(), r.Configuration.ReserveFactor)
	r.CurrentLiquidityRate = zeroIfNil(liquidityRate)
	r.CurrentVariableBorrowRate = zeroIfNil(borrowRate)
	c.dirty = true
	return &events.LendingReserveDataUpdated{
		Asset:               r.Asset,
		LiquidityRate:       cloneBig(r.CurrentLiquidityRate),
		VariableBorrowRate:  cloneBig(r.CurrentVariableBorrowRate),
		LiquidityIndex:      cloneBig(r.LiquidityIndex),
		VariableBorrowIndex: cloneBig(r.VariableBorrowIndex),
	}
}
