package lending

import (
	"math/big"

	"lendledger/native/lending/fixedpoint"
)

// SecondsPerYear converts annual rates into per-second accrual.
const SecondsPerYear uint64 = 31_536_000

var (
	// DefaultCloseFactor caps a single fungible liquidation at half the debt.
	DefaultCloseFactor uint64 = 5_000
	// DefaultDustFloorBase is the remaining debt value (base currency, 8
	// decimals) below which a liquidation may close the whole position.
	DefaultDustFloorBase = big.NewInt(2_000_00000000)
)

// calculateLinearInterest returns Ray + rate*dt/SecondsPerYear.
func calculateLinearInterest(rate *big.Int, lastUpdate, now uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || now <= lastUpdate {
		return new(big.Int).Set(fixedpoint.Ray)
	}
	accrued := new(big.Int).Mul(rate, new(big.Int).SetUint64(now-lastUpdate))
	accrued.Quo(accrued, new(big.Int).SetUint64(SecondsPerYear))
	return accrued.Add(accrued, fixedpoint.Ray)
}

// normalizedIncome projects the liquidity index of reserve to now without
// mutating it.
func normalizedIncome(r *Reserve, now uint64) *big.Int {
	if now <= r.LastUpdateTimestamp {
		return cloneBig(r.LiquidityIndex)
	}
	return fixedpoint.RayMul(calculateLinearInterest(r.CurrentLiquidityRate, r.LastUpdateTimestamp, now), r.LiquidityIndex)
}

// normalizedDebt projects the variable borrow index of reserve to now
// without mutating it.
func normalizedDebt(r *Reserve, now uint64) *big.Int {
	if now <= r.LastUpdateTimestamp {
		return cloneBig(r.VariableBorrowIndex)
	}
	return fixedpoint.RayMul(calculateLinearInterest(r.CurrentVariableBorrowRate, r.LastUpdateTimestamp, now), r.VariableBorrowIndex)
}

// toBase converts an asset amount into base currency using its price and
// decimals.
func toBase(amount, price *big.Int, decimals uint8) *big.Int {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	v := new(big.Int).Mul(amount, price)
	return v.Quo(v, fixedpoint.Pow10(decimals))
}

// fromBase converts a base currency value into asset units.
func fromBase(value, price *big.Int, decimals uint8) *big.Int {
	if value == nil || value.Sign() == 0 || price.Sign() == 0 {
		return big.NewInt(0)
	}
	v := new(big.Int).Mul(value, fixedpoint.Pow10(decimals))
	return v.Quo(v, price)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
