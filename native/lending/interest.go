package lending

import (
	"fmt"
	"math/big"
	"strings"

	"lendledger/native/lending/fixedpoint"
)

// InterestRateStrategy derives the annual liquidity and variable borrow rates
// (ray) of a reserve from its liquidity and debt.
type InterestRateStrategy interface {
	CalculateRates(availableLiquidity, totalDebt *big.Int, reserveFactor uint64) (liquidityRate, borrowRate *big.Int)
}

// InterestModel is a kinked utilisation curve. Every field is an annual ray
// value except Kink, which is a ray utilisation ratio.
type InterestModel struct {
	// BaseRate is the borrow rate applied when utilisation is zero.
	BaseRate *big.Int
	// Slope1 is the borrow rate increase per unit of utilisation up to the
	// kink point.
	Slope1 *big.Int
	// Slope2 governs the additional increase applied when utilisation exceeds
	// the kink point.
	Slope2 *big.Int
	// Kink is the utilisation where the slope changes.
	Kink *big.Int
}

// NewInterestModel constructs an interest model from decimal strings, e.g. a
// 2% base rate is "0.02" and an 80% kink utilisation is "0.8".
func NewInterestModel(baseRate, slope1, slope2, kink string) (*InterestModel, error) {
	values := make([]*big.Int, 4)
	for i, raw := range []string{baseRate, slope1, slope2, kink} {
		v, err := ParseRay(raw)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	m := &InterestModel{BaseRate: values[0], Slope1: values[1], Slope2: values[2], Kink: values[3]}
	if m.Kink.Cmp(fixedpoint.Ray) > 0 {
		return nil, fmt.Errorf("%w: kink %s above 1", ErrInvalidReserveParams, kink)
	}
	return m, nil
}

// ParseRay converts a non-negative decimal string into a ray value rounded
// half up.
func ParseRay(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	r, ok := new(big.Rat).SetString(trimmed)
	if !ok || r.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid decimal %q", ErrInvalidReserveParams, raw)
	}
	return ratToRay(r), nil
}

func ratToRay(r *big.Rat) *big.Int {
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(fixedpoint.Ray))
	num := scaled.Num()
	den := scaled.Denom()
	half := new(big.Int).Rsh(den, 1)
	return new(big.Int).Quo(new(big.Int).Add(num, half), den)
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		BaseRate: cloneBig(zeroIfNil(m.BaseRate)),
		Slope1:   cloneBig(zeroIfNil(m.Slope1)),
		Slope2:   cloneBig(zeroIfNil(m.Slope2)),
		Kink:     cloneBig(zeroIfNil(m.Kink)),
	}
}

// Utilisation computes debt / (available + debt) in ray. It is zero when no
// debt exists.
func (m *InterestModel) Utilisation(availableLiquidity, totalDebt *big.Int) *big.Int {
	if totalDebt == nil || totalDebt.Sign() == 0 {
		return big.NewInt(0)
	}
	total := new(big.Int).Add(zeroIfNil(availableLiquidity), totalDebt)
	return fixedpoint.RayDiv(totalDebt, total)
}

// BorrowRate derives the variable borrow rate for the given utilisation.
func (m *InterestModel) BorrowRate(utilisation *big.Int) *big.Int {
	rate := cloneBig(zeroIfNil(m.BaseRate))
	if utilisation.Sign() == 0 {
		return rate
	}
	kink := zeroIfNil(m.Kink)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		return rate.Add(rate, fixedpoint.RayMul(zeroIfNil(m.Slope1), utilisation))
	}
	rate.Add(rate, fixedpoint.RayMul(zeroIfNil(m.Slope1), kink))
	excess := new(big.Int).Sub(utilisation, kink)
	return rate.Add(rate, fixedpoint.RayMul(zeroIfNil(m.Slope2), excess))
}

// CalculateRates implements InterestRateStrategy. The liquidity rate is the
// borrow rate times utilisation net of the reserve factor.
func (m *InterestModel) CalculateRates(availableLiquidity, totalDebt *big.Int, reserveFactor uint64) (*big.Int, *big.Int) {
	utilisation := m.Utilisation(availableLiquidity, totalDebt)
	borrowRate := m.BorrowRate(utilisation)
	if utilisation.Sign() == 0 {
		return big.NewInt(0), borrowRate
	}
	if reserveFactor > fixedpoint.PercentageFactorUint {
		reserveFactor = fixedpoint.PercentageFactorUint
	}
	liquidityRate := fixedpoint.RayMul(borrowRate, utilisation)
	liquidityRate = fixedpoint.PercentMul(liquidityRate, fixedpoint.PercentageFactorUint-reserveFactor)
	return liquidityRate, borrowRate
}

// DefaultInterestModel provides a kinked curve with a modest base rate.
var DefaultInterestModel = mustInterestModel("0.02", "0.15", "0.6", "0.8")

func mustInterestModel(base, slope1, slope2, kink string) *InterestModel {
	m, err := NewInterestModel(base, slope1, slope2, kink)
	if err != nil {
		panic(err)
	}
	return m
}
