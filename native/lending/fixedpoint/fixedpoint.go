// Package fixedpoint implements the two integer fixed-point domains used by the
// lending engine: ray (27 decimals) for indices and rates, and percentage
// (4 decimals, 10000 = 100%) for factors, thresholds and bonuses.
//
// All operations round half up and never mutate their inputs.
package fixedpoint

import (
	"math/big"

	"github.com/holiman/uint256"
)

// PercentageFactorUint is PercentageFactor as a plain integer.
const PercentageFactorUint uint64 = 10_000

var (
	// Ray is 1e27, the unit of the ray domain.
	Ray = mustBigInt("1000000000000000000000000000")
	// HalfRay is Ray/2.
	HalfRay = new(big.Int).Rsh(Ray, 1)
	// Wad is 1e18.
	Wad = mustBigInt("1000000000000000000")
	// PercentageFactor is 1e4, i.e. 100.00%.
	PercentageFactor = big.NewInt(10_000)
	// HalfPercentage is PercentageFactor/2.
	HalfPercentage = big.NewInt(5_000)
	// MaxUint256 is used as the "whole balance" sentinel and as the health
	// factor of an account without debt.
	MaxUint256 = new(uint256.Int).SetAllOne().ToBig()

	wadRayRatio = big.NewInt(1_000_000_000)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// RayMul returns a*b/Ray rounded half up.
func RayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil || a.Sign() == 0 || b.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, HalfRay)
	return product.Quo(product, Ray)
}

// RayDiv returns a*Ray/b rounded half up. Division by zero yields zero; callers
// guard the divisor where a zero denominator is meaningful.
func RayDiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, Ray)
	numerator.Add(numerator, new(big.Int).Rsh(b, 1))
	return numerator.Quo(numerator, b)
}

// PercentMul returns value*percentage/1e4 rounded half up.
func PercentMul(value *big.Int, percentage uint64) *big.Int {
	if value == nil || value.Sign() == 0 || percentage == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(value, new(big.Int).SetUint64(percentage))
	product.Add(product, HalfPercentage)
	return product.Quo(product, PercentageFactor)
}

// PercentDiv returns value*1e4/percentage rounded half up.
func PercentDiv(value *big.Int, percentage uint64) *big.Int {
	if value == nil || percentage == 0 {
		return big.NewInt(0)
	}
	p := new(big.Int).SetUint64(percentage)
	numerator := new(big.Int).Mul(value, PercentageFactor)
	numerator.Add(numerator, new(big.Int).Rsh(p, 1))
	return numerator.Quo(numerator, p)
}

// RayPow raises a ray value to an integer power by repeated squaring.
func RayPow(x *big.Int, n uint64) *big.Int {
	result := new(big.Int).Set(Ray)
	if n == 0 {
		return result
	}
	base := new(big.Int).Set(x)
	for n > 0 {
		if n&1 == 1 {
			result = RayMul(result, base)
		}
		n >>= 1
		if n > 0 {
			base = RayMul(base, base)
		}
	}
	return result
}

// WadToRay converts an 18 decimal value into the ray domain.
func WadToRay(value *big.Int) *big.Int {
	if value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(value, wadRayRatio)
}

// RayToPercentage converts a ray value into the percentage domain, rounding
// half up.
func RayToPercentage(value *big.Int) *big.Int {
	if value == nil || value.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(value, PercentageFactor)
	scaled.Add(scaled, HalfRay)
	return scaled.Quo(scaled, Ray)
}

// PercentageToRay lifts a percentage value into the ray domain.
func PercentageToRay(percentage uint64) *big.Int {
	out := new(big.Int).Mul(new(big.Int).SetUint64(percentage), Ray)
	return out.Quo(out, PercentageFactor)
}

// IsMaxUint256 reports whether value is the whole-balance sentinel.
func IsMaxUint256(value *big.Int) bool {
	return value != nil && value.Cmp(MaxUint256) == 0
}

// Pow10 returns 10^decimals.
func Pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
