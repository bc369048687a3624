package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireBig(t *testing.T, want, got *big.Int) {
	t.Helper()
	require.Zero(t, want.Cmp(got), "want %s got %s", want, got)
}

func ray(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Ray)
}

func TestRayMulRoundsHalfUp(t *testing.T) {
	requireBig(t, big.NewInt(6), RayMul(big.NewInt(4), mustBigInt("1500000000000000000000000000")))
	// 3 * 0.5 = 1.5 rounds up to 2.
	requireBig(t, big.NewInt(2), RayMul(big.NewInt(3), HalfRay))
	// 1 * 0.4999.. rounds down.
	below := new(big.Int).Sub(HalfRay, big.NewInt(1))
	requireBig(t, big.NewInt(0), RayMul(big.NewInt(1), below))
	requireBig(t, big.NewInt(0), RayMul(nil, Ray))
}

func TestRayDivRoundsHalfUp(t *testing.T) {
	requireBig(t, ray(2), RayDiv(big.NewInt(4), big.NewInt(2)))
	// 1/3 ray rounds down, 2/3 ray rounds up.
	third := RayDiv(big.NewInt(1), big.NewInt(3))
	requireBig(t, mustBigInt("333333333333333333333333333"), third)
	twoThirds := RayDiv(big.NewInt(2), big.NewInt(3))
	requireBig(t, mustBigInt("666666666666666666666666667"), twoThirds)
	requireBig(t, big.NewInt(0), RayDiv(big.NewInt(1), big.NewInt(0)))
}

func TestScaledRoundTripNeverExceedsScaled(t *testing.T) {
	indexes := []*big.Int{
		Ray,
		mustBigInt("1000000000000000000000000001"),
		mustBigInt("1500000000000000000000000000"),
		mustBigInt("2500000000000000000000000000"),
		mustBigInt("1037123456789012345678901234"),
	}
	for _, index := range indexes {
		for s := int64(1); s < 200; s++ {
			scaled := big.NewInt(s)
			balance := RayMul(scaled, index)
			require.LessOrEqual(t, RayDiv(balance, index).Cmp(scaled), 0, "index=%s scaled=%d", index, s)
		}
	}
}

func TestPercentMath(t *testing.T) {
	requireBig(t, big.NewInt(105), PercentMul(big.NewInt(100), 10_500))
	// 1 * 50.00% = 0.5 rounds up.
	requireBig(t, big.NewInt(1), PercentMul(big.NewInt(1), 5_000))
	requireBig(t, big.NewInt(0), PercentMul(big.NewInt(1), 4_999))
	requireBig(t, big.NewInt(100), PercentDiv(big.NewInt(105), 10_500))
	requireBig(t, big.NewInt(0), PercentDiv(big.NewInt(105), 0))
}

func TestRayPow(t *testing.T) {
	requireBig(t, Ray, RayPow(ray(5), 0))
	requireBig(t, ray(8), RayPow(ray(2), 3))
	half := new(big.Int).Set(HalfRay)
	requireBig(t, mustBigInt("125000000000000000000000000"), RayPow(half, 3))
}

func TestConversions(t *testing.T) {
	requireBig(t, Ray, WadToRay(Wad))
	requireBig(t, big.NewInt(10_000), RayToPercentage(Ray))
	requireBig(t, HalfRay, PercentageToRay(5_000))
	require.True(t, IsMaxUint256(new(big.Int).Set(MaxUint256)))
	require.False(t, IsMaxUint256(Ray))
	requireBig(t, big.NewInt(1_000_000), Pow10(6))
}
