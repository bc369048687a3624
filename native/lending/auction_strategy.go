package lending

import (
	"fmt"
	"math/big"

	"lendledger/native/lending/fixedpoint"
)

// AuctionStrategy prices a Dutch auction. PriceMultiplier returns the factor
// (basis points) applied to the floor price after the given number of ticks.
type AuctionStrategy interface {
	PriceMultiplier(ticks uint64) *big.Int
	TickLength() uint64
	MinTicks() uint64
}

// DefaultAuctionStrategy decays linearly from MaxMultiplier by StepLinear per
// tick until CrossoverTicks, then exponentially by ExpDecay per tick. The
// result is clamped to [MinMultiplier, MaxMultiplier].
type DefaultAuctionStrategy struct {
	MaxMultiplier  uint64
	MinMultiplier  uint64
	StepLinear     uint64
	CrossoverTicks uint64
	// ExpDecay is the ray factor applied per tick after the crossover.
	ExpDecay *big.Int
	// Tick is the tick length in seconds.
	Tick uint64
	// BondingTicks must elapse before the auctioned token can be liquidated.
	BondingTicks uint64
}

// Validate checks the curve parameters.
func (s *DefaultAuctionStrategy) Validate() error {
	switch {
	case s.Tick == 0:
		return fmt.Errorf("%w: auction tick length must be positive", ErrInvalidReserveParams)
	case s.MinMultiplier == 0 || s.MinMultiplier > s.MaxMultiplier:
		return fmt.Errorf("%w: auction multipliers out of order", ErrInvalidReserveParams)
	case s.ExpDecay == nil || s.ExpDecay.Sign() <= 0 || s.ExpDecay.Cmp(fixedpoint.Ray) >= 0:
		return fmt.Errorf("%w: auction decay must be within (0, 1)", ErrInvalidReserveParams)
	}
	return nil
}

// TickLength implements AuctionStrategy.
func (s *DefaultAuctionStrategy) TickLength() uint64 { return s.Tick }

// MinTicks implements AuctionStrategy.
func (s *DefaultAuctionStrategy) MinTicks() uint64 { return s.BondingTicks }

// PriceMultiplier implements AuctionStrategy.
func (s *DefaultAuctionStrategy) PriceMultiplier(ticks uint64) *big.Int {
	linearTicks := ticks
	if linearTicks > s.CrossoverTicks {
		linearTicks = s.CrossoverTicks
	}
	multiplier := s.linear(linearTicks)
	if ticks > s.CrossoverTicks && multiplier > s.MinMultiplier {
		decay := fixedpoint.RayPow(s.ExpDecay, ticks-s.CrossoverTicks)
		scaled := fixedpoint.RayMul(fixedpoint.PercentageToRay(multiplier), decay)
		decayed := fixedpoint.RayToPercentage(scaled)
		if decayed.IsUint64() {
			multiplier = decayed.Uint64()
		} else {
			multiplier = s.MaxMultiplier
		}
	}
	if multiplier < s.MinMultiplier {
		multiplier = s.MinMultiplier
	}
	if multiplier > s.MaxMultiplier {
		multiplier = s.MaxMultiplier
	}
	return new(big.Int).SetUint64(multiplier)
}

func (s *DefaultAuctionStrategy) linear(ticks uint64) uint64 {
	drop := s.StepLinear * ticks
	if ticks != 0 && drop/ticks != s.StepLinear {
		return s.MinMultiplier
	}
	if drop >= s.MaxMultiplier {
		return 0
	}
	return s.MaxMultiplier - drop
}

// DefaultAuction starts at 3x the floor, drops 5% per tick for 20 ticks and
// then decays 3% per tick down to 0.8x. Ticks are ten minutes and one tick of
// bonding applies.
var DefaultAuction = &DefaultAuctionStrategy{
	MaxMultiplier:  30_000,
	MinMultiplier:  8_000,
	StepLinear:     500,
	CrossoverTicks: 20,
	ExpDecay:       ratToRay(big.NewRat(97, 100)),
	Tick:           600,
	BondingTicks:   1,
}
