package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/native/lending/tokens"
)

// AssetClass distinguishes fungible reserves from non-fungible collateral
// reserves.
type AssetClass uint8

const (
	// AssetClassFungible reserves can be supplied, borrowed and liquidated
	// through the close-factor path.
	AssetClassFungible AssetClass = iota
	// AssetClassNonFungible reserves hold per-token collateral liquidated by
	// Dutch auction.
	AssetClassNonFungible
)

func (c AssetClass) String() string {
	switch c {
	case AssetClassFungible:
		return "fungible"
	case AssetClassNonFungible:
		return "non_fungible"
	default:
		return "unknown"
	}
}

// TokenData re-exports the token descriptor accepted by SupplyERC721.
type TokenData = tokens.TokenData

// ReserveConfiguration groups the governance controlled risk parameters of a
// reserve. Percentages are expressed in basis points (10000 = 100%).
type ReserveConfiguration struct {
	// LTV is the maximum borrowing power granted per unit of collateral value.
	LTV uint64
	// LiquidationThreshold is the collateral weight used by the health factor.
	LiquidationThreshold uint64
	// LiquidationBonus is the premium paid to liquidators, above 10000.
	LiquidationBonus uint64
	// ReserveFactor is the share of borrow interest routed to the treasury.
	ReserveFactor uint64
	// LiquidationProtocolFee is the treasury share of the liquidation bonus.
	LiquidationProtocolFee uint64
	// Decimals of the underlying asset. Non-fungible reserves use zero.
	Decimals uint8
	// BorrowCap limits total debt in whole units. Zero disables the cap.
	BorrowCap uint64
	// SupplyCap limits total supply in whole units. Zero disables the cap.
	SupplyCap uint64

	Active           bool
	Frozen           bool
	Paused           bool
	BorrowingEnabled bool
	// SiloedBorrowing forbids borrowing this asset alongside any other debt.
	SiloedBorrowing bool
	// AuctionEnabled allows Dutch auctions on non-fungible collateral.
	AuctionEnabled bool
}

// Reserve is the per-asset accounting record. Indices and rates are ray
// values; balances stored in the ledgers are scaled by the indices.
type Reserve struct {
	Asset common.Address
	Class AssetClass
	// ID is the reserve's slot in the user configuration bitmap.
	ID uint16

	// LiquidityIndex converts scaled receipt balances into underlying.
	LiquidityIndex *big.Int
	// VariableBorrowIndex converts scaled debt into underlying.
	VariableBorrowIndex *big.Int
	// CurrentLiquidityRate is the annual supply rate.
	CurrentLiquidityRate *big.Int
	// CurrentVariableBorrowRate is the annual variable borrow rate.
	CurrentVariableBorrowRate *big.Int
	// LastUpdateTimestamp records when the indices were last refreshed.
	LastUpdateTimestamp uint64
	// AccruedToTreasury holds the treasury's scaled income not yet minted.
	AccruedToTreasury *big.Int

	Configuration ReserveConfiguration

	// Vault holds the reserve's underlying in custody.
	Vault common.Address
	// InterestRateStrategy names the registered rate strategy.
	InterestRateStrategy string
	// AuctionStrategy names the registered auction strategy.
	AuctionStrategy string
}

// Clone returns a deep copy of the reserve.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := *r
	clone.LiquidityIndex = cloneBig(r.LiquidityIndex)
	clone.VariableBorrowIndex = cloneBig(r.VariableBorrowIndex)
	clone.CurrentLiquidityRate = cloneBig(r.CurrentLiquidityRate)
	clone.CurrentVariableBorrowRate = cloneBig(r.CurrentVariableBorrowRate)
	clone.AccruedToTreasury = cloneBig(r.AccruedToTreasury)
	return &clone
}

// IsNonFungible reports whether the reserve holds per-token collateral.
func (r *Reserve) IsNonFungible() bool { return r.Class == AssetClassNonFungible }

// Auction is an in-progress Dutch auction over one non-fungible token.
type Auction struct {
	Asset      common.Address
	TokenID    *big.Int
	Owner      common.Address
	StartTime  uint64
	TickLength uint64
	Strategy   string
}

// Clone returns a deep copy of the auction.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	clone.TokenID = cloneBig(a.TokenID)
	return &clone
}

// AuctionData is the read model of an auction at a point in time.
type AuctionData struct {
	Asset        common.Address
	TokenID      *big.Int
	Owner        common.Address
	StartTime    uint64
	TickLength   uint64
	TicksElapsed uint64
	// Multiplier applied to the floor price, in basis points.
	Multiplier *big.Int
	// Price is floor price times multiplier, in base currency.
	Price *big.Int
	// Stale is set when the owner's position has recovered and the auction
	// no longer applies.
	Stale bool
}

// AccountData summarises a user's position in base currency (8 decimals).
type AccountData struct {
	TotalCollateralBase     *big.Int
	TotalDebtBase           *big.Int
	AvailableBorrowsBase    *big.Int
	AvgLTV                  uint64
	AvgLiquidationThreshold uint64
	// HealthFactor is ray; MaxUint256 when the user has no debt.
	HealthFactor *big.Int

	ERC721CollateralBase          *big.Int
	AvgERC721LiquidationThreshold uint64
	ERC721HealthFactor            *big.Int

	// AuctionedCollateralBase is collateral currently excluded because it is
	// being auctioned.
	AuctionedCollateralBase *big.Int
	// RecoveryHealthFactor is the health factor with auctioned collateral
	// counted.
	RecoveryHealthFactor *big.Int
	// StaleAuctions is set when auctions exist but the position has
	// recovered above the recovery threshold.
	StaleAuctions bool

	HasZeroLtvCollateral bool
}

// UserReserveData is a user's balances in one reserve.
type UserReserveData struct {
	Asset              common.Address
	CollateralBalance  *big.Int
	VariableDebt       *big.Int
	ScaledCollateral   *big.Int
	ScaledVariableDebt *big.Int
	UsageAsCollateral  bool
	TokenIDs           []*big.Int
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
