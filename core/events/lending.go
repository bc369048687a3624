package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/core/types"
)

const (
	// TypeLendingReserveInitialized is emitted when an asset is listed.
	TypeLendingReserveInitialized = "lending.reserve.initialized"
	// TypeLendingReserveConfigured is emitted when a reserve configuration changes.
	TypeLendingReserveConfigured = "lending.reserve.configured"
	// TypeLendingReserveDataUpdated is emitted after every rate recomputation.
	TypeLendingReserveDataUpdated = "lending.reserve.data_updated"
	// TypeLendingSupply records a fungible supply.
	TypeLendingSupply = "lending.supply"
	// TypeLendingSupplyERC721 records a non-fungible supply.
	TypeLendingSupplyERC721 = "lending.supply_erc721"
	// TypeLendingWithdraw records a fungible withdrawal.
	TypeLendingWithdraw = "lending.withdraw"
	// TypeLendingWithdrawERC721 records a non-fungible withdrawal.
	TypeLendingWithdrawERC721 = "lending.withdraw_erc721"
	// TypeLendingBorrow records a variable-rate borrow.
	TypeLendingBorrow = "lending.borrow"
	// TypeLendingRepay records a debt repayment.
	TypeLendingRepay = "lending.repay"
	// TypeLendingCollateralEnabled is emitted when a reserve starts counting as collateral.
	TypeLendingCollateralEnabled = "lending.collateral.enabled"
	// TypeLendingCollateralDisabled is emitted when a reserve stops counting as collateral.
	TypeLendingCollateralDisabled = "lending.collateral.disabled"
	// TypeLendingBalanceTransfer records a receipt transfer between accounts.
	TypeLendingBalanceTransfer = "lending.balance_transfer"
	// TypeLendingLiquidationCall records a fungible liquidation.
	TypeLendingLiquidationCall = "lending.liquidation_call"
	// TypeLendingAuctionStarted is emitted when an NFT position enters auction.
	TypeLendingAuctionStarted = "lending.auction.started"
	// TypeLendingAuctionEnded is emitted when an auction closes or goes stale.
	TypeLendingAuctionEnded = "lending.auction.ended"
	// TypeLendingLiquidateERC721 records an auction settlement.
	TypeLendingLiquidateERC721 = "lending.liquidate_erc721"
	// TypeLendingMintedToTreasury records treasury accrual minting.
	TypeLendingMintedToTreasury = "lending.minted_to_treasury"
)

// LendingReserveInitialized announces a newly listed reserve.
type LendingReserveInitialized struct {
	Asset       common.Address
	ID          uint16
	NonFungible bool
}

func (LendingReserveInitialized) EventType() string { return TypeLendingReserveInitialized }

func (e LendingReserveInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingReserveInitialized,
		Attributes: map[string]string{
			"asset":       addressString(e.Asset),
			"id":          strconv.FormatUint(uint64(e.ID), 10),
			"nonFungible": boolString(e.NonFungible),
		},
	}
}

// LendingReserveConfigured announces a configuration update.
type LendingReserveConfigured struct {
	Asset common.Address
}

func (LendingReserveConfigured) EventType() string { return TypeLendingReserveConfigured }

func (e LendingReserveConfigured) Event() *types.Event {
	return &types.Event{
		Type:       TypeLendingReserveConfigured,
		Attributes: map[string]string{"asset": addressString(e.Asset)},
	}
}

// LendingReserveDataUpdated carries the freshly computed rates and indices.
type LendingReserveDataUpdated struct {
	Asset               common.Address
	LiquidityRate       *big.Int
	VariableBorrowRate  *big.Int
	LiquidityIndex      *big.Int
	VariableBorrowIndex *big.Int
}

func (LendingReserveDataUpdated) EventType() string { return TypeLendingReserveDataUpdated }

func (e LendingReserveDataUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingReserveDataUpdated,
		Attributes: map[string]string{
			"asset":               addressString(e.Asset),
			"liquidityRate":       amountString(e.LiquidityRate),
			"variableBorrowRate":  amountString(e.VariableBorrowRate),
			"liquidityIndex":      amountString(e.LiquidityIndex),
			"variableBorrowIndex": amountString(e.VariableBorrowIndex),
		},
	}
}

// LendingSupply records liquidity entering a fungible reserve.
type LendingSupply struct {
	Reserve    common.Address
	User       common.Address
	OnBehalfOf common.Address
	Amount     *big.Int
}

func (LendingSupply) EventType() string { return TypeLendingSupply }

func (e LendingSupply) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingSupply,
		Attributes: map[string]string{
			"reserve":    addressString(e.Reserve),
			"user":       addressString(e.User),
			"onBehalfOf": addressString(e.OnBehalfOf),
			"amount":     amountString(e.Amount),
		},
	}
}

// LendingSupplyERC721 records NFTs deposited into a non-fungible reserve.
type LendingSupplyERC721 struct {
	Reserve    common.Address
	User       common.Address
	OnBehalfOf common.Address
	TokenIDs   []*big.Int
}

func (LendingSupplyERC721) EventType() string { return TypeLendingSupplyERC721 }

func (e LendingSupplyERC721) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingSupplyERC721,
		Attributes: map[string]string{
			"reserve":    addressString(e.Reserve),
			"user":       addressString(e.User),
			"onBehalfOf": addressString(e.OnBehalfOf),
			"tokenIds":   tokenIDsString(e.TokenIDs),
		},
	}
}

// LendingWithdraw records liquidity leaving a fungible reserve.
type LendingWithdraw struct {
	Reserve common.Address
	User    common.Address
	To      common.Address
	Amount  *big.Int
}

func (LendingWithdraw) EventType() string { return TypeLendingWithdraw }

func (e LendingWithdraw) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingWithdraw,
		Attributes: map[string]string{
			"reserve": addressString(e.Reserve),
			"user":    addressString(e.User),
			"to":      addressString(e.To),
			"amount":  amountString(e.Amount),
		},
	}
}

// LendingWithdrawERC721 records NFTs released from a non-fungible reserve.
type LendingWithdrawERC721 struct {
	Reserve  common.Address
	User     common.Address
	To       common.Address
	TokenIDs []*big.Int
}

func (LendingWithdrawERC721) EventType() string { return TypeLendingWithdrawERC721 }

func (e LendingWithdrawERC721) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingWithdrawERC721,
		Attributes: map[string]string{
			"reserve":  addressString(e.Reserve),
			"user":     addressString(e.User),
			"to":       addressString(e.To),
			"tokenIds": tokenIDsString(e.TokenIDs),
		},
	}
}

// LendingBorrow records a new variable-rate borrow.
type LendingBorrow struct {
	Reserve    common.Address
	User       common.Address
	OnBehalfOf common.Address
	Amount     *big.Int
	BorrowRate *big.Int
}

func (LendingBorrow) EventType() string { return TypeLendingBorrow }

func (e LendingBorrow) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingBorrow,
		Attributes: map[string]string{
			"reserve":    addressString(e.Reserve),
			"user":       addressString(e.User),
			"onBehalfOf": addressString(e.OnBehalfOf),
			"amount":     amountString(e.Amount),
			"borrowRate": amountString(e.BorrowRate),
		},
	}
}

// LendingRepay records debt repaid into a reserve.
type LendingRepay struct {
	Reserve common.Address
	User    common.Address
	Repayer common.Address
	Amount  *big.Int
}

func (LendingRepay) EventType() string { return TypeLendingRepay }

func (e LendingRepay) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingRepay,
		Attributes: map[string]string{
			"reserve": addressString(e.Reserve),
			"user":    addressString(e.User),
			"repayer": addressString(e.Repayer),
			"amount":  amountString(e.Amount),
		},
	}
}

// LendingCollateralToggled pairs every collateral bit flip.
type LendingCollateralToggled struct {
	Reserve common.Address
	User    common.Address
	Enabled bool
}

func (e LendingCollateralToggled) EventType() string {
	if e.Enabled {
		return TypeLendingCollateralEnabled
	}
	return TypeLendingCollateralDisabled
}

func (e LendingCollateralToggled) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"reserve": addressString(e.Reserve),
			"user":    addressString(e.User),
		},
	}
}

// LendingBalanceTransfer records collateral receipts moving between accounts.
type LendingBalanceTransfer struct {
	Reserve common.Address
	From    common.Address
	To      common.Address
	Amount  *big.Int
	TokenID *big.Int
}

func (LendingBalanceTransfer) EventType() string { return TypeLendingBalanceTransfer }

func (e LendingBalanceTransfer) Event() *types.Event {
	attrs := map[string]string{
		"reserve": addressString(e.Reserve),
		"from":    addressString(e.From),
		"to":      addressString(e.To),
		"amount":  amountString(e.Amount),
	}
	if e.TokenID != nil {
		attrs["tokenId"] = e.TokenID.String()
	}
	return &types.Event{Type: TypeLendingBalanceTransfer, Attributes: attrs}
}

// LendingLiquidationCall records a fungible liquidation.
type LendingLiquidationCall struct {
	CollateralAsset      common.Address
	DebtAsset            common.Address
	User                 common.Address
	DebtToCover          *big.Int
	LiquidatedCollateral *big.Int
	ProtocolFee          *big.Int
	Liquidator           common.Address
	ReceivePToken        bool
}

func (LendingLiquidationCall) EventType() string { return TypeLendingLiquidationCall }

func (e LendingLiquidationCall) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingLiquidationCall,
		Attributes: map[string]string{
			"collateralAsset":      addressString(e.CollateralAsset),
			"debtAsset":            addressString(e.DebtAsset),
			"user":                 addressString(e.User),
			"debtToCover":          amountString(e.DebtToCover),
			"liquidatedCollateral": amountString(e.LiquidatedCollateral),
			"protocolFee":          amountString(e.ProtocolFee),
			"liquidator":           addressString(e.Liquidator),
			"receivePToken":        boolString(e.ReceivePToken),
		},
	}
}

// LendingAuctionStarted records the opening of a Dutch auction.
type LendingAuctionStarted struct {
	Asset     common.Address
	TokenID   *big.Int
	User      common.Address
	StartTime uint64
}

func (LendingAuctionStarted) EventType() string { return TypeLendingAuctionStarted }

func (e LendingAuctionStarted) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingAuctionStarted,
		Attributes: map[string]string{
			"asset":     addressString(e.Asset),
			"tokenId":   amountString(e.TokenID),
			"user":      addressString(e.User),
			"startTime": strconv.FormatUint(e.StartTime, 10),
		},
	}
}

// LendingAuctionEnded records an auction closed by liquidation or recovery.
type LendingAuctionEnded struct {
	Asset   common.Address
	TokenID *big.Int
	User    common.Address
	Reason  string
}

func (LendingAuctionEnded) EventType() string { return TypeLendingAuctionEnded }

func (e LendingAuctionEnded) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingAuctionEnded,
		Attributes: map[string]string{
			"asset":   addressString(e.Asset),
			"tokenId": amountString(e.TokenID),
			"user":    addressString(e.User),
			"reason":  e.Reason,
		},
	}
}

// LendingLiquidateERC721 records an auction settlement.
type LendingLiquidateERC721 struct {
	CollateralAsset  common.Address
	LiquidationAsset common.Address
	User             common.Address
	TokenID          *big.Int
	Price            *big.Int
	DebtRepaid       *big.Int
	Surplus          *big.Int
	BadDebt          *big.Int
	Liquidator       common.Address
	ReceiveNToken    bool
}

func (LendingLiquidateERC721) EventType() string { return TypeLendingLiquidateERC721 }

func (e LendingLiquidateERC721) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingLiquidateERC721,
		Attributes: map[string]string{
			"collateralAsset":  addressString(e.CollateralAsset),
			"liquidationAsset": addressString(e.LiquidationAsset),
			"user":             addressString(e.User),
			"tokenId":          amountString(e.TokenID),
			"price":            amountString(e.Price),
			"debtRepaid":       amountString(e.DebtRepaid),
			"surplus":          amountString(e.Surplus),
			"badDebt":          amountString(e.BadDebt),
			"liquidator":       addressString(e.Liquidator),
			"receiveNToken":    boolString(e.ReceiveNToken),
		},
	}
}

// LendingMintedToTreasury records accrued reserve-factor income being minted.
type LendingMintedToTreasury struct {
	Reserve common.Address
	Amount  *big.Int
}

func (LendingMintedToTreasury) EventType() string { return TypeLendingMintedToTreasury }

func (e LendingMintedToTreasury) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingMintedToTreasury,
		Attributes: map[string]string{
			"reserve": addressString(e.Reserve),
			"amount":  amountString(e.Amount),
		},
	}
}

// Recordable is implemented by events that can be rendered as attribute maps.
type Recordable interface {
	EventType() string
	Event() *types.Event
}
