package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SupplyParams deposits a fungible asset. OnBehalfOf defaults to User.
type SupplyParams struct {
	Asset      common.Address
	User       common.Address
	OnBehalfOf common.Address
	Amount     *big.Int
}

// WithdrawParams redeems receipts for underlying. An Amount equal to
// fixedpoint.MaxUint256 withdraws the whole balance. To defaults to User.
type WithdrawParams struct {
	Asset  common.Address
	User   common.Address
	To     common.Address
	Amount *big.Int
}

// BorrowParams draws variable-rate debt against the user's collateral.
type BorrowParams struct {
	Asset  common.Address
	User   common.Address
	Amount *big.Int
}

// RepayParams repays debt. An Amount equal to fixedpoint.MaxUint256 repays
// the whole debt and is only accepted for the caller's own position.
type RepayParams struct {
	Asset      common.Address
	User       common.Address
	OnBehalfOf common.Address
	Amount     *big.Int
}

// TransferParams moves receipt balance between accounts.
type TransferParams struct {
	Asset  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// SupplyERC721Params deposits non-fungible tokens owned by User.
type SupplyERC721Params struct {
	Asset      common.Address
	User       common.Address
	OnBehalfOf common.Address
	Tokens     []TokenData
}

// WithdrawERC721Params redeems supplied tokens.
type WithdrawERC721Params struct {
	Asset    common.Address
	User     common.Address
	To       common.Address
	TokenIDs []*big.Int
}

// SetERC721CollateralParams toggles the collateral flag of supplied tokens.
type SetERC721CollateralParams struct {
	Asset           common.Address
	User            common.Address
	TokenIDs        []*big.Int
	UseAsCollateral bool
}

// TransferERC721Params moves a supplied token between accounts.
type TransferERC721Params struct {
	Asset   common.Address
	From    common.Address
	To      common.Address
	TokenID *big.Int
}

// LiquidationCallParams repays part of an unhealthy position's debt in
// exchange for discounted fungible collateral. A DebtToCover equal to
// fixedpoint.MaxUint256 requests the maximum allowed by the close factor.
type LiquidationCallParams struct {
	CollateralAsset common.Address
	DebtAsset       common.Address
	User            common.Address
	Liquidator      common.Address
	DebtToCover     *big.Int
	ReceivePToken   bool
}

// StartAuctionParams opens a Dutch auction over one collateral token.
type StartAuctionParams struct {
	Asset   common.Address
	TokenID *big.Int
	User    common.Address
}

// LiquidateERC721Params buys an auctioned token at the current auction
// price paid in LiquidationAsset. The call fails when the price exceeds
// MaxLiquidationAmount; nil accepts any price.
type LiquidateERC721Params struct {
	CollateralAsset      common.Address
	LiquidationAsset     common.Address
	TokenID              *big.Int
	User                 common.Address
	Liquidator           common.Address
	MaxLiquidationAmount *big.Int
	ReceiveNToken        bool
}

func orDefault(addr, fallback common.Address) common.Address {
	if addr == (common.Address{}) {
		return fallback
	}
	return addr
}
