package lending

import "errors"

var (
	ErrReserveNotListed               = errors.New("lending engine: reserve not listed")
	ErrReserveAlreadyListed           = errors.New("lending engine: reserve already listed")
	ErrTooManyReserves                = errors.New("lending engine: reserve slots exhausted")
	ErrReserveInactive                = errors.New("lending engine: reserve inactive")
	ErrReserveFrozen                  = errors.New("lending engine: reserve frozen")
	ErrReservePaused                  = errors.New("lending engine: reserve paused")
	ErrInvalidReserveParams           = errors.New("lending engine: invalid reserve parameters")
	ErrInvalidAssetClass              = errors.New("lending engine: operation not supported for asset class")
	ErrStrategyNotRegistered          = errors.New("lending engine: strategy not registered")
	ErrSupplyCapExceeded              = errors.New("lending engine: supply cap exceeded")
	ErrBorrowCapExceeded              = errors.New("lending engine: borrow cap exceeded")
	ErrBorrowingNotEnabled            = errors.New("lending engine: borrowing not enabled")
	ErrSiloedBorrowingViolation       = errors.New("lending engine: siloed borrowing violation")
	ErrInsufficientBalance            = errors.New("lending engine: insufficient balance")
	ErrInsufficientLiquidity          = errors.New("lending engine: insufficient reserve liquidity")
	ErrInvalidAmount                  = errors.New("lending engine: invalid amount")
	ErrHealthFactorBelowThreshold     = errors.New("lending engine: health factor below threshold")
	ErrHealthFactorNotBelowThreshold  = errors.New("lending engine: health factor not below threshold")
	ErrLtvValidationFailed            = errors.New("lending engine: ltv validation failed")
	ErrCollateralBalanceZero          = errors.New("lending engine: collateral balance is zero")
	ErrCollateralCannotCoverNewBorrow = errors.New("lending engine: collateral cannot cover new borrow")
	ErrNoDebtOfSelectedType           = errors.New("lending engine: no debt of selected type")
	ErrNoExplicitAmountOnBehalf       = errors.New("lending engine: explicit amount required to repay on behalf")
	ErrUnderlyingBalanceZero          = errors.New("lending engine: underlying balance is zero")
	ErrCurrencyNotBorrowedByUser      = errors.New("lending engine: currency not borrowed by user")
	ErrCollateralNotEligible          = errors.New("lending engine: collateral cannot be liquidated")
	ErrNotTokenOwner                  = errors.New("lending engine: caller does not own token")
	ErrTokenInAuction                 = errors.New("lending engine: token is being auctioned")
	ErrAuctionNotEnabled              = errors.New("lending engine: auctions not enabled for reserve")
	ErrAuctionNotStarted              = errors.New("lending engine: auction not started")
	ErrAuctionAlreadyActive           = errors.New("lending engine: auction already active")
	ErrAuctionPeriodNotElapsed        = errors.New("lending engine: auction bonding period not elapsed")
	ErrLiquidationPriceExceedsMax     = errors.New("lending engine: auction price exceeds liquidator maximum")
	ErrPriceUnavailable               = errors.New("lending engine: price unavailable")
	ErrNilState                       = errors.New("lending engine: state not configured")
)
