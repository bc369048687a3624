package server

import (
	"errors"
	"net/http"

	nativecommon "lendledger/native/common"
	"lendledger/native/lending"
)

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

var (
	notFoundErrors = []error{
		lending.ErrReserveNotListed,
		lending.ErrAuctionNotStarted,
	}
	unavailableErrors = []error{
		nativecommon.ErrModulePaused,
		lending.ErrReservePaused,
		lending.ErrPriceUnavailable,
		lending.ErrNilState,
	}
	forbiddenErrors = []error{
		lending.ErrNotTokenOwner,
		lending.ErrNoExplicitAmountOnBehalf,
	}
	badRequestErrors = []error{
		errBadRequest,
		lending.ErrInvalidAmount,
		lending.ErrInvalidAssetClass,
		lending.ErrInvalidReserveParams,
		lending.ErrStrategyNotRegistered,
	}
	conflictErrors = []error{
		lending.ErrReserveAlreadyListed,
		lending.ErrAuctionAlreadyActive,
		lending.ErrTokenInAuction,
		lending.ErrTooManyReserves,
	}
	rejectedErrors = []error{
		lending.ErrReserveInactive,
		lending.ErrReserveFrozen,
		lending.ErrSupplyCapExceeded,
		lending.ErrBorrowCapExceeded,
		lending.ErrBorrowingNotEnabled,
		lending.ErrSiloedBorrowingViolation,
		lending.ErrInsufficientBalance,
		lending.ErrInsufficientLiquidity,
		lending.ErrHealthFactorBelowThreshold,
		lending.ErrHealthFactorNotBelowThreshold,
		lending.ErrLtvValidationFailed,
		lending.ErrCollateralBalanceZero,
		lending.ErrCollateralCannotCoverNewBorrow,
		lending.ErrNoDebtOfSelectedType,
		lending.ErrUnderlyingBalanceZero,
		lending.ErrCurrencyNotBorrowedByUser,
		lending.ErrCollateralNotEligible,
		lending.ErrAuctionNotEnabled,
		lending.ErrAuctionPeriodNotElapsed,
		lending.ErrLiquidationPriceExceedsMax,
	}
)

// httpStatus maps engine errors onto response codes. Validation failures
// that depend on pool state are 422 so clients can tell them from malformed
// requests.
func httpStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch {
	case isAny(err, notFoundErrors):
		return http.StatusNotFound
	case isAny(err, unavailableErrors):
		return http.StatusServiceUnavailable
	case isAny(err, forbiddenErrors):
		return http.StatusForbidden
	case isAny(err, badRequestErrors):
		return http.StatusBadRequest
	case isAny(err, conflictErrors):
		return http.StatusConflict
	case isAny(err, rejectedErrors):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
