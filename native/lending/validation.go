package lending

import (
	"fmt"
	"math/big"

	"lendledger/native/lending/fixedpoint"
	"lendledger/native/lending/userconfig"
)

func validateAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// validateReserveState checks the flags shared by every action. Frozen
// reserves reject only new exposure, which callers request with
// rejectFrozen.
func validateReserveState(r *Reserve, class AssetClass, rejectFrozen bool) error {
	cfg := r.Configuration
	switch {
	case !cfg.Active:
		return fmt.Errorf("%w: %s", ErrReserveInactive, r.Asset.Hex())
	case cfg.Paused:
		return fmt.Errorf("%w: %s", ErrReservePaused, r.Asset.Hex())
	case rejectFrozen && cfg.Frozen:
		return fmt.Errorf("%w: %s", ErrReserveFrozen, r.Asset.Hex())
	case r.Class != class:
		return fmt.Errorf("%w: %s is %s", ErrInvalidAssetClass, r.Asset.Hex(), r.Class)
	}
	return nil
}

func validateSupply(c *reserveCache, amount *big.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if err := validateReserveState(c.reserve, AssetClassFungible, true); err != nil {
		return err
	}
	if fixedpoint.RayDiv(amount, c.reserve.LiquidityIndex).Sign() == 0 {
		return fmt.Errorf("%w: amount scales to zero", ErrInvalidAmount)
	}
	cfg := c.reserve.Configuration
	if cfg.SupplyCap != 0 {
		limit := new(big.Int).Mul(new(big.Int).SetUint64(cfg.SupplyCap), fixedpoint.Pow10(cfg.Decimals))
		if new(big.Int).Add(c.totalSupplied(), amount).Cmp(limit) > 0 {
			return ErrSupplyCapExceeded
		}
	}
	return nil
}

func validateSupplyERC721(c *reserveCache, tokens []TokenData) error {
	if len(tokens) == 0 {
		return ErrInvalidAmount
	}
	if err := validateReserveState(c.reserve, AssetClassNonFungible, true); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t.TokenID == nil || t.TokenID.Sign() < 0 {
			return fmt.Errorf("%w: invalid token id", ErrInvalidAmount)
		}
		key := t.TokenID.String()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate token id %s", ErrInvalidAmount, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func validateWithdraw(c *reserveCache, amount, userBalance *big.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if amount.Cmp(userBalance) > 0 {
		return ErrInsufficientBalance
	}
	if err := validateReserveState(c.reserve, AssetClassFungible, false); err != nil {
		return err
	}
	if amount.Cmp(c.availableLiquidity()) > 0 {
		return ErrInsufficientLiquidity
	}
	return nil
}

func validateWithdrawERC721(c *reserveCache, tokenIDs []*big.Int) error {
	if len(tokenIDs) == 0 {
		return ErrInvalidAmount
	}
	return validateReserveState(c.reserve, AssetClassNonFungible, false)
}

type borrowParams struct {
	reserve     *reserveCache
	amount      *big.Int
	amountBase  *big.Int
	userConfig  userconfig.Map
	accountData *AccountData
	// siloedDebtID is set when the user's existing debt is in a siloed reserve.
	siloedDebtID *uint16
}

func validateBorrow(p borrowParams) error {
	if err := validateAmount(p.amount); err != nil {
		return err
	}
	r := p.reserve.reserve
	if err := validateReserveState(r, AssetClassFungible, true); err != nil {
		return err
	}
	cfg := r.Configuration
	if !cfg.BorrowingEnabled {
		return ErrBorrowingNotEnabled
	}
	if fixedpoint.RayDiv(p.amount, r.VariableBorrowIndex).Sign() == 0 {
		return fmt.Errorf("%w: amount scales to zero", ErrInvalidAmount)
	}
	if p.amount.Cmp(p.reserve.availableLiquidity()) > 0 {
		return ErrInsufficientLiquidity
	}
	if cfg.BorrowCap != 0 {
		limit := new(big.Int).Mul(new(big.Int).SetUint64(cfg.BorrowCap), fixedpoint.Pow10(cfg.Decimals))
		if new(big.Int).Add(p.reserve.totalVariableDebt(), p.amount).Cmp(limit) > 0 {
			return ErrBorrowCapExceeded
		}
	}
	if p.userConfig.IsBorrowingAny() {
		if cfg.SiloedBorrowing && !(p.userConfig.IsBorrowingOne() && p.userConfig.IsBorrowing(r.ID)) {
			return ErrSiloedBorrowingViolation
		}
		if p.siloedDebtID != nil && *p.siloedDebtID != r.ID {
			return ErrSiloedBorrowingViolation
		}
	}

	data := p.accountData
	if data.TotalCollateralBase.Sign() == 0 {
		return ErrCollateralBalanceZero
	}
	if data.AvgLTV == 0 {
		return ErrLtvValidationFailed
	}
	if data.HealthFactor.Cmp(fixedpoint.Ray) < 0 {
		return ErrHealthFactorBelowThreshold
	}
	newDebt := new(big.Int).Add(data.TotalDebtBase, p.amountBase)
	if fixedpoint.PercentDiv(newDebt, data.AvgLTV).Cmp(data.TotalCollateralBase) > 0 {
		return ErrCollateralCannotCoverNewBorrow
	}
	if healthFactor(data.TotalCollateralBase, data.AvgLiquidationThreshold, newDebt).Cmp(fixedpoint.Ray) < 0 {
		return ErrHealthFactorBelowThreshold
	}
	return nil
}

func validateRepay(c *reserveCache, amount, debt *big.Int, onBehalfOfOther bool) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if err := validateReserveState(c.reserve, AssetClassFungible, false); err != nil {
		return err
	}
	if fixedpoint.IsMaxUint256(amount) && onBehalfOfOther {
		return ErrNoExplicitAmountOnBehalf
	}
	if debt.Sign() == 0 {
		return ErrNoDebtOfSelectedType
	}
	return nil
}

// validateHFAndLtv projects the account after removing decreaseBase of
// collateral priced in reserve r and rejects the change when the health
// factor would fall below one or the remaining debt would exceed the
// borrowing power.
func validateHFAndLtv(r *Reserve, data *AccountData, decreaseBase *big.Int) error {
	if data.TotalDebtBase.Sign() == 0 || r.Configuration.LiquidationThreshold == 0 || decreaseBase.Sign() == 0 {
		return nil
	}
	collateralAfter := new(big.Int).Sub(data.TotalCollateralBase, decreaseBase)
	if collateralAfter.Sign() <= 0 {
		return ErrHealthFactorBelowThreshold
	}
	weighted := func(avg, assetFactor uint64) uint64 {
		sum := new(big.Int).Mul(data.TotalCollateralBase, new(big.Int).SetUint64(avg))
		sum.Sub(sum, new(big.Int).Mul(decreaseBase, new(big.Int).SetUint64(assetFactor)))
		if sum.Sign() <= 0 {
			return 0
		}
		return sum.Quo(sum, collateralAfter).Uint64()
	}
	thresholdAfter := weighted(data.AvgLiquidationThreshold, r.Configuration.LiquidationThreshold)
	if healthFactor(collateralAfter, thresholdAfter, data.TotalDebtBase).Cmp(fixedpoint.Ray) < 0 {
		return ErrHealthFactorBelowThreshold
	}
	ltvAfter := weighted(data.AvgLTV, r.Configuration.LTV)
	if data.TotalDebtBase.Cmp(fixedpoint.PercentMul(collateralAfter, ltvAfter)) > 0 {
		return ErrLtvValidationFailed
	}
	return nil
}

func validateSetUseERC20AsCollateral(c *reserveCache, balance *big.Int) error {
	if err := validateReserveState(c.reserve, AssetClassFungible, false); err != nil {
		return err
	}
	if balance.Sign() == 0 {
		return ErrUnderlyingBalanceZero
	}
	return nil
}

func validateSetUseERC721AsCollateral(c *reserveCache, tokenIDs []*big.Int) error {
	if len(tokenIDs) == 0 {
		return ErrInvalidAmount
	}
	return validateReserveState(c.reserve, AssetClassNonFungible, false)
}

func validateTransfer(c *reserveCache, class AssetClass) error {
	if c.reserve.Configuration.Paused {
		return fmt.Errorf("%w: %s", ErrReservePaused, c.reserve.Asset.Hex())
	}
	if c.reserve.Class != class {
		return fmt.Errorf("%w: %s is %s", ErrInvalidAssetClass, c.reserve.Asset.Hex(), c.reserve.Class)
	}
	return nil
}

type liquidationCallParams struct {
	collateral      *reserveCache
	debt            *reserveCache
	userConfig      userconfig.Map
	healthFactor    *big.Int
	userDebt        *big.Int
	collateralValue *big.Int
}

func validateLiquidationCall(p liquidationCallParams) error {
	if err := validateReserveState(p.collateral.reserve, AssetClassFungible, false); err != nil {
		return err
	}
	if err := validateReserveState(p.debt.reserve, AssetClassFungible, false); err != nil {
		return err
	}
	if p.healthFactor.Cmp(fixedpoint.Ray) >= 0 {
		return ErrHealthFactorNotBelowThreshold
	}
	collateral := p.collateral.reserve
	if collateral.Configuration.LiquidationThreshold == 0 || !p.userConfig.IsUsingAsCollateral(collateral.ID) {
		return ErrCollateralNotEligible
	}
	if p.collateralValue.Sign() == 0 {
		return ErrCollateralNotEligible
	}
	if p.userDebt.Sign() == 0 {
		return ErrCurrencyNotBorrowedByUser
	}
	return nil
}

type startAuctionParams struct {
	collateral       *reserveCache
	ownerMatches     bool
	usedAsCollateral bool
	existing         *Auction
	erc721HF         *big.Int
}

func validateStartAuction(p startAuctionParams) error {
	r := p.collateral.reserve
	if err := validateReserveState(r, AssetClassNonFungible, false); err != nil {
		return err
	}
	if !r.Configuration.AuctionEnabled {
		return ErrAuctionNotEnabled
	}
	if !p.ownerMatches {
		return ErrNotTokenOwner
	}
	if !p.usedAsCollateral {
		return ErrCollateralNotEligible
	}
	if p.existing != nil {
		return ErrAuctionAlreadyActive
	}
	if p.erc721HF.Cmp(fixedpoint.Ray) >= 0 {
		return ErrHealthFactorNotBelowThreshold
	}
	return nil
}

type liquidateERC721Params struct {
	collateral       *reserveCache
	liquidation      *reserveCache
	auction          *Auction
	data             *AccountData
	recoveryHF       *big.Int
	userDebt         *big.Int
	usedAsCollateral bool
	ticks            uint64
	minTicks         uint64
}

func validateLiquidateERC721(p liquidateERC721Params) error {
	if err := validateReserveState(p.collateral.reserve, AssetClassNonFungible, false); err != nil {
		return err
	}
	if err := validateReserveState(p.liquidation.reserve, AssetClassFungible, false); err != nil {
		return err
	}
	if !p.usedAsCollateral {
		return ErrCollateralNotEligible
	}
	if p.auction == nil {
		return ErrAuctionNotStarted
	}
	if p.data.StaleAuctions || p.data.RecoveryHealthFactor.Cmp(p.recoveryHF) >= 0 {
		return ErrHealthFactorNotBelowThreshold
	}
	if p.userDebt.Sign() == 0 {
		return ErrCurrencyNotBorrowedByUser
	}
	if p.ticks < p.minTicks {
		return ErrAuctionPeriodNotElapsed
	}
	return nil
}
