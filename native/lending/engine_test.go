package lending

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"lendledger/core/events"
	nativecommon "lendledger/native/common"
	"lendledger/native/lending/fixedpoint"
)

// newDaiWethPool lists DAI (borrowable) and WETH (collateral) at $1 and
// $2000.
func newDaiWethPool(t *testing.T) *testPool {
	t.Helper()
	p := newTestPool(t)
	p.listFungible(daiAsset, fungibleConfig(18, 7_500, 8_000, 10_500), usd(1))
	p.listFungible(wethAsset, fungibleConfig(18, 8_000, 8_250, 10_500), usd(2_000))
	return p
}

func TestIndicesNonDecreasingAndIdempotent(t *testing.T) {
	p := newDaiWethPool(t)
	p.supply(daiAsset, depositor, units(10_000, 18))
	p.supply(wethAsset, borrower, units(5, 18))
	require.NoError(t, p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: units(4_000, 18)}))

	prev := p.reserve(daiAsset)
	for _, step := range []uint64{1, 60, 3_600, 86_400, 7 * 86_400, 0, 365 * 86_400} {
		p.advance(step)
		p.supply(daiAsset, depositor, big.NewInt(1_000))
		cur := p.reserve(daiAsset)
		require.GreaterOrEqual(t, cur.LiquidityIndex.Cmp(prev.LiquidityIndex), 0)
		require.GreaterOrEqual(t, cur.VariableBorrowIndex.Cmp(prev.VariableBorrowIndex), 0)
		prev = cur
	}
	require.Equal(t, 1, prev.VariableBorrowIndex.Cmp(fixedpoint.Ray))

	c := newReserveCache(prev.Clone(), p.ledgers[daiAsset], nil)
	c.updateState(p.now + 3_600)
	first := c.reserve.Clone()
	c.updateState(p.now + 3_600)
	requireSameReserve(t, first, c.reserve)
}

func TestBorrowDoesNotMoveIndicesWithinSameTimestamp(t *testing.T) {
	p := newDaiWethPool(t)
	p.supply(daiAsset, depositor, units(1_000, 18))
	p.supply(wethAsset, borrower, units(1, 18))
	require.NoError(t, p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: units(100, 18)}))
	before := p.reserve(daiAsset)
	require.NoError(t, p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: units(100, 18)}))
	after := p.reserve(daiAsset)
	require.Equal(t, before.LiquidityIndex, after.LiquidityIndex)
	require.Equal(t, before.VariableBorrowIndex, after.VariableBorrowIndex)
	require.Equal(t, before.LastUpdateTimestamp, after.LastUpdateTimestamp)
}

func TestWithdrawBelowHealthFactorFailsWithoutSideEffects(t *testing.T) {
	p := newDaiWethPool(t)
	p.supply(daiAsset, depositor, units(10_000, 18))
	p.supply(wethAsset, borrower, units(1, 18))
	require.NoError(t, p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: units(1_500, 18)}))
	p.advance(60)

	reserveBefore := p.reserve(wethAsset)
	positionBefore := p.userReserve(wethAsset, borrower)
	walletBefore := p.bank.BalanceOf(wethAsset, borrower)
	p.events.Reset()

	_, err := p.engine.Withdraw(WithdrawParams{Asset: wethAsset, User: borrower, Amount: new(big.Int).Div(units(1, 18), big.NewInt(5))})
	require.ErrorIs(t, err, ErrHealthFactorBelowThreshold)

	requireSameReserve(t, reserveBefore, p.reserve(wethAsset))
	require.Equal(t, positionBefore, p.userReserve(wethAsset, borrower))
	require.Equal(t, walletBefore, p.bank.BalanceOf(wethAsset, borrower))
	require.Empty(t, p.events.Events())
	require.Equal(t, -1, p.account(borrower).HealthFactor.Cmp(fixedpoint.MaxUint256))
}

func TestBorrowWhileUnhealthyFails(t *testing.T) {
	p := newDaiWethPool(t)
	p.supply(daiAsset, depositor, units(10_000, 18))
	p.supply(wethAsset, borrower, units(1, 18))
	require.NoError(t, p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: units(1_500, 18)}))
	p.prices.set(wethAsset, usd(1_500))
	require.Equal(t, -1, p.account(borrower).HealthFactor.Cmp(fixedpoint.Ray))

	debtBefore := p.userReserve(daiAsset, borrower)
	err := p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: units(1, 18)})
	require.ErrorIs(t, err, ErrHealthFactorBelowThreshold)
	require.Equal(t, debtBefore, p.userReserve(daiAsset, borrower))
}

func TestBorrowBeyondLtvFails(t *testing.T) {
	p := newDaiWethPool(t)
	p.supply(daiAsset, depositor, units(10_000, 18))
	p.supply(wethAsset, borrower, units(1, 18))
	err := p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: units(1_601, 18)})
	require.ErrorIs(t, err, ErrCollateralCannotCoverNewBorrow)
	require.NoError(t, p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: units(1_600, 18)}))
	require.GreaterOrEqual(t, p.account(borrower).HealthFactor.Cmp(fixedpoint.Ray), 0)
}

func TestLiquidationCallScenario(t *testing.T) {
	p := newDaiWethPool(t)
	p.supply(daiAsset, depositor, units(1_000, 18))
	collateral := big.NewInt(67_750_000_000_000_000) // 0.06775 WETH
	p.supply(wethAsset, borrower, collateral)

	data := p.account(borrower)
	borrowBase := fixedpoint.PercentMul(data.AvailableBorrowsBase, 9_500)
	amount := fromBase(borrowBase, usd(1), 18)
	require.NoError(t, p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: amount}))

	daiPrice := fixedpoint.PercentMul(usd(1), 11_800)
	p.prices.set(daiAsset, daiPrice)
	p.advance(86_400)
	require.Equal(t, -1, p.account(borrower).HealthFactor.Cmp(fixedpoint.Ray))

	before := p.reserve(daiAsset)
	userDebt := p.userReserve(daiAsset, borrower).VariableDebt
	p.fund(daiAsset, liquidator, units(1_000, 18))

	res, err := p.engine.LiquidationCall(LiquidationCallParams{
		CollateralAsset: wethAsset,
		DebtAsset:       daiAsset,
		User:            borrower,
		Liquidator:      liquidator,
		DebtToCover:     fixedpoint.MaxUint256,
	})
	require.NoError(t, err)
	require.Equal(t, fixedpoint.PercentMul(userDebt, 5_000), res.DebtRepaid)

	expected := new(big.Int).Mul(res.DebtRepaid, daiPrice)
	expected.Mul(expected, big.NewInt(10_500))
	expected.Quo(expected, new(big.Int).Mul(usd(2_000), big.NewInt(10_000)))
	requireWithin(t, expected, res.CollateralLiquidated, 2)
	require.Equal(t, res.CollateralLiquidated, p.bank.BalanceOf(wethAsset, liquidator))

	after := p.reserve(daiAsset)
	require.GreaterOrEqual(t, after.LiquidityIndex.Cmp(before.LiquidityIndex), 0)
	require.Equal(t, -1, after.CurrentLiquidityRate.Cmp(before.CurrentLiquidityRate))

	remaining := p.userReserve(daiAsset, borrower).VariableDebt
	requireWithin(t, new(big.Int).Sub(userDebt, res.DebtRepaid), remaining, 2)
	require.Len(t, p.events.OfType(events.TypeLendingLiquidationCall), 1)
}

func TestLiquidationCallRejectsHealthyPosition(t *testing.T) {
	p := newDaiWethPool(t)
	p.supply(daiAsset, depositor, units(1_000, 18))
	p.supply(wethAsset, borrower, units(1, 18))
	require.NoError(t, p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: units(100, 18)}))
	p.fund(daiAsset, liquidator, units(100, 18))
	_, err := p.engine.LiquidationCall(LiquidationCallParams{
		CollateralAsset: wethAsset,
		DebtAsset:       daiAsset,
		User:            borrower,
		Liquidator:      liquidator,
		DebtToCover:     units(10, 18),
	})
	require.ErrorIs(t, err, ErrHealthFactorNotBelowThreshold)
}

func TestLiquidationReceivePTokenWithProtocolFee(t *testing.T) {
	p := newTestPool(t)
	p.listFungible(daiAsset, fungibleConfig(18, 7_500, 8_000, 10_500), usd(1))
	weth := fungibleConfig(18, 8_000, 8_250, 10_500)
	weth.LiquidationProtocolFee = 1_000
	p.listFungible(wethAsset, weth, usd(2_000))

	p.supply(daiAsset, depositor, units(5_000, 18))
	p.supply(wethAsset, borrower, units(1, 18))
	require.NoError(t, p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: units(1_500, 18)}))
	p.prices.set(wethAsset, usd(1_700))
	p.fund(daiAsset, liquidator, units(1_000, 18))

	res, err := p.engine.LiquidationCall(LiquidationCallParams{
		CollateralAsset: wethAsset,
		DebtAsset:       daiAsset,
		User:            borrower,
		Liquidator:      liquidator,
		DebtToCover:     units(500, 18),
		ReceivePToken:   true,
	})
	require.NoError(t, err)
	require.Equal(t, units(500, 18), res.DebtRepaid)
	require.Equal(t, 1, res.ProtocolFee.Sign())

	require.Equal(t, res.CollateralLiquidated, p.userReserve(wethAsset, liquidator).CollateralBalance)
	require.Equal(t, res.ProtocolFee, p.userReserve(wethAsset, treasury).CollateralBalance)
	require.True(t, p.userReserve(wethAsset, liquidator).UsageAsCollateral)
	require.Zero(t, p.bank.BalanceOf(wethAsset, liquidator).Sign())
}

func TestCollateralToggleToCurrentValueIsNoop(t *testing.T) {
	p := newDaiWethPool(t)
	p.supply(wethAsset, borrower, units(1, 18))
	cfgBefore, err := p.engine.GetUserConfiguration(borrower)
	require.NoError(t, err)
	require.True(t, cfgBefore.IsUsingAsCollateral(p.reserve(wethAsset).ID))

	p.events.Reset()
	require.NoError(t, p.engine.SetUserUseERC20AsCollateral(wethAsset, borrower, true))
	require.Empty(t, p.events.Events())
	cfgAfter, err := p.engine.GetUserConfiguration(borrower)
	require.NoError(t, err)
	require.True(t, cfgBefore.Equal(cfgAfter))

	require.NoError(t, p.engine.SetUserUseERC20AsCollateral(wethAsset, borrower, false))
	require.Len(t, p.events.OfType(events.TypeLendingCollateralDisabled), 1)
	p.events.Reset()
	require.NoError(t, p.engine.SetUserUseERC20AsCollateral(wethAsset, borrower, false))
	require.Empty(t, p.events.Events())
}

func TestNoDebtUserHasMaximalHealthFactor(t *testing.T) {
	p := newDaiWethPool(t)
	fresh := p.account(borrower)
	require.True(t, fixedpoint.IsMaxUint256(fresh.HealthFactor))

	p.supply(wethAsset, borrower, units(2, 18))
	cfg, err := p.engine.GetUserConfiguration(borrower)
	require.NoError(t, err)
	require.False(t, cfg.IsBorrowingAny())
	data := p.account(borrower)
	require.True(t, fixedpoint.IsMaxUint256(data.HealthFactor))
	require.True(t, fixedpoint.IsMaxUint256(data.ERC721HealthFactor))
	require.Equal(t, usd(4_000), data.TotalCollateralBase)
	require.Equal(t, usd(3_200), data.AvailableBorrowsBase)
}

func TestWithdrawMaxSentinelWithdrawsFullBalance(t *testing.T) {
	p := newDaiWethPool(t)
	p.supply(daiAsset, depositor, units(1_000, 18))
	p.supply(wethAsset, borrower, units(1, 18))
	require.NoError(t, p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: units(300, 18)}))
	p.advance(90 * 86_400)

	p.fund(daiAsset, borrower, units(50, 18))
	repaid, err := p.engine.Repay(RepayParams{Asset: daiAsset, User: borrower, Amount: fixedpoint.MaxUint256})
	require.NoError(t, err)
	require.Equal(t, 1, repaid.Cmp(units(300, 18)))
	cfg, err := p.engine.GetUserConfiguration(borrower)
	require.NoError(t, err)
	require.False(t, cfg.IsBorrowingAny())

	p.advance(3_600)
	position := p.userReserve(daiAsset, depositor)
	require.Equal(t, 1, position.CollateralBalance.Cmp(units(1_000, 18)))

	withdrawn, err := p.engine.Withdraw(WithdrawParams{Asset: daiAsset, User: depositor, Amount: fixedpoint.MaxUint256})
	require.NoError(t, err)
	require.Equal(t, position.CollateralBalance, withdrawn)
	require.Equal(t, withdrawn, p.bank.BalanceOf(daiAsset, depositor))

	after := p.userReserve(daiAsset, depositor)
	require.Zero(t, after.ScaledCollateral.Sign())
	require.False(t, after.UsageAsCollateral)

	_, err = p.engine.Withdraw(WithdrawParams{Asset: daiAsset, User: depositor, Amount: fixedpoint.MaxUint256})
	require.Error(t, err)
}

func TestRepayMaxOnBehalfOfOtherRejected(t *testing.T) {
	p := newDaiWethPool(t)
	p.supply(daiAsset, depositor, units(1_000, 18))
	p.supply(wethAsset, borrower, units(1, 18))
	require.NoError(t, p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: units(100, 18)}))
	p.fund(daiAsset, liquidator, units(200, 18))
	_, err := p.engine.Repay(RepayParams{Asset: daiAsset, User: liquidator, OnBehalfOf: borrower, Amount: fixedpoint.MaxUint256})
	require.ErrorIs(t, err, ErrNoExplicitAmountOnBehalf)

	repaid, err := p.engine.Repay(RepayParams{Asset: daiAsset, User: liquidator, OnBehalfOf: borrower, Amount: units(200, 18)})
	require.NoError(t, err)
	require.Equal(t, units(100, 18), repaid)
}

func TestSupplyCapEnforced(t *testing.T) {
	p := newTestPool(t)
	cfg := fungibleConfig(6, 7_500, 8_000, 10_500)
	cfg.SupplyCap = 100
	p.listFungible(daiAsset, cfg, usd(1))
	p.supply(daiAsset, depositor, units(100, 6))
	p.fund(daiAsset, depositor, big.NewInt(1))
	err := p.engine.Supply(SupplyParams{Asset: daiAsset, User: depositor, Amount: big.NewInt(1)})
	require.ErrorIs(t, err, ErrSupplyCapExceeded)
}

func TestFrozenReserveRejectsSupplyButAllowsRepay(t *testing.T) {
	p := newDaiWethPool(t)
	p.supply(daiAsset, depositor, units(1_000, 18))
	p.supply(wethAsset, borrower, units(1, 18))
	require.NoError(t, p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: units(100, 18)}))

	frozen := p.reserve(daiAsset).Configuration
	frozen.Frozen = true
	require.NoError(t, p.engine.SetReserveConfiguration(daiAsset, frozen))

	p.fund(daiAsset, depositor, units(1, 18))
	err := p.engine.Supply(SupplyParams{Asset: daiAsset, User: depositor, Amount: units(1, 18)})
	require.ErrorIs(t, err, ErrReserveFrozen)
	_, err = p.engine.Repay(RepayParams{Asset: daiAsset, User: borrower, Amount: units(50, 18)})
	require.NoError(t, err)
}

func TestSiloedBorrowing(t *testing.T) {
	p := newDaiWethPool(t)
	silo := fungibleConfig(18, 5_000, 6_000, 10_500)
	silo.SiloedBorrowing = true
	siloAsset := apeAsset
	p.listFungible(siloAsset, silo, usd(10))
	p.supply(daiAsset, depositor, units(1_000, 18))
	p.supply(siloAsset, depositor, units(1_000, 18))
	p.supply(wethAsset, borrower, units(1, 18))

	require.NoError(t, p.engine.Borrow(BorrowParams{Asset: siloAsset, User: borrower, Amount: units(10, 18)}))
	err := p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: units(10, 18)})
	require.ErrorIs(t, err, ErrSiloedBorrowingViolation)
}

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

func TestPausedModuleRejectsActions(t *testing.T) {
	p := newDaiWethPool(t)
	p.engine.SetPauses(pauseSet{"lending": true})
	p.fund(daiAsset, depositor, units(1, 18))
	err := p.engine.Supply(SupplyParams{Asset: daiAsset, User: depositor, Amount: units(1, 18)})
	require.True(t, errors.Is(err, nativecommon.ErrModulePaused))

	p.engine.SetPauses(pauseSet{})
	require.NoError(t, p.engine.Supply(SupplyParams{Asset: daiAsset, User: depositor, Amount: units(1, 18)}))
}

func TestMintToTreasury(t *testing.T) {
	p := newDaiWethPool(t)
	p.supply(daiAsset, depositor, units(1_000, 18))
	p.supply(wethAsset, borrower, units(1, 18))
	require.NoError(t, p.engine.Borrow(BorrowParams{Asset: daiAsset, User: borrower, Amount: units(500, 18)}))
	p.advance(180 * 86_400)
	p.supply(daiAsset, depositor, big.NewInt(1_000))

	accrued := p.reserve(daiAsset).AccruedToTreasury
	require.Equal(t, 1, accrued.Sign())
	require.NoError(t, p.engine.MintToTreasury([]common.Address{daiAsset}))
	require.Zero(t, p.reserve(daiAsset).AccruedToTreasury.Sign())
	requireWithin(t, accrued, p.userReserve(daiAsset, treasury).ScaledCollateral, 1)
	require.Len(t, p.events.OfType(events.TypeLendingMintedToTreasury), 1)
}

func TestInitReserveRejectsDuplicatesAndUnknownStrategies(t *testing.T) {
	p := newDaiWethPool(t)
	err := p.engine.InitReserve(InitReserveParams{
		Asset:                daiAsset,
		Class:                AssetClassFungible,
		Configuration:        fungibleConfig(18, 7_500, 8_000, 10_500),
		Ledgers:              p.ledgers[daiAsset],
		InterestRateStrategy: "default",
	})
	require.ErrorIs(t, err, ErrReserveAlreadyListed)

	err = p.engine.InitReserve(InitReserveParams{
		Asset:                apeAsset,
		Class:                AssetClassFungible,
		Configuration:        fungibleConfig(18, 7_500, 8_000, 10_500),
		Ledgers:              p.ledgers[daiAsset],
		InterestRateStrategy: "missing",
	})
	require.ErrorIs(t, err, ErrStrategyNotRegistered)

	list, err := p.engine.GetReservesList()
	require.NoError(t, err)
	require.Equal(t, []common.Address{daiAsset, wethAsset}, list)
}
