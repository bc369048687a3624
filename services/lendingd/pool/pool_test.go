package pool

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"lendledger/core/events"
	nativecommon "lendledger/native/common"
	"lendledger/native/lending"
	"lendledger/storage"
)

const testMarkets = `
[params]
Treasury = "0x0000000000000000000000000000000000007e55"

[rate_strategies.default]
BaseRate = "0"
Slope1 = "0.04"
Slope2 = "0.75"
Kink = "0.8"

[auction_strategies.default]
MaxMultiplierBps = 30000
MinMultiplierBps = 8000
StepLinearBps = 500
CrossoverTicks = 20
ExpDecay = "0.97"
TickSeconds = 600
BondingTicks = 1

[[reserves]]
Symbol = "DAI"
Asset = "0x00000000000000000000000000000000000000d1"
Vault = "0x00000000000000000000000000000000000001d1"
Decimals = 18
LTVBps = 7500
LiquidationThresholdBps = 8000
LiquidationBonusBps = 10500
ReserveFactorBps = 1000
BorrowingEnabled = true
RateStrategy = "default"
Price = "1"

[[reserves]]
Symbol = "WETH"
Asset = "0x00000000000000000000000000000000000000e1"
Vault = "0x00000000000000000000000000000000000001e1"
Decimals = 18
LTVBps = 8000
LiquidationThresholdBps = 8250
LiquidationBonusBps = 10500
ReserveFactorBps = 1000
BorrowingEnabled = true
RateStrategy = "default"
Price = "2000"

[[reserves]]
Symbol = "APE"
Class = "erc721"
Asset = "0x00000000000000000000000000000000000000a1"
Vault = "0x00000000000000000000000000000000000001a1"
LTVBps = 3000
LiquidationThresholdBps = 7000
LiquidationBonusBps = 10500
AuctionEnabled = true
AuctionStrategy = "default"
Price = "10000"
`

var (
	dai       = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	weth      = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	ape       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	depositor = common.HexToAddress("0x0000000000000000000000000000000000000101")
	borrower  = common.HexToAddress("0x0000000000000000000000000000000000000102")
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func markets(t *testing.T) *lending.MarketsConfig {
	t.Helper()
	cfg, err := lending.ParseMarketsConfig(testMarkets)
	require.NoError(t, err)
	return cfg
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func TestOpenListsAndReattaches(t *testing.T) {
	db := storage.NewMemDB()
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	recorder := &events.Recorder{}

	p, err := Open(db, markets(t), Options{Clock: clock.Now, Emitter: recorder})
	require.NoError(t, err)
	require.Equal(t, 3, p.Listed)
	require.Len(t, recorder.OfType(events.TypeLendingReserveInitialized), 3)

	list, err := p.Engine.GetReservesList()
	require.NoError(t, err)
	require.Equal(t, []common.Address{dai, weth, ape}, list)

	require.NoError(t, p.Bank.Mint(dai, depositor, units(10_000)))
	require.NoError(t, p.Bank.Mint(weth, borrower, units(1)))
	require.NoError(t, p.Engine.Supply(lending.SupplyParams{Asset: dai, User: depositor, Amount: units(10_000)}))
	require.NoError(t, p.Engine.Supply(lending.SupplyParams{Asset: weth, User: borrower, Amount: units(1)}))
	require.NoError(t, p.Engine.Borrow(lending.BorrowParams{Asset: dai, User: borrower, Amount: units(1_000)}))

	clock.now = clock.now.Add(time.Hour)
	reopened, err := Open(db, markets(t), Options{Clock: clock.Now})
	require.NoError(t, err)
	require.Zero(t, reopened.Listed)

	data, err := reopened.Engine.GetUserAccountData(borrower)
	require.NoError(t, err)
	require.Positive(t, data.TotalDebtBase.Sign())
	require.NoError(t, reopened.Engine.Borrow(lending.BorrowParams{Asset: dai, User: borrower, Amount: units(100)}))
	require.Equal(t, units(1_100), reopened.Bank.BalanceOf(dai, borrower))
}

func TestOpenHonoursPausedModules(t *testing.T) {
	p, err := Open(storage.NewMemDB(), markets(t), Options{PausedModules: []string{" Lending "}})
	require.NoError(t, err)
	require.NoError(t, p.Bank.Mint(dai, depositor, units(1)))
	err = p.Engine.Supply(lending.SupplyParams{Asset: dai, User: depositor, Amount: units(1)})
	require.True(t, errors.Is(err, nativecommon.ErrModulePaused), err)
}

func TestStalePricesBlockBorrowing(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	p, err := Open(storage.NewMemDB(), markets(t), Options{Clock: clock.Now, OracleMaxAge: time.Minute})
	require.NoError(t, err)
	require.NoError(t, p.Bank.Mint(dai, depositor, units(5_000)))
	require.NoError(t, p.Bank.Mint(weth, borrower, units(1)))
	require.NoError(t, p.Engine.Supply(lending.SupplyParams{Asset: dai, User: depositor, Amount: units(5_000)}))
	require.NoError(t, p.Engine.Supply(lending.SupplyParams{Asset: weth, User: borrower, Amount: units(1)}))

	clock.now = clock.now.Add(2 * time.Minute)
	err = p.Engine.Borrow(lending.BorrowParams{Asset: dai, User: borrower, Amount: units(10)})
	require.ErrorIs(t, err, lending.ErrPriceUnavailable)

	require.NoError(t, p.Prices.SetPrice(dai, big.NewInt(100_000_000)))
	require.NoError(t, p.Prices.SetPrice(weth, big.NewInt(200_000_000_000)))
	require.NoError(t, p.Engine.Borrow(lending.BorrowParams{Asset: dai, User: borrower, Amount: units(10)}))
}

func TestOpenRejectsInvalidMarkets(t *testing.T) {
	cfg := markets(t)
	cfg.Reserves[0].RateStrategy = "missing"
	_, err := Open(storage.NewMemDB(), cfg, Options{})
	require.Error(t, err)

	_, err = Open(nil, markets(t), Options{})
	require.Error(t, err)
}

func TestPauses(t *testing.T) {
	p := NewPauses([]string{"lending", " "})
	require.True(t, p.IsPaused("lending"))
	require.True(t, p.IsPaused("LENDING"))
	require.False(t, p.IsPaused("oracle"))
	require.Len(t, p, 1)
}

func TestCustodyWritesLandInBase(t *testing.T) {
	db := storage.NewMemDB()
	p, err := Open(db, markets(t), Options{})
	require.NoError(t, err)

	custody := p.Custody()
	require.NoError(t, custody.Mint(dai, depositor, units(3)))
	require.NoError(t, custody.MintNFT(ape, borrower, big.NewInt(9)))
	require.Equal(t, units(3), custody.BalanceOf(dai, depositor))

	reopened, err := Open(db, markets(t), Options{})
	require.NoError(t, err)
	require.Equal(t, units(3), reopened.Bank.BalanceOf(dai, depositor))
	owner, ok := reopened.Bank.OwnerOf(ape, big.NewInt(9))
	require.True(t, ok)
	require.Equal(t, borrower, owner)
}
