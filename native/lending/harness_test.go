package lending

import (
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"lendledger/core/events"
	"lendledger/native/bank"
	"lendledger/native/lending/tokens"
	"lendledger/storage"
)

var (
	daiAsset  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	wethAsset = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	apeAsset  = common.HexToAddress("0x00000000000000000000000000000000000000a1")

	treasury   = common.HexToAddress("0x0000000000000000000000000000000000007e55")
	depositor  = common.HexToAddress("0x0000000000000000000000000000000000000101")
	borrower   = common.HexToAddress("0x0000000000000000000000000000000000000102")
	liquidator = common.HexToAddress("0x0000000000000000000000000000000000000103")
)

func vaultOf(asset common.Address) common.Address {
	return common.BytesToAddress(append([]byte("vault"), asset.Bytes()[15:]...))
}

// priceFeed is an in-memory PriceOracle.
type priceFeed struct {
	mu     sync.Mutex
	prices map[common.Address]*big.Int
}

func (p *priceFeed) GetAssetPrice(asset common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[asset]
	if !ok {
		return nil, fmt.Errorf("no price for %s", asset.Hex())
	}
	return new(big.Int).Set(price), nil
}

func (p *priceFeed) set(asset common.Address, price *big.Int) {
	p.mu.Lock()
	p.prices[asset] = new(big.Int).Set(price)
	p.mu.Unlock()
}

func (p *priceFeed) drop(asset common.Address) {
	p.mu.Lock()
	delete(p.prices, asset)
	p.mu.Unlock()
}

type testPool struct {
	t       *testing.T
	db      *storage.Staged
	bank    *bank.Bank
	store   *MemoryStore
	prices  *priceFeed
	engine  *Engine
	events  *events.Recorder
	now     uint64
	ledgers map[common.Address]Ledgers
}

func newTestPool(t *testing.T) *testPool {
	t.Helper()
	db := storage.NewStaged(storage.NewMemDB())
	p := &testPool{
		t:       t,
		db:      db,
		bank:    bank.New(db),
		store:   NewMemoryStore(),
		prices:  &priceFeed{prices: make(map[common.Address]*big.Int)},
		events:  &events.Recorder{},
		now:     1_700_000_000,
		ledgers: make(map[common.Address]Ledgers),
	}
	params := DefaultParams()
	params.Treasury = treasury
	params.DustFloorBase = big.NewInt(0)
	p.engine = NewEngine(p.store, p.bank, p.prices, params)
	p.engine.SetClock(func() uint64 { return p.now })
	p.engine.SetTransactor(db)
	p.engine.SetEmitter(p.events)
	p.engine.RegisterInterestRateStrategy("default", DefaultInterestModel)
	p.engine.RegisterAuctionStrategy("default", DefaultAuction)
	return p
}

func (p *testPool) advance(seconds uint64) { p.now += seconds }

func fungibleConfig(decimals uint8, ltv, threshold, bonus uint64) ReserveConfiguration {
	return ReserveConfiguration{
		LTV:                  ltv,
		LiquidationThreshold: threshold,
		LiquidationBonus:     bonus,
		ReserveFactor:        1_000,
		Decimals:             decimals,
		Active:               true,
		BorrowingEnabled:     true,
	}
}

func (p *testPool) listFungible(asset common.Address, cfg ReserveConfiguration, price *big.Int) {
	p.t.Helper()
	vault := vaultOf(asset)
	ledgers := Ledgers{
		PToken:    tokens.NewPToken(p.db, asset, vault, treasury, p.bank),
		DebtToken: tokens.NewDebtToken(p.db, asset),
	}
	require.NoError(p.t, p.engine.InitReserve(InitReserveParams{
		Asset:                asset,
		Class:                AssetClassFungible,
		Configuration:        cfg,
		Vault:                vault,
		Ledgers:              ledgers,
		InterestRateStrategy: "default",
	}))
	p.ledgers[asset] = ledgers
	p.prices.set(asset, price)
}

func (p *testPool) listNFT(asset common.Address, ltv, threshold uint64, floor *big.Int) {
	p.t.Helper()
	vault := vaultOf(asset)
	ledgers := Ledgers{NToken: tokens.NewNToken(p.db, asset, vault, p.bank)}
	require.NoError(p.t, p.engine.InitReserve(InitReserveParams{
		Asset:   asset,
		Class:   AssetClassNonFungible,
		Vault:   vault,
		Ledgers: ledgers,
		Configuration: ReserveConfiguration{
			LTV:                  ltv,
			LiquidationThreshold: threshold,
			LiquidationBonus:     10_500,
			Active:               true,
			AuctionEnabled:       true,
		},
		AuctionStrategy: "default",
	}))
	p.ledgers[asset] = ledgers
	p.prices.set(asset, floor)
}

func (p *testPool) fund(asset, holder common.Address, amount *big.Int) {
	p.t.Helper()
	require.NoError(p.t, p.bank.Mint(asset, holder, amount))
}

func (p *testPool) supply(asset, user common.Address, amount *big.Int) {
	p.t.Helper()
	p.fund(asset, user, amount)
	require.NoError(p.t, p.engine.Supply(SupplyParams{Asset: asset, User: user, Amount: amount}))
}

func (p *testPool) reserve(asset common.Address) *Reserve {
	p.t.Helper()
	r, err := p.engine.GetReserve(asset)
	require.NoError(p.t, err)
	return r
}

func (p *testPool) account(user common.Address) *AccountData {
	p.t.Helper()
	data, err := p.engine.GetUserAccountData(user)
	require.NoError(p.t, err)
	return data
}

func (p *testPool) userReserve(asset, user common.Address) *UserReserveData {
	p.t.Helper()
	data, err := p.engine.GetUserReserveData(asset, user)
	require.NoError(p.t, err)
	return data
}

// units returns amount * 10^decimals.
func units(amount int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(amount), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

// usd returns a base currency price with 8 decimals.
func usd(amount int64) *big.Int { return units(amount, 8) }

func requireWithin(t *testing.T, expected, actual *big.Int, tolerance int64) {
	t.Helper()
	diff := new(big.Int).Sub(actual, expected)
	require.LessOrEqual(t, diff.CmpAbs(big.NewInt(tolerance)), 0, "got %s, want %s ± %d", actual, expected, tolerance)
}

func requireSameReserve(t *testing.T, want, got *Reserve) {
	t.Helper()
	require.Equal(t, want.Asset, got.Asset)
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.LastUpdateTimestamp, got.LastUpdateTimestamp)
	require.Equal(t, want.Configuration, got.Configuration)
	for name, pair := range map[string][2]*big.Int{
		"liquidity index":  {want.LiquidityIndex, got.LiquidityIndex},
		"borrow index":     {want.VariableBorrowIndex, got.VariableBorrowIndex},
		"liquidity rate":   {want.CurrentLiquidityRate, got.CurrentLiquidityRate},
		"borrow rate":      {want.CurrentVariableBorrowRate, got.CurrentVariableBorrowRate},
		"accrued treasury": {want.AccruedToTreasury, got.AccruedToTreasury},
	} {
		require.Zero(t, zeroIfNil(pair[0]).Cmp(zeroIfNil(pair[1])), name)
	}
}
