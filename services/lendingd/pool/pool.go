// Package pool assembles a lending engine from a markets file on top of a
// key-value database: custody bank, token ledgers, oracle and persistent
// engine state.
package pool

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/core/events"
	"lendledger/native/bank"
	"lendledger/native/lending"
	"lendledger/native/lending/tokens"
	"lendledger/native/oracle"
	"lendledger/storage"
)

// OperatorSource names the static oracle source fed by the markets file and
// the price API.
const OperatorSource = "operator"

// Options tunes pool assembly.
type Options struct {
	// OracleMaxAge bounds the age of operator prices. Zero disables the check.
	OracleMaxAge  time.Duration
	PausedModules []string
	Emitter       events.Emitter
	Metrics       lending.Metrics
	Logger        *slog.Logger
	// Clock overrides wall time for the engine and the oracle.
	Clock func() time.Time
}

// Pool is a wired lending engine and its collaborators.
type Pool struct {
	Engine *lending.Engine
	Bank   *bank.Bank
	Prices *oracle.StaticSource
	Oracle *oracle.Aggregator
	// Listed counts reserves initialised by this call; the rest were
	// reattached from persisted state.
	Listed int
}

// Pauses is a fixed set of paused modules.
type Pauses map[string]struct{}

// NewPauses builds a pause set from module names.
func NewPauses(modules []string) Pauses {
	p := make(Pauses, len(modules))
	for _, module := range modules {
		if trimmed := strings.ToLower(strings.TrimSpace(module)); trimmed != "" {
			p[trimmed] = struct{}{}
		}
	}
	return p
}

// IsPaused implements common.PauseView.
func (p Pauses) IsPaused(module string) bool {
	_, ok := p[strings.ToLower(module)]
	return ok
}

// Open builds the engine over db. Reserves already present in db are
// reattached to their ledgers; new ones are listed.
func Open(db storage.Database, markets *lending.MarketsConfig, opts Options) (*Pool, error) {
	if db == nil || markets == nil {
		return nil, fmt.Errorf("pool: database and markets required")
	}
	if err := markets.Validate(); err != nil {
		return nil, fmt.Errorf("pool: markets: %w", err)
	}
	params, err := markets.EngineParams()
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Bank, ledgers and engine state share one write stage so that an
	// action lands in a single batch.
	staged := storage.NewStaged(db)
	db = staged
	custody := bank.New(db)
	prices := oracle.NewStaticSource(OperatorSource)
	prices.SetClock(clock)
	aggregator := oracle.NewAggregator(opts.OracleMaxAge)
	aggregator.SetClock(clock)
	aggregator.Register(OperatorSource, prices)

	store := lending.NewKVStore(db)
	engine := lending.NewEngine(store, custody, aggregator, params)
	engine.SetClock(func() uint64 { return uint64(clock().Unix()) })
	engine.SetTransactor(staged)
	engine.SetLogger(logger)
	engine.SetPauses(NewPauses(opts.PausedModules))
	if opts.Emitter != nil {
		engine.SetEmitter(opts.Emitter)
	}
	if opts.Metrics != nil {
		engine.SetMetrics(opts.Metrics)
	}
	if err := markets.RegisterStrategies(engine); err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}

	p := &Pool{Engine: engine, Bank: custody, Prices: prices, Oracle: aggregator}
	for _, rc := range markets.Reserves {
		if err := p.list(db, store, rc); err != nil {
			return nil, fmt.Errorf("pool: reserve %s: %w", label(rc), err)
		}
	}
	logger.Info("lending pool ready", "reserves", len(markets.Reserves), "listed", p.Listed)
	return p, nil
}

func (p *Pool) list(db storage.Database, store *lending.KVStore, rc lending.ReserveConfig) error {
	class, err := rc.AssetClass()
	if err != nil {
		return err
	}
	asset, vault := rc.AssetAddress(), rc.VaultAddress()
	var ledgers lending.Ledgers
	if class == lending.AssetClassNonFungible {
		ledgers.NToken = tokens.NewNToken(db, asset, vault, p.Bank)
	} else {
		params := p.Engine.Params()
		ledgers.PToken = tokens.NewPToken(db, asset, vault, params.Treasury, p.Bank)
		ledgers.DebtToken = tokens.NewDebtToken(db, asset)
	}

	if rc.Price != "" {
		price, err := lending.ParseDecimal(rc.Price, oracle.BaseCurrencyDecimals)
		if err != nil {
			return err
		}
		if err := p.Prices.SetPrice(asset, price); err != nil {
			return err
		}
	}

	existing, err := store.GetReserve(asset)
	if err != nil {
		return err
	}
	if existing != nil {
		return p.Engine.AttachLedgers(asset, ledgers)
	}
	err = p.Engine.InitReserve(lending.InitReserveParams{
		Asset:                asset,
		Class:                class,
		Configuration:        rc.Configuration(),
		Vault:                vault,
		Ledgers:              ledgers,
		InterestRateStrategy: rc.RateStrategy,
		AuctionStrategy:      rc.AuctionStrategy,
	})
	if err != nil {
		return err
	}
	p.Listed++
	return nil
}

// Custody returns bank access serialised with engine actions.
func (p *Pool) Custody() *Custody {
	return &Custody{engine: p.Engine, bank: p.Bank}
}

// Custody runs direct bank calls under the engine lock.
type Custody struct {
	engine *lending.Engine
	bank   *bank.Bank
}

func (c *Custody) BalanceOf(asset, holder common.Address) *big.Int {
	var out *big.Int
	_ = c.engine.Exclusive(func() error {
		out = c.bank.BalanceOf(asset, holder)
		return nil
	})
	if out == nil {
		return big.NewInt(0)
	}
	return out
}

func (c *Custody) Mint(asset, to common.Address, amount *big.Int) error {
	return c.engine.Exclusive(func() error { return c.bank.Mint(asset, to, amount) })
}

func (c *Custody) MintNFT(asset, to common.Address, tokenID *big.Int) error {
	return c.engine.Exclusive(func() error { return c.bank.MintNFT(asset, to, tokenID) })
}

func label(rc lending.ReserveConfig) string {
	if rc.Symbol != "" {
		return rc.Symbol
	}
	return rc.Asset
}
