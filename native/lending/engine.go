package lending

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/core/events"
	nativecommon "lendledger/native/common"
	"lendledger/native/lending/fixedpoint"
	"lendledger/native/lending/userconfig"
)

const moduleName = "lending"

// Params are the engine-wide risk settings.
type Params struct {
	// Treasury receives liquidation protocol fees.
	Treasury common.Address
	// CloseFactor caps a fungible liquidation as a share of the debt.
	CloseFactor uint64
	// DustFloorBase lets a liquidation close the whole debt when the
	// remainder would be worth less than this (base currency).
	DustFloorBase *big.Int
	// RecoveryHealthFactor (ray) at or above which auctions go stale.
	RecoveryHealthFactor *big.Int
}

// DefaultParams returns the engine defaults.
func DefaultParams() Params {
	return Params{
		CloseFactor:          DefaultCloseFactor,
		DustFloorBase:        new(big.Int).Set(DefaultDustFloorBase),
		RecoveryHealthFactor: new(big.Int).Set(fixedpoint.Ray),
	}
}

func (p Params) normalize() Params {
	if p.CloseFactor == 0 || p.CloseFactor > fixedpoint.PercentageFactorUint {
		p.CloseFactor = DefaultCloseFactor
	}
	if p.DustFloorBase == nil {
		p.DustFloorBase = new(big.Int).Set(DefaultDustFloorBase)
	}
	if p.RecoveryHealthFactor == nil || p.RecoveryHealthFactor.Sign() == 0 {
		p.RecoveryHealthFactor = new(big.Int).Set(fixedpoint.Ray)
	}
	return p
}

// Metrics receives engine observations.
type Metrics interface {
	ObserveAction(action string, err error)
	ObserveLiquidation(kind string, debtAsset common.Address)
	ObserveAuctionStarted(asset common.Address)
	ObserveBadDebt(asset common.Address, amount *big.Int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveAction(string, error)               {}
func (noopMetrics) ObserveLiquidation(string, common.Address) {}
func (noopMetrics) ObserveAuctionStarted(common.Address)      {}
func (noopMetrics) ObserveBadDebt(common.Address, *big.Int)   {}

// Transactor stages ledger and custody writes so that they land together
// with the engine state of the same action.
type Transactor interface {
	Begin()
	Commit() error
	Rollback()
}

// Engine orchestrates the state transitions of the lending pool. Actions are
// serialized, and the store sees either every write of an action or none.
// Ledger and custody writes share that guarantee only once a Transactor is
// installed with SetTransactor; without one they land as they are made and a
// failed action can leave them behind.
type Engine struct {
	mu sync.Mutex

	store   Store
	custody Custody
	oracle  PriceOracle
	params  Params
	tx      Transactor

	ledgers           map[common.Address]Ledgers
	rateStrategies    map[string]InterestRateStrategy
	auctionStrategies map[string]AuctionStrategy

	now     func() uint64
	pauses  nativecommon.PauseView
	emitter events.Emitter
	logger  *slog.Logger
	metrics Metrics
}

// NewEngine constructs an engine over the given store, custody and oracle.
// Callers whose ledgers and custody share a storage.Staged should pass it to
// SetTransactor before the first action.
func NewEngine(store Store, custody Custody, oracle PriceOracle, params Params) *Engine {
	return &Engine{
		store:             store,
		custody:           custody,
		oracle:            oracle,
		params:            params.normalize(),
		ledgers:           make(map[common.Address]Ledgers),
		rateStrategies:    make(map[string]InterestRateStrategy),
		auctionStrategies: make(map[string]AuctionStrategy),
		now:               func() uint64 { return uint64(time.Now().Unix()) },
		emitter:           events.NoopEmitter{},
		logger:            slog.Default(),
		metrics:           noopMetrics{},
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(store Store) {
	e.mu.Lock()
	e.store = store
	e.mu.Unlock()
}

// SetOracle replaces the price oracle.
func (e *Engine) SetOracle(oracle PriceOracle) {
	e.mu.Lock()
	e.oracle = oracle
	e.mu.Unlock()
}

// SetCustody replaces the underlying asset custody.
func (e *Engine) SetCustody(custody Custody) {
	e.mu.Lock()
	e.custody = custody
	e.mu.Unlock()
}

// SetPauses installs the module pause view checked before every action.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.pauses = p
	e.mu.Unlock()
}

// SetTransactor installs the write stage shared by the ledgers, the custody
// and the store. Without one, ledger writes are not rolled back when an
// action fails.
func (e *Engine) SetTransactor(tx Transactor) {
	e.mu.Lock()
	e.tx = tx
	e.mu.Unlock()
}

// SetEmitter configures where committed events are published.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.mu.Lock()
	e.emitter = emitter
	e.mu.Unlock()
}

// SetLogger replaces the engine logger. A nil logger restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.mu.Lock()
	e.logger = logger.With("module", moduleName)
	e.mu.Unlock()
}

// SetMetrics installs the action, liquidation and bad debt observer. A nil
// value disables metrics.
func (e *Engine) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	e.mu.Lock()
	e.metrics = m
	e.mu.Unlock()
}

// SetClock installs the unix-seconds time source used for accrual.
func (e *Engine) SetClock(now func() uint64) {
	if now == nil {
		return
	}
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

// SetBlockTime pins the engine clock to a fixed timestamp.
func (e *Engine) SetBlockTime(ts uint64) {
	e.SetClock(func() uint64 { return ts })
}

// SetParams replaces the engine risk settings.
func (e *Engine) SetParams(p Params) {
	e.mu.Lock()
	e.params = p.normalize()
	e.mu.Unlock()
}

// Params returns the engine risk settings.
func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// RegisterInterestRateStrategy makes a rate strategy available by name.
func (e *Engine) RegisterInterestRateStrategy(name string, s InterestRateStrategy) {
	e.mu.Lock()
	e.rateStrategies[name] = s
	e.mu.Unlock()
}

// RegisterAuctionStrategy makes an auction strategy available by name.
func (e *Engine) RegisterAuctionStrategy(name string, s AuctionStrategy) {
	e.mu.Lock()
	e.auctionStrategies[name] = s
	e.mu.Unlock()
}

// AttachLedgers binds the token ledgers of an already listed reserve, e.g.
// after reopening a persisted store.
func (e *Engine) AttachLedgers(asset common.Address, ledgers Ledgers) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return ErrNilState
	}
	r, err := e.store.GetReserve(asset)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("%w: %s", ErrReserveNotListed, asset.Hex())
	}
	if !ledgers.validFor(r.Class) {
		return fmt.Errorf("%w: ledgers do not match %s reserve", ErrInvalidAssetClass, r.Class)
	}
	e.ledgers[asset] = ledgers
	return nil
}

// run executes one action under the engine lock and commits it on success.
func (e *Engine) run(action string, fn func(x *execution) error) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.metrics.ObserveAction(action, err) }()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.store == nil {
		return ErrNilState
	}
	if e.tx != nil {
		e.tx.Begin()
	}
	x := e.begin()
	if err := fn(x); err != nil {
		if e.tx != nil {
			e.tx.Rollback()
		}
		e.logger.Debug("lending action rejected", "action", action, "error", err)
		return err
	}
	if err := x.commit(); err != nil {
		e.logger.Error("lending commit failed", "action", action, "error", err)
		return err
	}
	e.logger.Debug("lending action committed", "action", action, "events", len(x.events), "timestamp", x.now)
	return nil
}

// Exclusive runs fn under the engine lock inside a write stage, so direct
// custody or ledger access cannot interleave with an action.
func (e *Engine) Exclusive(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tx == nil {
		return fn()
	}
	e.tx.Begin()
	if err := fn(); err != nil {
		e.tx.Rollback()
		return err
	}
	return e.tx.Commit()
}

// view executes a read-only query under the engine lock.
func (e *Engine) view(fn func(x *execution) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return ErrNilState
	}
	return fn(e.begin())
}

// InitReserveParams lists a new asset.
type InitReserveParams struct {
	Asset                common.Address
	Class                AssetClass
	Configuration        ReserveConfiguration
	Vault                common.Address
	Ledgers              Ledgers
	InterestRateStrategy string
	AuctionStrategy      string
}

func validateConfiguration(class AssetClass, cfg ReserveConfiguration) error {
	bad := func(msg string) error { return fmt.Errorf("%w: %s", ErrInvalidReserveParams, msg) }
	switch {
	case cfg.LTV > cfg.LiquidationThreshold:
		return bad("ltv above liquidation threshold")
	case cfg.LiquidationThreshold > fixedpoint.PercentageFactorUint:
		return bad("liquidation threshold above 100%")
	case cfg.LiquidationThreshold != 0 && cfg.LiquidationBonus <= fixedpoint.PercentageFactorUint:
		return bad("liquidation bonus must exceed 100%")
	case cfg.LiquidationThreshold != 0 &&
		fixedpoint.PercentMul(new(big.Int).SetUint64(cfg.LiquidationThreshold), cfg.LiquidationBonus).Cmp(fixedpoint.PercentageFactor) > 0:
		return bad("liquidation threshold times bonus above 100%")
	case cfg.ReserveFactor > fixedpoint.PercentageFactorUint:
		return bad("reserve factor above 100%")
	case cfg.LiquidationProtocolFee > fixedpoint.PercentageFactorUint:
		return bad("liquidation protocol fee above 100%")
	case cfg.Decimals > 36:
		return bad("decimals above 36")
	}
	if class == AssetClassNonFungible {
		if cfg.Decimals != 0 || cfg.BorrowingEnabled || cfg.BorrowCap != 0 {
			return bad("non-fungible reserves cannot be borrowed")
		}
	} else if cfg.AuctionEnabled {
		return bad("auctions apply to non-fungible reserves only")
	}
	return nil
}

func (e *Engine) checkStrategies(class AssetClass, cfg ReserveConfiguration, rateStrategy, auctionStrategy string) error {
	if class == AssetClassFungible {
		if _, ok := e.rateStrategies[rateStrategy]; !ok {
			return fmt.Errorf("%w: interest rate strategy %q", ErrStrategyNotRegistered, rateStrategy)
		}
	}
	if cfg.AuctionEnabled {
		if _, ok := e.auctionStrategies[auctionStrategy]; !ok {
			return fmt.Errorf("%w: auction strategy %q", ErrStrategyNotRegistered, auctionStrategy)
		}
	}
	return nil
}

// InitReserve lists an asset and assigns it the next reserve slot.
func (e *Engine) InitReserve(p InitReserveParams) error {
	return e.run("init_reserve", func(x *execution) error {
		if p.Class != AssetClassFungible && p.Class != AssetClassNonFungible {
			return ErrInvalidAssetClass
		}
		if !p.Ledgers.validFor(p.Class) {
			return fmt.Errorf("%w: ledgers do not match %s reserve", ErrInvalidAssetClass, p.Class)
		}
		if err := validateConfiguration(p.Class, p.Configuration); err != nil {
			return err
		}
		if err := e.checkStrategies(p.Class, p.Configuration, p.InterestRateStrategy, p.AuctionStrategy); err != nil {
			return err
		}
		existing, err := e.store.GetReserve(p.Asset)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", ErrReserveAlreadyListed, p.Asset.Hex())
		}
		list, err := x.reservesList()
		if err != nil {
			return err
		}
		if len(list) >= userconfig.MaxReserves {
			return ErrTooManyReserves
		}
		r := &Reserve{
			Asset:                     p.Asset,
			Class:                     p.Class,
			ID:                        uint16(len(list)),
			LiquidityIndex:            new(big.Int).Set(fixedpoint.Ray),
			VariableBorrowIndex:       new(big.Int).Set(fixedpoint.Ray),
			CurrentLiquidityRate:      big.NewInt(0),
			CurrentVariableBorrowRate: big.NewInt(0),
			LastUpdateTimestamp:       x.now,
			AccruedToTreasury:         big.NewInt(0),
			Configuration:             p.Configuration,
			Vault:                     p.Vault,
			InterestRateStrategy:      p.InterestRateStrategy,
			AuctionStrategy:           p.AuctionStrategy,
		}
		x.list = append(list, p.Asset)
		x.listChanged = true
		c := newReserveCache(r, p.Ledgers, nil)
		c.dirty = true
		x.reserves[p.Asset] = c
		x.order = append(x.order, p.Asset)
		x.emit(&events.LendingReserveInitialized{Asset: p.Asset, ID: r.ID, NonFungible: r.IsNonFungible()})
		x.onCommit(func() {
			e.ledgers[p.Asset] = p.Ledgers
			e.logger.Info("reserve listed", "asset", p.Asset.Hex(), "id", r.ID, "class", p.Class.String())
		})
		return nil
	})
}

// SetReserveConfiguration replaces the risk parameters of a reserve. Indices
// are brought up to date first so accrual up to now uses the old settings.
func (e *Engine) SetReserveConfiguration(asset common.Address, cfg ReserveConfiguration) error {
	return e.run("set_reserve_configuration", func(x *execution) error {
		c, err := x.touch(asset)
		if err != nil {
			return err
		}
		r := c.reserve
		if err := validateConfiguration(r.Class, cfg); err != nil {
			return err
		}
		if err := e.checkStrategies(r.Class, cfg, r.InterestRateStrategy, r.AuctionStrategy); err != nil {
			return err
		}
		if cfg.Decimals != r.Configuration.Decimals {
			return fmt.Errorf("%w: decimals are fixed at listing", ErrInvalidReserveParams)
		}
		r.Configuration = cfg
		c.dirty = true
		if !r.IsNonFungible() {
			if err := x.updateRates(c, nil, nil); err != nil {
				return err
			}
		}
		x.emit(&events.LendingReserveConfigured{Asset: asset})
		return nil
	})
}

// SetInterestRateStrategy points a fungible reserve at another registered
// rate strategy and recomputes its rates.
func (e *Engine) SetInterestRateStrategy(asset common.Address, name string) error {
	return e.run("set_interest_rate_strategy", func(x *execution) error {
		c, err := x.touch(asset)
		if err != nil {
			return err
		}
		if c.reserve.IsNonFungible() {
			return ErrInvalidAssetClass
		}
		if err := e.checkStrategies(AssetClassFungible, ReserveConfiguration{}, name, ""); err != nil {
			return err
		}
		c.reserve.InterestRateStrategy = name
		c.dirty = true
		if err := x.updateRates(c, nil, nil); err != nil {
			return err
		}
		x.emit(&events.LendingReserveConfigured{Asset: asset})
		return nil
	})
}

// SetAuctionStrategy points a non-fungible reserve at another registered
// auction strategy. Running auctions keep the strategy they started with.
func (e *Engine) SetAuctionStrategy(asset common.Address, name string) error {
	return e.run("set_auction_strategy", func(x *execution) error {
		c, err := x.reserve(asset)
		if err != nil {
			return err
		}
		if !c.reserve.IsNonFungible() {
			return ErrInvalidAssetClass
		}
		if _, ok := e.auctionStrategies[name]; !ok {
			return fmt.Errorf("%w: auction strategy %q", ErrStrategyNotRegistered, name)
		}
		c.reserve.AuctionStrategy = name
		c.dirty = true
		x.emit(&events.LendingReserveConfigured{Asset: asset})
		return nil
	})
}

// GetReserve returns a copy of the stored reserve.
func (e *Engine) GetReserve(asset common.Address) (*Reserve, error) {
	var out *Reserve
	err := e.view(func(x *execution) error {
		c, err := x.reserve(asset)
		if err != nil {
			return err
		}
		out = c.reserve.Clone()
		return nil
	})
	return out, err
}

// GetReservesList returns listed assets ordered by reserve id.
func (e *Engine) GetReservesList() ([]common.Address, error) {
	var out []common.Address
	err := e.view(func(x *execution) error {
		list, err := x.reservesList()
		out = append([]common.Address(nil), list...)
		return err
	})
	return out, err
}

// GetUserConfiguration returns the user's collateral/borrowing bitmap.
func (e *Engine) GetUserConfiguration(user common.Address) (userconfig.Map, error) {
	var out userconfig.Map
	err := e.view(func(x *execution) error {
		cfg, err := x.userConfig(user)
		if err != nil {
			return err
		}
		out = cfg.Clone()
		return nil
	})
	return out, err
}

// GetUserAccountData aggregates the user's position at the current time.
func (e *Engine) GetUserAccountData(user common.Address) (*AccountData, error) {
	var out *AccountData
	err := e.view(func(x *execution) error {
		data, err := x.accountData(user)
		out = data
		return err
	})
	return out, err
}

// GetUserReserveData returns the user's balances in one reserve.
func (e *Engine) GetUserReserveData(asset, user common.Address) (*UserReserveData, error) {
	var out *UserReserveData
	err := e.view(func(x *execution) error {
		c, err := x.reserve(asset)
		if err != nil {
			return err
		}
		cfg, err := x.userConfig(user)
		if err != nil {
			return err
		}
		data := &UserReserveData{
			Asset:              asset,
			CollateralBalance:  big.NewInt(0),
			VariableDebt:       big.NewInt(0),
			ScaledCollateral:   big.NewInt(0),
			ScaledVariableDebt: big.NewInt(0),
			UsageAsCollateral:  cfg.IsUsingAsCollateral(c.reserve.ID),
		}
		if c.reserve.IsNonFungible() {
			data.TokenIDs = c.ledgers.NToken.CollateralizedTokens(user)
			data.CollateralBalance.SetUint64(c.ledgers.NToken.BalanceOf(user))
		} else {
			data.ScaledCollateral = zeroIfNil(c.ledgers.PToken.ScaledBalanceOf(user))
			data.ScaledVariableDebt = zeroIfNil(c.ledgers.DebtToken.ScaledBalanceOf(user))
			data.CollateralBalance = x.userCollateralBalance(c, user)
			data.VariableDebt = x.userDebt(c, user)
		}
		out = data
		return nil
	})
	return out, err
}

// GetNormalizedIncome returns the reserve's liquidity index projected to now.
func (e *Engine) GetNormalizedIncome(asset common.Address) (*big.Int, error) {
	var out *big.Int
	err := e.view(func(x *execution) error {
		c, err := x.reserve(asset)
		if err != nil {
			return err
		}
		out = normalizedIncome(c.reserve, x.now)
		return nil
	})
	return out, err
}

// GetNormalizedVariableDebt returns the reserve's borrow index projected to now.
func (e *Engine) GetNormalizedVariableDebt(asset common.Address) (*big.Int, error) {
	var out *big.Int
	err := e.view(func(x *execution) error {
		c, err := x.reserve(asset)
		if err != nil {
			return err
		}
		out = normalizedDebt(c.reserve, x.now)
		return nil
	})
	return out, err
}
