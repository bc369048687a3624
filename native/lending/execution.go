package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/core/events"
	"lendledger/native/lending/userconfig"
)

// execution stages the reads and writes of one engine action. Nothing reaches
// the store or the emitter until commit.
type execution struct {
	engine *Engine
	now    uint64

	list        []common.Address
	listLoaded  bool
	listChanged bool

	reserves map[common.Address]*reserveCache
	order    []common.Address

	users      map[common.Address]*userconfig.Map
	usersDirty map[common.Address]bool

	auctions       map[AuctionKey]*Auction
	auctionLoaded  map[AuctionKey]bool
	auctionWrites  map[AuctionKey]*Auction
	auctionDeletes map[AuctionKey]*Auction

	events      []events.Event
	afterCommit []func()
}

func (e *Engine) begin() *execution {
	return &execution{
		engine:         e,
		now:            e.now(),
		reserves:       make(map[common.Address]*reserveCache),
		users:          make(map[common.Address]*userconfig.Map),
		usersDirty:     make(map[common.Address]bool),
		auctions:       make(map[AuctionKey]*Auction),
		auctionLoaded:  make(map[AuctionKey]bool),
		auctionWrites:  make(map[AuctionKey]*Auction),
		auctionDeletes: make(map[AuctionKey]*Auction),
	}
}

func (x *execution) emit(evt events.Event) {
	if evt != nil {
		x.events = append(x.events, evt)
	}
}

func (x *execution) onCommit(fn func()) {
	x.afterCommit = append(x.afterCommit, fn)
}

func (x *execution) reservesList() ([]common.Address, error) {
	if !x.listLoaded {
		list, err := x.engine.store.ReservesList()
		if err != nil {
			return nil, err
		}
		x.list = list
		x.listLoaded = true
	}
	return x.list, nil
}

// reserve loads the working copy of a listed reserve without touching its
// indices.
func (x *execution) reserve(asset common.Address) (*reserveCache, error) {
	if c, ok := x.reserves[asset]; ok {
		return c, nil
	}
	r, err := x.engine.store.GetReserve(asset)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrReserveNotListed, asset.Hex())
	}
	ledgers, ok := x.engine.ledgers[asset]
	if !ok || !ledgers.validFor(r.Class) {
		return nil, fmt.Errorf("%w: no ledgers attached to %s", ErrReserveNotListed, asset.Hex())
	}
	var vault *big.Int
	if !r.IsNonFungible() && x.engine.custody != nil {
		vault = x.engine.custody.BalanceOf(asset, r.Vault)
	}
	c := newReserveCache(r, ledgers, vault)
	x.reserves[asset] = c
	x.order = append(x.order, asset)
	return c, nil
}

// touch loads the reserve and brings its indices up to date.
func (x *execution) touch(asset common.Address) (*reserveCache, error) {
	c, err := x.reserve(asset)
	if err != nil {
		return nil, err
	}
	c.updateState(x.now)
	return c, nil
}

func (x *execution) reserveByID(id uint16) (*reserveCache, error) {
	list, err := x.reservesList()
	if err != nil {
		return nil, err
	}
	if int(id) >= len(list) {
		return nil, fmt.Errorf("%w: slot %d", ErrReserveNotListed, id)
	}
	return x.reserve(list[id])
}

func (x *execution) updateRates(c *reserveCache, added, taken *big.Int) error {
	strategy, ok := x.engine.rateStrategies[c.reserve.InterestRateStrategy]
	if !ok {
		return fmt.Errorf("%w: interest rate strategy %q", ErrStrategyNotRegistered, c.reserve.InterestRateStrategy)
	}
	x.emit(c.updateInterestRates(strategy, added, taken))
	return nil
}

func (x *execution) userConfig(user common.Address) (*userconfig.Map, error) {
	if cfg, ok := x.users[user]; ok {
		return cfg, nil
	}
	cfg, err := x.engine.store.GetUserConfig(user)
	if err != nil {
		return nil, err
	}
	x.users[user] = &cfg
	return &cfg, nil
}

func (x *execution) setCollateral(user common.Address, r *Reserve, enabled bool) error {
	cfg, err := x.userConfig(user)
	if err != nil {
		return err
	}
	if cfg.IsUsingAsCollateral(r.ID) == enabled {
		return nil
	}
	if err := cfg.SetUsingAsCollateral(r.ID, enabled); err != nil {
		return err
	}
	x.usersDirty[user] = true
	x.emit(&events.LendingCollateralToggled{Reserve: r.Asset, User: user, Enabled: enabled})
	return nil
}

func (x *execution) setBorrowing(user common.Address, r *Reserve, borrowing bool) error {
	cfg, err := x.userConfig(user)
	if err != nil {
		return err
	}
	if cfg.IsBorrowing(r.ID) == borrowing {
		return nil
	}
	if err := cfg.SetBorrowing(r.ID, borrowing); err != nil {
		return err
	}
	x.usersDirty[user] = true
	return nil
}

// releaseCollateral clears the collateral bit once the user holds no scaled
// receipt units of the reserve. A burn can empty the ledger even when the
// amount is below the reported balance.
func (x *execution) releaseCollateral(user common.Address, c *reserveCache) error {
	if zeroIfNil(c.ledgers.PToken.ScaledBalanceOf(user)).Sign() != 0 {
		return nil
	}
	return x.setCollateral(user, c.reserve, false)
}

// releaseBorrowing clears the borrowing bit once no scaled debt is left.
func (x *execution) releaseBorrowing(user common.Address, c *reserveCache) error {
	if zeroIfNil(c.ledgers.DebtToken.ScaledBalanceOf(user)).Sign() != 0 {
		return nil
	}
	return x.setBorrowing(user, c.reserve, false)
}

func (x *execution) auction(asset common.Address, tokenID *big.Int) (*Auction, error) {
	key := auctionKeyOf(asset, tokenID)
	if x.auctionLoaded[key] {
		return x.auctions[key], nil
	}
	a, err := x.engine.store.GetAuction(asset, tokenID)
	if err != nil {
		return nil, err
	}
	x.auctions[key] = a
	x.auctionLoaded[key] = true
	return a, nil
}

func (x *execution) putAuction(a *Auction) {
	key := auctionKeyOf(a.Asset, a.TokenID)
	x.auctions[key] = a
	x.auctionLoaded[key] = true
	x.auctionWrites[key] = a
	delete(x.auctionDeletes, key)
}

func (x *execution) deleteAuction(a *Auction, reason string) {
	key := auctionKeyOf(a.Asset, a.TokenID)
	x.auctions[key] = nil
	x.auctionLoaded[key] = true
	delete(x.auctionWrites, key)
	x.auctionDeletes[key] = a
	x.emit(&events.LendingAuctionEnded{Asset: a.Asset, TokenID: cloneBig(a.TokenID), User: a.Owner, Reason: reason})
}

func (x *execution) changeset() *Changeset {
	cs := &Changeset{}
	for _, asset := range x.order {
		if c := x.reserves[asset]; c.dirty {
			cs.Reserves = append(cs.Reserves, c.reserve.Clone())
		}
	}
	if x.listChanged {
		cs.ListChanged = true
		cs.ReservesList = append([]common.Address(nil), x.list...)
	}
	if len(x.usersDirty) > 0 {
		cs.UserConfigs = make(map[common.Address]userconfig.Map, len(x.usersDirty))
		for user := range x.usersDirty {
			cs.UserConfigs[user] = x.users[user].Clone()
		}
	}
	for _, a := range x.auctionWrites {
		cs.Auctions = append(cs.Auctions, a.Clone())
	}
	for _, a := range x.auctionDeletes {
		cs.DeletedAuctions = append(cs.DeletedAuctions, a.Clone())
	}
	return cs
}

// commit writes the staged changes and then publishes the buffered events.
// Store writes join the engine's write stage when one is installed, so the
// whole action lands in one batch.
func (x *execution) commit() error {
	tx := x.engine.tx
	if err := x.engine.store.Commit(x.changeset()); err != nil {
		if tx != nil {
			tx.Rollback()
		}
		return fmt.Errorf("lending engine: commit: %w", err)
	}
	if tx != nil {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("lending engine: commit ledgers: %w", err)
		}
	}
	for _, fn := range x.afterCommit {
		fn()
	}
	for _, evt := range x.events {
		x.engine.emitter.Emit(evt)
	}
	return nil
}
