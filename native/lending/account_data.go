package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/native/lending/fixedpoint"
)

// collateralTotals accumulates value-weighted collateral sums in base currency.
type collateralTotals struct {
	collateral *big.Int
	ltvSum     *big.Int
	thresholds *big.Int

	erc20           *big.Int
	erc20Thresholds *big.Int

	erc721           *big.Int
	erc721Thresholds *big.Int
}

func newCollateralTotals() *collateralTotals {
	return &collateralTotals{
		collateral:       new(big.Int),
		ltvSum:           new(big.Int),
		thresholds:       new(big.Int),
		erc20:            new(big.Int),
		erc20Thresholds:  new(big.Int),
		erc721:           new(big.Int),
		erc721Thresholds: new(big.Int),
	}
}

func (t *collateralTotals) add(value *big.Int, cfg ReserveConfiguration, nonFungible bool) {
	if value.Sign() == 0 {
		return
	}
	ltv := new(big.Int).Mul(value, new(big.Int).SetUint64(cfg.LTV))
	lt := new(big.Int).Mul(value, new(big.Int).SetUint64(cfg.LiquidationThreshold))
	t.collateral.Add(t.collateral, value)
	t.ltvSum.Add(t.ltvSum, ltv)
	t.thresholds.Add(t.thresholds, lt)
	if nonFungible {
		t.erc721.Add(t.erc721, value)
		t.erc721Thresholds.Add(t.erc721Thresholds, lt)
		return
	}
	t.erc20.Add(t.erc20, value)
	t.erc20Thresholds.Add(t.erc20Thresholds, lt)
}

func (t *collateralTotals) merge(other *collateralTotals) *collateralTotals {
	out := newCollateralTotals()
	for _, pair := range [][3]*big.Int{
		{out.collateral, t.collateral, other.collateral},
		{out.ltvSum, t.ltvSum, other.ltvSum},
		{out.thresholds, t.thresholds, other.thresholds},
		{out.erc20, t.erc20, other.erc20},
		{out.erc20Thresholds, t.erc20Thresholds, other.erc20Thresholds},
		{out.erc721, t.erc721, other.erc721},
		{out.erc721Thresholds, t.erc721Thresholds, other.erc721Thresholds},
	} {
		pair[0].Add(pair[1], pair[2])
	}
	return out
}

func average(weighted, total *big.Int) uint64 {
	if total.Sign() == 0 {
		return 0
	}
	return new(big.Int).Quo(weighted, total).Uint64()
}

func healthFactor(collateral *big.Int, avgThreshold uint64, debt *big.Int) *big.Int {
	if debt.Sign() == 0 {
		return new(big.Int).Set(fixedpoint.MaxUint256)
	}
	return fixedpoint.RayDiv(fixedpoint.PercentMul(collateral, avgThreshold), debt)
}

// erc721HealthFactor compares threshold-weighted NFT collateral with the
// debt not already covered by threshold-weighted fungible collateral.
func erc721HealthFactor(t *collateralTotals, debt *big.Int) *big.Int {
	payable := fixedpoint.PercentMul(t.erc20, average(t.erc20Thresholds, t.erc20))
	if debt.Sign() == 0 || payable.Cmp(debt) >= 0 {
		return new(big.Int).Set(fixedpoint.MaxUint256)
	}
	uncovered := new(big.Int).Sub(debt, payable)
	weighted := fixedpoint.PercentMul(t.erc721, average(t.erc721Thresholds, t.erc721))
	return fixedpoint.RayDiv(weighted, uncovered)
}

func (x *execution) price(asset common.Address) (*big.Int, error) {
	if x.engine.oracle == nil {
		return nil, fmt.Errorf("%w: no oracle configured", ErrPriceUnavailable)
	}
	p, err := x.engine.oracle.GetAssetPrice(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if p == nil || p.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset.Hex())
	}
	return p, nil
}

// collateralTokens splits the user's collateral tokens of a non-fungible
// reserve into live and auctioned ids.
func (x *execution) collateralTokens(c *reserveCache, user common.Address) (live, auctioned []*big.Int, err error) {
	for _, id := range c.ledgers.NToken.CollateralizedTokens(user) {
		a, err := x.auction(c.reserve.Asset, id)
		if err != nil {
			return nil, nil, err
		}
		if a != nil {
			auctioned = append(auctioned, id)
			continue
		}
		live = append(live, id)
	}
	return live, auctioned, nil
}

// userCollateralBalance returns the user's fungible collateral at the current index.
func (x *execution) userCollateralBalance(c *reserveCache, user common.Address) *big.Int {
	return fixedpoint.RayMul(zeroIfNil(c.ledgers.PToken.ScaledBalanceOf(user)), normalizedIncome(c.reserve, x.now))
}

// userDebt returns the user's variable debt at the current index.
func (x *execution) userDebt(c *reserveCache, user common.Address) *big.Int {
	if c.ledgers.DebtToken == nil {
		return big.NewInt(0)
	}
	return fixedpoint.RayMul(zeroIfNil(c.ledgers.DebtToken.ScaledBalanceOf(user)), normalizedDebt(c.reserve, x.now))
}

// accountData aggregates the user's position over every reserve flagged in
// the configuration bitmap. Tokens under auction are excluded from live
// collateral unless counting them lifts the health factor to the recovery
// threshold, in which case the auctions are stale and everything counts.
func (x *execution) accountData(user common.Address) (*AccountData, error) {
	cfg, err := x.userConfig(user)
	if err != nil {
		return nil, err
	}
	live := newCollateralTotals()
	auctioned := newCollateralTotals()
	debt := new(big.Int)
	hasZeroLtv := false

	for _, id := range cfg.Slots() {
		c, err := x.reserveByID(id)
		if err != nil {
			return nil, err
		}
		r := c.reserve
		countsAsCollateral := cfg.IsUsingAsCollateral(id) && r.Configuration.LiquidationThreshold != 0
		if !countsAsCollateral && !cfg.IsBorrowing(id) {
			continue
		}
		price, err := x.price(r.Asset)
		if err != nil {
			return nil, err
		}
		if countsAsCollateral {
			if r.IsNonFungible() {
				liveIDs, auctionedIDs, err := x.collateralTokens(c, user)
				if err != nil {
					return nil, err
				}
				liveValue := new(big.Int).Mul(price, big.NewInt(int64(len(liveIDs))))
				live.add(liveValue, r.Configuration, true)
				auctioned.add(new(big.Int).Mul(price, big.NewInt(int64(len(auctionedIDs)))), r.Configuration, true)
				if r.Configuration.LTV == 0 && liveValue.Sign() > 0 {
					hasZeroLtv = true
				}
			} else {
				value := toBase(x.userCollateralBalance(c, user), price, r.Configuration.Decimals)
				live.add(value, r.Configuration, false)
				if r.Configuration.LTV == 0 && value.Sign() > 0 {
					hasZeroLtv = true
				}
			}
		}
		if cfg.IsBorrowing(id) {
			debt.Add(debt, toBase(x.userDebt(c, user), price, r.Configuration.Decimals))
		}
	}

	totals := live
	inclusive := live.merge(auctioned)
	recoveryHF := healthFactor(inclusive.collateral, average(inclusive.thresholds, inclusive.collateral), debt)
	stale := false
	if auctioned.collateral.Sign() > 0 && recoveryHF.Cmp(x.engine.params.RecoveryHealthFactor) >= 0 {
		stale = true
		totals = inclusive
	}

	data := &AccountData{
		TotalCollateralBase:           new(big.Int).Set(totals.collateral),
		TotalDebtBase:                 debt,
		AvgLTV:                        average(totals.ltvSum, totals.collateral),
		AvgLiquidationThreshold:       average(totals.thresholds, totals.collateral),
		ERC721CollateralBase:          new(big.Int).Set(totals.erc721),
		AvgERC721LiquidationThreshold: average(totals.erc721Thresholds, totals.erc721),
		AuctionedCollateralBase:       big.NewInt(0),
		RecoveryHealthFactor:          recoveryHF,
		StaleAuctions:                 stale,
		HasZeroLtvCollateral:          hasZeroLtv,
	}
	if !stale {
		data.AuctionedCollateralBase = new(big.Int).Set(auctioned.collateral)
	}
	data.HealthFactor = healthFactor(data.TotalCollateralBase, data.AvgLiquidationThreshold, debt)
	data.ERC721HealthFactor = erc721HealthFactor(totals, debt)
	data.AvailableBorrowsBase = big.NewInt(0)
	if borrowable := fixedpoint.PercentMul(data.TotalCollateralBase, data.AvgLTV); borrowable.Cmp(debt) > 0 {
		data.AvailableBorrowsBase = borrowable.Sub(borrowable, debt)
	}
	return data, nil
}

// settleStaleAuctions removes the user's auctions once the position has
// recovered above the recovery threshold.
func (x *execution) settleStaleAuctions(user common.Address) error {
	cfg, err := x.userConfig(user)
	if err != nil {
		return err
	}
	var pending []*Auction
	for _, id := range cfg.Slots() {
		if !cfg.IsUsingAsCollateral(id) {
			continue
		}
		c, err := x.reserveByID(id)
		if err != nil {
			return err
		}
		if !c.reserve.IsNonFungible() {
			continue
		}
		_, auctionedIDs, err := x.collateralTokens(c, user)
		if err != nil {
			return err
		}
		for _, tokenID := range auctionedIDs {
			a, err := x.auction(c.reserve.Asset, tokenID)
			if err != nil {
				return err
			}
			pending = append(pending, a)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	data, err := x.accountData(user)
	if err != nil {
		return err
	}
	if !data.StaleAuctions {
		return nil
	}
	for _, a := range pending {
		x.deleteAuction(a, "recovered")
	}
	return nil
}
