package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/core/events"
	"lendledger/native/lending/fixedpoint"
)

// MintToTreasury converts the accrued treasury income of each reserve into
// receipts held by the treasury.
func (e *Engine) MintToTreasury(assets []common.Address) error {
	return e.run("mint_to_treasury", func(x *execution) error {
		caches := make([]*reserveCache, 0, len(assets))
		for _, asset := range assets {
			c, err := x.touchClass(asset, AssetClassFungible)
			if err != nil {
				return err
			}
			caches = append(caches, c)
		}
		for _, c := range caches {
			r := c.reserve
			accrued := zeroIfNil(r.AccruedToTreasury)
			if accrued.Sign() == 0 {
				continue
			}
			amount := fixedpoint.RayMul(accrued, r.LiquidityIndex)
			if err := c.ledgers.PToken.MintToTreasury(amount, r.LiquidityIndex); err != nil {
				return err
			}
			r.AccruedToTreasury = big.NewInt(0)
			c.dirty = true
			x.emit(&events.LendingMintedToTreasury{Reserve: r.Asset, Amount: amount})
		}
		return nil
	})
}
