package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendledger/core/events"
)

func nftValue(price *big.Int, count int) *big.Int {
	return new(big.Int).Mul(price, big.NewInt(int64(count)))
}

// ownedToken checks that user holds tokenID in the reserve and that the token
// is not being auctioned.
func (x *execution) ownedToken(c *reserveCache, user common.Address, tokenID *big.Int) error {
	if tokenID == nil {
		return ErrInvalidAmount
	}
	owner, ok := c.ledgers.NToken.OwnerOf(tokenID)
	if !ok || owner != user {
		return fmt.Errorf("%w: token %s", ErrNotTokenOwner, tokenID)
	}
	a, err := x.auction(c.reserve.Asset, tokenID)
	if err != nil {
		return err
	}
	if a != nil {
		return fmt.Errorf("%w: token %s", ErrTokenInAuction, tokenID)
	}
	return nil
}

// SupplyERC721 moves tokens owned by User into the reserve vault and records
// them for OnBehalfOf.
func (e *Engine) SupplyERC721(p SupplyERC721Params) error {
	return e.run("supply_erc721", func(x *execution) error {
		onBehalfOf := orDefault(p.OnBehalfOf, p.User)
		c, err := x.touchClass(p.Asset, AssetClassNonFungible)
		if err != nil {
			return err
		}
		if err := validateSupplyERC721(c, p.Tokens); err != nil {
			return err
		}
		r := c.reserve
		ids := make([]*big.Int, len(p.Tokens))
		for i, token := range p.Tokens {
			owner, ok := e.custody.OwnerOf(p.Asset, token.TokenID)
			if !ok || owner != p.User {
				return fmt.Errorf("%w: token %s", ErrNotTokenOwner, token.TokenID)
			}
			ids[i] = cloneBig(token.TokenID)
		}
		for _, id := range ids {
			if err := e.custody.TransferNFT(p.Asset, p.User, r.Vault, id); err != nil {
				return err
			}
		}
		first, err := c.ledgers.NToken.Mint(onBehalfOf, p.Tokens)
		if err != nil {
			return err
		}
		if first {
			if err := x.setCollateral(onBehalfOf, r, true); err != nil {
				return err
			}
		}
		x.emit(&events.LendingSupplyERC721{Reserve: p.Asset, User: p.User, OnBehalfOf: onBehalfOf, TokenIDs: ids})
		return x.settleStaleAuctions(onBehalfOf)
	})
}

// WithdrawERC721 burns supplied tokens and returns the underlying to To.
// Tokens under auction cannot be withdrawn.
func (e *Engine) WithdrawERC721(p WithdrawERC721Params) error {
	return e.run("withdraw_erc721", func(x *execution) error {
		to := orDefault(p.To, p.User)
		c, err := x.touchClass(p.Asset, AssetClassNonFungible)
		if err != nil {
			return err
		}
		if err := validateWithdrawERC721(c, p.TokenIDs); err != nil {
			return err
		}
		r := c.reserve
		collateral := 0
		seen := make(map[string]struct{}, len(p.TokenIDs))
		for _, id := range p.TokenIDs {
			if err := x.ownedToken(c, p.User, id); err != nil {
				return err
			}
			if _, dup := seen[id.String()]; dup {
				return fmt.Errorf("%w: duplicate token id %s", ErrInvalidAmount, id)
			}
			seen[id.String()] = struct{}{}
			if c.ledgers.NToken.IsUsedAsCollateral(id) {
				collateral++
			}
		}
		if collateral > 0 {
			if err := x.collateralDecreaseAllowed(c, p.User, func(price *big.Int) *big.Int {
				return nftValue(price, collateral)
			}); err != nil {
				return err
			}
		}
		last, err := c.ledgers.NToken.Burn(p.User, to, p.TokenIDs)
		if err != nil {
			return err
		}
		if last {
			if err := x.setCollateral(p.User, r, false); err != nil {
				return err
			}
		}
		ids := make([]*big.Int, len(p.TokenIDs))
		for i, id := range p.TokenIDs {
			ids[i] = cloneBig(id)
		}
		x.emit(&events.LendingWithdrawERC721{Reserve: p.Asset, User: p.User, To: to, TokenIDs: ids})
		return nil
	})
}

// SetUserUseERC721AsCollateral flips the collateral flag of supplied tokens.
// Tokens already in the requested state are ignored.
func (e *Engine) SetUserUseERC721AsCollateral(p SetERC721CollateralParams) error {
	return e.run("set_collateral_erc721", func(x *execution) error {
		c, err := x.touchClass(p.Asset, AssetClassNonFungible)
		if err != nil {
			return err
		}
		if err := validateSetUseERC721AsCollateral(c, p.TokenIDs); err != nil {
			return err
		}
		r := c.reserve
		var changing []*big.Int
		seen := make(map[string]struct{}, len(p.TokenIDs))
		for _, id := range p.TokenIDs {
			if err := x.ownedToken(c, p.User, id); err != nil {
				return err
			}
			if _, dup := seen[id.String()]; dup {
				continue
			}
			seen[id.String()] = struct{}{}
			if c.ledgers.NToken.IsUsedAsCollateral(id) != p.UseAsCollateral {
				changing = append(changing, id)
			}
		}
		if len(changing) == 0 {
			return nil
		}
		if !p.UseAsCollateral {
			if err := x.collateralDecreaseAllowed(c, p.User, func(price *big.Int) *big.Int {
				return nftValue(price, len(changing))
			}); err != nil {
				return err
			}
		}
		before, after, err := c.ledgers.NToken.BatchSetIsUsedAsCollateral(changing, p.UseAsCollateral, p.User)
		if err != nil {
			return err
		}
		switch {
		case before == 0 && after > 0:
			if err := x.setCollateral(p.User, r, true); err != nil {
				return err
			}
		case before > 0 && after == 0:
			if err := x.setCollateral(p.User, r, false); err != nil {
				return err
			}
		}
		if p.UseAsCollateral {
			return x.settleStaleAuctions(p.User)
		}
		return nil
	})
}

// TransferERC721Collateral moves a supplied token to another account. The
// receiver gets the token with its collateral flag cleared.
func (e *Engine) TransferERC721Collateral(p TransferERC721Params) error {
	return e.run("transfer_erc721", func(x *execution) error {
		c, err := x.touchClass(p.Asset, AssetClassNonFungible)
		if err != nil {
			return err
		}
		if err := validateTransfer(c, AssetClassNonFungible); err != nil {
			return err
		}
		if p.From == p.To {
			return fmt.Errorf("%w: sender and recipient are equal", ErrInvalidAmount)
		}
		if err := x.ownedToken(c, p.From, p.TokenID); err != nil {
			return err
		}
		r := c.reserve
		wasCollateral := c.ledgers.NToken.IsUsedAsCollateral(p.TokenID)
		if wasCollateral {
			if err := x.collateralDecreaseAllowed(c, p.From, func(price *big.Int) *big.Int {
				return nftValue(price, 1)
			}); err != nil {
				return err
			}
		}
		if err := c.ledgers.NToken.Transfer(p.From, p.To, p.TokenID); err != nil {
			return err
		}
		if wasCollateral && c.ledgers.NToken.CollateralizedBalanceOf(p.From) == 0 {
			if err := x.setCollateral(p.From, r, false); err != nil {
				return err
			}
		}
		x.emit(&events.LendingBalanceTransfer{Reserve: p.Asset, From: p.From, To: p.To, Amount: big.NewInt(1), TokenID: cloneBig(p.TokenID)})
		return nil
	})
}
