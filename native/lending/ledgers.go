package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FungibleLedger is the interest-bearing receipt ledger of a fungible reserve.
type FungibleLedger interface {
	Mint(caller, onBehalfOf common.Address, amount, index *big.Int) (bool, error)
	Burn(caller, to common.Address, amount, index *big.Int) error
	ScaledBalanceOf(user common.Address) *big.Int
	BalanceOf(user common.Address, index *big.Int) *big.Int
	ScaledTotalSupply() *big.Int
	TransferOnLiquidation(from, to common.Address, amount, index *big.Int) error
	Transfer(from, to common.Address, amount, index *big.Int) error
	MintToTreasury(amount, index *big.Int) error
}

// DebtLedger tracks scaled variable debt.
type DebtLedger interface {
	Mint(user, onBehalfOf common.Address, amount, index *big.Int) (bool, *big.Int, error)
	Burn(from common.Address, amount, index *big.Int) (*big.Int, error)
	ScaledBalanceOf(user common.Address) *big.Int
	ScaledTotalSupply() *big.Int
}

// NonFungibleLedger tracks supplied tokens and their collateral flags.
type NonFungibleLedger interface {
	Mint(onBehalfOf common.Address, tokens []TokenData) (bool, error)
	Burn(caller, to common.Address, tokenIDs []*big.Int) (bool, error)
	BatchSetIsUsedAsCollateral(tokenIDs []*big.Int, useAsCollateral bool, owner common.Address) (uint64, uint64, error)
	OwnerOf(tokenID *big.Int) (common.Address, bool)
	IsUsedAsCollateral(tokenID *big.Int) bool
	CollateralizedTokens(user common.Address) []*big.Int
	CollateralizedBalanceOf(user common.Address) uint64
	BalanceOf(user common.Address) uint64
	TransferOnLiquidation(from, to common.Address, tokenID *big.Int) error
	Transfer(from, to common.Address, tokenID *big.Int) error
}

// PriceOracle returns asset prices in base currency with 8 decimals.
type PriceOracle interface {
	GetAssetPrice(asset common.Address) (*big.Int, error)
}

// Custody holds underlying assets, including reserve vaults.
type Custody interface {
	BalanceOf(asset, holder common.Address) *big.Int
	Transfer(asset, from, to common.Address, amount *big.Int) error
	OwnerOf(asset common.Address, tokenID *big.Int) (common.Address, bool)
	TransferNFT(asset, from, to common.Address, tokenID *big.Int) error
}

// Ledgers are the token ledgers bound to one reserve. Fungible reserves use
// PToken and DebtToken; non-fungible reserves use NToken.
type Ledgers struct {
	PToken    FungibleLedger
	DebtToken DebtLedger
	NToken    NonFungibleLedger
}

func (l Ledgers) validFor(class AssetClass) bool {
	switch class {
	case AssetClassFungible:
		return l.PToken != nil && l.DebtToken != nil
	case AssetClassNonFungible:
		return l.NToken != nil
	default:
		return false
	}
}
