package tokens

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"lendledger/storage"
)

// NToken is the collateral ledger of a non-fungible reserve. Each token id
// carries its own collateral flag. Underlying tokens sit in the reserve vault
// until burned.
type NToken struct {
	db      storage.Database
	prefix  []byte
	asset   common.Address
	vault   common.Address
	custody Custody
}

type ntokenRecord struct {
	Owner      common.Address
	Collateral bool
}

// NewNToken returns the collateral ledger of asset.
func NewNToken(db storage.Database, asset, vault common.Address, custody Custody) *NToken {
	prefix := append([]byte("tokens/ntoken/"), asset.Bytes()...)
	return &NToken{db: db, prefix: append(prefix, '/'), asset: asset, vault: vault, custody: custody}
}

func (n *NToken) recordKey(tokenID *big.Int) []byte {
	key := append(append([]byte(nil), n.prefix...), 'i')
	return append(key, common.BigToHash(tokenID).Bytes()...)
}

func (n *NToken) ownerPrefix(owner common.Address) []byte {
	key := append(append([]byte(nil), n.prefix...), 'o')
	return append(key, owner.Bytes()...)
}

func (n *NToken) ownerKey(owner common.Address, tokenID *big.Int) []byte {
	return append(n.ownerPrefix(owner), common.BigToHash(tokenID).Bytes()...)
}

func (n *NToken) record(tokenID *big.Int) (*ntokenRecord, bool, error) {
	raw, err := n.db.Get(n.recordKey(tokenID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec ntokenRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// owns loads a record and requires it to belong to owner.
func (n *NToken) owns(tokenID *big.Int, owner common.Address) (*ntokenRecord, error) {
	rec, ok, err := n.record(tokenID)
	if err != nil {
		return nil, err
	}
	if !ok || rec.Owner != owner {
		return nil, ErrNotOwner
	}
	return rec, nil
}

func (n *NToken) put(batch *storage.Batch, tokenID *big.Int, rec ntokenRecord) error {
	raw, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return err
	}
	batch.Put(n.recordKey(tokenID), raw)
	flag := []byte{0}
	if rec.Collateral {
		flag[0] = 1
	}
	batch.Put(n.ownerKey(rec.Owner, tokenID), flag)
	return nil
}

func (n *NToken) remove(batch *storage.Batch, tokenID *big.Int, owner common.Address) {
	batch.Delete(n.recordKey(tokenID))
	batch.Delete(n.ownerKey(owner, tokenID))
}

// Mint records tokens as owned by onBehalfOf. It reports whether the account
// went from zero to a positive collateralized balance.
func (n *NToken) Mint(onBehalfOf common.Address, tokens []TokenData) (bool, error) {
	before, err := n.collateralCount(onBehalfOf)
	if err != nil {
		return false, err
	}
	var added uint64
	batch := storage.NewBatch()
	for _, token := range tokens {
		_, exists, err := n.record(token.TokenID)
		if err != nil {
			return false, err
		}
		if exists {
			return false, ErrTokenExists
		}
		if err := n.put(batch, token.TokenID, ntokenRecord{Owner: onBehalfOf, Collateral: token.UseAsCollateral}); err != nil {
			return false, err
		}
		if token.UseAsCollateral {
			added++
		}
	}
	if err := n.db.Write(batch); err != nil {
		return false, err
	}
	return before == 0 && added > 0, nil
}

// Burn removes the caller's tokens and releases the underlying to the
// recipient. It reports whether the caller's collateralized balance dropped
// to zero.
func (n *NToken) Burn(caller, to common.Address, tokenIDs []*big.Int) (bool, error) {
	before, err := n.collateralCount(caller)
	if err != nil {
		return false, err
	}
	var removed uint64
	batch := storage.NewBatch()
	for _, id := range tokenIDs {
		rec, err := n.owns(id, caller)
		if err != nil {
			return false, err
		}
		if rec.Collateral {
			removed++
		}
		n.remove(batch, id, caller)
	}
	if err := n.db.Write(batch); err != nil {
		return false, err
	}
	for _, id := range tokenIDs {
		if err := n.custody.TransferNFT(n.asset, n.vault, to, id); err != nil {
			return false, err
		}
	}
	return before > 0 && before == removed, nil
}

// BatchSetIsUsedAsCollateral flips the collateral flag of owned tokens and
// returns the collateralized balance before and after.
func (n *NToken) BatchSetIsUsedAsCollateral(tokenIDs []*big.Int, useAsCollateral bool, owner common.Address) (uint64, uint64, error) {
	before, err := n.collateralCount(owner)
	if err != nil {
		return 0, 0, err
	}
	after := before
	batch := storage.NewBatch()
	for _, id := range tokenIDs {
		rec, err := n.owns(id, owner)
		if err != nil {
			return 0, 0, err
		}
		if rec.Collateral == useAsCollateral {
			continue
		}
		rec.Collateral = useAsCollateral
		if err := n.put(batch, id, *rec); err != nil {
			return 0, 0, err
		}
		if useAsCollateral {
			after++
		} else {
			after--
		}
	}
	if err := n.db.Write(batch); err != nil {
		return 0, 0, err
	}
	return before, after, nil
}

// OwnerOf returns the owner of a supplied token id. Unreadable records
// report as absent.
func (n *NToken) OwnerOf(tokenID *big.Int) (common.Address, bool) {
	rec, ok, err := n.record(tokenID)
	if err != nil || !ok {
		return common.Address{}, false
	}
	return rec.Owner, true
}

// IsUsedAsCollateral reports the collateral flag of a supplied token id.
func (n *NToken) IsUsedAsCollateral(tokenID *big.Int) bool {
	rec, ok, err := n.record(tokenID)
	return err == nil && ok && rec.Collateral
}

func (n *NToken) owned(user common.Address, collateralOnly bool) ([]*big.Int, error) {
	prefix := n.ownerPrefix(user)
	var ids []*big.Int
	err := n.db.Iterate(prefix, func(key, value []byte) error {
		if collateralOnly && (len(value) == 0 || value[0] == 0) {
			return nil
		}
		ids = append(ids, new(big.Int).SetBytes(key[len(prefix):]))
		return nil
	})
	return ids, err
}

func (n *NToken) collateralCount(user common.Address) (uint64, error) {
	ids, err := n.owned(user, true)
	return uint64(len(ids)), err
}

// CollateralizedTokens lists the user's tokens flagged as collateral in
// ascending id order.
func (n *NToken) CollateralizedTokens(user common.Address) []*big.Int {
	ids, _ := n.owned(user, true)
	return ids
}

// CollateralizedBalanceOf counts the user's collateral tokens.
func (n *NToken) CollateralizedBalanceOf(user common.Address) uint64 {
	count, _ := n.collateralCount(user)
	return count
}

// BalanceOf counts every token the user has supplied.
func (n *NToken) BalanceOf(user common.Address) uint64 {
	ids, _ := n.owned(user, false)
	return uint64(len(ids))
}

// Transfer moves a supplied token to another account. The receiver starts
// with the collateral flag cleared.
func (n *NToken) Transfer(from, to common.Address, tokenID *big.Int) error {
	if _, err := n.owns(tokenID, from); err != nil {
		return err
	}
	batch := storage.NewBatch()
	n.remove(batch, tokenID, from)
	if err := n.put(batch, tokenID, ntokenRecord{Owner: to}); err != nil {
		return err
	}
	return n.db.Write(batch)
}

// TransferOnLiquidation hands a seized token to the liquidator.
func (n *NToken) TransferOnLiquidation(from, to common.Address, tokenID *big.Int) error {
	return n.Transfer(from, to, tokenID)
}
