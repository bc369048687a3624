package tokens

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"lendledger/native/bank"
	"lendledger/native/lending/fixedpoint"
	"lendledger/storage"
)

var (
	dai      = common.HexToAddress("0xda1")
	punks    = common.HexToAddress("0xbabe")
	vault    = common.HexToAddress("0xfa017")
	treasury = common.HexToAddress("0x7ea5")
	alice    = common.HexToAddress("0xa11ce")
	bob      = common.HexToAddress("0xb0b")
)

func ray(numerator, denominator int64) *big.Int {
	v := new(big.Int).Mul(fixedpoint.Ray, big.NewInt(numerator))
	return v.Quo(v, big.NewInt(denominator))
}

func TestPTokenMintBurnAtIndex(t *testing.T) {
	db := storage.NewMemDB()
	custody := bank.New(db)
	require.NoError(t, custody.Mint(dai, vault, big.NewInt(1_000)))
	p := NewPToken(db, dai, vault, treasury, custody)
	index := ray(3, 2)

	first, err := p.Mint(alice, alice, big.NewInt(300), index)
	require.NoError(t, err)
	require.True(t, first)
	require.Zero(t, p.ScaledBalanceOf(alice).Cmp(big.NewInt(200)))
	require.Zero(t, p.BalanceOf(alice, index).Cmp(big.NewInt(300)))

	first, err = p.Mint(alice, alice, big.NewInt(3), index)
	require.NoError(t, err)
	require.False(t, first)

	require.ErrorIs(t, p.Burn(alice, alice, big.NewInt(1_000), index), ErrInsufficientBalance)

	full := p.BalanceOf(alice, index)
	require.NoError(t, p.Burn(alice, bob, full, index))
	require.Zero(t, p.ScaledBalanceOf(alice).Sign())
	require.Zero(t, p.ScaledTotalSupply().Sign())
	require.Zero(t, custody.BalanceOf(dai, bob).Cmp(full))
}

func TestPTokenTransferAndTreasury(t *testing.T) {
	db := storage.NewMemDB()
	p := NewPToken(db, dai, vault, treasury, bank.New(db))
	index := fixedpoint.Ray

	_, err := p.Mint(alice, alice, big.NewInt(100), index)
	require.NoError(t, err)
	require.NoError(t, p.Transfer(alice, bob, big.NewInt(40), index))
	require.Zero(t, p.ScaledBalanceOf(bob).Cmp(big.NewInt(40)))
	require.ErrorIs(t, p.TransferOnLiquidation(bob, alice, big.NewInt(41), index), ErrInsufficientBalance)

	require.NoError(t, p.MintToTreasury(big.NewInt(5), index))
	require.Zero(t, p.ScaledBalanceOf(treasury).Cmp(big.NewInt(5)))
	require.Zero(t, p.ScaledTotalSupply().Cmp(big.NewInt(105)))
}

func TestDebtTokenFullRepayClearsScaledBalance(t *testing.T) {
	d := NewDebtToken(storage.NewMemDB(), dai)
	index := ray(7, 5)

	first, total, err := d.Mint(alice, alice, big.NewInt(1_001), index)
	require.NoError(t, err)
	require.True(t, first)
	require.Zero(t, total.Cmp(d.ScaledBalanceOf(alice)))

	later := ray(8, 5)
	owed := d.BalanceOf(alice, later)
	_, err = d.Burn(alice, new(big.Int).Add(owed, big.NewInt(1)), later)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	total, err = d.Burn(alice, owed, later)
	require.NoError(t, err)
	require.Zero(t, total.Sign())
	require.Zero(t, d.ScaledBalanceOf(alice).Sign())
}

func TestNTokenCollateralFlags(t *testing.T) {
	db := storage.NewMemDB()
	custody := bank.New(db)
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, custody.MintNFT(punks, vault, big.NewInt(id)))
	}
	n := NewNToken(db, punks, vault, custody)

	first, err := n.Mint(alice, []TokenData{
		{TokenID: big.NewInt(1), UseAsCollateral: true},
		{TokenID: big.NewInt(2), UseAsCollateral: false},
		{TokenID: big.NewInt(3), UseAsCollateral: true},
	})
	require.NoError(t, err)
	require.True(t, first)
	require.Equal(t, uint64(3), n.BalanceOf(alice))
	require.Equal(t, uint64(2), n.CollateralizedBalanceOf(alice))
	require.Len(t, n.CollateralizedTokens(alice), 2)

	before, after, err := n.BatchSetIsUsedAsCollateral([]*big.Int{big.NewInt(2)}, true, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(2), before)
	require.Equal(t, uint64(3), after)

	_, _, err = n.BatchSetIsUsedAsCollateral([]*big.Int{big.NewInt(2)}, false, bob)
	require.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, n.Transfer(alice, bob, big.NewInt(3)))
	owner, ok := n.OwnerOf(big.NewInt(3))
	require.True(t, ok)
	require.Equal(t, bob, owner)
	require.False(t, n.IsUsedAsCollateral(big.NewInt(3)))

	last, err := n.Burn(alice, alice, []*big.Int{big.NewInt(1), big.NewInt(2)})
	require.NoError(t, err)
	require.True(t, last)
	holder, _ := custody.OwnerOf(punks, big.NewInt(1))
	require.Equal(t, alice, holder)
	require.Zero(t, n.BalanceOf(alice))
}

var errDisk = errors.New("disk: read failed")

// failingReads wraps a database and fails every Get once armed.
type failingReads struct {
	storage.Database
	armed bool
}

func (f *failingReads) Get(key []byte) ([]byte, error) {
	if f.armed {
		return nil, errDisk
	}
	return f.Database.Get(key)
}

func TestLedgerReadErrorsAbortWrites(t *testing.T) {
	db := &failingReads{Database: storage.NewMemDB()}
	custody := bank.New(db)
	require.NoError(t, custody.Mint(dai, vault, big.NewInt(1_000)))
	p := NewPToken(db, dai, vault, treasury, custody)
	d := NewDebtToken(db, dai)
	index := ray(1, 1)

	_, err := p.Mint(alice, alice, big.NewInt(300), index)
	require.NoError(t, err)
	_, _, err = d.Mint(alice, alice, big.NewInt(100), index)
	require.NoError(t, err)

	db.armed = true
	_, err = p.Mint(alice, alice, big.NewInt(50), index)
	require.ErrorIs(t, err, errDisk)
	require.ErrorIs(t, p.Burn(alice, alice, big.NewInt(50), index), errDisk)
	require.ErrorIs(t, p.Transfer(alice, bob, big.NewInt(50), index), errDisk)
	_, _, err = d.Mint(alice, alice, big.NewInt(10), index)
	require.ErrorIs(t, err, errDisk)
	_, err = d.Burn(alice, big.NewInt(10), index)
	require.ErrorIs(t, err, errDisk)

	db.armed = false
	require.Zero(t, p.ScaledBalanceOf(alice).Cmp(big.NewInt(300)))
	require.Zero(t, p.ScaledTotalSupply().Cmp(big.NewInt(300)))
	require.Zero(t, p.ScaledBalanceOf(bob).Sign())
	require.Zero(t, d.ScaledBalanceOf(alice).Cmp(big.NewInt(100)))
	require.Zero(t, d.ScaledTotalSupply().Cmp(big.NewInt(100)))
}

func TestNTokenCorruptRecordIsNotOverwritten(t *testing.T) {
	db := storage.NewMemDB()
	custody := bank.New(db)
	n := NewNToken(db, punks, vault, custody)
	id := big.NewInt(5)
	require.NoError(t, db.Put(n.recordKey(id), []byte{0xff, 0x01}))

	_, err := n.Mint(bob, []TokenData{{TokenID: id, UseAsCollateral: true}})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTokenExists)

	raw, err := db.Get(n.recordKey(id))
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0x01}, raw)
	require.Zero(t, n.BalanceOf(bob))

	_, err = n.Burn(bob, bob, []*big.Int{id})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotOwner)
	require.Error(t, n.Transfer(bob, alice, id))
}
