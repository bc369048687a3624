package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStagedPassThrough(t *testing.T) {
	db := NewStaged(NewMemDB())
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestStagedTransactionIsAllOrNothing(t *testing.T) {
	base := NewMemDB()
	require.NoError(t, base.Put([]byte("k/1"), []byte("base")))
	require.NoError(t, base.Put([]byte("k/3"), []byte("gone")))
	db := NewStaged(base)

	db.Begin()
	require.NoError(t, db.Put([]byte("k/1"), []byte("staged")))
	require.NoError(t, db.Put([]byte("k/2"), []byte("new")))
	require.NoError(t, db.Delete([]byte("k/3")))
	require.Equal(t, 3, db.Pending())

	value, err := db.Get([]byte("k/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("staged"), value)
	_, err = db.Get([]byte("k/3"))
	require.ErrorIs(t, err, ErrNotFound)

	var seen []string
	require.NoError(t, db.Iterate([]byte("k/"), func(key, value []byte) error {
		seen = append(seen, string(key)+"="+string(value))
		return nil
	}))
	require.Equal(t, []string{"k/1=staged", "k/2=new"}, seen)

	value, err = base.Get([]byte("k/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("base"), value)

	db.Rollback()
	require.Zero(t, db.Pending())
	value, err = db.Get([]byte("k/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("base"), value)
	ok, err := db.Has([]byte("k/2"))
	require.NoError(t, err)
	require.False(t, ok)

	db.Begin()
	batch := NewBatch()
	batch.Put([]byte("k/2"), []byte("new"))
	batch.Delete([]byte("k/3"))
	require.NoError(t, db.Write(batch))
	require.NoError(t, db.Commit())

	value, err = base.Get([]byte("k/2"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), value)
	ok, err = base.Has([]byte("k/3"))
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, db.Commit(), ErrNoTransaction)
}
