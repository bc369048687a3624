package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("a/1"), []byte("one")))
	value, err := db.Get([]byte("a/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), value)

	batch := NewBatch()
	batch.Put([]byte("a/2"), []byte("two"))
	batch.Put([]byte("b/1"), []byte("other"))
	batch.Delete([]byte("a/1"))
	require.Equal(t, 3, batch.Len())
	require.NoError(t, db.Write(batch))

	ok, err := db.Has([]byte("a/1"))
	require.NoError(t, err)
	require.False(t, ok)

	var seen []string
	require.NoError(t, db.Iterate([]byte("a/"), func(key, value []byte) error {
		seen = append(seen, string(key)+"="+string(value))
		return nil
	}))
	require.Equal(t, []string{"a/2=two"}, seen)

	require.NoError(t, db.Delete([]byte("b/1")))
	ok, err = db.Has([]byte("b/1"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}
