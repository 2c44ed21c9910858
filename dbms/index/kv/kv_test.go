package kv

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/btree-query-bench/gbptree/dbms/index"
	"github.com/btree-query-bench/gbptree/dbms/index/bptree"
	"github.com/btree-query-bench/gbptree/dbms/index/lsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	opts := DefaultOptions()
	opts.MaxValueSize = 16
	opts.Index.StoragePageSize = 512
	opts.Index.CachePages = 16
	s, err := Open(path, opts)
	require.NoError(t, err)
	return s
}

func drain(t *testing.T, it index.Iterator) ([]int64, [][]byte) {
	t.Helper()
	defer it.Close()
	var keys []int64
	var values [][]byte
	for it.Next() {
		keys = append(keys, it.Key())
		values = append(values, it.Value())
	}
	require.NoError(t, it.Error())
	return keys, values
}

// The store must answer every operation exactly like Pebble.
func TestStore_MatchesPebble(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, filepath.Join(dir, "kv.gbp"))
	defer store.Close()
	oracle, err := lsm.Open(filepath.Join(dir, "pebble"), lsm.Options{MemTableSize: 1 << 20, InMemory: true})
	require.NoError(t, err)
	defer oracle.Close()

	rng := rand.New(rand.NewSource(5))
	engines := []index.Index{store, oracle}
	for i := 0; i < 3000; i++ {
		key := rng.Int63n(500) - 100
		switch op := rng.Intn(10); {
		case op < 6:
			value := []byte(fmt.Sprintf("v%d-%d", key, i))
			for _, e := range engines {
				require.NoError(t, e.Insert(key, value))
			}
		case op < 8:
			for _, e := range engines {
				require.NoError(t, e.Delete(key))
			}
		default:
			want, err := oracle.Get(key)
			require.NoError(t, err)
			got, err := store.Get(key)
			require.NoError(t, err)
			require.Equal(t, want, got, "get %d", key)
		}
	}

	for i := 0; i < 50; i++ {
		from := rng.Int63n(600) - 150
		to := from + rng.Int63n(200)
		wantKeys, wantValues := drain(t, must(oracle.Range(from, to)))
		gotKeys, gotValues := drain(t, must(store.Range(from, to)))
		require.Equal(t, wantKeys, gotKeys, "range [%d, %d)", from, to)
		require.Equal(t, wantValues, gotValues, "range [%d, %d)", from, to)
	}
	require.NoError(t, store.Tree().CheckConsistency())
}

func must(it index.Iterator, err error) index.Iterator {
	if err != nil {
		panic(err)
	}
	return it
}

func TestStore_ValueLimit(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "limit.gbp"))
	defer store.Close()

	assert.ErrorIs(t, store.Insert(1, make([]byte, 17)), ErrValueTooLarge)
	require.NoError(t, store.Insert(1, make([]byte, 16)))
	require.NoError(t, store.Insert(2, nil))

	v, err := store.Get(1)
	require.NoError(t, err)
	assert.Len(t, v, 16)
	v, err = store.Get(2)
	require.NoError(t, err)
	assert.Empty(t, v)
	v, err = store.Get(3)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.gbp")
	store := openStore(t, path)
	for k := int64(0); k < 300; k++ {
		require.NoError(t, store.Insert(k, []byte(fmt.Sprint(k))))
	}
	require.NoError(t, store.Close())

	store = openStore(t, path)
	defer store.Close()
	v, err := store.Get(123)
	require.NoError(t, err)
	assert.Equal(t, []byte("123"), v)
	keys, _ := drain(t, must(store.Range(0, 300)))
	assert.Len(t, keys, 300)

	// The writer is held for the store's lifetime.
	_, err = store.Tree().Writer(bptree.WriterOptions{})
	assert.ErrorIs(t, err, bptree.ErrWriterBusy)

	opts := DefaultOptions()
	opts.MaxValueSize = 32
	opts.Index.StoragePageSize = 512
	_, err = Open(path, opts)
	assert.ErrorIs(t, err, bptree.ErrFormatMismatch)
}
