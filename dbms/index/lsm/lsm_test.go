package lsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKeyPreservesOrder(t *testing.T) {
	keys := []int64{-1 << 63, -1000, -1, 0, 1, 1000, 1<<63 - 1}
	for i := 1; i < len(keys); i++ {
		assert.Less(t, string(encodeKey(keys[i-1])), string(encodeKey(keys[i])))
		assert.Equal(t, keys[i], decodeKey(encodeKey(keys[i])))
	}
}

func TestLSM_RangeIsHalfOpen(t *testing.T) {
	l, err := Open("mem", Options{MemTableSize: 1 << 20, InMemory: true})
	require.NoError(t, err)
	defer l.Close()

	for k := int64(-5); k < 5; k++ {
		require.NoError(t, l.Insert(k, []byte{byte(k + 5)}))
	}
	require.NoError(t, l.Delete(0))

	it, err := l.Range(-2, 3)
	require.NoError(t, err)
	var keys []int64
	for it.Next() {
		keys = append(keys, it.Key())
		assert.Equal(t, []byte{byte(it.Key() + 5)}, it.Value())
	}
	require.NoError(t, it.Error())
	require.NoError(t, it.Close())
	assert.Equal(t, []int64{-2, -1, 1, 2}, keys)

	empty, err := l.Range(3, 3)
	require.NoError(t, err)
	assert.False(t, empty.Next())
	require.NoError(t, empty.Close())

	v, err := l.Get(0)
	require.NoError(t, err)
	assert.Nil(t, v)
}
