package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarungka/weave/internal/utils"
)

func setupTestStore(t *testing.T) (*BadgerStore, func()) {
	t.Helper()

	s, err := New(&Config{InMemory: true})
	require.NoError(t, err)

	cleanup := func() {
		s.Close()
	}
	return s, cleanup
}

func TestBadgerStore_SetGet(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	tests := []struct {
		name  string
		key   []byte
		value []byte
	}{
		{
			name:  "simple key-value",
			key:   []byte("key1"),
			value: []byte("value1"),
		},
		{
			name:  "binary key",
			key:   utils.ConvertUint64ToBytes(42),
			value: []byte{0x00, 0x01, 0x02},
		},
		{
			name:  "empty value",
			key:   []byte("empty"),
			value: []byte{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, s.Set(tt.key, tt.value))
			got, err := s.Get(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestBadgerStore_GetMissingKey(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := s.Get([]byte("nope"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestBadgerStore_ScanOrderAndPaging(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	// Insert out of order; big-endian keys scan back in numeric order.
	for _, id := range []uint64{5, 1, 9, 3, 7} {
		require.NoError(t, s.Set(utils.ConvertUint64ToBytes(id), []byte{byte(id)}))
	}

	var got []byte
	from := utils.ConvertUint64ToBytes(0)
	for {
		vals, next, err := s.Scan(from, 2)
		require.NoError(t, err)
		for _, v := range vals {
			got = append(got, v[0])
		}
		if next == nil {
			break
		}
		from = next
	}
	assert.Equal(t, []byte{1, 3, 5, 7, 9}, got)
}

func TestBadgerStore_ScanFromMidpoint(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	for id := uint64(0); id < 6; id++ {
		require.NoError(t, s.Set(utils.ConvertUint64ToBytes(id), []byte{byte(id)}))
	}

	vals, next, err := s.Scan(utils.ConvertUint64ToBytes(4), 10)
	require.NoError(t, err)
	assert.Nil(t, next)
	require.Len(t, vals, 2)
	assert.Equal(t, byte(4), vals[0][0])
	assert.Equal(t, byte(5), vals[1][0])
}

func TestBadgerStore_ClosedStoreFails(t *testing.T) {
	s, err := New(&Config{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Set([]byte("k"), []byte("v")), ErrStoreClosed)
	_, err = s.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, _, err = s.Scan(nil, 1)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.Close(), ErrStoreClosed)
}

func TestBadgerStore_OnDisk(t *testing.T) {
	s, err := New(&Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set([]byte("k"), []byte("v")))
	got, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	size, err := s.SizeOnDisk()
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestBadgerStore_SizeInMemory(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	size, err := s.SizeOnDisk()
	require.NoError(t, err)
	assert.Zero(t, size)
}
