package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendGet(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	t.Run("missing key", func(t *testing.T) {
		_, err := backend.Get(ctx, []byte("missing"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, backend.Write(ctx, NewBatch().Set([]byte("k"), []byte("v"))))

		value, err := backend.Get(ctx, []byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), value)
	})

	t.Run("returned value is a copy", func(t *testing.T) {
		require.NoError(t, backend.Write(ctx, NewBatch().Set([]byte("copy"), []byte("abc"))))

		value, err := backend.Get(ctx, []byte("copy"))
		require.NoError(t, err)
		value[0] = 'X'

		again, err := backend.Get(ctx, []byte("copy"))
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), again)
	})
}

func TestMemoryBackendCounters(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	t.Run("absent counter reads zero", func(t *testing.T) {
		count, err := backend.GetCounter(ctx, []byte("c"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("add accumulates", func(t *testing.T) {
		require.NoError(t, backend.Write(ctx, NewBatch().Add([]byte("c"), 3)))
		require.NoError(t, backend.Write(ctx, NewBatch().Add([]byte("c"), -1)))

		count, err := backend.GetCounter(ctx, []byte("c"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("clear removes value and counter together", func(t *testing.T) {
		batch := NewBatch().
			Set([]byte("pair"), []byte("v")).
			Add([]byte("pair"), 7)
		require.NoError(t, backend.Write(ctx, batch))

		require.NoError(t, backend.Write(ctx, NewBatch().Clear([]byte("pair"))))

		_, err := backend.Get(ctx, []byte("pair"))
		assert.ErrorIs(t, err, ErrNotFound)
		count, err := backend.GetCounter(ctx, []byte("pair"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})
}

func TestMemoryBackendIterate(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	batch := NewBatch().
		Set([]byte("a1"), []byte("1")).
		Set([]byte("a2"), []byte("2")).
		Set([]byte("a3"), []byte("3")).
		Set([]byte("b1"), []byte("4"))
	require.NoError(t, backend.Write(ctx, batch))

	t.Run("ascending within bounds", func(t *testing.T) {
		var keys []string
		err := backend.Iterate(ctx, IterateParams{From: []byte("a1"), To: []byte("a3"), Ascending: true},
			func(key, value []byte) (bool, error) {
				keys = append(keys, string(key))
				return true, nil
			})
		require.NoError(t, err)
		assert.Equal(t, []string{"a1", "a2", "a3"}, keys)
	})

	t.Run("descending", func(t *testing.T) {
		var keys []string
		err := backend.Iterate(ctx, IterateParams{From: []byte("a1"), To: []byte("a3")},
			func(key, value []byte) (bool, error) {
				keys = append(keys, string(key))
				return true, nil
			})
		require.NoError(t, err)
		assert.Equal(t, []string{"a3", "a2", "a1"}, keys)
	})

	t.Run("early stop", func(t *testing.T) {
		var visited int
		err := backend.Iterate(ctx, IterateParams{From: []byte("a"), To: []byte("z"), Ascending: true},
			func(key, value []byte) (bool, error) {
				visited++
				return visited < 2, nil
			})
		require.NoError(t, err)
		assert.Equal(t, 2, visited)
	})

	t.Run("callback error propagates", func(t *testing.T) {
		wantErr := assert.AnError
		err := backend.Iterate(ctx, IterateParams{From: []byte("a"), To: []byte("z"), Ascending: true},
			func(key, value []byte) (bool, error) {
				return false, wantErr
			})
		assert.ErrorIs(t, err, wantErr)
	})
}

func TestMemoryBackendDeleteRange(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	batch := NewBatch().
		Set([]byte("a1"), []byte("1")).
		Set([]byte("a2"), []byte("2")).
		Set([]byte("b1"), []byte("3")).
		Add([]byte("a2"), 5)
	require.NoError(t, backend.Write(ctx, batch))

	require.NoError(t, backend.DeleteRange(ctx, []byte("a1"), []byte("a9")))

	_, err := backend.Get(ctx, []byte("a1"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = backend.Get(ctx, []byte("a2"))
	assert.ErrorIs(t, err, ErrNotFound)

	count, err := backend.GetCounter(ctx, []byte("a2"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	value, err := backend.Get(ctx, []byte("b1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), value)
}

func TestMemoryBackendClose(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Close())

	_, err := backend.Get(ctx, []byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	err = backend.Write(ctx, NewBatch().Set([]byte("k"), []byte("v")))
	assert.ErrorIs(t, err, ErrClosed)
}
