package storage

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyBuilder(t *testing.T) {
	t.Run("assembles fields in order", func(t *testing.T) {
		key := NewKeyBuilder(32).
			Byte(ClassReportEvent).
			String("example.org").
			Uint64(42).
			Build()

		assert.Equal(t, ClassReportEvent, key[0])

		domain, offset, err := DecodeString(key, 1)
		require.NoError(t, err)
		assert.Equal(t, "example.org", domain)

		value, err := DecodeUint64(key, offset)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), value)
	})

	t.Run("zero terminator separates strings", func(t *testing.T) {
		key := NewKeyBuilder(16).String("ab").String("cd").Build()

		first, offset, err := DecodeString(key, 0)
		require.NoError(t, err)
		second, _, err := DecodeString(key, offset)
		require.NoError(t, err)

		assert.Equal(t, "ab", first)
		assert.Equal(t, "cd", second)
	})

	t.Run("empty string still terminated", func(t *testing.T) {
		key := NewKeyBuilder(4).String("").Build()
		assert.Equal(t, []byte{0x00}, key)
	})
}

func TestKeyOrdering(t *testing.T) {
	t.Run("uint64 fields sort numerically", func(t *testing.T) {
		values := []uint64{0, 1, 255, 256, 1 << 20, 1<<40 + 7, 1<<63 - 1}
		keys := make([][]byte, 0, len(values))
		for _, v := range values {
			keys = append(keys, NewKeyBuilder(9).Byte(0x01).Uint64(v).Build())
		}

		sorted := sort.SliceIsSorted(keys, func(i, j int) bool {
			return bytes.Compare(keys[i], keys[j]) < 0
		})
		assert.True(t, sorted, "lexicographic order must match numeric order")
	})

	t.Run("shorter domain sorts before its extensions", func(t *testing.T) {
		a := NewKeyBuilder(16).Byte(0x01).String("example.org").Uint64(9).Build()
		b := NewKeyBuilder(16).Byte(0x01).String("example.org.uk").Uint64(0).Build()
		assert.Negative(t, bytes.Compare(a, b))
	})

	t.Run("class byte partitions families", func(t *testing.T) {
		event := NewKeyBuilder(16).Byte(ClassReportEvent).String("zzz").Build()
		lock := NewKeyBuilder(16).Byte(ClassReportLock).String("aaa").Build()
		assert.Negative(t, bytes.Compare(event, lock))
	})
}

func TestDecodeErrors(t *testing.T) {
	t.Run("uint64 beyond slice", func(t *testing.T) {
		_, err := DecodeUint64([]byte{1, 2, 3}, 0)
		assert.ErrorIs(t, err, ErrCorruptedKey)
	})

	t.Run("uint64 negative offset", func(t *testing.T) {
		_, err := DecodeUint64(make([]byte, 16), -1)
		assert.ErrorIs(t, err, ErrCorruptedKey)
	})

	t.Run("string missing terminator", func(t *testing.T) {
		_, _, err := DecodeString([]byte("no-terminator"), 0)
		assert.ErrorIs(t, err, ErrCorruptedKey)
	})

	t.Run("string offset out of range", func(t *testing.T) {
		_, _, err := DecodeString([]byte{0x00}, 5)
		assert.ErrorIs(t, err, ErrCorruptedKey)
	})
}

func TestClassRange(t *testing.T) {
	from, to := ClassRange(ClassLookupKey)

	assert.Equal(t, []byte{ClassLookupKey}, from)
	assert.Equal(t, ClassLookupKey, to[0])
	assert.Len(t, to, 129)

	// Any realistic key of the class falls inside the bounds.
	key := NewKeyBuilder(64).Byte(ClassLookupKey).String("some.long.domain.example.com").Uint64(1 << 60).Build()
	assert.GreaterOrEqual(t, bytes.Compare(key, from), 0)
	assert.LessOrEqual(t, bytes.Compare(key, to), 0)

	// Keys of the next class fall outside.
	next := []byte{ClassLookupKey + 1}
	assert.Positive(t, bytes.Compare(next, to))
}
