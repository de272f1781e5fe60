package lookup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryListContains(t *testing.T) {
	list, err := NewMemoryList([]string{
		"exact@example.org",
		"trusted-*",
		"*.example.net",
		"user-?@example.org",
		"~^admin[0-9]+$",
	})
	require.NoError(t, err)

	tests := []struct {
		value string
		want  bool
	}{
		{"exact@example.org", true},
		{"exact@example.com", false},
		{"trusted-sender", true},
		{"untrusted-sender", false},
		{"mail.example.net", true},
		{"example.net", false},
		{"user-a@example.org", true},
		{"user-ab@example.org", false},
		{"admin42", true},
		{"admin", false},
		{"", false},
	}
	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			assert.Equal(t, tc.want, list.Contains(tc.value))
		})
	}
}

func TestMemoryListStore(t *testing.T) {
	ctx := context.Background()
	list, err := NewMemoryList([]string{"member"})
	require.NoError(t, err)

	t.Run("lookup operations", func(t *testing.T) {
		exists, err := list.KeyExists(ctx, []byte("member"))
		require.NoError(t, err)
		assert.True(t, exists)

		value, err := list.KeyGet(ctx, []byte("member"))
		require.NoError(t, err)
		assert.NotNil(t, value)

		value, err = list.KeyGet(ctx, []byte("stranger"))
		require.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("mutations unsupported", func(t *testing.T) {
		assert.ErrorIs(t, list.KeySet(ctx, []byte("k"), []byte("v"), 0), ErrUnsupported)
		assert.ErrorIs(t, list.KeyDelete(ctx, []byte("k")), ErrUnsupported)
		_, err := list.CounterIncr(ctx, []byte("k"), 1, 0)
		assert.ErrorIs(t, err, ErrUnsupported)
	})
}

func TestMemoryListInvalidRegex(t *testing.T) {
	_, err := NewMemoryList([]string{"~[unclosed"})
	assert.Error(t, err)
}
