package lookup

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busybox42/tlsrptd/internal/storage"
)

func TestBlockedIPsReload(t *testing.T) {
	blocked := NewBlockedIPs(NewKVStore(storage.NewMemoryBackend()))

	t.Run("parses addresses and networks", func(t *testing.T) {
		err := blocked.Reload(Rate{}, []string{"192.0.2.1", "198.51.100.0/24", "2001:db8::1"})
		require.NoError(t, err)

		assert.True(t, blocked.IsBlocked(netip.MustParseAddr("192.0.2.1")))
		assert.True(t, blocked.IsBlocked(netip.MustParseAddr("198.51.100.77")))
		assert.True(t, blocked.IsBlocked(netip.MustParseAddr("2001:db8::1")))
		assert.False(t, blocked.IsBlocked(netip.MustParseAddr("203.0.113.5")))
	})

	t.Run("invalid address rejected", func(t *testing.T) {
		assert.Error(t, blocked.Reload(Rate{}, []string{"not-an-ip"}))
		assert.Error(t, blocked.Reload(Rate{}, []string{"10.0.0.0/99"}))
	})

	t.Run("reload replaces previous entries", func(t *testing.T) {
		require.NoError(t, blocked.Reload(Rate{}, []string{"192.0.2.1"}))
		require.NoError(t, blocked.Reload(Rate{}, nil))
		assert.False(t, blocked.IsBlocked(netip.MustParseAddr("192.0.2.1")))
	})
}

func TestBlockedIPsBlock(t *testing.T) {
	blocked := NewBlockedIPs(NewKVStore(storage.NewMemoryBackend()))
	addr := netip.MustParseAddr("192.0.2.9")

	assert.False(t, blocked.IsBlocked(addr))
	blocked.Block(addr)
	assert.True(t, blocked.IsBlocked(addr))
	assert.Contains(t, blocked.Addresses(), addr.String())
}

func TestIsFail2Banned(t *testing.T) {
	ctx := context.Background()
	rate := Rate{Requests: 2, Period: time.Minute}
	addr := netip.MustParseAddr("192.0.2.50")

	t.Run("disabled without a rate", func(t *testing.T) {
		blocked := NewBlockedIPs(NewKVStore(storage.NewMemoryBackend()))
		require.NoError(t, blocked.Reload(Rate{}, nil))
		assert.False(t, blocked.HasFail2Ban())

		banned, err := blocked.IsFail2Banned(ctx, addr, "alice")
		require.NoError(t, err)
		assert.False(t, banned)
	})

	t.Run("bans only when address and login both exceed", func(t *testing.T) {
		fixedClock(t, 1000)
		blocked := NewBlockedIPs(NewKVStore(storage.NewMemoryBackend()))
		require.NoError(t, blocked.Reload(rate, nil))
		require.True(t, blocked.HasFail2Ban())

		// Within budget: no ban.
		for i := 0; i < 2; i++ {
			banned, err := blocked.IsFail2Banned(ctx, addr, "alice")
			require.NoError(t, err)
			assert.False(t, banned)
		}
		assert.False(t, blocked.IsBlocked(addr))

		// Third failure for the same pair trips both limits.
		banned, err := blocked.IsFail2Banned(ctx, addr, "alice")
		require.NoError(t, err)
		assert.True(t, banned)
		assert.True(t, blocked.IsBlocked(addr))
	})

	t.Run("rotating logins keeps login counter under the limit", func(t *testing.T) {
		fixedClock(t, 1000)
		blocked := NewBlockedIPs(NewKVStore(storage.NewMemoryBackend()))
		require.NoError(t, blocked.Reload(rate, nil))

		logins := []string{"a", "b", "c", "d", "e"}
		for _, login := range logins {
			banned, err := blocked.IsFail2Banned(ctx, addr, login)
			require.NoError(t, err)
			assert.False(t, banned, "login %s must not trip the ban alone", login)
		}
		assert.False(t, blocked.IsBlocked(addr))
	})
}
