package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
)

// BlockedIPs tracks addresses and networks banned from connecting. The
// exact-address set grows at runtime as fail2ban trips; the CIDR network
// list is swapped wholesale on configuration reload.
type BlockedIPs struct {
	mu          sync.RWMutex
	addresses   map[netip.Addr]struct{}
	networks    atomic.Pointer[[]netip.Prefix]
	hasNetworks atomic.Bool
	rate        atomic.Pointer[Rate]
	store       Store
	logger      *slog.Logger
}

// NewBlockedIPs creates an empty block list rate-limited through store.
func NewBlockedIPs(store Store) *BlockedIPs {
	b := &BlockedIPs{
		addresses: make(map[netip.Addr]struct{}),
		store:     store,
		logger:    slog.Default().With("component", "blocked-ips"),
	}
	empty := make([]netip.Prefix, 0)
	b.networks.Store(&empty)
	return b
}

// Reload replaces the fail2ban rate and the configured block entries.
// Entries containing a '/' are parsed as CIDR networks, the rest as
// exact addresses.
func (b *BlockedIPs) Reload(rate Rate, entries []string) error {
	if rate.IsZero() {
		b.rate.Store(nil)
	} else {
		b.rate.Store(&rate)
	}

	addresses := make(map[netip.Addr]struct{})
	networks := make([]netip.Prefix, 0)
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return fmt.Errorf("invalid blocked network %q: %w", entry, err)
			}
			networks = append(networks, prefix)
		} else {
			addr, err := netip.ParseAddr(entry)
			if err != nil {
				return fmt.Errorf("invalid blocked address %q: %w", entry, err)
			}
			addresses[addr] = struct{}{}
		}
	}

	b.hasNetworks.Store(len(networks) > 0)
	b.mu.Lock()
	b.addresses = addresses
	b.mu.Unlock()
	b.networks.Store(&networks)

	return nil
}

// HasFail2Ban reports whether a fail2ban rate is configured.
func (b *BlockedIPs) HasFail2Ban() bool {
	return b.rate.Load() != nil
}

// IsFail2Banned performs hard rate checks for both the address and the
// login and blocks the address only when both are simultaneously over
// threshold. It returns true when the address was just blocked.
func (b *BlockedIPs) IsFail2Banned(ctx context.Context, addr netip.Addr, login string) (bool, error) {
	rate := b.rate.Load()
	if rate == nil {
		return false, nil
	}

	addrDenied, err := IsRateAllowed(ctx, b.store, []byte("b:"+addr.String()), *rate, false)
	if err != nil {
		return false, err
	}
	loginDenied, err := IsRateAllowed(ctx, b.store, []byte("b:"+login), *rate, false)
	if err != nil {
		return false, err
	}
	if addrDenied == 0 || loginDenied == 0 {
		return false, nil
	}

	b.Block(addr)
	b.logger.Warn("address blocked by fail2ban", "ip", addr.String(), "login", login)
	return true, nil
}

// Block adds an address to the exact-address set.
func (b *BlockedIPs) Block(addr netip.Addr) {
	b.mu.Lock()
	b.addresses[addr] = struct{}{}
	b.mu.Unlock()
}

// IsBlocked reports whether addr is in the exact-address set or inside
// any configured network.
func (b *BlockedIPs) IsBlocked(addr netip.Addr) bool {
	b.mu.RLock()
	_, blocked := b.addresses[addr]
	b.mu.RUnlock()
	if blocked {
		return true
	}

	if b.hasNetworks.Load() {
		for _, network := range *b.networks.Load() {
			if network.Contains(addr) {
				return true
			}
		}
	}
	return false
}

// Addresses returns a snapshot of the exact-address set.
func (b *BlockedIPs) Addresses() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.addresses))
	for addr := range b.addresses {
		out = append(out, addr.String())
	}
	return out
}
