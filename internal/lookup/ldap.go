package lookup

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// LDAPStore is a directory-backed membership variant of the lookup
// store: KeyExists and KeyGet run a search with the key substituted into
// the configured filter. The directory is read-only from this side, so
// every other operation returns ErrUnsupported.
type LDAPStore struct {
	config Config

	mu   sync.Mutex
	conn *ldap.Conn
}

var _ Store = (*LDAPStore)(nil)

// NewLDAPStore creates an LDAP-backed store. The connection is
// established lazily on first use.
func NewLDAPStore(config Config) *LDAPStore {
	if config.Port == 0 {
		config.Port = 389
	}
	if config.Filter == "" {
		config.Filter = "(uid=%s)"
	}
	return &LDAPStore{config: config}
}

func (s *LDAPStore) connection() (*ldap.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil && !s.conn.IsClosing() {
		return s.conn, nil
	}

	scheme := "ldap"
	if s.config.TLSEnabled {
		scheme = "ldaps"
	}
	url := fmt.Sprintf("%s://%s:%d", scheme, s.config.Host, s.config.Port)

	var opts []ldap.DialOpt
	if s.config.TLSEnabled {
		opts = append(opts, ldap.DialWithTLSConfig(&tls.Config{ServerName: s.config.Host}))
	}
	conn, err := ldap.DialURL(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("lookup: failed to connect to LDAP server: %w", err)
	}

	if s.config.BindDN != "" {
		if err := conn.Bind(s.config.BindDN, s.config.Password); err != nil {
			conn.Close()
			return nil, fmt.Errorf("lookup: LDAP bind failed: %w", err)
		}
	}

	s.conn = conn
	return conn, nil
}

func (s *LDAPStore) search(key []byte) (*ldap.SearchResult, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}

	filter := fmt.Sprintf(s.config.Filter, ldap.EscapeFilter(string(key)))
	attributes := []string{"dn"}
	if s.config.Attribute != "" {
		attributes = []string{s.config.Attribute}
	}

	request := ldap.NewSearchRequest(
		s.config.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		1, 10, false,
		filter,
		attributes,
		nil,
	)

	result, err := conn.SearchWithPaging(request, 1)
	if err != nil {
		// Drop the connection so the next call re-dials.
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("lookup: LDAP search failed: %w", err)
	}
	return result, nil
}

func (s *LDAPStore) KeyGet(ctx context.Context, key []byte) ([]byte, error) {
	result, err := s.search(key)
	if err != nil {
		return nil, err
	}
	if len(result.Entries) == 0 {
		return nil, nil
	}
	if s.config.Attribute != "" {
		if value := result.Entries[0].GetAttributeValue(s.config.Attribute); value != "" {
			return []byte(value), nil
		}
	}
	return []byte(result.Entries[0].DN), nil
}

func (s *LDAPStore) KeyExists(ctx context.Context, key []byte) (bool, error) {
	result, err := s.search(key)
	if err != nil {
		return false, err
	}
	return len(result.Entries) > 0, nil
}

func (s *LDAPStore) KeySet(ctx context.Context, key, value []byte, ttl time.Duration) error {
	return ErrUnsupported
}

func (s *LDAPStore) KeyDelete(ctx context.Context, key []byte) error {
	return ErrUnsupported
}

func (s *LDAPStore) CounterIncr(ctx context.Context, key []byte, delta int64, ttl time.Duration) (int64, error) {
	return 0, ErrUnsupported
}

func (s *LDAPStore) CounterGet(ctx context.Context, key []byte) (int64, error) {
	return 0, ErrUnsupported
}

func (s *LDAPStore) CounterDelete(ctx context.Context, key []byte) error {
	return ErrUnsupported
}

func (s *LDAPStore) PurgeExpired(ctx context.Context) error {
	return nil
}

func (s *LDAPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}
