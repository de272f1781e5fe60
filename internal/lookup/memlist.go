package lookup

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// MemoryList is the in-memory variant of the lookup store: a static
// membership list loaded from configuration. Besides exact entries it
// supports prefix ("value*"), suffix ("*value"), glob and regular
// expression ("~expr") patterns. The list is read-only; all mutating
// operations return ErrUnsupported.
type MemoryList struct {
	set     map[string]struct{}
	matches []matcher
}

var _ Store = (*MemoryList)(nil)

type matchKind int

const (
	matchStartsWith matchKind = iota
	matchEndsWith
	matchGlob
	matchRegex
)

type matcher struct {
	kind    matchKind
	pattern string
	re      *regexp.Regexp
}

func (m matcher) matches(value string) bool {
	switch m.kind {
	case matchStartsWith:
		return strings.HasPrefix(value, m.pattern)
	case matchEndsWith:
		return strings.HasSuffix(value, m.pattern)
	case matchGlob:
		ok, _ := path.Match(m.pattern, value)
		return ok
	case matchRegex:
		return m.re.MatchString(value)
	}
	return false
}

// NewMemoryList builds a list from configured entries.
func NewMemoryList(entries []string) (*MemoryList, error) {
	list := &MemoryList{set: make(map[string]struct{})}
	for _, entry := range entries {
		switch {
		case strings.HasPrefix(entry, "~"):
			re, err := regexp.Compile(entry[1:])
			if err != nil {
				return nil, fmt.Errorf("lookup: invalid list regex %q: %w", entry, err)
			}
			list.matches = append(list.matches, matcher{kind: matchRegex, re: re})
		case strings.HasSuffix(entry, "*") && strings.Count(entry, "*") == 1:
			list.matches = append(list.matches, matcher{
				kind:    matchStartsWith,
				pattern: strings.TrimSuffix(entry, "*"),
			})
		case strings.HasPrefix(entry, "*") && strings.Count(entry, "*") == 1:
			list.matches = append(list.matches, matcher{
				kind:    matchEndsWith,
				pattern: strings.TrimPrefix(entry, "*"),
			})
		case strings.ContainsAny(entry, "*?["):
			list.matches = append(list.matches, matcher{kind: matchGlob, pattern: entry})
		default:
			list.set[entry] = struct{}{}
		}
	}
	return list, nil
}

// Contains reports membership of value in the list.
func (s *MemoryList) Contains(value string) bool {
	if _, ok := s.set[value]; ok {
		return true
	}
	for _, m := range s.matches {
		if m.matches(value) {
			return true
		}
	}
	return false
}

func (s *MemoryList) KeyGet(ctx context.Context, key []byte) ([]byte, error) {
	if s.Contains(string(key)) {
		return []byte("1"), nil
	}
	return nil, nil
}

func (s *MemoryList) KeyExists(ctx context.Context, key []byte) (bool, error) {
	return s.Contains(string(key)), nil
}

func (s *MemoryList) KeySet(ctx context.Context, key, value []byte, ttl time.Duration) error {
	return ErrUnsupported
}

func (s *MemoryList) KeyDelete(ctx context.Context, key []byte) error {
	return ErrUnsupported
}

func (s *MemoryList) CounterIncr(ctx context.Context, key []byte, delta int64, ttl time.Duration) (int64, error) {
	return 0, ErrUnsupported
}

func (s *MemoryList) CounterGet(ctx context.Context, key []byte) (int64, error) {
	return 0, ErrUnsupported
}

func (s *MemoryList) CounterDelete(ctx context.Context, key []byte) error {
	return ErrUnsupported
}

func (s *MemoryList) PurgeExpired(ctx context.Context) error {
	return nil
}

func (s *MemoryList) Close() error {
	return nil
}
