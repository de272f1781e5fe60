// Package idgen generates the monotonically increasing 64-bit sequence
// ids that order report events within a group.
package idgen

import (
	"errors"
	"sync"
	"time"
)

// ErrClockBackwards is returned when the wall clock moved backwards far
// enough that monotonic ids cannot be generated safely.
var ErrClockBackwards = errors.New("idgen: clock moved backwards")

// Source produces strictly increasing 64-bit ids. Implementations must
// be safe for concurrent use. 0 and MaxUint64 are never produced; they
// are reserved as range-scan sentinels.
type Source interface {
	NextID() (uint64, error)
}

const (
	nodeBits     = 10
	sequenceBits = 12

	maxNode     = (1 << nodeBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	// backwardsTolerance is how far the clock may step back before
	// generation fails instead of stalling.
	backwardsTolerance = 2 * time.Second
)

// customEpoch anchors the 41-bit millisecond field (2020-01-01 UTC).
const customEpoch = 1577836800000

// Snowflake is a distributed-safe id source: 41 bits of milliseconds
// since a custom epoch, 10 bits of node id and 12 bits of per-
// millisecond sequence.
type Snowflake struct {
	mu       sync.Mutex
	node     uint64
	lastTime int64
	sequence uint64
}

// NewSnowflake creates a source for the given node id (0..1023).
func NewSnowflake(node uint64) *Snowflake {
	return &Snowflake{node: node & maxNode}
}

func (s *Snowflake) NextID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := time.Now().UnixMilli()
	if current < s.lastTime {
		if time.Duration(s.lastTime-current)*time.Millisecond > backwardsTolerance {
			return 0, ErrClockBackwards
		}
		current = s.lastTime
	}

	if current == s.lastTime {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// Sequence exhausted within this millisecond, wait out the tick.
			for current <= s.lastTime {
				current = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastTime = current

	id := uint64(current-customEpoch)<<(nodeBits+sequenceBits) |
		s.node<<sequenceBits |
		s.sequence
	if id == 0 {
		id = 1
	}
	return id, nil
}
