package idgen

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflakeMonotonic(t *testing.T) {
	source := NewSnowflake(1)

	var previous uint64
	for i := 0; i < 10000; i++ {
		id, err := source.NextID()
		require.NoError(t, err)
		assert.Greater(t, id, previous)
		previous = id
	}
}

func TestSnowflakeNeverReserved(t *testing.T) {
	source := NewSnowflake(0)
	for i := 0; i < 1000; i++ {
		id, err := source.NextID()
		require.NoError(t, err)
		assert.NotZero(t, id)
		assert.NotEqual(t, uint64(math.MaxUint64), id)
	}
}

func TestSnowflakeNodeBits(t *testing.T) {
	a := NewSnowflake(5)
	b := NewSnowflake(6)

	idA, err := a.NextID()
	require.NoError(t, err)
	idB, err := b.NextID()
	require.NoError(t, err)

	assert.Equal(t, uint64(5), idA>>sequenceBits&maxNode)
	assert.Equal(t, uint64(6), idB>>sequenceBits&maxNode)
}

func TestSnowflakeConcurrent(t *testing.T) {
	source := NewSnowflake(2)

	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[uint64]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := source.NextID()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker, "ids must be unique across goroutines")
}
