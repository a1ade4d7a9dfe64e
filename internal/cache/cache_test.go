package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot_LoadBeforeStore(t *testing.T) {
	var s Snapshot[[]string]
	v, ok := s.Load()
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestSnapshot_ConcurrentSwap(t *testing.T) {
	var s Snapshot[map[string]int]
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Store(map[string]int{"gen": i})
			_, _ = s.Load()
		}(i)
	}
	wg.Wait()

	v, ok := s.Load()
	assert.True(t, ok)
	assert.Contains(t, v, "gen")
}
