package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewDeterministicClock(base, time.Second)

	assert.Equal(t, base.Add(time.Second), c.Now())
	assert.Equal(t, base.Add(2*time.Second), c.Now())
	assert.Equal(t, int64(2), c.Readings())

	c.Reset()
	assert.Equal(t, base.Add(time.Second), c.Now())
}

func TestDeterministicClock_Concurrent(t *testing.T) {
	c := NewDeterministicClock(time.Unix(0, 0), time.Millisecond)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Now()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), c.Readings())
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("alice")
	assert.Equal(t, "alice-1", g.Generate())
	assert.Equal(t, "alice-2", g.Generate())

	other := NewSequenceGenerator("bob")
	assert.Equal(t, "bob-1", other.Generate(), "generators are independent")
}

func TestSequenceGenerator_Concurrent(t *testing.T) {
	g := NewSequenceGenerator("x")
	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.Generate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 100)
}
