package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator generates "<prefix>-1", "<prefix>-2", ... and never
// runs out.
//
// It implements engine.IDGenerator and the snapshot id hook of the store.
//
// Thread-safety: SequenceGenerator is safe for concurrent use.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator for prefix.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
