package testutil

import (
	"fmt"
	"sync"
)

// SequentialFlowGenerator returns "<prefix>-0001", "<prefix>-0002", ...
//
// The same scenario run with a fresh generator produces byte-identical event
// logs, which golden traces rely on.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialFlowGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialFlowGenerator creates a generator. An empty prefix uses "flow".
func NewSequentialFlowGenerator(prefix string) *SequentialFlowGenerator {
	if prefix == "" {
		prefix = "flow"
	}
	return &SequentialFlowGenerator{prefix: prefix}
}

// Generate returns the next token.
//
// Implements engine.FlowTokenGenerator interface.
func (g *SequentialFlowGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
