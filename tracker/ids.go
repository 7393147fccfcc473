package tracker

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator assigns identity to new records.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues time-sortable UUIDv7 ids. It is stateless and safe
// for concurrent use.
type UUIDGenerator struct{}

// NewID returns a fresh UUIDv7 string.
func (UUIDGenerator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator issues prefix-1, prefix-2, ... for deterministic tests.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator whose first id is prefix-1.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// NewID returns the next id in the sequence.
func (g *SequenceGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
