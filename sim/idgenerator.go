package sim

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator can generate IDs
type IDGenerator interface {
	// Generate an ID
	Generate() string
}

// A SequentialIDGenerator numbers IDs from 1. Two runs that generate IDs in
// the same order get the same IDs, which keeps traces comparable.
type SequentialIDGenerator struct {
	prefix string
	nextID atomic.Uint64
}

// NewSequentialIDGenerator creates a generator whose IDs start with prefix.
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	return &SequentialIDGenerator{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialIDGenerator) Generate() string {
	return g.prefix + strconv.FormatUint(g.nextID.Add(1), 10)
}

// UniqueIDGenerator generates globally unique, roughly time-ordered IDs. It
// names runs and recording files.
type UniqueIDGenerator struct{}

// Generate returns a new xid.
func (UniqueIDGenerator) Generate() string {
	return xid.New().String()
}
