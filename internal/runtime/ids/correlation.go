package ids

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	errspkg "github.com/drblury/replyflow/internal/runtime/errors"
)

// CorrelationID is echoed by remote peers in their replies. It is unique
// among the outstanding requests of one registry only, never across
// processes or restarts.
type CorrelationID = int64

// Lookup reports whether an id is currently registered.
type Lookup interface {
	Has(id CorrelationID) bool
}

// IntN draws a value in [0, n).
type IntN func(n int64) int64

// CorrelationGenerator draws ids uniformly from [0, max). A drawn id that is
// already registered fails with ErrConflict; retrying is up to the caller.
type CorrelationGenerator struct {
	max    int64
	lookup Lookup

	mu   sync.Mutex
	intN IntN
}

// NewCorrelationGenerator builds a generator over [0, max). A nil intN uses
// math/rand/v2.
func NewCorrelationGenerator(max int64, lookup Lookup, intN IntN) (*CorrelationGenerator, error) {
	if max <= 0 {
		return nil, fmt.Errorf("replyflow: correlation id bound must be positive, got %d", max)
	}
	if lookup == nil {
		return nil, errors.New("replyflow: correlation lookup is required")
	}
	if intN == nil {
		intN = rand.Int64N
	}
	return &CorrelationGenerator{max: max, lookup: lookup, intN: intN}, nil
}

// Max returns the exclusive upper bound.
func (g *CorrelationGenerator) Max() int64 {
	return g.max
}

// Generate draws a candidate id. The Has check is advisory: the registry's
// Register is what makes an id exclusive, so a concurrent caller can still
// lose the race there with ErrDuplicateID.
func (g *CorrelationGenerator) Generate() (CorrelationID, error) {
	g.mu.Lock()
	id := g.intN(g.max)
	g.mu.Unlock()

	if id < 0 || id >= g.max {
		return 0, fmt.Errorf("replyflow: generated correlation id %d outside [0, %d)", id, g.max)
	}
	if g.lookup.Has(id) {
		return 0, fmt.Errorf("%w: %d", errspkg.ErrConflict, id)
	}
	return id, nil
}

// SequenceIntN returns an IntN that replays values, wrapping around. Tests
// use it to force collisions.
func SequenceIntN(values ...int64) IntN {
	var (
		mu  sync.Mutex
		idx int
	)
	return func(n int64) int64 {
		mu.Lock()
		defer mu.Unlock()
		if len(values) == 0 {
			return 0
		}
		v := values[idx%len(values)]
		idx++
		return v % n
	}
}
