package protocol

import (
	"math/rand"
	"sync"
)

// Roller produces die results from an explicit source so hosts can be seeded
// deterministically under test.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller creates a roller from a seed.
func NewRoller(seed int64) *Roller {
	return &Roller{rng: rand.New(rand.NewSource(seed))}
}

// Roll returns a result in [1, sides]. Anything below a two-sided die rolls 1.
func (r *Roller) Roll(sides int) int {
	if sides < 2 {
		return 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(sides) + 1
}
