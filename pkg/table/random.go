package table

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Random is a seedable, concurrency-safe random source shared by the
// tables derived from one catalog.
type Random struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandom returns an unseeded random source.
func NewRandom() *Random {
	r := &Random{}
	r.Seed(nil)
	return r
}

// Seed resets the source. A nil seed reseeds from the clock.
func (r *Random) Seed(seed *uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := uint64(time.Now().UnixNano())
	if seed != nil {
		s = *seed
	}
	r.rnd = rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}

// Float64 returns a uniform value in [0, 1).
func (r *Random) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

// IntN returns a uniform value in [0, n).
func (r *Random) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.IntN(n)
}
