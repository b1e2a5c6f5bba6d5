package utils

import (
	"math/rand"
	"sync"
	"time"
)

var (
	r  = rand.New(rand.NewSource(time.Now().UnixNano()))
	mu sync.Mutex
)

func RandN(n int) int {
	mu.Lock()
	res := r.Intn(n)
	mu.Unlock()
	return res
}

// RandomLevel draws a skip list level in [0, maxLevel) where each extra level
// is kept with probability p.
func RandomLevel(maxLevel int, p float64) int {
	mu.Lock()
	defer mu.Unlock()
	level := 0
	for level < maxLevel-1 && r.Float64() < p {
		level++
	}
	return level
}

// NewID returns a random non-zero identifier for a segment.
func NewID() uint64 {
	mu.Lock()
	defer mu.Unlock()
	for {
		if id := r.Uint64(); id != 0 {
			return id
		}
	}
}
