package cache

import (
	"math/bits"

	"extlog/utils"
)

const sketchDepth = 4

// freqSketch estimates how often each block key was touched. It is a
// count-min sketch of sketchDepth rows of 4-bit counters packed sixteen to a
// word; counters saturate at 15 and are halved by age.
type freqSketch struct {
	rows  [sketchDepth][]uint64
	seeds [sketchDepth]uint64
	mask  uint64
}

func newFreqSketch(blocks int) *freqSketch {
	n := uint64(max(blocks, 16))
	n = 1 << bits.Len64(n-1)
	s := &freqSketch{mask: n - 1}
	for i := range s.rows {
		s.rows[i] = make([]uint64, n/16)
		s.seeds[i] = utils.NewID()
	}
	return s
}

// slot locates the counter of hash in row i.
func (s *freqSketch) slot(i int, hash uint64) (word uint64, shift uint) {
	h := (hash ^ s.seeds[i]) * 0x9e3779b97f4a7c15
	h ^= h >> 31
	idx := h & s.mask
	return idx / 16, uint(idx%16) * 4
}

func (s *freqSketch) add(hash uint64) {
	for i := range s.rows {
		w, sh := s.slot(i, hash)
		if (s.rows[i][w]>>sh)&0xf < 15 {
			s.rows[i][w] += 1 << sh
		}
	}
}

func (s *freqSketch) estimate(hash uint64) int {
	least := 15
	for i := range s.rows {
		w, sh := s.slot(i, hash)
		least = min(least, int((s.rows[i][w]>>sh)&0xf))
	}
	return least
}

// age halves every counter so old popularity fades.
func (s *freqSketch) age() {
	for _, row := range s.rows {
		for j := range row {
			row[j] = (row[j] >> 1) & 0x7777777777777777
		}
	}
}
