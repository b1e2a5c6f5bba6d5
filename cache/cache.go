// Package cache holds fixed-size blocks of segment data behind an
// admission-controlled replacement policy.
package cache

import (
	"strconv"
	"sync"
)

// BlockCache caches blocks keyed by segment id, generation and block index.
// Bumping a segment's generation drops all of its blocks at once; stale
// entries simply age out of the replacer.
type BlockCache struct {
	lock      sync.Mutex
	blockSize int64
	blocks    Replacer
	segs      map[uint64]*segState
	nextGen   uint64
	hits      uint64
	misses    uint64
}

// segState tracks one segment. Generations are unique across the cache so a
// forgotten segment never sees its old blocks again. epoch moves on every
// invalidation and fences fills that read the child before it.
type segState struct {
	gen   uint64
	epoch uint64
}

func NewBlockCache(nblocks int, blockSize int64) *BlockCache {
	return NewBlockCacheWith(NewWinTinyLFU(nblocks), blockSize)
}

func NewBlockCacheWith(replacer Replacer, blockSize int64) *BlockCache {
	return &BlockCache{
		blockSize: blockSize,
		blocks:    replacer,
		segs:      make(map[uint64]*segState),
	}
}

func (c *BlockCache) BlockSize() int64 {
	return c.blockSize
}

func (c *BlockCache) state(seg uint64) *segState {
	st, ok := c.segs[seg]
	if !ok {
		c.nextGen++
		st = &segState{gen: c.nextGen}
		c.segs[seg] = st
	}
	return st
}

func (c *BlockCache) key(seg uint64, blk int64) string {
	return strconv.FormatUint(seg, 16) + "/" + strconv.FormatUint(c.state(seg).gen, 10) + "/" + strconv.FormatInt(blk, 10)
}

// Get returns the cached block or nil. The slice must not be modified.
func (c *BlockCache) Get(seg uint64, blk int64) []byte {
	c.lock.Lock()
	defer c.lock.Unlock()
	if v := c.blocks.Get(c.key(seg, blk)); v != nil {
		c.hits++
		return v.([]byte)
	}
	c.misses++
	return nil
}

// Put stores a private copy of data.
func (c *BlockCache) Put(seg uint64, blk int64, data []byte) {
	block := make([]byte, len(data))
	copy(block, data)
	c.lock.Lock()
	defer c.lock.Unlock()
	c.blocks.Put(c.key(seg, blk), block)
}

// Epoch returns the invalidation epoch of seg. Take it before reading the
// blocks handed to Fill.
func (c *BlockCache) Epoch(seg uint64) uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state(seg).epoch
}

// Fill stores a private copy of data unless seg was invalidated since epoch.
func (c *BlockCache) Fill(seg uint64, blk int64, data []byte, epoch uint64) bool {
	block := make([]byte, len(data))
	copy(block, data)
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.state(seg).epoch != epoch {
		return false
	}
	c.blocks.Put(c.key(seg, blk), block)
	return true
}

// Invalidate drops the blocks overlapping [off, off+n).
func (c *BlockCache) Invalidate(seg uint64, off, n int64) {
	if n <= 0 {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.state(seg).epoch++
	for blk := off / c.blockSize; blk <= (off+n-1)/c.blockSize; blk++ {
		c.blocks.Remove(c.key(seg, blk))
	}
}

// Drop forgets every block of seg.
func (c *BlockCache) Drop(seg uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.nextGen++
	st := c.state(seg)
	st.gen = c.nextGen
	st.epoch++
}

// Forget drops seg's blocks and its bookkeeping, once the segment is gone.
func (c *BlockCache) Forget(seg uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.segs, seg)
}

// Stats returns hit and miss counters.
func (c *BlockCache) Stats() (hits, misses uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.hits, c.misses
}

func (c *BlockCache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.blocks.Len()
}
