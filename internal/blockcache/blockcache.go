// Package blockcache implements the fixed-capacity, hash-indexed,
// write-back block cache shared by the ext2 and FAT servers
// (SPEC_FULL.md §4.2). It is grounded on `original_source/extfs/block.c`'s
// get_block/put_block/block_markdirty/invalidate/flush_all discipline:
// a block is threaded on at most one of {free, lru}, dirty iff marked
// dirty, and looked up by block number.
//
// Per the spec's design notes (§9), the LRU and dirty "lists" are
// membership relations implemented here as index-based doubly linked
// lists over a fixed-size slot array, so insertion/removal at known
// positions and LRU-tail eviction are both O(1). Hash lookup by block
// number uses a plain Go map, the idiomatic stand-in for the source's
// hand-rolled hash-bucket chains — no third-party library in the
// example pack offers anything better suited to an in-process index
// over a small fixed key space than the language's built-in map.
package blockcache

import "fmt"

// Mode selects how Get populates a newly faulted-in buffer.
type Mode int

const (
	// Read issues a device read to populate the buffer.
	Read Mode = iota
	// Clear zero-fills the buffer without touching the device, used
	// when the caller is about to overwrite the whole block (new
	// allocations, whole-block writes).
	Clear
)

// Device is the byte-addressable random-access handle the cache reads
// and writes one block at a time. blockdev.Device satisfies this.
type Device interface {
	ReadAt(buf []byte, off int64) error
	WriteAt(buf []byte, off int64) error
}

const nilIdx = -1

type slot struct {
	block uint32
	data  []byte
	dirty bool
	inUse bool

	lruPrev, lruNext     int
	dirtyPrev, dirtyNext int
	freeNext             int
}

// Cache is a fixed-capacity write-back block cache over a Device.
type Cache struct {
	dev       Device
	blockSize int

	slots []slot
	index map[uint32]int // block number -> slot index, for in-use slots only

	lruHead, lruTail     int // most-recently-used .. least-recently-used
	dirtyHead, dirtyTail int
	freeHead             int
}

// New builds a cache of the given capacity (slot count) over blocks of
// blockSize bytes read from dev.
func New(dev Device, capacity, blockSize int) *Cache {
	c := &Cache{
		dev:       dev,
		blockSize: blockSize,
		slots:     make([]slot, capacity),
		index:     make(map[uint32]int, capacity),
		lruHead:   nilIdx, lruTail: nilIdx,
		dirtyHead: nilIdx, dirtyTail: nilIdx,
		freeHead: nilIdx,
	}
	for i := capacity - 1; i >= 0; i-- {
		c.slots[i].data = make([]byte, blockSize)
		c.slots[i].freeNext = c.freeHead
		c.freeHead = i
	}
	return c
}

// Buffer is a handle to one cached block, returned by Get and consumed
// by Put/MarkDirty.
type Buffer struct {
	Block uint32
	Data  []byte

	slot int
}

// Get returns the buffer for block, loading it from the free list or by
// evicting the LRU tail if necessary. Capacity exhaustion and write-back
// failures during eviction are fatal (SPEC_FULL.md §4.2: "Fails only on
// device I/O error (fatal: the server panics...)").
func (c *Cache) Get(block uint32, mode Mode) *Buffer {
	if idx, ok := c.index[block]; ok {
		c.touchLRU(idx)
		return &Buffer{Block: block, Data: c.slots[idx].data, slot: idx}
	}

	idx := c.acquireVictim()

	s := &c.slots[idx]
	s.block = block
	s.inUse = true
	s.dirty = false

	switch mode {
	case Clear:
		for i := range s.data {
			s.data[i] = 0
		}
	case Read:
		if err := c.dev.ReadAt(s.data, int64(block)*int64(c.blockSize)); err != nil {
			panic(fmt.Sprintf("blockcache: fatal device read error for block %d: %v", block, err))
		}
	}

	c.index[block] = idx
	c.pushLRUHead(idx)
	return &Buffer{Block: block, Data: s.data, slot: idx}
}

// acquireVictim returns a slot index ready to be repurposed: the head
// of the free list if one exists, otherwise the LRU tail (written back
// first if dirty).
func (c *Cache) acquireVictim() int {
	if c.freeHead != nilIdx {
		idx := c.freeHead
		c.freeHead = c.slots[idx].freeNext
		return idx
	}

	if c.lruTail == nilIdx {
		panic("blockcache: no free slot and LRU list empty; capacity is zero")
	}

	idx := c.lruTail
	s := &c.slots[idx]
	if s.dirty {
		c.writeBack(idx)
		c.removeDirty(idx)
		s.dirty = false
	}
	c.removeLRU(idx)
	delete(c.index, s.block)
	return idx
}

// Put returns buf to the cache. Callers must call MarkDirty before Put
// if the contents were modified (SPEC_FULL.md §4.2).
func (c *Cache) Put(buf *Buffer) {
	// No pin-count bookkeeping: the single-threaded dispatch loop
	// guarantees a buffer is never referenced past its caller's own
	// scope (SPEC_FULL.md §4.2 invariant).
}

// MarkDirty places buf's slot on the dirty list if it isn't already.
func (c *Cache) MarkDirty(buf *Buffer) {
	s := &c.slots[buf.slot]
	if s.dirty {
		return
	}
	s.dirty = true
	c.pushDirtyHead(buf.slot)
}

// Invalidate detaches block from the cache and returns its slot to the
// free list, discarding contents. Used when a block is freed
// (SPEC_FULL.md §4.6 free_block).
func (c *Cache) Invalidate(block uint32) {
	idx, ok := c.index[block]
	if !ok {
		return
	}
	s := &c.slots[idx]
	if s.dirty {
		c.removeDirty(idx)
		s.dirty = false
	}
	c.removeLRU(idx)
	delete(c.index, block)
	s.inUse = false
	s.freeNext = c.freeHead
	c.freeHead = idx
}

// FlushAll walks the dirty list, writing every entry back and clearing
// its dirty flag, used at shutdown and by the periodic flusher
// (SPEC_FULL.md §4.11).
func (c *Cache) FlushAll() {
	for idx := c.dirtyHead; idx != nilIdx; {
		next := c.slots[idx].dirtyNext
		c.writeBack(idx)
		c.slots[idx].dirty = false
		idx = next
	}
	c.dirtyHead, c.dirtyTail = nilIdx, nilIdx
}

func (c *Cache) writeBack(idx int) {
	s := &c.slots[idx]
	if err := c.dev.WriteAt(s.data, int64(s.block)*int64(c.blockSize)); err != nil {
		panic(fmt.Sprintf("blockcache: fatal device write error for block %d: %v", s.block, err))
	}
}

// --- LRU list (head = most recently used, tail = least) ---

func (c *Cache) touchLRU(idx int) {
	if c.lruHead == idx {
		return
	}
	c.removeLRU(idx)
	c.pushLRUHead(idx)
}

func (c *Cache) pushLRUHead(idx int) {
	s := &c.slots[idx]
	s.lruPrev = nilIdx
	s.lruNext = c.lruHead
	if c.lruHead != nilIdx {
		c.slots[c.lruHead].lruPrev = idx
	}
	c.lruHead = idx
	if c.lruTail == nilIdx {
		c.lruTail = idx
	}
}

func (c *Cache) removeLRU(idx int) {
	s := &c.slots[idx]
	if s.lruPrev != nilIdx {
		c.slots[s.lruPrev].lruNext = s.lruNext
	} else if c.lruHead == idx {
		c.lruHead = s.lruNext
	}
	if s.lruNext != nilIdx {
		c.slots[s.lruNext].lruPrev = s.lruPrev
	} else if c.lruTail == idx {
		c.lruTail = s.lruPrev
	}
	s.lruPrev, s.lruNext = nilIdx, nilIdx
}

// --- dirty list ---

func (c *Cache) pushDirtyHead(idx int) {
	s := &c.slots[idx]
	s.dirtyPrev = nilIdx
	s.dirtyNext = c.dirtyHead
	if c.dirtyHead != nilIdx {
		c.slots[c.dirtyHead].dirtyPrev = idx
	}
	c.dirtyHead = idx
	if c.dirtyTail == nilIdx {
		c.dirtyTail = idx
	}
}

func (c *Cache) removeDirty(idx int) {
	s := &c.slots[idx]
	if s.dirtyPrev != nilIdx {
		c.slots[s.dirtyPrev].dirtyNext = s.dirtyNext
	} else if c.dirtyHead == idx {
		c.dirtyHead = s.dirtyNext
	}
	if s.dirtyNext != nilIdx {
		c.slots[s.dirtyNext].dirtyPrev = s.dirtyPrev
	} else if c.dirtyTail == idx {
		c.dirtyTail = s.dirtyPrev
	}
	s.dirtyPrev, s.dirtyNext = nilIdx, nilIdx
}

// BlockSize returns the configured block size in bytes.
func (c *Cache) BlockSize() int { return c.blockSize }

// Capacity returns the number of slots in the cache.
func (c *Cache) Capacity() int { return len(c.slots) }
