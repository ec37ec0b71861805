package ext2

import (
	"time"

	"github.com/Marvenlee/cheviot-filesystems/internal/blockcache"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsutil"
)

const nilIdx = -1

// InodeCache is the fixed-capacity, reference-counted, hash-indexed
// inode cache, the Go counterpart of original_source/extfs/inode_cache.c.
// Its hash-bucket chains become a map (the same idiom blockcache.Cache
// uses for block lookup) and its unused list becomes an index-based
// doubly linked list. An inode is evicted from the unused list's head
// when get_inode needs a free slot and none is available, so an inode
// with i_links_count == 0 at release time is pushed to the head
// (quick to reclaim) while a still-linked inode goes to the tail
// (lookup_count.go's Inc/Dec pattern in fs/inode informed the
// refcount-then-destroy-callback shape used here).
type InodeCache struct {
	vol   *Volume
	nodes []Inode
	index map[uint32]int

	unusedHead, unusedTail int
	prev, next             []int
	onUnusedList           []bool
}

// NewInodeCache allocates a cache of the given capacity, matching
// init_inode_cache's NR_INODES preallocated slots.
func NewInodeCache(vol *Volume, capacity int) *InodeCache {
	c := &InodeCache{
		vol:        vol,
		nodes:      make([]Inode, capacity),
		index:      make(map[uint32]int, capacity),
		prev:       make([]int, capacity),
		next:       make([]int, capacity),
		onUnusedList: make([]bool, capacity),
		unusedHead: nilIdx,
		unusedTail: nilIdx,
	}
	for i := 0; i < capacity; i++ {
		c.nodes[i].Ino = NoEntry
		c.nodes[i].slot = i
		c.pushUnusedTail(i)
	}
	return c
}

// Get returns the cached inode for ino, reading it from disk on a
// cache miss, and bumps its reference count (get_inode).
func (c *InodeCache) Get(ino uint32) *Inode {
	if idx, ok := c.index[ino]; ok {
		n := &c.nodes[idx]
		if n.Count == 0 {
			c.removeUnused(idx)
		}
		n.Count++
		return n
	}

	fsutil.Invariant(c.unusedHead != nilIdx, "ext2: inode cache exhausted, no unused slot available")

	idx := c.unusedHead
	n := &c.nodes[idx]
	if n.Ino != NoEntry {
		delete(c.index, n.Ino)
	}
	c.removeUnused(idx)

	n.Ino = ino
	n.Count = 1
	n.Update = 0
	n.Dirty = false
	c.readInode(n)
	c.index[ino] = idx
	return n
}

// Find returns the cached inode for ino without reading from disk, or
// nil if not resident (find_inode).
func (c *InodeCache) Find(ino uint32) *Inode {
	if idx, ok := c.index[ino]; ok {
		return &c.nodes[idx]
	}
	return nil
}

// Put releases a reference on n. When the count reaches zero and the
// inode has no remaining links, its blocks are freed and the inode
// number is released back to the bitmap before the slot is recycled
// immediately (head of the unused list); otherwise it is kept cached
// at the tail for reuse (put_inode).
func (c *InodeCache) Put(n *Inode) {
	if n == nil {
		return
	}
	fsutil.Invariant(n.Count >= 1, "ext2: put_inode: reference count already below 1")
	n.Count--

	if n.Count == 0 {
		if n.OD.LinksCount == 0 {
			truncateBlocks(c.vol, n, 0)
			n.Dirty = true
			freeInode(c.vol, n)
		}
		if n.Dirty {
			c.writeInode(n)
		}
		if n.OD.LinksCount == 0 {
			delete(c.index, n.Ino)
			n.Ino = NoEntry
			c.pushUnusedHead(n.slot)
		} else {
			c.pushUnusedTail(n.slot)
		}
	} else if n.Dirty {
		c.writeInode(n)
	}
}

// MarkDirty flags n for writeback on its next Put or volume flush.
func (c *InodeCache) MarkDirty(n *Inode) { n.Dirty = true }

func (c *InodeCache) readInode(n *Inode) {
	bp, offset := c.locate(n.Ino)
	buf := c.vol.Cache.Get(bp, blockcache.Read)
	n.OD = *DecodeInode(buf.Data[offset:offset+OndiskInodeSize], c.vol.Swap)
	c.vol.Cache.Put(buf)
}

func (c *InodeCache) writeInode(n *Inode) {
	if n.Update != 0 {
		now := uint32(time.Now().Unix())
		if n.Update&UpdateAtime != 0 {
			n.OD.Atime = now
		}
		if n.Update&UpdateCtime != 0 {
			n.OD.Ctime = now
		}
		if n.Update&UpdateMtime != 0 {
			n.OD.Mtime = now
		}
		n.Update = 0
	}
	bp, offset := c.locate(n.Ino)
	buf := c.vol.Cache.Get(bp, blockcache.Read)
	copy(buf.Data[offset:offset+OndiskInodeSize], n.OD.Encode(c.vol.Swap))
	c.vol.Cache.MarkDirty(buf)
	c.vol.Cache.Put(buf)
	n.Dirty = false
}

// locate returns the block number holding ino's on-disk record and the
// byte offset within that block (read_inode/write_inode's addressing).
func (c *InodeCache) locate(ino uint32) (block uint32, offset uint32) {
	group := (ino - 1) / c.vol.SB.InodesPerGroup
	gd := c.vol.GroupDesc(group)
	fsutil.Invariant(gd != nil, "ext2: can't get group_desc for inode %d", ino)

	off := ((ino - 1) % c.vol.SB.InodesPerGroup) * c.vol.D.InodeSize
	block = gd.InodeTable + off>>c.vol.D.BlocksizeBits
	offset = off & (c.vol.D.BlockSize - 1)
	return block, offset
}

func (c *InodeCache) pushUnusedHead(idx int) {
	c.prev[idx] = nilIdx
	c.next[idx] = c.unusedHead
	if c.unusedHead != nilIdx {
		c.prev[c.unusedHead] = idx
	}
	c.unusedHead = idx
	if c.unusedTail == nilIdx {
		c.unusedTail = idx
	}
	c.onUnusedList[idx] = true
}

func (c *InodeCache) pushUnusedTail(idx int) {
	c.next[idx] = nilIdx
	c.prev[idx] = c.unusedTail
	if c.unusedTail != nilIdx {
		c.next[c.unusedTail] = idx
	}
	c.unusedTail = idx
	if c.unusedHead == nilIdx {
		c.unusedHead = idx
	}
	c.onUnusedList[idx] = true
}

func (c *InodeCache) removeUnused(idx int) {
	if !c.onUnusedList[idx] {
		return
	}
	if c.prev[idx] != nilIdx {
		c.next[c.prev[idx]] = c.next[idx]
	} else {
		c.unusedHead = c.next[idx]
	}
	if c.next[idx] != nilIdx {
		c.prev[c.next[idx]] = c.prev[idx]
	} else {
		c.unusedTail = c.prev[idx]
	}
	c.prev[idx], c.next[idx] = nilIdx, nilIdx
	c.onUnusedList[idx] = false
}
