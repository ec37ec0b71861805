package ext2

import (
	"math/rand"

	"github.com/Marvenlee/cheviot-filesystems/internal/blockcache"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsutil"
)

// allocBlock picks a free data block close to inode's group (or to
// goal if given) and marks it used, returning NoBlock if the
// filesystem is full (original_source/extfs/block.c alloc_block).
//
// It searches goal's group starting at goal's bitmap word, then wraps
// through every other group from the start of their bitmaps, and
// finally revisits goal's group from the beginning. A group whose
// descriptor claims free blocks but yields none from alloc_bit is a
// bitmap/descriptor consistency violation and is fatal.
func allocBlock(v *Volume, n *Inode, goal uint32) uint32 {
	if v.SB.FreeBlocksCount == 0 {
		return NoBlock
	}

	if goal == NoBlock {
		group := (n.Ino - 1) / v.SB.InodesPerGroup
		goal = v.SB.BlocksPerGroup*group + v.SB.FirstDataBlock
	}
	if goal >= v.SB.BlocksCount || goal < v.SB.FirstDataBlock {
		goal = uint32(rand.Int63n(int64(v.SB.BlocksCount)))
	}

	startGroup := (goal - v.SB.FirstDataBlock) / v.SB.BlocksPerGroup

	for i := uint32(0); i <= v.D.GroupsCount; i++ {
		group := (startGroup + i) % v.D.GroupsCount

		gd := v.GroupDesc(group)
		fsutil.Invariant(gd != nil, "ext2: can't get group_desc to alloc block")

		if gd.FreeBlocksCount == 0 {
			continue
		}

		startWord := uint32(0)
		if i == 0 {
			startWord = ((goal - v.SB.FirstDataBlock) % v.SB.BlocksPerGroup) / 32
		}

		buf := v.Cache.Get(gd.BlockBitmap, blockcache.Read)
		bit := allocBit(buf.Data, v.SB.BlocksPerGroup, startWord)

		if bit != -1 {
			block := v.SB.FirstDataBlock + group*v.SB.BlocksPerGroup + uint32(bit)
			v.checkBlockNumber(gd, block)

			v.Cache.MarkDirty(buf)
			v.Cache.Put(buf)

			gd.FreeBlocksCount--
			v.SB.FreeBlocksCount--
			v.MarkGroupDescsDirty()
			return block
		}
		v.Cache.Put(buf)

		fsutil.Invariant(i == 0, "ext2: allocator failed to allocate a bit in bitmap with free bits")
	}

	return NoBlock
}

// freeBlock clears block's bit and bumps the free-block counters
// (original_source/extfs/block.c free_block). An out-of-range block or
// a bitmap that reports it already free are consistency violations.
func freeBlock(v *Volume, block uint32) {
	fsutil.Invariant(block < v.SB.BlocksCount && block >= v.SB.FirstDataBlock,
		"ext2: trying to free block %d beyond blocks scope", block)

	group := (block - v.SB.FirstDataBlock) / v.SB.BlocksPerGroup
	bit := (block - v.SB.FirstDataBlock) % v.SB.BlocksPerGroup

	gd := v.GroupDesc(group)
	fsutil.Invariant(gd != nil, "ext2: can't get group_desc to free block")
	v.checkBlockNumber(gd, block)

	buf := v.Cache.Get(gd.BlockBitmap, blockcache.Read)
	fsutil.Invariant(clearBit(buf.Data, bit), "ext2: failed freeing unused block %d", block)
	v.Cache.MarkDirty(buf)
	v.Cache.Put(buf)

	gd.FreeBlocksCount++
	v.SB.FreeBlocksCount++
	v.MarkGroupDescsDirty()

	v.Cache.Invalidate(block)
}
