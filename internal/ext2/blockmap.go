package ext2

import (
	"encoding/binary"

	"github.com/Marvenlee/cheviot-filesystems/internal/blockcache"
	"github.com/Marvenlee/cheviot-filesystems/internal/fserrno"
)

// calcBlockIndirectionOffsets works out which of an inode's direct,
// single, double, or triple indirect pointers covers the block holding
// byte position, filling offs with the index path to follow and
// returning the indirection depth (0 = direct), or -1 if position
// falls beyond the filesystem's addressable range
// (original_source/extfs/block.c calc_block_indirection_offsets).
func calcBlockIndirectionOffsets(d *Derived, position uint64) (depth int, offs [4]uint32) {
	blockPos := uint32(position / uint64(d.BlockSize))

	switch {
	case blockPos >= d.OutOfRangeStart:
		return -1, offs
	case blockPos < NDirBlocks:
		offs[0] = blockPos
		return 0, offs
	case blockPos < d.DoubIndStart:
		offs[0] = IndBlock
		offs[1] = blockPos - NDirBlocks
		return 1, offs
	case blockPos < d.TripleIndStart:
		offs[0] = DIndBlock
		offs[1] = (blockPos - d.DoubIndStart) / d.AddrInBlock
		offs[2] = (blockPos - d.DoubIndStart) % d.AddrInBlock
		return 2, offs
	default:
		offs[0] = TIndBlock
		offs[1] = (blockPos - d.TripleIndStart) / d.AddrInBlock2
		offs[2] = ((blockPos - d.TripleIndStart) % d.AddrInBlock2) / d.AddrInBlock
		offs[3] = ((blockPos - d.TripleIndStart) % d.AddrInBlock2) % d.AddrInBlock
		return 3, offs
	}
}

func getToplevelIndirectBlockEntry(n *Inode, depth int) uint32 {
	switch depth {
	case 1:
		return n.OD.Block[IndBlock]
	case 2:
		return n.OD.Block[DIndBlock]
	case 3:
		return n.OD.Block[TIndBlock]
	default:
		panic("ext2: invalid indirect block depth")
	}
}

func setToplevelIndirectBlockEntry(n *Inode, depth int, block uint32) {
	switch depth {
	case 1:
		n.OD.Block[IndBlock] = block
	case 2:
		n.OD.Block[DIndBlock] = block
	case 3:
		n.OD.Block[TIndBlock] = block
	default:
		panic("ext2: invalid indirect block depth")
	}
}

func readIndirectBlockEntry(buf *blockcache.Buffer, index uint32) uint32 {
	return binary.NativeEndian.Uint32(buf.Data[index*4 : index*4+4])
}

func writeIndirectBlockEntry(buf *blockcache.Buffer, index uint32, block uint32) {
	binary.NativeEndian.PutUint32(buf.Data[index*4:index*4+4], block)
}

func isEmptyIndirectBlock(d *Derived, buf *blockcache.Buffer) bool {
	for i := uint32(0); i < d.AddrInBlock; i++ {
		if readIndirectBlockEntry(buf, i) != NoBlock {
			return false
		}
	}
	return true
}

// readMapEntry resolves the data block number backing position in
// inode's file, or NoBlock if the position is a hole
// (original_source/extfs/block.c read_map_entry).
func readMapEntry(v *Volume, n *Inode, position uint64) uint32 {
	depth, offs := calcBlockIndirectionOffsets(v.D, position)
	if depth < 0 {
		return NoBlock
	}
	if depth == 0 {
		return n.OD.Block[offs[0]]
	}

	block := getToplevelIndirectBlockEntry(n, depth)
	for t := 1; t <= depth && block != NoBlock; t++ {
		buf := v.Cache.Get(block, blockcache.Read)
		block = readIndirectBlockEntry(buf, offs[t])
		v.Cache.Put(buf)
	}
	return block
}

// enterMapEntry writes newBlock into inode's block map at position,
// allocating any missing indirect blocks along the way
// (original_source/extfs/block.c enter_map_entry).
func enterMapEntry(v *Volume, n *Inode, position uint64, newBlk uint32) int32 {
	depth, offs := calcBlockIndirectionOffsets(v.D, position)
	if depth < 0 {
		return int32(fserrno.EINVAL)
	}

	v.Inodes.MarkDirty(n)

	if depth == 0 {
		n.OD.Block[offs[0]] = newBlk
		n.OD.Blocks += v.D.SectorsInBlock
		return 0
	}

	block := getToplevelIndirectBlockEntry(n, depth)
	if block == NoBlock {
		block = allocBlock(v, n, NoBlock)
		if block == NoBlock {
			return int32(fserrno.ENOSPC)
		}
		buf := v.Cache.Get(block, blockcache.Clear)
		v.Cache.MarkDirty(buf)
		v.Cache.Put(buf)
		setToplevelIndirectBlockEntry(n, depth, block)
		n.OD.Blocks += v.D.SectorsInBlock
	}

	for t := 1; t < depth; t++ {
		buf := v.Cache.Get(block, blockcache.Read)
		next := readIndirectBlockEntry(buf, offs[t])
		if next == NoBlock {
			next = allocBlock(v, n, NoBlock)
			if next == NoBlock {
				v.Cache.Put(buf)
				return int32(fserrno.ENOSPC)
			}
			newBuf := v.Cache.Get(next, blockcache.Clear)
			v.Cache.MarkDirty(newBuf)
			v.Cache.Put(newBuf)

			writeIndirectBlockEntry(buf, offs[t], next)
			v.Cache.MarkDirty(buf)
			n.OD.Blocks += v.D.SectorsInBlock
		}
		v.Cache.Put(buf)
		block = next
	}

	buf := v.Cache.Get(block, blockcache.Read)
	writeIndirectBlockEntry(buf, offs[depth], newBlk)
	v.Cache.MarkDirty(buf)
	v.Cache.Put(buf)
	n.OD.Blocks += v.D.SectorsInBlock
	return 0
}

// deleteMapEntry clears the block-map entry at position, and frees any
// indirect blocks left empty by the deletion, ascending back toward the
// inode (original_source/extfs/block.c delete_map_entry). The data
// block itself is freed by the caller before this is invoked. An
// emptied indirect block is freed only after its slot in the parent has
// been cleared and the parent marked dirty; the parent is not written
// to the device before the free, so the order in which the two updates
// reach the disk is whatever the cache's write-back produces.
func deleteMapEntry(v *Volume, n *Inode, position uint64) int32 {
	depth, offs := calcBlockIndirectionOffsets(v.D, position)
	if depth < 0 {
		return int32(fserrno.EINVAL)
	}

	v.Inodes.MarkDirty(n)

	if depth == 0 {
		n.OD.Block[offs[0]] = NoBlock
		n.OD.Blocks -= v.D.SectorsInBlock
		return 0
	}

	var indirectBlocks [5]uint32
	actualDepth := getIndirectBlocks(v, n, depth, offs, &indirectBlocks)
	if actualDepth == 0 {
		return 0
	}

	if actualDepth == depth {
		buf := v.Cache.Get(indirectBlocks[depth], blockcache.Read)
		writeIndirectBlockEntry(buf, offs[depth], NoBlock)
		v.Cache.MarkDirty(buf)
		v.Cache.Put(buf)
		n.OD.Blocks -= v.D.SectorsInBlock
	}

	lastEmpty := false
	for t := actualDepth; t >= 1; t-- {
		buf := v.Cache.Get(indirectBlocks[t], blockcache.Read)

		if lastEmpty {
			writeIndirectBlockEntry(buf, offs[t], NoBlock)
			v.Cache.MarkDirty(buf)
			freeBlock(v, indirectBlocks[t+1])
			n.OD.Blocks -= v.D.SectorsInBlock
		}

		lastEmpty = isEmptyIndirectBlock(v.D, buf)
		v.Cache.Put(buf)
	}

	if lastEmpty {
		setToplevelIndirectBlockEntry(n, depth, NoBlock)
		freeBlock(v, indirectBlocks[1])
		n.OD.Blocks -= v.D.SectorsInBlock
	}

	return 0
}

// getIndirectBlocks walks from the inode's top-level indirect pointer
// down to depth, collecting the block number found at each level into
// block[1..depth]; it stops early (returning a smaller depth) the first
// time it finds NoBlock (original_source/extfs/block.c get_indirect_blocks).
func getIndirectBlocks(v *Volume, n *Inode, depth int, offs [4]uint32, block *[5]uint32) int {
	actual := 0
	for ; actual < depth; actual++ {
		if actual == 0 {
			block[1] = getToplevelIndirectBlockEntry(n, depth)
		} else {
			buf := v.Cache.Get(block[actual], blockcache.Read)
			block[actual+1] = readIndirectBlockEntry(buf, offs[actual])
			v.Cache.Put(buf)
		}
		if block[actual+1] == NoBlock {
			break
		}
	}
	return actual
}

// newBlock returns a clear cached buffer for the block at position in
// inode's file, allocating and entering the block into the map first if
// the position is currently a hole (original_source/extfs/block.c new_block).
func newBlock(v *Volume, n *Inode, position uint64) (*blockcache.Buffer, int32) {
	block := readMapEntry(v, n, position)
	if block == NoBlock {
		block = allocBlock(v, n, NoBlock)
		if block == NoBlock {
			return nil, int32(fserrno.ENOSPC)
		}
		if sc := enterMapEntry(v, n, position, block); sc != 0 {
			freeBlock(v, block)
			return nil, sc
		}
	}
	return v.Cache.Get(block, blockcache.Clear), 0
}

func zeroBlock(v *Volume, buf *blockcache.Buffer) {
	for i := range buf.Data {
		buf.Data[i] = 0
	}
	v.Cache.MarkDirty(buf)
}
