package ext2

import (
	"github.com/Marvenlee/cheviot-filesystems/internal/blockcache"
	"github.com/Marvenlee/cheviot-filesystems/internal/fserrno"
)

// MaxFilePos is the largest representable file offset/size
// (original_source/extfs/ext2.h MAX_FILE_POS), substituted for a
// negative (unset) i_size.
const MaxFilePos = int64(^uint64(0) >> 1)

// ReadFile copies up to len(buf) bytes starting at position out of n's
// data, stopping at EOF, reading a hole as zeroes
// (original_source/extfs/read.c read_file/read_chunk/read_nonexistent_block).
func ReadFile(v *Volume, n *Inode, buf []byte, position int64) (int, int32) {
	fileSize := int64(n.OD.Size)
	if n.OD.Size&0x80000000 != 0 {
		fileSize = MaxFilePos
	}

	total := 0
	blockSize := int64(v.D.BlockSize)

	for total < len(buf) {
		if position >= fileSize {
			break
		}

		off := position % blockSize
		chunk := blockSize - off
		if remaining := len(buf) - total; int64(remaining) < chunk {
			chunk = int64(remaining)
		}
		if bytesLeft := fileSize - position; chunk > bytesLeft {
			chunk = bytesLeft
		}

		block := readMapEntry(v, n, uint64(position))
		if block == NoBlock {
			for i := int64(0); i < chunk; i++ {
				buf[total+int(i)] = 0
			}
		} else {
			bc := v.Cache.Get(block, blockcache.Read)
			copy(buf[total:total+int(chunk)], bc.Data[off:off+chunk])
			v.Cache.Put(bc)
		}

		total += int(chunk)
		position += chunk
	}

	n.Update |= UpdateAtime
	v.Inodes.MarkDirty(n)
	return total, 0
}

// WriteFile copies data into n's file starting at position, allocating
// blocks as needed and extending i_size
// (original_source/extfs/write.c write_file/write_chunk).
func WriteFile(v *Volume, n *Inode, data []byte, position int64) (int, int32) {
	fileSize := int64(n.OD.Size)
	if n.OD.Size&0x80000000 != 0 {
		fileSize = MaxFilePos
	}

	if position > MaxFilePos-int64(len(data)) {
		return 0, int32(fserrno.EFBIG)
	}

	total := 0
	blockSize := int64(v.D.BlockSize)
	isRegOrDir := n.OD.Mode&ModeFmt == ModeReg || n.OD.Mode&ModeFmt == ModeDir

	for total < len(data) {
		off := position % blockSize
		chunk := blockSize - off
		if remaining := len(data) - total; int64(remaining) < chunk {
			chunk = int64(remaining)
		}

		block := readMapEntry(v, n, uint64(position))
		var bc *blockcache.Buffer
		var sc int32

		if block == NoBlock {
			bc, sc = newBlock(v, n, uint64(position))
			if sc != 0 {
				break
			}
		} else {
			switch {
			case chunk == blockSize:
				bc = v.Cache.Get(block, blockcache.Clear)
			case off == 0 && position >= int64(n.OD.Size):
				bc = v.Cache.Get(block, blockcache.Clear)
			default:
				bc = v.Cache.Get(block, blockcache.Read)
			}
		}

		copy(bc.Data[off:off+chunk], data[total:total+int(chunk)])
		v.Cache.MarkDirty(bc)
		v.Cache.Put(bc)

		total += int(chunk)
		position += chunk
	}

	if isRegOrDir && position > fileSize {
		n.OD.Size = uint32(position)
	}

	n.Update |= UpdateCtime | UpdateMtime
	v.Inodes.MarkDirty(n)

	if total < len(data) {
		return total, int32(fserrno.EIO)
	}
	return total, 0
}

// truncateBlocks frees every data and indirect block backing n beyond
// newSize and sets i_size, walking backward from the last block and,
// for each mapped block, freeing the data block and then clearing its
// map entry via blockmap.go's deleteMapEntry (supplemented:
// original_source/extfs/truncate.c's truncate_inode returns -ENOSYS;
// SPEC_FULL.md §4.5/§5.12).
func truncateBlocks(v *Volume, n *Inode, newSize uint64) {
	blockSize := uint64(v.D.BlockSize)
	oldSize := uint64(n.OD.Size)
	if oldSize <= newSize {
		n.OD.Size = uint32(newSize)
		v.Inodes.MarkDirty(n)
		return
	}

	lastBlockStart := ((oldSize - 1) / blockSize) * blockSize
	firstFreedBlockStart := (newSize / blockSize) * blockSize
	if newSize%blockSize != 0 {
		firstFreedBlockStart += blockSize
	}

	for pos := lastBlockStart; pos >= firstFreedBlockStart && pos < oldSize; {
		block := readMapEntry(v, n, pos)
		if block != NoBlock {
			freeBlock(v, block)
			deleteMapEntry(v, n, pos)
		}
		if pos < blockSize {
			break
		}
		pos -= blockSize
	}

	n.OD.Size = uint32(newSize)
	n.Update |= UpdateCtime | UpdateMtime
	v.Inodes.MarkDirty(n)
}

// Truncate implements the public truncate operation
// (SPEC_FULL.md §5.12, supplementing original_source/extfs/truncate.c's
// -ENOSYS stub). Growing a file only updates i_size: reads past the old
// size already return zeroes via ReadFile's hole handling, and writes
// allocate blocks lazily.
func Truncate(v *Volume, n *Inode, newSize int64) int32 {
	if newSize < 0 {
		return int32(fserrno.EINVAL)
	}
	if uint64(newSize) <= uint64(n.OD.Size) {
		truncateBlocks(v, n, uint64(newSize))
	} else {
		n.OD.Size = uint32(newSize)
		n.Update |= UpdateCtime | UpdateMtime
		v.Inodes.MarkDirty(n)
	}
	return 0
}
