package ext2

import (
	"encoding/binary"

	"github.com/Marvenlee/cheviot-filesystems/internal/blockcache"
	"github.com/Marvenlee/cheviot-filesystems/internal/fserrno"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsutil"
)

// Directory entries are variable-length, 4-byte aligned records packed
// into data blocks: a fixed 8-byte header (d_ino uint32, d_rec_len
// uint16, d_name_len uint8, d_file_type uint8) followed by d_name_len
// bytes of name (original_source/extfs/ext2.h struct dir_entry). They
// are manipulated in place on a block buffer's byte slice rather than
// decoded into a Go struct, mirroring the original's pointer-cast
// traversal and keeping record-length-based free-slot recycling exact.
const (
	direntHeaderSize = 8
	nameMax          = 255
)

func direntIno(data []byte, off int) uint32 {
	return binary.NativeEndian.Uint32(data[off : off+4])
}

func direntSetIno(data []byte, off int, ino uint32) {
	binary.NativeEndian.PutUint32(data[off:off+4], ino)
}

func direntRecLen(data []byte, off int) uint16 {
	return binary.NativeEndian.Uint16(data[off+4 : off+6])
}

func direntSetRecLen(data []byte, off int, recLen uint16) {
	binary.NativeEndian.PutUint16(data[off+4:off+6], recLen)
}

func direntNameLen(data []byte, off int) uint8     { return data[off+6] }
func direntSetNameLen(data []byte, off int, n uint8) { data[off+6] = n }
func direntFileType(data []byte, off int) uint8    { return data[off+7] }
func direntSetFileType(data []byte, off int, t uint8) { data[off+7] = t }

func direntName(data []byte, off int) string {
	n := direntNameLen(data, off)
	return string(data[off+direntHeaderSize : off+direntHeaderSize+int(n)])
}

func direntSetName(data []byte, off int, name string) {
	copy(data[off+direntHeaderSize:], name)
}

// direntContentsSize/direntActualSize implement
// DIR_ENTRY_CONTENTS_SIZE/DIR_ENTRY_ACTUAL_SIZE.
func direntContentsSize(nameLen uint8) int { return direntHeaderSize + int(nameLen) }

func direntActualSize(nameLen uint8) int {
	sz := direntContentsSize(nameLen)
	if rem := sz & 0x03; rem != 0 {
		sz += DirEntryAlign - rem
	}
	return sz
}

func setDirentFileType(data []byte, off int, mode uint32) {
	switch mode & ModeFmt {
	case ModeReg:
		direntSetFileType(data, off, FtRegFile)
	case ModeDir:
		direntSetFileType(data, off, FtDir)
	case ModeSymlnk:
		direntSetFileType(data, off, FtSymlink)
	case ModeBlk:
		direntSetFileType(data, off, FtBlkdev)
	case ModeChr:
		direntSetFileType(data, off, FtChrdev)
	case ModeFifo:
		direntSetFileType(data, off, FtFifo)
	case ModeSock:
		direntSetFileType(data, off, FtSock)
	default:
		direntSetFileType(data, off, FtUnknown)
	}
}

// getDirBlock returns the cached block covering byte position in
// dirInode's data, or nil if position is a hole
// (original_source/extfs/dir.c get_dir_block).
func getDirBlock(v *Volume, n *Inode, position uint64) *blockcache.Buffer {
	b := readMapEntry(v, n, position)
	if b == NoBlock {
		return nil
	}
	return v.Cache.Get(b, blockcache.Read)
}

// lookupDir scans dirInode's entries for name, returning its inode
// number (original_source/extfs/dir_lookup.c lookup_dir).
func lookupDir(v *Volume, dirInode *Inode, name string) (uint32, bool) {
	if len(name) > nameMax {
		return 0, false
	}
	blockSize := uint64(v.D.BlockSize)
	for pos := uint64(0); pos < uint64(dirInode.OD.Size); pos += blockSize {
		buf := getDirBlock(v, dirInode, pos)
		fsutil.Invariant(buf != nil, "ext2: lookup_dir found a hole in a directory")

		off := 0
		for off < int(blockSize) {
			if direntIno(buf.Data, off) != NoEntry && direntName(buf.Data, off) == name {
				ino := direntIno(buf.Data, off)
				v.Cache.Put(buf)
				return ino, true
			}
			off += int(direntRecLen(buf.Data, off))
		}
		v.Cache.Put(buf)
	}
	return 0, false
}

// direntEnter adds a new directory entry for name/ino/mode into
// dirInode, extending the directory with a new block if no existing
// slot has room (original_source/extfs/dir_enter.c dirent_enter).
func direntEnter(v *Volume, dirInode *Inode, name string, ino uint32, mode uint32) int32 {
	if len(name) > nameMax {
		return int32(fserrno.ENAMETOOLONG)
	}
	required := direntActualSize(uint8(len(name)))
	blockSize := uint64(v.D.BlockSize)

	for pos := uint64(0); pos < uint64(dirInode.OD.Size); pos += blockSize {
		buf := getDirBlock(v, dirInode, pos)
		fsutil.Invariant(buf != nil, "ext2: dirent_enter found a hole in a directory")

		off, found := findDirentFreeSpace(buf, required, int(blockSize))
		if found {
			return enterDirent(v, dirInode, buf, off, ino, name, mode, false)
		}
		v.Cache.Put(buf)
	}

	return enterDirent(v, dirInode, nil, -1, ino, name, mode, true)
}

// findDirentFreeSpace looks for a free (unused) slot of sufficient
// size, or a used slot that can be shrunk to make room, within one
// directory block (original_source/extfs/dir_enter.c find_dirent_free_space).
func findDirentFreeSpace(buf *blockcache.Buffer, required int, blockSize int) (off int, ok bool) {
	off = 0
	for off < blockSize {
		recLen := int(direntRecLen(buf.Data, off))
		if direntIno(buf.Data, off) == NoEntry && required <= recLen {
			return off, true
		}

		availableIfShrunk := recLen - direntActualSize(direntNameLen(buf.Data, off))
		if required <= availableIfShrunk {
			return shrinkDirEntry(buf, off), true
		}

		off += recLen
	}
	return 0, false
}

// shrinkDirEntry splits a used entry's trailing padding into a new
// free slot sized exactly large enough for the caller's request,
// returning its offset (original_source/extfs/dir_enter.c shrink_dir_entry).
func shrinkDirEntry(buf *blockcache.Buffer, off int) int {
	recLen := int(direntRecLen(buf.Data, off))
	actual := direntActualSize(direntNameLen(buf.Data, off))
	newSlotSize := recLen - actual
	direntSetRecLen(buf.Data, off, uint16(actual))

	newOff := off + actual
	direntSetRecLen(buf.Data, newOff, uint16(newSlotSize))
	direntSetIno(buf.Data, newOff, NoEntry)
	return newOff
}

// enterDirent writes the new entry's fields into the slot at off in
// buf (or extends the directory first if off < 0), updating the parent
// directory's size and timestamps (original_source/extfs/dir_enter.c
// enter_dirent/extend_directory).
func enterDirent(v *Volume, dirInode *Inode, buf *blockcache.Buffer, off int, ino uint32, name string, mode uint32, extend bool) int32 {
	if extend {
		var sc int32
		buf, off, sc = extendDirectory(v, dirInode)
		if sc != 0 {
			return sc
		}
	}

	direntSetIno(buf.Data, off, ino)
	direntSetNameLen(buf.Data, off, uint8(len(name)))
	setDirentFileType(buf.Data, off, mode)
	direntSetName(buf.Data, off, name)

	v.Cache.MarkDirty(buf)

	if extend {
		dirInode.OD.Size += uint32(direntRecLen(buf.Data, off))
	}
	v.Cache.Put(buf)

	dirInode.Update |= UpdateCtime | UpdateMtime
	v.Inodes.MarkDirty(dirInode)
	v.Inodes.writeInode(dirInode)

	return 0
}

// extendDirectory allocates a fresh block for dirInode and formats it
// as one large free entry spanning the whole block
// (original_source/extfs/dir_enter.c extend_directory).
func extendDirectory(v *Volume, dirInode *Inode) (*blockcache.Buffer, int, int32) {
	buf, sc := newBlock(v, dirInode, uint64(dirInode.OD.Size))
	if sc != 0 {
		return nil, 0, sc
	}
	direntSetRecLen(buf.Data, 0, uint16(v.D.BlockSize))
	direntSetNameLen(buf.Data, 0, uint8(v.D.BlockSize-direntHeaderSize))
	return buf, 0, 0
}

// direntDelete removes name's entry from dirInode, merging its space
// into the preceding entry if any (original_source/extfs/dir_delete.c
// dirent_delete/search_block_and_delete/delete_dir_entry).
func direntDelete(v *Volume, dirInode *Inode, name string) int32 {
	if len(name) > nameMax {
		return int32(fserrno.ENAMETOOLONG)
	}
	blockSize := uint64(v.D.BlockSize)

	for pos := uint64(0); pos < uint64(dirInode.OD.Size); pos += blockSize {
		buf := getDirBlock(v, dirInode, pos)
		fsutil.Invariant(buf != nil, "ext2: dirent_delete found a hole in a directory")

		if deleteDirentInBlock(v, dirInode, buf, name, int(blockSize)) {
			v.Cache.Put(buf)
			return 0
		}
		v.Cache.Put(buf)
	}
	return int32(fserrno.ENOENT)
}

func deleteDirentInBlock(v *Volume, dirInode *Inode, buf *blockcache.Buffer, name string, blockSize int) bool {
	prevOff := -1
	off := 0
	for off < blockSize {
		recLen := int(direntRecLen(buf.Data, off))
		if direntIno(buf.Data, off) != NoEntry && direntName(buf.Data, off) == name {
			direntSetIno(buf.Data, off, NoEntry)
			v.Cache.MarkDirty(buf)

			dirInode.Update |= UpdateCtime | UpdateMtime
			v.Inodes.MarkDirty(dirInode)

			if prevOff >= 0 {
				merged := int(direntRecLen(buf.Data, prevOff)) + recLen
				direntSetRecLen(buf.Data, prevOff, uint16(merged))
			}
			v.Inodes.writeInode(dirInode)
			return true
		}
		prevOff = off
		off += recLen
	}
	return false
}

// isDirEmpty reports whether dirInode contains only "." and ".."
// (original_source/extfs/dir_isempty.c is_dir_empty/is_dir_block_empty).
func isDirEmpty(v *Volume, dirInode *Inode) bool {
	blockSize := uint64(v.D.BlockSize)
	for pos := uint64(0); pos < uint64(dirInode.OD.Size); pos += blockSize {
		buf := getDirBlock(v, dirInode, pos)
		fsutil.Invariant(buf != nil, "ext2: is_dir_empty found a hole in a directory")

		off := 0
		for off < int(blockSize) {
			if direntIno(buf.Data, off) != NoEntry {
				name := direntName(buf.Data, off)
				if name != "." && name != ".." {
					v.Cache.Put(buf)
					return false
				}
			}
			off += int(direntRecLen(buf.Data, off))
		}
		v.Cache.Put(buf)
	}
	return true
}

// DirEntry is one entry returned by Readdir's in-memory listing.
type DirEntry struct {
	Ino      uint32
	Name     string
	FileType uint8

	// NextPos is the on-disk byte offset immediately following this
	// entry's record, i.e. the cookie a caller should resume from once
	// this entry (and everything before it) has been delivered.
	NextPos int64
}

// Readdir lists dirInode's entries starting at cookie (a byte offset
// into the directory), returning up to maxEntries and the cookie to
// resume from, matching the scan-forward-and-skip-stale-records
// resilience of original_source/extfs/dir.c get_dirents/seek_to_valid_dirent
// (a cookie may point mid-record if entries were deleted since the
// last call; the scan reseeks to the next valid record boundary).
func Readdir(v *Volume, dirInode *Inode, cookie int64, maxEntries int) ([]DirEntry, int64) {
	blockSize := int64(v.D.BlockSize)
	pos := cookie
	var out []DirEntry

	for len(out) < maxEntries && pos < int64(dirInode.OD.Size) {
		buf := getDirBlock(v, dirInode, uint64(pos))
		if buf == nil {
			pos = (pos/blockSize)*blockSize + blockSize
			continue
		}

		off := seekToValidDirent(buf, pos, blockSize)
		if off < 0 {
			v.Cache.Put(buf)
			pos = (pos/blockSize)*blockSize + blockSize
			continue
		}

		blockBase := (pos / blockSize) * blockSize
		for off < int(blockSize) && len(out) < maxEntries {
			recLen := int(direntRecLen(buf.Data, off))
			if direntIno(buf.Data, off) != NoEntry {
				ino := direntIno(buf.Data, off)
				name := direntName(buf.Data, off)
				fileType := direntFileType(buf.Data, off)
				off += recLen
				out = append(out, DirEntry{
					Ino:      ino,
					Name:     name,
					FileType: fileType,
					NextPos:  blockBase + int64(off),
				})
			} else {
				off += recLen
			}
		}

		pos = blockBase + int64(off)
		v.Cache.Put(buf)
	}

	dirInode.Update |= UpdateAtime
	v.Inodes.MarkDirty(dirInode)
	return out, pos
}

// seekToValidDirent re-finds a record boundary at or after pos within
// its block, returning -1 once the scan runs off the end of the block
// (original_source/extfs/dir.c seek_to_valid_dirent).
func seekToValidDirent(buf *blockcache.Buffer, pos int64, blockSize int64) int {
	base := (pos / blockSize) * blockSize
	scan := base
	off := 0

	for {
		recLen := int(direntRecLen(buf.Data, off))
		fsutil.Invariant(recLen != 0, "ext2: readdir dirent record length is 0")
		if !(scan+int64(recLen) <= pos && int64(off+recLen) < blockSize) {
			break
		}
		scan += int64(recLen)
		off += recLen
	}

	if scan-base >= blockSize {
		return -1
	}
	return off
}

// wireDirentHeaderSize is the fixed portion of one packed readdir
// record: Ino(4) + RecLen(2) + NameLen(1) + FileType(1). The wire
// record is padded to an 8-byte boundary, distinct from the on-disk
// dir_entry's 4-byte alignment (original_source/extfs/dir.c
// dirent_buf_add packs a separate, 8-byte-aligned struct dirent for
// the reply, not the raw on-disk entries).
const wireDirentHeaderSize = 8

func wireDirentRecLen(nameLen int) int {
	sz := wireDirentHeaderSize + nameLen
	if rem := sz % 8; rem != 0 {
		sz += 8 - rem
	}
	return sz
}

// PackDirents serializes entries into the wire-format buffer handed
// back to the caller of Readdir, stopping early (without error) once a
// record would not fit in buf. It also reports how many of entries
// were actually packed, so the caller can resume its next scan from
// the last delivered entry rather than from entries it never sent
// (SPEC_FULL.md §4.9: the cookie must not skip undelivered entries).
func PackDirents(entries []DirEntry, buf []byte) ([]byte, int) {
	off := 0
	n := 0
	for _, e := range entries {
		recLen := wireDirentRecLen(len(e.Name))
		if off+recLen > len(buf) {
			break
		}
		binary.NativeEndian.PutUint32(buf[off:off+4], e.Ino)
		binary.NativeEndian.PutUint16(buf[off+4:off+6], uint16(recLen))
		buf[off+6] = uint8(len(e.Name))
		buf[off+7] = e.FileType
		copy(buf[off+wireDirentHeaderSize:], e.Name)
		off += recLen
		n++
	}
	return buf[:off], n
}
