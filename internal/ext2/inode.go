package ext2

import "github.com/Marvenlee/cheviot-filesystems/internal/endian"

// OndiskInode is the in-memory decoding of the 128-byte on-disk inode
// record (original_source/extfs/ext2.h struct ondisk_inode). l_i_reserved1
// and i_faddr/osd2 are preserved as an opaque tail since this server's
// feature set (SPEC_FULL.md §1) never interprets them.
type OndiskInode struct {
	Mode        uint16
	UID         uint16
	Size        uint32
	Atime       uint32
	Ctime       uint32
	Mtime       uint32
	Dtime       uint32
	GID         uint16
	LinksCount  uint16
	Blocks      uint32
	Flags       uint32
	reserved1   uint32
	Block       [NBlocks]uint32
	Generation  uint32
	FileACL     uint32
	DirACL      uint32
	tail        [12]byte // i_faddr + osd2, unused by this server
}

// DecodeInode parses one OndiskInodeSize-byte record, byte-swapping
// multi-byte fields per the host/disk endianness (this server assumes
// the original's 128-byte EXT2_GOOD_OLD_INODE_SIZE layout throughout,
// matching original_source/extfs/inode_cache.c's read_inode).
func DecodeInode(buf []byte, swap bool) *OndiskInode {
	r := newReader(buf)
	oi := &OndiskInode{
		Mode:       endian.Swap16(swap, r.u16()),
		UID:        endian.Swap16(swap, r.u16()),
		Size:       endian.Swap32(swap, r.u32()),
		Atime:      endian.Swap32(swap, r.u32()),
		Ctime:      endian.Swap32(swap, r.u32()),
		Mtime:      endian.Swap32(swap, r.u32()),
		Dtime:      endian.Swap32(swap, r.u32()),
		GID:        endian.Swap16(swap, r.u16()),
		LinksCount: endian.Swap16(swap, r.u16()),
		Blocks:     endian.Swap32(swap, r.u32()),
		Flags:      endian.Swap32(swap, r.u32()),
	}
	oi.reserved1 = endian.Swap32(swap, r.u32())
	for i := range oi.Block {
		oi.Block[i] = endian.Swap32(swap, r.u32())
	}
	oi.Generation = endian.Swap32(swap, r.u32())
	oi.FileACL = endian.Swap32(swap, r.u32())
	oi.DirACL = endian.Swap32(swap, r.u32())
	copy(oi.tail[:], r.rest())
	return oi
}

// Encode serializes oi back to its OndiskInodeSize-byte on-disk form.
func (oi *OndiskInode) Encode(swap bool) []byte {
	w := newWriter(OndiskInodeSize)
	w.putU16(endian.Swap16(swap, oi.Mode))
	w.putU16(endian.Swap16(swap, oi.UID))
	w.putU32(endian.Swap32(swap, oi.Size))
	w.putU32(endian.Swap32(swap, oi.Atime))
	w.putU32(endian.Swap32(swap, oi.Ctime))
	w.putU32(endian.Swap32(swap, oi.Mtime))
	w.putU32(endian.Swap32(swap, oi.Dtime))
	w.putU16(endian.Swap16(swap, oi.GID))
	w.putU16(endian.Swap16(swap, oi.LinksCount))
	w.putU32(endian.Swap32(swap, oi.Blocks))
	w.putU32(endian.Swap32(swap, oi.Flags))
	w.putU32(endian.Swap32(swap, oi.reserved1))
	for _, b := range oi.Block {
		w.putU32(endian.Swap32(swap, b))
	}
	w.putU32(endian.Swap32(swap, oi.Generation))
	w.putU32(endian.Swap32(swap, oi.FileACL))
	w.putU32(endian.Swap32(swap, oi.DirACL))
	w.putBytes(oi.tail[:])
	return w.buf
}

// IsDir/IsReg/IsSymlink test the type bits of Mode
// (original_source/extfs/dir.c set_dirent_file_type's inverse).
func (oi *OndiskInode) IsDir() bool     { return oi.Mode&ModeFmt == ModeDir }
func (oi *OndiskInode) IsReg() bool     { return oi.Mode&ModeFmt == ModeReg }
func (oi *OndiskInode) IsSymlink() bool { return oi.Mode&ModeFmt == ModeSymlnk }

// Inode is the in-memory, reference-counted wrapper around an
// OndiskInode, the Go counterpart of original_source/extfs/ext2.h's
// struct inode. Hash-bucket and free-list membership (i_hash_link,
// i_unused_link) are replaced by InodeCache's map index and
// index-based list, per the same generalization blockcache.Cache
// applies to the block cache.
type Inode struct {
	OD OndiskInode

	Ino   uint32
	Count int
	Update uint8 // fsutil.UpdateMask bits pending at next writeback
	Dirty bool

	slot int // InodeCache internal slot index
}
