package ext2

import (
	"encoding/binary"
	"fmt"

	"github.com/Marvenlee/cheviot-filesystems/internal/endian"
)

// Superblock is the in-memory form of the 1024-byte on-disk superblock
// (original_source/extfs/ext2.h struct superblock). Only the fields the
// server's supported feature set (SPEC_FULL.md §1 Non-goals: FILETYPE,
// SPARSE_SUPER, LARGE_FILE read-only) actually consults are decoded
// individually; s_uuid/s_volume_name/s_last_mounted and the remaining
// reserved words are preserved verbatim across a read-modify-write so
// write_superblock never corrupts fields this server doesn't interpret.
type Superblock struct {
	InodesCount      uint32
	BlocksCount      uint32
	RBlocksCount     uint32
	FreeBlocksCount  uint32
	FreeInodesCount  uint32
	FirstDataBlock   uint32
	LogBlockSize     uint32
	LogFragSize      uint32
	BlocksPerGroup   uint32
	FragsPerGroup    uint32
	InodesPerGroup   uint32
	Mtime            uint32
	Wtime            uint32
	MntCount         uint16
	MaxMntCount      uint16
	Magic            uint16
	State            uint16
	Errors           uint16
	MinorRevLevel    uint16
	Lastcheck        uint32
	Checkinterval    uint32
	CreatorOS        uint32
	RevLevel         uint32
	DefResuid        uint16
	DefResgid        uint16
	FirstIno         uint32
	InodeSize        uint16
	BlockGroupNr     uint16
	FeatureCompat    uint32
	FeatureIncompat  uint32
	FeatureRoCompat  uint32
	UUID             [16]byte
	VolumeName       [16]byte
	LastMounted      [64]byte
	AlgoUsageBitmap  uint32
	PreallocBlocks   uint8
	PreallocDirBlks  uint8

	// Reserved bytes beyond s_prealloc_dir_blocks (journal fields
	// onward through the s_reserved padding), kept as an opaque blob
	// so round-tripping a foreign-populated superblock never drops
	// fields this server has no business interpreting.
	tail [SuperblockSize - 206]byte
}

// Derived holds the values computed once from a validated Superblock,
// matching original_source/extfs/superblock.c's read_superblock
// precalculation block plus globals.c's derived sb_* variables.
type Derived struct {
	BlockSize            uint32
	SectorsInBlock       uint32
	InodeSize            uint32
	FirstIno             uint32
	BlocksizeBits        uint32
	InodesPerBlock       uint32
	InodeTableBlocksPerGroup uint32
	DescPerBlock         uint32
	GroupsCount          uint32
	GroupDescBlockCount  uint32
	GDTBytePosition      int64

	AddrInBlock  uint32 // pointers per indirect block
	AddrInBlock2 uint32 // AddrInBlock squared
	DoubIndStart uint32 // first block_pos covered by double indirection
	TripleIndStart uint32
	OutOfRangeStart uint32
}

// DecodeSuperblock parses a raw 1024-byte big/little-endian buffer read
// from SuperblockOffset into a Superblock, swapping multi-byte fields
// when the host's endianness differs from the on-disk image (the probe
// and swap funnel of original_source/extfs/utility.c, internalized as
// the swap bool computed once at mount by internal/endian.BigEndian).
func DecodeSuperblock(buf []byte, swap bool) (*Superblock, error) {
	if len(buf) != SuperblockSize {
		return nil, fmt.Errorf("ext2: superblock buffer must be %d bytes, got %d", SuperblockSize, len(buf))
	}
	r := newReader(buf)
	sb := &Superblock{
		InodesCount:     endian.Swap32(swap, r.u32()),
		BlocksCount:     endian.Swap32(swap, r.u32()),
		RBlocksCount:    endian.Swap32(swap, r.u32()),
		FreeBlocksCount: endian.Swap32(swap, r.u32()),
		FreeInodesCount: endian.Swap32(swap, r.u32()),
		FirstDataBlock:  endian.Swap32(swap, r.u32()),
		LogBlockSize:    endian.Swap32(swap, r.u32()),
		LogFragSize:     endian.Swap32(swap, r.u32()),
		BlocksPerGroup:  endian.Swap32(swap, r.u32()),
		FragsPerGroup:   endian.Swap32(swap, r.u32()),
		InodesPerGroup:  endian.Swap32(swap, r.u32()),
		Mtime:           endian.Swap32(swap, r.u32()),
		Wtime:           endian.Swap32(swap, r.u32()),
		MntCount:        endian.Swap16(swap, r.u16()),
		MaxMntCount:     endian.Swap16(swap, r.u16()),
		Magic:           endian.Swap16(swap, r.u16()),
		State:           endian.Swap16(swap, r.u16()),
		Errors:          endian.Swap16(swap, r.u16()),
		MinorRevLevel:   endian.Swap16(swap, r.u16()),
		Lastcheck:       endian.Swap32(swap, r.u32()),
		Checkinterval:   endian.Swap32(swap, r.u32()),
		CreatorOS:       endian.Swap32(swap, r.u32()),
		RevLevel:        endian.Swap32(swap, r.u32()),
		DefResuid:       endian.Swap16(swap, r.u16()),
		DefResgid:       endian.Swap16(swap, r.u16()),
		FirstIno:        endian.Swap32(swap, r.u32()),
		InodeSize:       endian.Swap16(swap, r.u16()),
		BlockGroupNr:    endian.Swap16(swap, r.u16()),
		FeatureCompat:   endian.Swap32(swap, r.u32()),
		FeatureIncompat: endian.Swap32(swap, r.u32()),
		FeatureRoCompat: endian.Swap32(swap, r.u32()),
	}
	copy(sb.UUID[:], r.bytes(16))
	copy(sb.VolumeName[:], r.bytes(16))
	copy(sb.LastMounted[:], r.bytes(64))
	sb.AlgoUsageBitmap = endian.Swap32(swap, r.u32())
	sb.PreallocBlocks = r.u8()
	sb.PreallocDirBlks = r.u8()
	copy(sb.tail[:], r.rest())

	if sb.Magic != SuperMagic {
		return nil, fmt.Errorf("ext2: bad superblock magic %#x, want %#x", sb.Magic, SuperMagic)
	}
	return sb, nil
}

// Encode serializes the superblock back to its 1024-byte on-disk form,
// the inverse of DecodeSuperblock (original_source/extfs/superblock.c
// write_superblock/super_copy).
func (sb *Superblock) Encode(swap bool) []byte {
	w := newWriter(SuperblockSize)
	w.putU32(endian.Swap32(swap, sb.InodesCount))
	w.putU32(endian.Swap32(swap, sb.BlocksCount))
	w.putU32(endian.Swap32(swap, sb.RBlocksCount))
	w.putU32(endian.Swap32(swap, sb.FreeBlocksCount))
	w.putU32(endian.Swap32(swap, sb.FreeInodesCount))
	w.putU32(endian.Swap32(swap, sb.FirstDataBlock))
	w.putU32(endian.Swap32(swap, sb.LogBlockSize))
	w.putU32(endian.Swap32(swap, sb.LogFragSize))
	w.putU32(endian.Swap32(swap, sb.BlocksPerGroup))
	w.putU32(endian.Swap32(swap, sb.FragsPerGroup))
	w.putU32(endian.Swap32(swap, sb.InodesPerGroup))
	w.putU32(endian.Swap32(swap, sb.Mtime))
	w.putU32(endian.Swap32(swap, sb.Wtime))
	w.putU16(endian.Swap16(swap, sb.MntCount))
	w.putU16(endian.Swap16(swap, sb.MaxMntCount))
	w.putU16(endian.Swap16(swap, sb.Magic))
	w.putU16(endian.Swap16(swap, sb.State))
	w.putU16(endian.Swap16(swap, sb.Errors))
	w.putU16(endian.Swap16(swap, sb.MinorRevLevel))
	w.putU32(endian.Swap32(swap, sb.Lastcheck))
	w.putU32(endian.Swap32(swap, sb.Checkinterval))
	w.putU32(endian.Swap32(swap, sb.CreatorOS))
	w.putU32(endian.Swap32(swap, sb.RevLevel))
	w.putU16(endian.Swap16(swap, sb.DefResuid))
	w.putU16(endian.Swap16(swap, sb.DefResgid))
	w.putU32(endian.Swap32(swap, sb.FirstIno))
	w.putU16(endian.Swap16(swap, sb.InodeSize))
	w.putU16(endian.Swap16(swap, sb.BlockGroupNr))
	w.putU32(endian.Swap32(swap, sb.FeatureCompat))
	w.putU32(endian.Swap32(swap, sb.FeatureIncompat))
	w.putU32(endian.Swap32(swap, sb.FeatureRoCompat))
	w.putBytes(sb.UUID[:])
	w.putBytes(sb.VolumeName[:])
	w.putBytes(sb.LastMounted[:])
	w.putU32(endian.Swap32(swap, sb.AlgoUsageBitmap))
	w.putU8(sb.PreallocBlocks)
	w.putU8(sb.PreallocDirBlks)
	w.putBytes(sb.tail[:])
	return w.buf
}

// ComputeDerived precalculates the block-size-dependent constants used
// throughout allocation and block-map traversal, validating the
// superblock's self-consistency along the way (the checks in
// original_source/extfs/superblock.c read_superblock).
func ComputeDerived(sb *Superblock) (*Derived, error) {
	d := &Derived{}

	d.BlockSize = MinBlockSize << sb.LogBlockSize
	if d.BlockSize%512 != 0 {
		return nil, fmt.Errorf("ext2: block size %d not a multiple of 512", d.BlockSize)
	}
	if SuperblockSize > int(d.BlockSize) {
		return nil, fmt.Errorf("ext2: superblock size exceeds block size %d", d.BlockSize)
	}
	d.SectorsInBlock = d.BlockSize / 512

	if sb.RevLevel == DynamicRev {
		d.InodeSize = uint32(sb.InodeSize)
		d.FirstIno = sb.FirstIno
	} else {
		d.InodeSize = GoodOldInodeSize
		d.FirstIno = GoodOldFirstIno
	}
	if d.InodeSize == 0 || (d.InodeSize&(d.InodeSize-1)) != 0 || d.InodeSize > d.BlockSize {
		return nil, fmt.Errorf("ext2: invalid inode size %d", d.InodeSize)
	}

	d.BlocksizeBits = sb.LogBlockSize + MinBlockLogSize
	d.InodesPerBlock = d.BlockSize / d.InodeSize
	if d.InodesPerBlock == 0 || sb.InodesPerGroup == 0 {
		return nil, fmt.Errorf("ext2: inodes_per_block or inodes_per_group is zero")
	}

	d.InodeTableBlocksPerGroup = sb.InodesPerGroup / d.InodesPerBlock
	d.DescPerBlock = d.BlockSize / GroupDescSize
	d.GroupsCount = (sb.BlocksCount-sb.FirstDataBlock-1)/sb.BlocksPerGroup + 1
	d.GroupDescBlockCount = (d.GroupsCount + d.DescPerBlock - 1) / d.DescPerBlock
	d.GDTBytePosition = int64(sb.FirstDataBlock+1) * int64(d.BlockSize)

	if sb.InodesCount < 1 || sb.BlocksCount < 1 {
		return nil, fmt.Errorf("ext2: not enough inodes or data blocks")
	}

	d.AddrInBlock = d.BlockSize / BlockAddressBytes
	d.AddrInBlock2 = d.AddrInBlock * d.AddrInBlock
	d.DoubIndStart = NDirBlocks + d.AddrInBlock
	d.TripleIndStart = d.DoubIndStart + d.AddrInBlock2
	// original_source/extfs/superblock.c hardcodes this rather than
	// the theoretical TripleIndStart+AddrInBlock2*AddrInBlock value
	// (marked FIXME there); kept identical so the triple-indirect
	// boundary behavior matches the original exactly.
	d.OutOfRangeStart = 0xFFFF0000

	return d, nil
}

// --- small byte-buffer helpers, avoiding a binary.Read/Write dependency
// for a one-shot fixed layout with an irregular byte-array tail ---

type sbReader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *sbReader { return &sbReader{buf: buf} }

func (r *sbReader) u8() uint8 {
	v := r.buf[r.pos]
	r.pos++
	return v
}

// u16/u32 reinterpret raw bytes in the host's native order, mirroring
// the original's raw struct overlay onto the bytes read from disk; the
// caller applies endian.Swap16/Swap32 to correct for a big-endian host,
// exactly as original_source/extfs/superblock.c's super_copy does after
// the overlay.
func (r *sbReader) u16() uint16 {
	v := binary.NativeEndian.Uint16(r.buf[r.pos : r.pos+2])
	r.pos += 2
	return v
}

func (r *sbReader) u32() uint32 {
	v := binary.NativeEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v
}

func (r *sbReader) bytes(n int) []byte {
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v
}

func (r *sbReader) rest() []byte {
	return r.buf[r.pos:]
}

type sbWriter struct {
	buf []byte
	pos int
}

func newWriter(size int) *sbWriter { return &sbWriter{buf: make([]byte, size)} }

func (w *sbWriter) putU8(v uint8) {
	w.buf[w.pos] = v
	w.pos++
}

// putU16/putU32 write v in the host's native byte order; callers pass
// an already endian.Swap-corrected value so the resulting bytes land
// in on-disk (little-endian) order regardless of host endianness,
// mirroring the swap-then-overlay-write half of super_copy/write_superblock.
func (w *sbWriter) putU16(v uint16) {
	binary.NativeEndian.PutUint16(w.buf[w.pos:w.pos+2], v)
	w.pos += 2
}

func (w *sbWriter) putU32(v uint32) {
	binary.NativeEndian.PutUint32(w.buf[w.pos:w.pos+4], v)
	w.pos += 4
}

func (w *sbWriter) putBytes(b []byte) {
	copy(w.buf[w.pos:], b)
	w.pos += len(b)
}
