package ext2

import "github.com/Marvenlee/cheviot-filesystems/internal/endian"

// GroupDesc is the in-memory form of a 32-byte on-disk group
// descriptor (original_source/extfs/ext2.h struct group_desc).
type GroupDesc struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
	// pad + reserved[3] are preserved verbatim for round-tripping,
	// matching gd_copy's field-by-field (not whole-struct) copy.
	tail [14]byte
}

// DecodeGroupDescs splits a raw GDT block range into count descriptors,
// the Go counterpart of copy_group_descriptors/gd_copy
// (original_source/extfs/group_descriptors.c).
func DecodeGroupDescs(buf []byte, count int, swap bool) []GroupDesc {
	out := make([]GroupDesc, count)
	for i := range out {
		b := buf[i*GroupDescSize : (i+1)*GroupDescSize]
		r := newReader(b)
		out[i] = GroupDesc{
			BlockBitmap:     endian.Swap32(swap, r.u32()),
			InodeBitmap:     endian.Swap32(swap, r.u32()),
			InodeTable:      endian.Swap32(swap, r.u32()),
			FreeBlocksCount: endian.Swap16(swap, r.u16()),
			FreeInodesCount: endian.Swap16(swap, r.u16()),
			UsedDirsCount:   endian.Swap16(swap, r.u16()),
		}
		copy(out[i].tail[:], r.rest())
	}
	return out
}

// EncodeGroupDescs is the inverse of DecodeGroupDescs, writing count
// descriptors back into a GDT-sized buffer.
func EncodeGroupDescs(gds []GroupDesc, swap bool) []byte {
	buf := make([]byte, len(gds)*GroupDescSize)
	for i, gd := range gds {
		w := newWriter(GroupDescSize)
		w.putU32(endian.Swap32(swap, gd.BlockBitmap))
		w.putU32(endian.Swap32(swap, gd.InodeBitmap))
		w.putU32(endian.Swap32(swap, gd.InodeTable))
		w.putU16(endian.Swap16(swap, gd.FreeBlocksCount))
		w.putU16(endian.Swap16(swap, gd.FreeInodesCount))
		w.putU16(endian.Swap16(swap, gd.UsedDirsCount))
		w.putBytes(gd.tail[:])
		copy(buf[i*GroupDescSize:], w.buf)
	}
	return buf
}

// CountDirs sums UsedDirsCount across every group, used once at mount
// to seed the directory-locality heuristic's running counter
// (original_source/extfs/group_descriptors.c ext2_count_dirs).
func CountDirs(gds []GroupDesc) uint32 {
	var n uint32
	for _, gd := range gds {
		n += uint32(gd.UsedDirsCount)
	}
	return n
}
