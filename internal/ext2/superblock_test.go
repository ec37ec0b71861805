package ext2

import (
	"encoding/binary"
	"testing"
)

// buildSuperblockBuffer writes a minimal valid superblock directly at
// DecodeSuperblock's field offsets, in host-native order (swap=false).
func buildSuperblockBuffer(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, SuperblockSize)
	putU32 := func(off int, v uint32) { binary.NativeEndian.PutUint32(buf[off:off+4], v) }
	putU16 := func(off int, v uint16) { binary.NativeEndian.PutUint16(buf[off:off+2], v) }

	putU32(0, 128)   // InodesCount
	putU32(4, 2048)  // BlocksCount
	putU32(8, 0)     // RBlocksCount
	putU32(12, 2000) // FreeBlocksCount
	putU32(16, 100)  // FreeInodesCount
	putU32(20, 1)    // FirstDataBlock
	putU32(24, 0)    // LogBlockSize -> block size 1024
	putU32(28, 0)    // LogFragSize
	putU32(32, 8192) // BlocksPerGroup
	putU32(36, 8192) // FragsPerGroup
	putU32(40, 128)  // InodesPerGroup
	putU16(56, SuperMagic)
	putU32(76, DynamicRev) // RevLevel
	putU32(84, 11)         // FirstIno
	putU16(88, 128)        // InodeSize

	return buf
}

func TestDecodeSuperblockRejectsBadMagic(t *testing.T) {
	buf := buildSuperblockBuffer(t)
	binary.NativeEndian.PutUint16(buf[56:58], 0x1234)
	if _, err := DecodeSuperblock(buf, false); err == nil {
		t.Fatalf("DecodeSuperblock accepted a bad magic")
	}
}

func TestDecodeSuperblockRejectsWrongLength(t *testing.T) {
	if _, err := DecodeSuperblock(make([]byte, 100), false); err == nil {
		t.Fatalf("DecodeSuperblock accepted a short buffer")
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	buf := buildSuperblockBuffer(t)
	sb, err := DecodeSuperblock(buf, false)
	if err != nil {
		t.Fatalf("DecodeSuperblock: %v", err)
	}
	if sb.InodesCount != 128 || sb.BlocksCount != 2048 || sb.InodesPerGroup != 128 {
		t.Fatalf("decoded fields mismatch: %+v", sb)
	}

	out := sb.Encode(false)
	if len(out) != SuperblockSize {
		t.Fatalf("Encode length = %d, want %d", len(out), SuperblockSize)
	}
	sb2, err := DecodeSuperblock(out, false)
	if err != nil {
		t.Fatalf("DecodeSuperblock(Encode(sb)): %v", err)
	}
	if *sb2 != *sb {
		t.Fatalf("round trip mismatch:\n  got  %+v\n  want %+v", sb2, sb)
	}
}

func TestComputeDerived(t *testing.T) {
	sb, err := DecodeSuperblock(buildSuperblockBuffer(t), false)
	if err != nil {
		t.Fatalf("DecodeSuperblock: %v", err)
	}

	d, err := ComputeDerived(sb)
	if err != nil {
		t.Fatalf("ComputeDerived: %v", err)
	}
	if d.BlockSize != 1024 {
		t.Errorf("BlockSize = %d, want 1024", d.BlockSize)
	}
	if d.InodesPerBlock != 8 {
		t.Errorf("InodesPerBlock = %d, want 8", d.InodesPerBlock)
	}
	if d.InodeTableBlocksPerGroup != 16 {
		t.Errorf("InodeTableBlocksPerGroup = %d, want 16", d.InodeTableBlocksPerGroup)
	}
	if d.GroupsCount != 1 {
		t.Errorf("GroupsCount = %d, want 1", d.GroupsCount)
	}
	if d.GDTBytePosition != 2048 {
		t.Errorf("GDTBytePosition = %d, want 2048", d.GDTBytePosition)
	}
}

func TestComputeDerivedRejectsZeroInodesPerGroup(t *testing.T) {
	sb, err := DecodeSuperblock(buildSuperblockBuffer(t), false)
	if err != nil {
		t.Fatalf("DecodeSuperblock: %v", err)
	}
	sb.InodesPerGroup = 0
	if _, err := ComputeDerived(sb); err == nil {
		t.Fatalf("ComputeDerived accepted InodesPerGroup == 0")
	}
}

func TestComputeDerivedRejectsBadInodeSize(t *testing.T) {
	sb, err := DecodeSuperblock(buildSuperblockBuffer(t), false)
	if err != nil {
		t.Fatalf("DecodeSuperblock: %v", err)
	}
	sb.InodeSize = 100 // not a power of two
	if _, err := ComputeDerived(sb); err == nil {
		t.Fatalf("ComputeDerived accepted a non-power-of-two inode size")
	}
}
