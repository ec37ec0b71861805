package ext2

import "testing"

func TestGroupDescRoundTrip(t *testing.T) {
	gds := []GroupDesc{
		{BlockBitmap: 3, InodeBitmap: 4, InodeTable: 5, FreeBlocksCount: 100, FreeInodesCount: 50, UsedDirsCount: 2},
		{BlockBitmap: 8195, InodeBitmap: 8196, InodeTable: 8197, FreeBlocksCount: 200, FreeInodesCount: 60, UsedDirsCount: 1},
	}

	buf := EncodeGroupDescs(gds, false)
	if len(buf) != len(gds)*GroupDescSize {
		t.Fatalf("EncodeGroupDescs length = %d, want %d", len(buf), len(gds)*GroupDescSize)
	}

	decoded := DecodeGroupDescs(buf, len(gds), false)
	for i := range gds {
		if decoded[i] != gds[i] {
			t.Fatalf("group %d round trip mismatch: got %+v, want %+v", i, decoded[i], gds[i])
		}
	}
}

func TestCountDirs(t *testing.T) {
	gds := []GroupDesc{{UsedDirsCount: 3}, {UsedDirsCount: 5}, {UsedDirsCount: 0}}
	if got := CountDirs(gds); got != 8 {
		t.Fatalf("CountDirs = %d, want 8", got)
	}
}

func TestGroupDescSwap(t *testing.T) {
	gds := []GroupDesc{{BlockBitmap: 0x01020304, FreeBlocksCount: 0x0a0b}}
	buf := EncodeGroupDescs(gds, true)
	decoded := DecodeGroupDescs(buf, 1, true)
	if decoded[0].BlockBitmap != gds[0].BlockBitmap || decoded[0].FreeBlocksCount != gds[0].FreeBlocksCount {
		t.Fatalf("swapped round trip mismatch: got %+v, want %+v", decoded[0], gds[0])
	}
}
