package ext2

import "testing"

func TestInodeEncodeDecodeRoundTrip(t *testing.T) {
	oi := &OndiskInode{
		Mode:       ModeReg | 0644,
		UID:        1000,
		Size:       4096,
		Atime:      1000,
		Ctime:      1001,
		Mtime:      1002,
		GID:        1000,
		LinksCount: 1,
		Blocks:     8,
		Generation: 7,
	}
	oi.Block[0] = 50
	oi.Block[IndBlock] = 99

	buf := oi.Encode(false)
	if len(buf) != OndiskInodeSize {
		t.Fatalf("Encode length = %d, want %d", len(buf), OndiskInodeSize)
	}

	got := DecodeInode(buf, false)
	if *got != *oi {
		t.Fatalf("round trip mismatch:\n  got  %+v\n  want %+v", got, oi)
	}
}

func TestInodeTypePredicates(t *testing.T) {
	cases := []struct {
		mode                    uint16
		isDir, isReg, isSymlink bool
	}{
		{ModeDir | 0755, true, false, false},
		{ModeReg | 0644, false, true, false},
		{ModeSymlnk | 0777, false, false, true},
		{ModeChr | 0600, false, false, false},
	}
	for _, c := range cases {
		oi := &OndiskInode{Mode: c.mode}
		if oi.IsDir() != c.isDir || oi.IsReg() != c.isReg || oi.IsSymlink() != c.isSymlink {
			t.Errorf("mode %#o: IsDir=%v IsReg=%v IsSymlink=%v, want %v/%v/%v",
				c.mode, oi.IsDir(), oi.IsReg(), oi.IsSymlink(), c.isDir, c.isReg, c.isSymlink)
		}
	}
}

func TestInodeSwapRoundTrip(t *testing.T) {
	oi := &OndiskInode{Mode: ModeReg | 0644, Size: 0x01020304, UID: 0x0a0b}
	buf := oi.Encode(true)
	got := DecodeInode(buf, true)
	if got.Size != oi.Size || got.UID != oi.UID || got.Mode != oi.Mode {
		t.Fatalf("swapped round trip mismatch: got %+v, want %+v", got, oi)
	}
}
