package ext2

import (
	"testing"

	"github.com/Marvenlee/cheviot-filesystems/internal/blockcache"
)

func TestDirentActualSizeAligns(t *testing.T) {
	cases := []struct {
		nameLen uint8
		want    int
	}{
		{1, 12}, // header(8)+1 = 9, rounds up to 12
		{4, 12}, // header(8)+4 = 12, already aligned
		{5, 16}, // header(8)+5 = 13, rounds up to 16
	}
	for _, c := range cases {
		if got := direntActualSize(c.nameLen); got != c.want {
			t.Errorf("direntActualSize(%d) = %d, want %d", c.nameLen, got, c.want)
		}
	}
}

func TestPackAndWireDirentRecLen(t *testing.T) {
	entries := []DirEntry{
		{Ino: 2, Name: ".", FileType: FtDir},
		{Ino: 11, Name: "..", FileType: FtDir},
		{Ino: 12, Name: "longer-name.txt", FileType: FtRegFile},
	}

	buf := make([]byte, 4096)
	out, n := PackDirents(entries, buf)
	if n != len(entries) {
		t.Fatalf("PackDirents packed %d entries, want %d", n, len(entries))
	}

	off := 0
	for _, e := range entries {
		wantLen := wireDirentRecLen(len(e.Name))
		if off+wantLen > len(out) {
			t.Fatalf("packed output shorter than expected at entry %q", e.Name)
		}
		ino := direntIno(out, off)
		if ino != e.Ino {
			t.Errorf("entry %q: ino = %d, want %d", e.Name, ino, e.Ino)
		}
		if nameLen := out[off+6]; int(nameLen) != len(e.Name) {
			t.Errorf("entry %q: name len = %d, want %d", e.Name, nameLen, len(e.Name))
		}
		if ft := out[off+7]; ft != e.FileType {
			t.Errorf("entry %q: file type = %d, want %d", e.Name, ft, e.FileType)
		}
		off += wantLen
	}
}

func TestPackDirentsStopsWhenBufferFull(t *testing.T) {
	entries := []DirEntry{
		{Ino: 1, Name: "a", FileType: FtRegFile},
		{Ino: 2, Name: "b", FileType: FtRegFile},
		{Ino: 3, Name: "c", FileType: FtRegFile},
	}
	recLen := wireDirentRecLen(1)

	out, n := PackDirents(entries, make([]byte, recLen*2))
	if len(out) != recLen*2 {
		t.Fatalf("PackDirents packed %d bytes, want exactly %d (2 entries)", len(out), recLen*2)
	}
	if n != 2 {
		t.Fatalf("PackDirents reported %d entries packed, want 2", n)
	}
}

func TestFindDirentFreeSpaceInUnusedSlot(t *testing.T) {
	buf := &blockcache.Buffer{Data: make([]byte, 64)}
	direntSetIno(buf.Data, 0, NoEntry)
	direntSetRecLen(buf.Data, 0, 64)

	off, ok := findDirentFreeSpace(buf, direntActualSize(3), 64)
	if !ok || off != 0 {
		t.Fatalf("findDirentFreeSpace: got (%d, %v), want (0, true)", off, ok)
	}
}

func TestFindDirentFreeSpaceByShrinking(t *testing.T) {
	buf := &blockcache.Buffer{Data: make([]byte, 64)}
	// One used entry named "a" occupying the whole 64-byte block, with
	// far more trailing padding than its contents need.
	direntSetIno(buf.Data, 0, RootInode)
	direntSetRecLen(buf.Data, 0, 64)
	direntSetNameLen(buf.Data, 0, 1)
	direntSetName(buf.Data, 0, "a")

	off, ok := findDirentFreeSpace(buf, direntActualSize(3), 64)
	if !ok {
		t.Fatalf("findDirentFreeSpace: expected to find space by shrinking")
	}
	if gotLen := direntRecLen(buf.Data, 0); gotLen != uint16(direntActualSize(1)) {
		t.Errorf("original entry rec_len = %d, want %d (shrunk to actual size)", gotLen, direntActualSize(1))
	}
	if off != direntActualSize(1) {
		t.Errorf("new free slot offset = %d, want %d", off, direntActualSize(1))
	}
	if direntIno(buf.Data, off) != NoEntry {
		t.Errorf("new free slot not marked NoEntry")
	}
}

// TestReaddirCookieDoesNotSkipUndeliveredEntries reproduces
// Server.Readdir's cookie computation directly: when the wire buffer
// is too small to hold every entry the scan found, the resume cookie
// must point at the last entry actually packed, not past entries that
// were scanned but never delivered.
func TestReaddirCookieDoesNotSkipUndeliveredEntries(t *testing.T) {
	entries := []DirEntry{
		{Ino: 1, Name: "a", FileType: FtRegFile, NextPos: 12},
		{Ino: 2, Name: "b", FileType: FtRegFile, NextPos: 24},
		{Ino: 3, Name: "c", FileType: FtRegFile, NextPos: 36},
	}
	recLen := wireDirentRecLen(1)
	const scanCookie = 999 // what Readdir itself would return, unused here

	packed, n := PackDirents(entries, make([]byte, recLen*2))
	if n != 2 {
		t.Fatalf("PackDirents packed %d entries, want 2", n)
	}
	if len(packed) != recLen*2 {
		t.Fatalf("packed %d bytes, want %d", len(packed), recLen*2)
	}

	nextCookie := int64(scanCookie)
	if n < len(entries) {
		if n > 0 {
			nextCookie = entries[n-1].NextPos
		} else {
			nextCookie = 0
		}
	}

	if nextCookie != entries[1].NextPos {
		t.Fatalf("resume cookie = %d, want %d (entry %q's NextPos, not the scan cookie %d or entry %q's)",
			nextCookie, entries[1].NextPos, entries[1].Name, scanCookie, entries[2].Name)
	}
}

func TestSeekToValidDirentSkipsPriorRecords(t *testing.T) {
	buf := &blockcache.Buffer{Data: make([]byte, 64)}
	direntSetRecLen(buf.Data, 0, 16)
	direntSetIno(buf.Data, 0, RootInode)
	direntSetRecLen(buf.Data, 16, 48)
	direntSetIno(buf.Data, 16, RootInode+1)

	off := seekToValidDirent(buf, 16, 64)
	if off != 16 {
		t.Fatalf("seekToValidDirent(pos=16) = %d, want 16", off)
	}

	// A pos landing mid-record (as a stale cookie might after a delete)
	// re-seeks back to the last valid record boundary at or before it.
	off = seekToValidDirent(buf, 40, 64)
	if off != 16 {
		t.Fatalf("seekToValidDirent(pos=40, mid-record) = %d, want 16", off)
	}
}
