package ext2

import "testing"

func TestAllocBitFindsFirstClear(t *testing.T) {
	bitmap := make([]byte, 4)
	bitmap[0] = 0b00000111 // bits 0,1,2 set

	idx := allocBit(bitmap, 32, 0)
	if idx != 3 {
		t.Fatalf("allocBit: got %d, want 3", idx)
	}
	if !testBit(bitmap, 3) {
		t.Fatalf("allocBit did not set bit 3")
	}
}

func TestAllocBitSkipsFullWords(t *testing.T) {
	bitmap := make([]byte, 8)
	bitmap[0], bitmap[1], bitmap[2], bitmap[3] = 0xff, 0xff, 0xff, 0xff // word 0 full
	bitmap[4] = 0x01                                                   // word 1, bit 32 set

	idx := allocBit(bitmap, 64, 0)
	if idx != 33 {
		t.Fatalf("allocBit: got %d, want 33", idx)
	}
}

func TestAllocBitExhausted(t *testing.T) {
	bitmap := []byte{0xff, 0xff, 0xff, 0xff}
	if idx := allocBit(bitmap, 32, 0); idx != -1 {
		t.Fatalf("allocBit on full bitmap: got %d, want -1", idx)
	}
}

func TestAllocBitRespectsMaxBitsPartialWord(t *testing.T) {
	bitmap := []byte{0xff, 0x00, 0x00, 0x00}
	// Only the low 8 bits are in range; the rest of the word is padding
	// beyond maxBits and must not be reported as free.
	if idx := allocBit(bitmap, 8, 0); idx != -1 {
		t.Fatalf("allocBit beyond maxBits: got %d, want -1", idx)
	}
}

func TestClearBitRoundTrip(t *testing.T) {
	bitmap := make([]byte, 4)
	idx := uint32(allocBit(bitmap, 32, 0))
	if !testBit(bitmap, idx) {
		t.Fatalf("bit %d not set after allocBit", idx)
	}
	if !clearBit(bitmap, idx) {
		t.Fatalf("clearBit reported already-clear for a set bit")
	}
	if testBit(bitmap, idx) {
		t.Fatalf("bit %d still set after clearBit", idx)
	}
}

func TestClearBitAlreadyClear(t *testing.T) {
	bitmap := make([]byte, 4)
	if clearBit(bitmap, 5) {
		t.Fatalf("clearBit on an already-clear bit should report false")
	}
}

func TestAllocBitResumesFromStartWord(t *testing.T) {
	bitmap := make([]byte, 8)
	// Leave word 0 entirely free but tell allocBit to start scanning at
	// word 1, mirroring the volume's search_cluster-style resume hint.
	idx := allocBit(bitmap, 64, 1)
	if idx != 32 {
		t.Fatalf("allocBit with startWord=1: got %d, want 32", idx)
	}
}
