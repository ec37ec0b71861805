// Package testutil provides fixture doubles for exercising the
// filesystem servers without a real block device, patterned on the
// teacher fleet's clock.FakeClock/SimulatedClock convention of a test
// double sharing its production counterpart's interface
// (blockcache.Device / blockdev.Device here).
package testutil

import (
	"testing"
)

// MemDevice is an in-memory block device backing tests for blockcache,
// ext2, and fatfs. It implements the same ReadAt/WriteAt interface as
// blockdev.Device.
type MemDevice struct {
	data      []byte
	blockSize int
}

// NewMemDevice allocates an in-memory device of numBlocks blocks of
// blockSize bytes each, zero-filled.
func NewMemDevice(numBlocks, blockSize int) *MemDevice {
	return &MemDevice{
		data:      make([]byte, numBlocks*blockSize),
		blockSize: blockSize,
	}
}

func (d *MemDevice) ReadAt(buf []byte, off int64) error {
	copy(buf, d.data[off:off+int64(len(buf))])
	return nil
}

func (d *MemDevice) WriteAt(buf []byte, off int64) error {
	copy(d.data[off:off+int64(len(buf))], buf)
	return nil
}

// Size returns the device's total size in bytes, matching
// blockdev.Device.Size.
func (d *MemDevice) Size() (int64, error) {
	return int64(len(d.data)), nil
}

// WriteBlock fills block's bytes with a repeated value, a convenience
// for seeding fixtures directly (bypassing the cache under test).
func (d *MemDevice) WriteBlock(t testing.TB, block uint32, blockSize int, fill byte) {
	t.Helper()
	off := int64(block) * int64(blockSize)
	for i := int64(0); i < int64(blockSize); i++ {
		d.data[off+i] = fill
	}
}

// ReadBlockForTest returns a copy of block's raw bytes for assertions.
func (d *MemDevice) ReadBlockForTest(t testing.TB, block uint32, blockSize int) []byte {
	t.Helper()
	off := int64(block) * int64(blockSize)
	out := make([]byte, blockSize)
	copy(out, d.data[off:off+int64(blockSize)])
	return out
}

// WriteAtRaw writes raw bytes at an arbitrary byte offset, used to seed
// superblocks/GDTs/directory blocks directly in fixture construction.
func (d *MemDevice) WriteAtRaw(off int64, buf []byte) {
	copy(d.data[off:off+int64(len(buf))], buf)
}
