// Package blockdev provides the byte-addressable random-access handle
// to the backing medium that every server reads and writes fixed-size
// blocks through. It funnels all device I/O through single synchronous
// pread/pwrite calls, matching the original handler's open(O_RDWR) plus
// blocking-read-per-block discipline (SPEC_FULL.md §3, §5 "Device I/O
// is synchronous; the process yields to the kernel for the duration").
package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Device is a block device or a regular file standing in for one.
type Device struct {
	f        *os.File
	readOnly bool
}

// Open opens path for block I/O. When readOnly is true the device is
// opened O_RDONLY and ReadAt succeeds while WriteAt fails, backing
// the `-r` CLI flag (SPEC_FULL.md §6.3).
func Open(path string, readOnly bool) (*Device, error) {
	flags := unix.O_SYNC
	if readOnly {
		flags |= unix.O_RDONLY
	} else {
		flags |= unix.O_RDWR
	}

	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	return &Device{f: f, readOnly: readOnly}, nil
}

// Size returns the device's size in bytes.
func (d *Device) Size() (int64, error) {
	fi, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// ReadAt reads exactly len(buf) bytes starting at byte offset off. The
// caller supplies a buffer already sized to one block (or the
// superblock's fixed 1024 bytes).
func (d *Device) ReadAt(buf []byte, off int64) error {
	n, err := d.f.ReadAt(buf, off)
	if err != nil {
		return fmt.Errorf("blockdev: read at %d: %w", off, err)
	}
	if n != len(buf) {
		return fmt.Errorf("blockdev: short read at %d: got %d want %d", off, n, len(buf))
	}
	return nil
}

// WriteAt writes exactly len(buf) bytes starting at byte offset off.
func (d *Device) WriteAt(buf []byte, off int64) error {
	if d.readOnly {
		return fmt.Errorf("blockdev: write to read-only device")
	}
	n, err := d.f.WriteAt(buf, off)
	if err != nil {
		return fmt.Errorf("blockdev: write at %d: %w", off, err)
	}
	if n != len(buf) {
		return fmt.Errorf("blockdev: short write at %d: wrote %d want %d", off, n, len(buf))
	}
	return nil
}

// Close closes the underlying file descriptor.
func (d *Device) Close() error {
	return d.f.Close()
}

// ReadOnly reports whether the device was opened read-only.
func (d *Device) ReadOnly() bool { return d.readOnly }
