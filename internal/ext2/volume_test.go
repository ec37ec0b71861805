package ext2

import (
	"encoding/binary"
	"testing"

	"github.com/Marvenlee/cheviot-filesystems/internal/fserrno"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsproto"
	"github.com/Marvenlee/cheviot-filesystems/testutil"
)

// buildMountableDevice lays out buildSuperblockBuffer's geometry (1
// group, 1024-byte blocks, 2048 blocks total) onto a MemDevice large
// enough to hold it, with a single valid group descriptor at the GDT
// position ComputeDerived computes for that geometry.
func buildMountableDevice(t *testing.T) *testutil.MemDevice {
	t.Helper()
	dev := testutil.NewMemDevice(2048, 1024)
	dev.WriteAtRaw(SuperblockOffset, buildSuperblockBuffer(t))

	gd := []GroupDesc{{BlockBitmap: 3, InodeBitmap: 4, InodeTable: 5, FreeBlocksCount: 2000, FreeInodesCount: 100}}
	dev.WriteAtRaw(2048, EncodeGroupDescs(gd, false))
	return dev
}

func TestMountAcceptsSupportedFeatureBits(t *testing.T) {
	dev := buildMountableDevice(t)

	v, err := Mount(dev, false, 16)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if v.ReadOnly {
		t.Fatalf("Mount forced read-only with no unsupported ro_compat bits set")
	}
}

func TestMountRejectsUnsupportedIncompatFeature(t *testing.T) {
	dev := buildMountableDevice(t)
	buf := make([]byte, SuperblockSize)
	dev.ReadAt(buf, SuperblockOffset)
	binary.NativeEndian.PutUint32(buf[96:100], FeatureIncompatCompression) // not in SupportedIncompat
	dev.WriteAtRaw(SuperblockOffset, buf)

	if _, err := Mount(dev, false, 16); err == nil {
		t.Fatalf("Mount accepted an unsupported incompat feature bit")
	}
}

func TestMountForcesReadOnlyOnUnsupportedRoCompatFeature(t *testing.T) {
	dev := buildMountableDevice(t)
	buf := make([]byte, SuperblockSize)
	dev.ReadAt(buf, SuperblockOffset)
	binary.NativeEndian.PutUint32(buf[100:104], FeatureRoCompatBtreeDir) // not in SupportedRoCompat
	dev.WriteAtRaw(SuperblockOffset, buf)

	v, err := Mount(dev, false, 16)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if !v.ReadOnly {
		t.Fatalf("Mount did not force read-only for an unsupported ro_compat feature bit")
	}

	s := NewServer(v)
	reply := s.Chmod(fsproto.ChmodArgs{Inode: fsproto.InodeID(RootInode), Mode: 0644})
	if reply.Status != int32(fserrno.EROFS) {
		t.Fatalf("Chmod on a forced-read-only volume: status = %d, want EROFS", reply.Status)
	}
}
