package fatfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Marvenlee/cheviot-filesystems/internal/fserrno"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsproto"
	"github.com/Marvenlee/cheviot-filesystems/internal/testutil"
)

// newFixtureVolume builds a minimal unpartitioned FAT12 volume: 512-byte
// sectors, one sector per cluster, a single FAT copy, and a 16-entry
// (one-sector) root directory, small enough to mount entirely in memory.
func newFixtureVolume(t *testing.T) (*testutil.MemDevice, *Volume) {
	t.Helper()

	const numSectors = 64
	dev := testutil.NewMemDevice(numSectors, SectorSize)

	boot := make([]byte, SectorSize)
	putU16 := func(off int, v uint16) { boot[off], boot[off+1] = byte(v), byte(v>>8) }
	putU32 := func(off int, v uint32) {
		boot[off], boot[off+1], boot[off+2], boot[off+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	}
	putU16(11, SectorSize)  // bytes per sector
	boot[13] = 1            // sectors per cluster
	putU16(14, 1)           // reserved sectors
	boot[16] = 1            // FAT count
	putU16(17, 16)          // root entries count (one sector's worth)
	putU16(19, numSectors)  // total sectors (16-bit)
	boot[21] = 0xf8         // media type
	putU16(22, 2)           // sectors per FAT
	putU32(32, 0)           // total sectors (32-bit), unused here

	dev.WriteAtRaw(0, boot)

	vol, err := Mount(dev, 32)
	require.NoError(t, err)
	require.Equal(t, FAT12, vol.Derived.Type)
	return dev, vol
}

func TestCreateWriteRead(t *testing.T) {
	_, vol := newFixtureVolume(t)
	s := NewServer(vol, 1000, 1000)

	reply := s.Create(fsproto.CreateArgs{DirInode: fsproto.InodeID(RootInode), Name: "test.txt"})
	require.Equal(t, int32(0), reply.Status)
	ino := reply.Payload.(fsproto.LookupReply).Inode

	wreply := s.Write(fsproto.WriteArgs{Inode: ino, Offset: 0, Size: 11}, []byte("hello fatfs"))
	require.Equal(t, int32(11), wreply.Status)

	rreply := s.Read(fsproto.ReadArgs{Inode: ino, Offset: 0, Size: 64})
	require.Equal(t, int32(11), rreply.Status)
	require.Equal(t, []byte("hello fatfs"), rreply.Data)

	lreply := s.Lookup(fsproto.LookupArgs{DirInode: fsproto.InodeID(RootInode), Name: "test.txt"})
	require.Equal(t, int32(0), lreply.Status)
	require.Equal(t, int64(11), lreply.Payload.(fsproto.LookupReply).Size)
}

func TestCreateDuplicateAndNameTooLong(t *testing.T) {
	_, vol := newFixtureVolume(t)
	s := NewServer(vol, 0, 0)

	require.Equal(t, int32(0), s.Create(fsproto.CreateArgs{DirInode: fsproto.InodeID(RootInode), Name: "a.txt"}).Status)

	reply := s.Create(fsproto.CreateArgs{DirInode: fsproto.InodeID(RootInode), Name: "toolongname.txt"})
	require.Equal(t, int32(fserrno.ENAMETOOLONG), reply.Status)
}

func TestMkdirDotAndDotDot(t *testing.T) {
	_, vol := newFixtureVolume(t)
	s := NewServer(vol, 0, 0)

	reply := s.Mkdir(fsproto.MkdirArgs{DirInode: fsproto.InodeID(RootInode), Name: "sub"})
	require.Equal(t, int32(0), reply.Status)
	subIno := reply.Payload.(fsproto.LookupReply).Inode

	lookupDot := s.Lookup(fsproto.LookupArgs{DirInode: subIno, Name: "."})
	require.Equal(t, int32(0), lookupDot.Status)
	lookupDotDot := s.Lookup(fsproto.LookupArgs{DirInode: subIno, Name: ".."})
	require.Equal(t, int32(0), lookupDotDot.Status)
}

func TestRmdirRequiresEmpty(t *testing.T) {
	_, vol := newFixtureVolume(t)
	s := NewServer(vol, 0, 0)

	mkReply := s.Mkdir(fsproto.MkdirArgs{DirInode: fsproto.InodeID(RootInode), Name: "sub"})
	require.Equal(t, int32(0), mkReply.Status)
	subIno := mkReply.Payload.(fsproto.LookupReply).Inode

	createReply := s.Create(fsproto.CreateArgs{DirInode: subIno, Name: "f.txt"})
	require.Equal(t, int32(0), createReply.Status)

	rmReply := s.Rmdir(fsproto.RmdirArgs{DirInode: fsproto.InodeID(RootInode), Name: "sub"})
	require.Equal(t, int32(fserrno.ENOTEMPTY), rmReply.Status)

	require.Equal(t, int32(0), s.Unlink(fsproto.UnlinkArgs{DirInode: subIno, Name: "f.txt"}).Status)
	require.Equal(t, int32(0), s.Rmdir(fsproto.RmdirArgs{DirInode: fsproto.InodeID(RootInode), Name: "sub"}).Status)
}

func TestRmdirRefusesRoot(t *testing.T) {
	_, vol := newFixtureVolume(t)
	s := NewServer(vol, 0, 0)

	reply := s.Rmdir(fsproto.RmdirArgs{DirInode: fsproto.InodeID(RootInode), Name: "."})
	require.Equal(t, int32(fserrno.EINVAL), reply.Status)
}

func TestUnlinkRefusesDirectory(t *testing.T) {
	_, vol := newFixtureVolume(t)
	s := NewServer(vol, 0, 0)

	require.Equal(t, int32(0), s.Mkdir(fsproto.MkdirArgs{DirInode: fsproto.InodeID(RootInode), Name: "sub"}).Status)
	reply := s.Unlink(fsproto.UnlinkArgs{DirInode: fsproto.InodeID(RootInode), Name: "sub"})
	require.Equal(t, int32(fserrno.EISDIR), reply.Status)
}

func TestRename(t *testing.T) {
	_, vol := newFixtureVolume(t)
	s := NewServer(vol, 0, 0)

	createReply := s.Create(fsproto.CreateArgs{DirInode: fsproto.InodeID(RootInode), Name: "old.txt"})
	require.Equal(t, int32(0), createReply.Status)
	ino := createReply.Payload.(fsproto.LookupReply).Inode
	require.Equal(t, int32(1), s.Write(fsproto.WriteArgs{Inode: ino, Offset: 0, Size: 1}, []byte("x")).Status)

	reply := s.Rename(fsproto.RenameArgs{
		SrcDirInode: fsproto.InodeID(RootInode), SrcName: "old.txt",
		DstDirInode: fsproto.InodeID(RootInode), DstName: "new.txt",
	})
	require.Equal(t, int32(0), reply.Status)

	require.Equal(t, int32(fserrno.ENOENT), s.Lookup(fsproto.LookupArgs{DirInode: fsproto.InodeID(RootInode), Name: "old.txt"}).Status)
	got := s.Lookup(fsproto.LookupArgs{DirInode: fsproto.InodeID(RootInode), Name: "new.txt"})
	require.Equal(t, int32(0), got.Status)
	require.Equal(t, int64(1), got.Payload.(fsproto.LookupReply).Size)
}

func TestTruncateGrowAndShrink(t *testing.T) {
	_, vol := newFixtureVolume(t)
	s := NewServer(vol, 0, 0)

	createReply := s.Create(fsproto.CreateArgs{DirInode: fsproto.InodeID(RootInode), Name: "t.bin"})
	ino := createReply.Payload.(fsproto.LookupReply).Inode
	require.Equal(t, int32(4), s.Write(fsproto.WriteArgs{Inode: ino, Size: 4}, []byte("abcd")).Status)

	require.Equal(t, int32(0), s.Truncate(fsproto.TruncateArgs{Inode: ino, Size: 8}).Status)
	got := s.Lookup(fsproto.LookupArgs{DirInode: fsproto.InodeID(RootInode), Name: "t.bin"})
	require.Equal(t, int64(8), got.Payload.(fsproto.LookupReply).Size)

	require.Equal(t, int32(0), s.Truncate(fsproto.TruncateArgs{Inode: ino, Size: 2}).Status)
	got = s.Lookup(fsproto.LookupArgs{DirInode: fsproto.InodeID(RootInode), Name: "t.bin"})
	require.Equal(t, int64(2), got.Payload.(fsproto.LookupReply).Size)

	require.Equal(t, int32(0), s.Truncate(fsproto.TruncateArgs{Inode: ino, Size: 0}).Status)
	got = s.Lookup(fsproto.LookupArgs{DirInode: fsproto.InodeID(RootInode), Name: "t.bin"})
	require.Equal(t, int64(0), got.Payload.(fsproto.LookupReply).Size)

	// Truncating an already-empty file to zero must stay a no-op rather
	// than freeing a chain twice (the corrected guard in truncateFile).
	require.Equal(t, int32(0), s.Truncate(fsproto.TruncateArgs{Inode: ino, Size: 0}).Status)
}

func TestReaddirListsEntries(t *testing.T) {
	_, vol := newFixtureVolume(t)
	s := NewServer(vol, 0, 0)

	require.Equal(t, int32(0), s.Create(fsproto.CreateArgs{DirInode: fsproto.InodeID(RootInode), Name: "a.txt"}).Status)
	require.Equal(t, int32(0), s.Create(fsproto.CreateArgs{DirInode: fsproto.InodeID(RootInode), Name: "b.txt"}).Status)

	reply := s.Readdir(fsproto.ReaddirArgs{Inode: fsproto.InodeID(RootInode), Cookie: 0, Size: 4096})
	require.Greater(t, reply.Status, int32(0))
}

func TestMknodUnsupported(t *testing.T) {
	_, vol := newFixtureVolume(t)
	s := NewServer(vol, 0, 0)
	reply := s.Mknod(fsproto.MknodArgs{DirInode: fsproto.InodeID(RootInode), Name: "dev"})
	require.Equal(t, int32(fserrno.ENOTSUP), reply.Status)
}

func TestChmodTogglesReadOnlyAttr(t *testing.T) {
	_, vol := newFixtureVolume(t)
	s := NewServer(vol, 0, 0)

	createReply := s.Create(fsproto.CreateArgs{DirInode: fsproto.InodeID(RootInode), Name: "r.txt"})
	ino := createReply.Payload.(fsproto.LookupReply).Inode

	require.Equal(t, int32(0), s.Chmod(fsproto.ChmodArgs{Inode: ino, Mode: 0444}).Status)
	got := s.Lookup(fsproto.LookupArgs{DirInode: fsproto.InodeID(RootInode), Name: "r.txt"})
	require.Zero(t, got.Payload.(fsproto.LookupReply).Mode&0222)

	require.Equal(t, int32(0), s.Chmod(fsproto.ChmodArgs{Inode: ino, Mode: 0644}).Status)
	got = s.Lookup(fsproto.LookupArgs{DirInode: fsproto.InodeID(RootInode), Name: "r.txt"})
	require.NotZero(t, got.Payload.(fsproto.LookupReply).Mode&0222)
}
