package devfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Marvenlee/cheviot-filesystems/internal/fserrno"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsproto"
)

func TestMknodAndLookup(t *testing.T) {
	s := NewServer(4)

	reply := s.Mknod(fsproto.MknodArgs{DirInode: RootInode, Name: "console", Mode: 0620, UID: 1, GID: 2})
	require.Equal(t, int32(0), reply.Status)
	lr := reply.Payload.(fsproto.LookupReply)
	require.NotZero(t, lr.Inode)

	got := s.Lookup(fsproto.LookupArgs{DirInode: RootInode, Name: "console"})
	require.Equal(t, int32(0), got.Status)
	require.Equal(t, lr.Inode, got.Payload.(fsproto.LookupReply).Inode)
}

func TestMknodDuplicate(t *testing.T) {
	s := NewServer(4)
	require.Equal(t, int32(0), s.Mknod(fsproto.MknodArgs{DirInode: RootInode, Name: "null"}).Status)
	reply := s.Mknod(fsproto.MknodArgs{DirInode: RootInode, Name: "null"})
	require.Equal(t, int32(fserrno.EEXIST), reply.Status)
}

func TestMknodFull(t *testing.T) {
	s := NewServer(2) // slot 0 is root, only one device slot available
	require.Equal(t, int32(0), s.Mknod(fsproto.MknodArgs{DirInode: RootInode, Name: "a"}).Status)
	reply := s.Mknod(fsproto.MknodArgs{DirInode: RootInode, Name: "b"})
	require.Equal(t, int32(fserrno.ENOSPC), reply.Status)
}

func TestLookupMissing(t *testing.T) {
	s := NewServer(4)
	reply := s.Lookup(fsproto.LookupArgs{DirInode: RootInode, Name: "nope"})
	require.Equal(t, int32(fserrno.ENOENT), reply.Status)
}

func TestMutatingVerbsRejectedWithEPERM(t *testing.T) {
	s := NewServer(4)
	require.Equal(t, int32(fserrno.EPERM), s.Create(fsproto.CreateArgs{}).Status)
	require.Equal(t, int32(fserrno.EPERM), s.Write(fsproto.WriteArgs{}, nil).Status)
	require.Equal(t, int32(fserrno.EPERM), s.Mkdir(fsproto.MkdirArgs{}).Status)
	require.Equal(t, int32(fserrno.EPERM), s.Rmdir(fsproto.RmdirArgs{}).Status)
	require.Equal(t, int32(fserrno.EPERM), s.Unlink(fsproto.UnlinkArgs{}).Status)
	require.Equal(t, int32(fserrno.EPERM), s.Rename(fsproto.RenameArgs{}).Status)
	require.Equal(t, int32(fserrno.EPERM), s.Truncate(fsproto.TruncateArgs{}).Status)
}

func TestChmodChownAreRealMutations(t *testing.T) {
	s := NewServer(4)
	reply := s.Mknod(fsproto.MknodArgs{DirInode: RootInode, Name: "tty0", Mode: 0600, UID: 0, GID: 0})
	ino := reply.Payload.(fsproto.LookupReply).Inode

	require.Equal(t, int32(0), s.Chmod(fsproto.ChmodArgs{Inode: ino, Mode: 0666}).Status)
	require.Equal(t, int32(0), s.Chown(fsproto.ChownArgs{Inode: ino, UID: 7, GID: 8}).Status)

	got := s.Lookup(fsproto.LookupArgs{DirInode: RootInode, Name: "tty0"}).Payload.(fsproto.LookupReply)
	require.Equal(t, uint32(0666), got.Mode)
	require.Equal(t, uint32(7), got.UID)
	require.Equal(t, uint32(8), got.GID)
}

func TestChmodUnknownInode(t *testing.T) {
	s := NewServer(4)
	require.Equal(t, int32(fserrno.ENOENT), s.Chmod(fsproto.ChmodArgs{Inode: 99}).Status)
}

func TestReaddirListsRegisteredDevices(t *testing.T) {
	s := NewServer(8)
	require.Equal(t, int32(0), s.Mknod(fsproto.MknodArgs{DirInode: RootInode, Name: "a"}).Status)
	require.Equal(t, int32(0), s.Mknod(fsproto.MknodArgs{DirInode: RootInode, Name: "bb"}).Status)

	reply := s.Readdir(fsproto.ReaddirArgs{Inode: RootInode, Cookie: 0, Size: 4096})
	require.Greater(t, reply.Status, int32(0))
	require.Equal(t, int64(8), reply.Payload.(fsproto.ReaddirReply).Cookie)
}
