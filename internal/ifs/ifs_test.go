package ifs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Marvenlee/cheviot-filesystems/internal/fserrno"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsproto"
)

// buildImage packs a header plus node table exactly as Load expects,
// with fileData appended after the node table and each node's
// FileOffset pointing into it.
func buildImage(t *testing.T, fileData []byte) []byte {
	t.Helper()

	nodes := []Node{
		{Name: "etc", InodeNr: 1, ParentInodeNr: RootInode, Permissions: 0755},
		{Name: "init", InodeNr: 2, ParentInodeNr: RootInode, Permissions: 0755, FileOffset: 0, FileSize: uint32(len(fileData))},
		{Name: "passwd", InodeNr: 3, ParentInodeNr: 1, Permissions: 0644, FileOffset: 0, FileSize: uint32(len(fileData))},
	}

	nodeTableOffset := uint32(headerSize)
	tableSize := uint32(len(nodes)) * nodeSize
	image := make([]byte, headerSize+tableSize)
	copy(image[0:4], Magic)
	binary.NativeEndian.PutUint32(image[4:8], nodeTableOffset)
	binary.NativeEndian.PutUint32(image[8:12], uint32(len(nodes)))
	binary.NativeEndian.PutUint32(image[12:16], uint32(len(image)+len(fileData)))

	for i, n := range nodes {
		rec := image[int(nodeTableOffset)+i*nodeSize : int(nodeTableOffset)+(i+1)*nodeSize]
		copy(rec[0:nameSize], n.Name)
		binary.NativeEndian.PutUint32(rec[32:36], n.InodeNr)
		binary.NativeEndian.PutUint32(rec[36:40], n.ParentInodeNr)
		binary.NativeEndian.PutUint32(rec[40:44], n.Permissions)
		binary.NativeEndian.PutUint32(rec[44:48], n.UID)
		binary.NativeEndian.PutUint32(rec[48:52], n.GID)
		binary.NativeEndian.PutUint32(rec[52:56], uint32(len(image)))
		binary.NativeEndian.PutUint32(rec[56:60], n.FileSize)
	}

	return append(image, fileData...)
}

func TestLoadAndLookup(t *testing.T) {
	s, err := Load(buildImage(t, []byte("hello world")))
	require.NoError(t, err)

	reply := s.Lookup(fsproto.LookupArgs{DirInode: RootInode, Name: "etc"})
	require.Equal(t, int32(0), reply.Status)
	require.Equal(t, fsproto.InodeID(1), reply.Payload.(fsproto.LookupReply).Inode)

	reply = s.Lookup(fsproto.LookupArgs{DirInode: 1, Name: "passwd"})
	require.Equal(t, int32(0), reply.Status)
	require.Equal(t, fsproto.InodeID(3), reply.Payload.(fsproto.LookupReply).Inode)

	reply = s.Lookup(fsproto.LookupArgs{DirInode: RootInode, Name: "passwd"})
	require.Equal(t, int32(fserrno.ENOENT), reply.Status)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	img := buildImage(t, nil)
	img[0] = 'X'
	_, err := Load(img)
	require.Error(t, err)
}

func TestRead(t *testing.T) {
	s, err := Load(buildImage(t, []byte("hello world")))
	require.NoError(t, err)

	reply := s.Read(fsproto.ReadArgs{Inode: 2, Offset: 0, Size: 5})
	require.Equal(t, int32(5), reply.Status)
	require.Equal(t, []byte("hello"), reply.Data)

	reply = s.Read(fsproto.ReadArgs{Inode: 2, Offset: 11, Size: 10})
	require.Equal(t, int32(0), reply.Status)
	require.Empty(t, reply.Data)
}

func TestReadUnknownInode(t *testing.T) {
	s, err := Load(buildImage(t, []byte("x")))
	require.NoError(t, err)
	reply := s.Read(fsproto.ReadArgs{Inode: 99, Size: 1})
	require.Equal(t, int32(fserrno.ENOENT), reply.Status)
}

func TestWriteRefusedWithEROFS(t *testing.T) {
	s, err := Load(buildImage(t, []byte("x")))
	require.NoError(t, err)
	reply := s.Write(fsproto.WriteArgs{Inode: 2}, []byte("y"))
	require.Equal(t, int32(fserrno.EROFS), reply.Status)
}

func TestReaddirFiltersByParent(t *testing.T) {
	s, err := Load(buildImage(t, []byte("x")))
	require.NoError(t, err)

	reply := s.Readdir(fsproto.ReaddirArgs{Inode: RootInode, Cookie: 0, Size: 4096})
	require.Greater(t, reply.Status, int32(0))
	require.Equal(t, int64(3), reply.Payload.(fsproto.ReaddirReply).Cookie)
}
