// Package ifs implements the read-only bootstrap image filesystem: a
// hierarchical tree of files packed into a single image by the build
// system and mounted read-only at early boot, before any real
// filesystem driver is available (SPEC_FULL.md §5.14). Grounded on
// original_source/ifs's ifs.h/globals.c/init.c/main.c, which map the
// image into memory and walk its flat node table filtered by
// parent_inode_nr for both LOOKUP and READDIR.
package ifs

import (
	"encoding/binary"
	"fmt"

	"github.com/Marvenlee/cheviot-filesystems/internal/fserrno"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsdispatch"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsproto"
)

// Magic is the image header's identifying tag
// (original_source/ifs/ifs.h IFS_MAGIC "MAGC").
const Magic = "MAGC"

const (
	headerSize = 16 // magic[4] + nodeTableOffset + nodeCount + imageSize, all uint32
	nodeSize   = 64 // name[32] + inodeNr + parentInodeNr + permissions + uid + gid + fileOffset + fileSize
	nameSize   = 32
)

// Node is one entry of the image's flat node table
// (original_source/ifs/ifs.h struct IFSNode).
type Node struct {
	Name          string
	InodeNr       uint32
	ParentInodeNr uint32
	Permissions   uint32
	UID, GID      uint32
	FileOffset    uint32
	FileSize      uint32
}

// RootInode is the inode number of the image's root directory, fixed
// by the image-building tool (original_source/ifs/ifs.h IFS_ROOT_INODE_NR).
const RootInode = 0

// Server serves an in-memory bootstrap image: every LOOKUP/READDIR is
// scoped to the requesting directory's inode via Node.ParentInodeNr,
// unlike devfs's flat namespace.
type Server struct {
	fsdispatch.ReadOnlyHandler
	fsdispatch.NopFlusher

	image []byte
	nodes []Node
}

// Load parses image (the raw bytes of an IFS-format bootstrap image,
// read from a file path supplied at startup since this Go server runs
// as an ordinary process rather than receiving a kernel-mapped
// physical memory region as original_source/ifs/init.c does) into a
// ready Server.
func Load(image []byte) (*Server, error) {
	if len(image) < headerSize {
		return nil, fmt.Errorf("ifs: image too small for header")
	}
	if string(image[0:4]) != Magic {
		return nil, fmt.Errorf("ifs: bad magic %q", image[0:4])
	}
	nodeTableOffset := binary.NativeEndian.Uint32(image[4:8])
	nodeCount := binary.NativeEndian.Uint32(image[8:12])

	nodes := make([]Node, nodeCount)
	for i := uint32(0); i < nodeCount; i++ {
		off := int(nodeTableOffset) + int(i)*nodeSize
		if off+nodeSize > len(image) {
			return nil, fmt.Errorf("ifs: node table entry %d out of range", i)
		}
		rec := image[off : off+nodeSize]
		nameEnd := 0
		for nameEnd < nameSize && rec[nameEnd] != 0 {
			nameEnd++
		}
		nodes[i] = Node{
			Name:          string(rec[0:nameEnd]),
			InodeNr:       binary.NativeEndian.Uint32(rec[32:36]),
			ParentInodeNr: binary.NativeEndian.Uint32(rec[36:40]),
			Permissions:   binary.NativeEndian.Uint32(rec[40:44]),
			UID:           binary.NativeEndian.Uint32(rec[44:48]),
			GID:           binary.NativeEndian.Uint32(rec[48:52]),
			FileOffset:    binary.NativeEndian.Uint32(rec[52:56]),
			FileSize:      binary.NativeEndian.Uint32(rec[56:60]),
		}
	}

	return &Server{image: image, nodes: nodes}, nil
}

func (s *Server) findByInode(ino uint32) *Node {
	for i := range s.nodes {
		if s.nodes[i].InodeNr == ino {
			return &s.nodes[i]
		}
	}
	return nil
}

func (s *Server) Lookup(args fsproto.LookupArgs) fsproto.Reply {
	for i := range s.nodes {
		n := &s.nodes[i]
		if n.ParentInodeNr == uint32(args.DirInode) && n.Name == args.Name {
			return fsproto.Reply{Status: 0, Payload: fsproto.LookupReply{
				Inode: fsproto.InodeID(n.InodeNr),
				Size:  int64(n.FileSize),
				Mode:  n.Permissions,
				UID:   n.UID,
				GID:   n.GID,
			}}
		}
	}
	return fsproto.Reply{Status: int32(fserrno.ENOENT)}
}

func (s *Server) Close(args fsproto.CloseArgs) fsproto.Reply {
	return fsproto.Reply{Status: 0}
}

// Read copies directly out of the image at the node's recorded
// file_offset, clamped to the remaining file_size
// (original_source/ifs/main.c ifs_read).
func (s *Server) Read(args fsproto.ReadArgs) fsproto.Reply {
	n := s.findByInode(uint32(args.Inode))
	if n == nil {
		return fsproto.Reply{Status: int32(fserrno.ENOENT)}
	}
	if args.Offset < 0 || uint64(args.Offset) >= uint64(n.FileSize) {
		return fsproto.Reply{Status: 0, Payload: fsproto.ReadReply{BytesRead: 0}, Data: nil}
	}

	remaining := uint64(n.FileSize) - uint64(args.Offset)
	want := uint64(args.Size)
	if want > remaining {
		want = remaining
	}

	start := int(n.FileOffset) + int(args.Offset)
	data := s.image[start : start+int(want)]

	return fsproto.Reply{
		Status:  int32(len(data)),
		Payload: fsproto.ReadReply{BytesRead: len(data)},
		Data:    data,
	}
}

const wireDirentHeaderSize = 8

// Readdir lists children of the directory identified by args.Inode,
// cookie being the index into s.nodes to resume scanning from
// (original_source/ifs/main.c ifs_readdir).
func (s *Server) Readdir(args fsproto.ReaddirArgs) fsproto.Reply {
	buf := make([]byte, args.Size)
	off := 0
	idx := int(args.Cookie)

	for ; idx < len(s.nodes); idx++ {
		n := &s.nodes[idx]
		if n.ParentInodeNr != uint32(args.Inode) {
			continue
		}
		recLen := wireDirentHeaderSize + len(n.Name)
		if rem := recLen % 8; rem != 0 {
			recLen += 8 - rem
		}
		if off+recLen > len(buf) {
			break
		}
		binary.NativeEndian.PutUint32(buf[off:off+4], n.InodeNr)
		binary.NativeEndian.PutUint16(buf[off+4:off+6], uint16(recLen))
		buf[off+6] = uint8(len(n.Name))
		copy(buf[off+wireDirentHeaderSize:], n.Name)
		off += recLen
	}

	return fsproto.Reply{
		Status:  int32(off),
		Payload: fsproto.ReaddirReply{Cookie: int64(idx)},
		Data:    buf[:off],
	}
}
