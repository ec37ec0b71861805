// Package devfs implements the synthetic device registry server: a
// flat directory of device nodes created by drivers at startup via
// MKNOD, with no backing storage of its own (SPEC_FULL.md §5.14).
// Grounded on original_source/devfs's globals.c/init.c/main.c, which
// keep a fixed-size array of DevfsNode entries searched linearly by
// every verb rather than any indexed structure.
//
// Unlike ifs, devfs nodes still carry meaningful ownership and
// mode bits (a driver's device file is chmod/chown'd independently of
// the registry that holds it), so CHMOD/CHOWN are real operations here
// rather than refused verbs; every other mutating verb is rejected
// with EPERM, per SPEC_FULL.md §5.14's redesign of the original's
// per-verb errno choices into one uniform policy.
package devfs

import (
	"encoding/binary"
	"sync"

	"github.com/Marvenlee/cheviot-filesystems/internal/fserrno"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsdispatch"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsproto"
)

// RootInode is the fixed inode number of the registry's root directory
// (original_source/devfs/globals.c's devfs_inode_table[0]).
const RootInode = 0

// node is one registered device (original_source/devfs/devfs.h struct DevfsNode).
type node struct {
	name           string
	parentInodeNr  uint32
	mode, uid, gid uint32
}

// Server is the devfs registry: a fixed-capacity slot table, slot 0
// reserved for the root directory, searched linearly by name exactly
// as the original does (a flat namespace of at most capacity-1 device
// nodes never justifies an index).
type Server struct {
	fsdispatch.NopFlusher

	mu    sync.Mutex
	nodes []node
}

// NewServer allocates a registry with room for capacity device nodes
// (original_source/devfs/devfs.h DEVFS_MAX_INODE).
func NewServer(capacity int) *Server {
	if capacity < 1 {
		capacity = 1
	}
	return &Server{nodes: make([]node, capacity)}
}

func (s *Server) Lookup(args fsproto.LookupArgs) fsproto.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint32(args.DirInode) >= uint32(len(s.nodes)) {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}

	for i := 1; i < len(s.nodes); i++ {
		n := &s.nodes[i]
		if n.name == args.Name {
			return fsproto.Reply{Status: 0, Payload: fsproto.LookupReply{
				Inode: fsproto.InodeID(i),
				Size:  0,
				Mode:  n.mode,
				UID:   n.uid,
				GID:   n.gid,
			}}
		}
	}
	return fsproto.Reply{Status: int32(fserrno.ENOENT)}
}

func (s *Server) Close(args fsproto.CloseArgs) fsproto.Reply {
	return fsproto.Reply{Status: 0}
}

// Mknod registers a new device node under dirInode
// (original_source/devfs/main.c devfsMknod).
func (s *Server) Mknod(args fsproto.MknodArgs) fsproto.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 1; i < len(s.nodes); i++ {
		if s.nodes[i].name == args.Name {
			return fsproto.Reply{Status: int32(fserrno.EEXIST)}
		}
	}

	slot := -1
	for i := 1; i < len(s.nodes); i++ {
		if s.nodes[i].name == "" {
			slot = i
			break
		}
	}
	if slot == -1 {
		return fsproto.Reply{Status: int32(fserrno.ENOSPC)}
	}

	s.nodes[slot] = node{
		name:          args.Name,
		parentInodeNr: uint32(args.DirInode),
		mode:          args.Mode,
		uid:           args.UID,
		gid:           args.GID,
	}

	return fsproto.Reply{Status: 0, Payload: fsproto.LookupReply{
		Inode: fsproto.InodeID(slot),
		Mode:  args.Mode,
		UID:   args.UID,
		GID:   args.GID,
	}}
}

func (s *Server) findByInode(ino uint32) *node {
	if ino == 0 || ino >= uint32(len(s.nodes)) || s.nodes[ino].name == "" {
		return nil
	}
	return &s.nodes[ino]
}

// Chmod updates a registered device's mode bits in place. Devices are
// still owned/moded resources even though the registry holding them
// accepts no other mutation (SPEC_FULL.md §5.14).
func (s *Server) Chmod(args fsproto.ChmodArgs) fsproto.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.findByInode(uint32(args.Inode))
	if n == nil {
		return fsproto.Reply{Status: int32(fserrno.ENOENT)}
	}
	n.mode = (n.mode &^ 0777) | (args.Mode & 0777)
	return fsproto.Reply{Status: 0}
}

// Chown updates a registered device's ownership in place.
func (s *Server) Chown(args fsproto.ChownArgs) fsproto.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.findByInode(uint32(args.Inode))
	if n == nil {
		return fsproto.Reply{Status: int32(fserrno.ENOENT)}
	}
	n.uid, n.gid = args.UID, args.GID
	return fsproto.Reply{Status: 0}
}

func (s *Server) Create(fsproto.CreateArgs) fsproto.Reply {
	return fsproto.Reply{Status: int32(fserrno.EPERM)}
}
func (s *Server) Write(fsproto.WriteArgs, []byte) fsproto.Reply {
	return fsproto.Reply{Status: int32(fserrno.EPERM)}
}

// Read is refused with EPERM: registry nodes carry no data of their own.
func (s *Server) Read(fsproto.ReadArgs) fsproto.Reply {
	return fsproto.Reply{Status: int32(fserrno.EPERM)}
}
func (s *Server) Mkdir(fsproto.MkdirArgs) fsproto.Reply {
	return fsproto.Reply{Status: int32(fserrno.EPERM)}
}
func (s *Server) Rmdir(fsproto.RmdirArgs) fsproto.Reply {
	return fsproto.Reply{Status: int32(fserrno.EPERM)}
}
func (s *Server) Unlink(fsproto.UnlinkArgs) fsproto.Reply {
	return fsproto.Reply{Status: int32(fserrno.EPERM)}
}
func (s *Server) Rename(fsproto.RenameArgs) fsproto.Reply {
	return fsproto.Reply{Status: int32(fserrno.EPERM)}
}
func (s *Server) Truncate(fsproto.TruncateArgs) fsproto.Reply {
	return fsproto.Reply{Status: int32(fserrno.EPERM)}
}

const wireDirentHeaderSize = 8

// Readdir lists registered device names, cookie being the next slot
// index to resume from (original_source/devfs/main.c devfsReaddir).
func (s *Server) Readdir(args fsproto.ReaddirArgs) fsproto.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	cookie := args.Cookie
	if cookie == 0 {
		cookie = 1
	}

	buf := make([]byte, args.Size)
	off := 0

	for int(cookie) < len(s.nodes) {
		n := &s.nodes[cookie]
		if n.name != "" {
			recLen := wireDirentHeaderSize + len(n.name)
			if rem := recLen % 8; rem != 0 {
				recLen += 8 - rem
			}
			if off+recLen > len(buf) {
				break
			}
			binary.NativeEndian.PutUint32(buf[off:off+4], uint32(cookie))
			binary.NativeEndian.PutUint16(buf[off+4:off+6], uint16(recLen))
			buf[off+6] = uint8(len(n.name))
			copy(buf[off+wireDirentHeaderSize:], n.name)
			off += recLen
		}
		cookie++
	}

	return fsproto.Reply{
		Status:  int32(off),
		Payload: fsproto.ReaddirReply{Cookie: cookie},
		Data:    buf[:off],
	}
}
