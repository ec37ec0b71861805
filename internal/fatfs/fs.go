package fatfs

import (
	"encoding/binary"

	"github.com/Marvenlee/cheviot-filesystems/internal/fserrno"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsproto"
)

// Unix mode-format bits FAT has no on-disk counterpart for; reported
// to callers the same way original_source/fatfs/main.c's fatLookup
// synthesizes them (S_IRWXU|S_IRWXG|S_IRWXO, |_IFDIR for directories).
const (
	modeDir = 0040000
	modeReg = 0100000
	modePerm = 0777
)

// Server implements fsdispatch.Handler for a mounted FAT volume,
// generalizing original_source/fatfs/main.c's fat*() request handlers
// into one method per verb, the same shape as internal/ext2.Server.
type Server struct {
	Vol *Volume

	UID, GID uint32
}

func NewServer(vol *Volume, uid, gid uint32) *Server {
	return &Server{Vol: vol, UID: uid, GID: gid}
}

func (s *Server) Flush() error { return s.Vol.Flush() }

func (s *Server) modeOf(d dirEntry) uint32 {
	m := uint32(modePerm)
	if d.isDir() {
		m |= modeDir
	} else {
		m |= modeReg
	}
	if d.attr&attrReadOnly != 0 {
		m &^= 0222
	}
	return m
}

func (s *Server) lookupReply(n *node) fsproto.LookupReply {
	return fsproto.LookupReply{
		Inode: fsproto.InodeID(n.inode),
		Size:  int64(n.dirent.size),
		Mode:  s.modeOf(n.dirent),
		UID:   s.UID,
		GID:   s.GID,
	}
}

func (s *Server) findDir(ino fsproto.InodeID) (*node, bool) {
	n := s.Vol.nodes.find(uint32(ino))
	if n == nil {
		return nil, false
	}
	return n, true
}

func (s *Server) Lookup(args fsproto.LookupArgs) fsproto.Reply {
	dir, ok := s.findDir(args.DirInode)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}
	n, errno := s.Vol.dirLookup(dir, args.Name)
	if errno != 0 {
		return fsproto.Reply{Status: errno}
	}
	return fsproto.Reply{Status: 0, Payload: s.lookupReply(n)}
}

func (s *Server) Close(args fsproto.CloseArgs) fsproto.Reply {
	if n, ok := s.findDir(args.Inode); ok {
		s.Vol.nodes.release(n)
	}
	return fsproto.Reply{Status: 0}
}

// Create allocates a new zero-length file (a supplemented feature:
// original_source/fatfs/main.c's fatCreate is an unfinished -ENOTSUP
// stub, but the rest of the file/dirent machinery it would have called
// — createFile, dirCreate — is already implemented here, so there is
// no reason the verb shouldn't work; see DESIGN.md).
func (s *Server) Create(args fsproto.CreateArgs) fsproto.Reply {
	dir, ok := s.findDir(args.DirInode)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}
	n, errno := s.Vol.createFile(dir, args.Name, false)
	if errno != 0 {
		return fsproto.Reply{Status: errno}
	}
	return fsproto.Reply{Status: 0, Payload: s.lookupReply(n)}
}

func (s *Server) Read(args fsproto.ReadArgs) fsproto.Reply {
	n, ok := s.findDir(args.Inode)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}
	buf := make([]byte, args.Size)
	nread := s.Vol.readFile(n, buf, uint32(args.Offset))
	return fsproto.Reply{
		Status:  int32(nread),
		Payload: fsproto.ReadReply{BytesRead: nread},
		Data:    buf[:nread],
	}
}

func (s *Server) Write(args fsproto.WriteArgs, data []byte) fsproto.Reply {
	n, ok := s.findDir(args.Inode)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}
	nwritten := s.Vol.writeFile(n, data, uint32(args.Offset))
	return fsproto.Reply{
		Status:  int32(nwritten),
		Payload: fsproto.WriteReply{BytesWritten: nwritten},
	}
}

const wireDirentHeaderSize = 8

// Readdir packs directory entries into an 8-byte-aligned wire record
// per entry, cookie being the next dirent index to resume from
// (original_source/fatfs/main.c fatReadDir, generalized from its fixed
// DIRENTS_BUF_SZ scratch buffer into the caller-sized reply buffer
// internal/ext2's readdir wire format also uses).
func (s *Server) Readdir(args fsproto.ReaddirArgs) fsproto.Reply {
	n, ok := s.findDir(args.Inode)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}

	buf := make([]byte, args.Size)
	off := 0
	index := uint32(args.Cookie)

	for {
		d, sector, offset, readOK := s.Vol.dirRead(n, index)
		if !readOK {
			break
		}
		index++
		if d.isFree() {
			break
		}
		if d.isDeleted() || d.attr&attrVolumeID != 0 {
			continue
		}

		name := d.toName()
		recLen := wireDirentHeaderSize + len(name)
		if rem := recLen % 8; rem != 0 {
			recLen += 8 - rem
		}
		if off+recLen > len(buf) {
			index--
			break
		}

		ino := dirSlotInode(sector, offset)
		binary.NativeEndian.PutUint32(buf[off:off+4], ino)
		binary.NativeEndian.PutUint16(buf[off+4:off+6], uint16(recLen))
		buf[off+6] = uint8(len(name))
		copy(buf[off+wireDirentHeaderSize:], name)
		off += recLen
	}

	return fsproto.Reply{
		Status:  int32(off),
		Payload: fsproto.ReaddirReply{Cookie: int64(index)},
		Data:    buf[:off],
	}
}

func (s *Server) Mkdir(args fsproto.MkdirArgs) fsproto.Reply {
	parent, ok := s.findDir(args.DirInode)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}

	n, errno := s.Vol.createFile(parent, args.Name, true)
	if errno != 0 {
		return fsproto.Reply{Status: errno}
	}

	cluster, ok := s.Vol.appendCluster(n)
	if !ok {
		s.Vol.dirDelete(n.dirSector, n.dirOffset)
		return fsproto.Reply{Status: int32(fserrno.ENOSPC)}
	}
	s.Vol.clearCluster(cluster)
	n.setFirstCluster(cluster)
	s.Vol.flushDirent(n)

	dot := dotDirEntry(".")
	dot.setFirstCluster(s.Vol, cluster)
	if _, _, ok := s.Vol.dirCreate(n, dot); !ok {
		return fsproto.Reply{Status: int32(fserrno.ENOSPC)}
	}

	dotdot := dotDirEntry("..")
	if parent.isRoot && s.Vol.Derived.Type != FAT32 {
		dotdot.setFirstCluster(s.Vol, 0)
	} else {
		dotdot.setFirstCluster(s.Vol, parent.firstCluster())
	}
	if _, _, ok := s.Vol.dirCreate(n, dotdot); !ok {
		return fsproto.Reply{Status: int32(fserrno.ENOSPC)}
	}

	return fsproto.Reply{Status: 0, Payload: s.lookupReply(n)}
}

func (s *Server) Rmdir(args fsproto.RmdirArgs) fsproto.Reply {
	parent, ok := s.findDir(args.DirInode)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}
	n, errno := s.Vol.dirLookup(parent, args.Name)
	if errno != 0 {
		return fsproto.Reply{Status: errno}
	}
	if n.isRoot {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}
	if !n.dirent.isDir() {
		return fsproto.Reply{Status: int32(fserrno.ENOTDIR)}
	}
	if !s.Vol.isDirEmpty(n) {
		return fsproto.Reply{Status: int32(fserrno.ENOTEMPTY)}
	}
	if n.refCount > 1 {
		s.Vol.nodes.release(n)
		return fsproto.Reply{Status: int32(fserrno.EBUSY)}
	}

	s.Vol.freeClusters(n.firstCluster())
	s.Vol.dirDelete(n.dirSector, n.dirOffset)
	s.Vol.nodes.release(n)
	return fsproto.Reply{Status: 0}
}

// Mknod is unsupported: FAT's 8.3 dirent has no device/special-file
// concept, unlike ext2's file-type-tagged inode
// (original_source/fatfs/main.c fatMkNod is also an -ENOTSUP stub).
func (s *Server) Mknod(args fsproto.MknodArgs) fsproto.Reply {
	return fsproto.Reply{Status: int32(fserrno.ENOTSUP)}
}

func (s *Server) Unlink(args fsproto.UnlinkArgs) fsproto.Reply {
	parent, ok := s.findDir(args.DirInode)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}
	n, errno := s.Vol.dirLookup(parent, args.Name)
	if errno != 0 {
		return fsproto.Reply{Status: errno}
	}
	if n.dirent.isDir() {
		return fsproto.Reply{Status: int32(fserrno.EISDIR)}
	}
	if n.refCount > 1 {
		s.Vol.nodes.release(n)
		return fsproto.Reply{Status: int32(fserrno.EBUSY)}
	}

	s.Vol.freeClusters(n.firstCluster())
	s.Vol.dirDelete(n.dirSector, n.dirOffset)
	s.Vol.nodes.release(n)
	return fsproto.Reply{Status: 0}
}

// Rename is supplemented (original_source/fatfs/main.c's fatRename is
// an -ENOTSUP stub): enter the destination dirent before deleting the
// source slot, the same crash-safe ordering internal/ext2/fs.go's
// Rename uses.
func (s *Server) Rename(args fsproto.RenameArgs) fsproto.Reply {
	srcDir, ok := s.findDir(args.SrcDirInode)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}
	dstDir, ok := s.findDir(args.DstDirInode)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}

	n, errno := s.Vol.dirLookup(srcDir, args.SrcName)
	if errno != 0 {
		return fsproto.Reply{Status: errno}
	}

	d, nameErrno := nameToDirEntry(args.DstName)
	if nameErrno != 0 {
		return fsproto.Reply{Status: nameErrno}
	}
	d.attr = n.dirent.attr
	d.size = n.dirent.size
	d.firstClusHi, d.firstClusLo = n.dirent.firstClusHi, n.dirent.firstClusLo

	if _, _, ok := s.Vol.dirCreate(dstDir, d); !ok {
		return fsproto.Reply{Status: int32(fserrno.ENOSPC)}
	}

	s.Vol.dirDelete(n.dirSector, n.dirOffset)
	return fsproto.Reply{Status: 0}
}

// Chmod toggles the ATTR_READ_ONLY bit: the only write-permission
// concept FAT's dirent format carries. Owner/group/other bits beyond
// the write bit have no backing store and are accepted without effect.
func (s *Server) Chmod(args fsproto.ChmodArgs) fsproto.Reply {
	n, ok := s.findDir(args.Inode)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}
	if args.Mode&0222 == 0 {
		n.dirent.attr |= attrReadOnly
	} else {
		n.dirent.attr &^= attrReadOnly
	}
	s.Vol.flushDirent(n)
	return fsproto.Reply{Status: 0}
}

// Chown is a no-op: FAT has no per-file uid/gid field, only the
// mount-wide default original_source/fatfs/main.c's fatLookup reports
// from config.uid/config.gid.
func (s *Server) Chown(args fsproto.ChownArgs) fsproto.Reply {
	if _, ok := s.findDir(args.Inode); !ok {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}
	return fsproto.Reply{Status: 0}
}

func (s *Server) Truncate(args fsproto.TruncateArgs) fsproto.Reply {
	n, ok := s.findDir(args.Inode)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}
	if args.Size < 0 {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}
	errno := s.Vol.truncateFile(n, uint32(args.Size))
	return fsproto.Reply{Status: errno}
}
