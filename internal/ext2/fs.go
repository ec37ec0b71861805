package ext2

import (
	"github.com/Marvenlee/cheviot-filesystems/internal/fserrno"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsproto"
)

// Server binds the per-verb operation methods the dispatcher calls to
// one mounted Volume, the Go counterpart of the
// original_source/extfs/ops_*.c files' direct calls into the single
// process-global filesystem state. Unlike the teacher's fs.Server
// (which guards every method with a per-inode lock, since FUSE drives
// it from many goroutines), these methods assume the dispatcher's
// single-threaded event loop is the only caller and take no locks
// (SPEC_FULL.md §5).
type Server struct {
	Vol *Volume
}

// NewServer wraps a mounted Volume for request dispatch.
func NewServer(vol *Volume) *Server {
	return &Server{Vol: vol}
}

const nameMaxLen = 255

func checkName(name string) int32 {
	if len(name) == 0 || len(name) > nameMaxLen {
		return int32(fserrno.ENAMETOOLONG)
	}
	return 0
}

// checkWritable refuses a mutating verb on a volume forced read-only
// because its superblock carries an unsupported ro_compat feature bit
// (§3 mount invariants, Volume.ReadOnly).
func (s *Server) checkWritable() int32 {
	if s.Vol.ReadOnly {
		return int32(fserrno.EROFS)
	}
	return 0
}

func lookupReplyFor(n *Inode) fsproto.LookupReply {
	return fsproto.LookupReply{
		Inode: fsproto.InodeID(n.Ino),
		Size:  int64(n.OD.Size),
		Mode:  uint32(n.OD.Mode),
		UID:   uint32(n.OD.UID),
		GID:   uint32(n.OD.GID),
		Atime: int64(n.OD.Atime),
		Mtime: int64(n.OD.Mtime),
		Ctime: int64(n.OD.Ctime),
	}
}

// Lookup resolves name within a directory inode
// (original_source/extfs/ops_dir.c ext2_lookup).
func (s *Server) Lookup(args fsproto.LookupArgs) fsproto.Reply {
	v := s.Vol
	dir := v.Inodes.Get(uint32(args.DirInode))
	if dir == nil {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}
	defer v.Inodes.Put(dir)

	ino, ok := lookupDir(v, dir, args.Name)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.ENOENT)}
	}

	n := v.Inodes.Get(ino)
	if n == nil {
		return fsproto.Reply{Status: int32(fserrno.EIO)}
	}
	defer v.Inodes.Put(n)

	reply := lookupReplyFor(n)
	return fsproto.Reply{Status: 0, Payload: reply}
}

// Close releases a previously looked-up inode reference. extfs does
// not retain per-open state, so this is a no-op acknowledgement
// (original_source/extfs/ops_link.c ext2_close).
func (s *Server) Close(args fsproto.CloseArgs) fsproto.Reply {
	return fsproto.Reply{Status: 0}
}

// Create makes a new regular file in a directory
// (original_source/extfs/ops_file.c ext2_create).
func (s *Server) Create(args fsproto.CreateArgs) fsproto.Reply {
	if sc := s.checkWritable(); sc != 0 {
		return fsproto.Reply{Status: sc}
	}
	v := s.Vol
	if sc := checkName(args.Name); sc != 0 {
		return fsproto.Reply{Status: sc}
	}

	dir := v.Inodes.Get(uint32(args.DirInode))
	if dir == nil {
		return fsproto.Reply{Status: int32(fserrno.ENOENT)}
	}
	defer v.Inodes.Put(dir)

	mode := ModeReg | (args.Mode & 0777)
	n, sc := newInode(v, dir, args.Name, mode, args.UID, args.GID)
	if sc != 0 {
		return fsproto.Reply{Status: sc}
	}
	defer v.Inodes.Put(n)

	return fsproto.Reply{Status: 0, Payload: fsproto.CreateReply(lookupReplyFor(n))}
}

// Read reads up to args.Size bytes from an inode's file
// (original_source/extfs/ops_file.c ext2_read, read.c read_file).
func (s *Server) Read(args fsproto.ReadArgs) fsproto.Reply {
	v := s.Vol
	n := v.Inodes.Find(uint32(args.Inode))
	if n == nil {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}

	buf := make([]byte, args.Size)
	total, sc := ReadFile(v, n, buf, args.Offset)
	if sc != 0 {
		return fsproto.Reply{Status: sc}
	}
	return fsproto.Reply{
		Status:  int32(total),
		Payload: fsproto.ReadReply{BytesRead: total},
		Data:    buf[:total],
	}
}

// Write writes data to an inode's file at args.Offset
// (original_source/extfs/ops_file.c ext2_write, write.c write_file).
func (s *Server) Write(args fsproto.WriteArgs, data []byte) fsproto.Reply {
	if sc := s.checkWritable(); sc != 0 {
		return fsproto.Reply{Status: sc}
	}
	v := s.Vol
	n := v.Inodes.Find(uint32(args.Inode))
	if n == nil {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}

	total, sc := WriteFile(v, n, data, args.Offset)
	if sc != 0 {
		return fsproto.Reply{Status: sc}
	}
	return fsproto.Reply{
		Status:  int32(total),
		Payload: fsproto.WriteReply{BytesWritten: total},
	}
}

// Readdir lists directory entries starting at args.Cookie, packing as
// many as fit into args.Size bytes of reply payload
// (original_source/extfs/ops_dir.c ext2_readdir, dir.c get_dirents).
func (s *Server) Readdir(args fsproto.ReaddirArgs) fsproto.Reply {
	v := s.Vol
	dir := v.Inodes.Get(uint32(args.Inode))
	if dir == nil {
		return fsproto.Reply{Status: int32(fserrno.EINVAL)}
	}
	defer v.Inodes.Put(dir)

	const maxEntriesPerCall = 64
	entries, scanCookie := Readdir(v, dir, args.Cookie, maxEntriesPerCall)

	wireBuf := make([]byte, args.Size)
	packed, n := PackDirents(entries, wireBuf)

	// scanCookie reflects everything Readdir scanned, which can run
	// ahead of what fit in args.Size; if the wire buffer cut us off
	// early, resume from the last entry actually delivered instead so
	// the next call doesn't skip the ones left behind.
	nextCookie := scanCookie
	if n < len(entries) {
		if n > 0 {
			nextCookie = entries[n-1].NextPos
		} else {
			nextCookie = args.Cookie
		}
	}

	return fsproto.Reply{
		Status:  int32(len(packed)),
		Payload: fsproto.ReaddirReply{Cookie: nextCookie},
		Data:    packed,
	}
}

// Mkdir creates a new directory populated with "." and ".." entries
// (original_source/extfs/ops_dir.c ext2_mkdir).
func (s *Server) Mkdir(args fsproto.MkdirArgs) fsproto.Reply {
	if sc := s.checkWritable(); sc != 0 {
		return fsproto.Reply{Status: sc}
	}
	v := s.Vol
	if sc := checkName(args.Name); sc != 0 {
		return fsproto.Reply{Status: sc}
	}

	dir := v.Inodes.Get(uint32(args.DirInode))
	if dir == nil {
		return fsproto.Reply{Status: int32(fserrno.ENOENT)}
	}
	defer v.Inodes.Put(dir)

	mode := ModeDir | (args.Mode & 0777)
	n, sc := newInode(v, dir, args.Name, mode, args.UID, args.GID)
	if sc != 0 {
		return fsproto.Reply{Status: sc}
	}
	defer v.Inodes.Put(n)

	sc1 := direntEnter(v, n, ".", n.Ino, ModeDir)
	sc2 := direntEnter(v, n, "..", dir.Ino, ModeDir)

	if sc1 == 0 && sc2 == 0 {
		n.OD.LinksCount++
		dir.OD.LinksCount++
		v.Inodes.MarkDirty(dir)
	} else {
		// The entry was just created moments earlier; its disappearance
		// means directory state has been corrupted elsewhere.
		if sc := direntDelete(v, dir, args.Name); sc != 0 {
			panic("ext2: directory disappeared during mkdir rollback")
		}
		n.OD.LinksCount--
	}
	v.Inodes.MarkDirty(n)

	return fsproto.Reply{Status: 0, Payload: fsproto.MkdirReply(lookupReplyFor(n))}
}

// Rmdir removes an empty directory
// (original_source/extfs/ops_dir.c ext2_rmdir).
func (s *Server) Rmdir(args fsproto.RmdirArgs) fsproto.Reply {
	if sc := s.checkWritable(); sc != 0 {
		return fsproto.Reply{Status: sc}
	}
	v := s.Vol
	dir := v.Inodes.Get(uint32(args.DirInode))
	if dir == nil {
		return fsproto.Reply{Status: int32(fserrno.EIO)}
	}
	defer v.Inodes.Put(dir)

	ino, ok := lookupDir(v, dir, args.Name)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.EIO)}
	}
	n := v.Inodes.Get(ino)
	if n == nil {
		return fsproto.Reply{Status: int32(fserrno.EIO)}
	}
	defer v.Inodes.Put(n)

	if !isDirEmpty(v, n) {
		return fsproto.Reply{Status: int32(fserrno.ENOTEMPTY)}
	}

	sc := direntDelete(v, dir, args.Name)
	if sc == 0 {
		dir.OD.LinksCount--
		dir.Update |= UpdateCtime
		v.Inodes.MarkDirty(dir)

		n.OD.LinksCount--
		n.Update |= UpdateCtime
		v.Inodes.MarkDirty(n)
	}
	return fsproto.Reply{Status: sc}
}

// Mknod creates a new inode of an arbitrary type (device node, fifo,
// socket) without reading file content
// (original_source/extfs/ops_link.c ext2_mknod).
func (s *Server) Mknod(args fsproto.MknodArgs) fsproto.Reply {
	if sc := s.checkWritable(); sc != 0 {
		return fsproto.Reply{Status: sc}
	}
	v := s.Vol
	if sc := checkName(args.Name); sc != 0 {
		return fsproto.Reply{Status: sc}
	}

	dir := v.Inodes.Get(uint32(args.DirInode))
	if dir == nil {
		return fsproto.Reply{Status: int32(fserrno.ENOENT)}
	}
	defer v.Inodes.Put(dir)

	n, sc := newInode(v, dir, args.Name, args.Mode, args.UID, args.GID)
	if sc != 0 {
		return fsproto.Reply{Status: sc}
	}
	defer v.Inodes.Put(n)

	return fsproto.Reply{Status: 0, Payload: lookupReplyFor(n)}
}

// Unlink removes a directory entry and drops the target inode's link
// count (original_source/extfs/ops_link.c ext2_unlink).
func (s *Server) Unlink(args fsproto.UnlinkArgs) fsproto.Reply {
	if sc := s.checkWritable(); sc != 0 {
		return fsproto.Reply{Status: sc}
	}
	v := s.Vol
	dir := v.Inodes.Get(uint32(args.DirInode))
	if dir == nil {
		return fsproto.Reply{Status: int32(fserrno.EIO)}
	}
	defer v.Inodes.Put(dir)

	ino, ok := lookupDir(v, dir, args.Name)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.EIO)}
	}
	n := v.Inodes.Get(ino)
	if n == nil {
		return fsproto.Reply{Status: int32(fserrno.EIO)}
	}
	defer v.Inodes.Put(n)

	sc := direntDelete(v, dir, args.Name)
	if sc == 0 {
		n.OD.LinksCount--
		n.Update |= UpdateCtime
		v.Inodes.MarkDirty(n)
	}
	return fsproto.Reply{Status: sc}
}

// Rename moves a directory entry from one parent/name to another,
// entering the destination before deleting the source so a crash
// midway leaves the file linked rather than lost
// (original_source/extfs/ops_link.c ext2_rename).
func (s *Server) Rename(args fsproto.RenameArgs) fsproto.Reply {
	if sc := s.checkWritable(); sc != 0 {
		return fsproto.Reply{Status: sc}
	}
	v := s.Vol
	srcDir := v.Inodes.Get(uint32(args.SrcDirInode))
	if srcDir == nil {
		return fsproto.Reply{Status: int32(fserrno.ENOENT)}
	}
	defer v.Inodes.Put(srcDir)

	dstDir := v.Inodes.Get(uint32(args.DstDirInode))
	if dstDir == nil {
		return fsproto.Reply{Status: int32(fserrno.ENOENT)}
	}
	defer v.Inodes.Put(dstDir)

	ino, ok := lookupDir(v, srcDir, args.SrcName)
	if !ok {
		return fsproto.Reply{Status: int32(fserrno.EIO)}
	}
	n := v.Inodes.Get(ino)
	if n == nil {
		return fsproto.Reply{Status: int32(fserrno.EIO)}
	}
	defer v.Inodes.Put(n)

	sc := direntEnter(v, dstDir, args.DstName, ino, uint32(n.OD.Mode))
	if sc != 0 {
		return fsproto.Reply{Status: sc}
	}

	n.OD.LinksCount++
	n.Update |= UpdateCtime
	v.Inodes.MarkDirty(n)

	sc = direntDelete(v, srcDir, args.SrcName)
	if sc == 0 {
		n.OD.LinksCount--
		n.Update |= UpdateCtime
		v.Inodes.MarkDirty(n)
	}
	return fsproto.Reply{Status: sc}
}

// Chmod changes an inode's permission bits
// (original_source/extfs/ops_prot.c ext2_chmod).
func (s *Server) Chmod(args fsproto.ChmodArgs) fsproto.Reply {
	if sc := s.checkWritable(); sc != 0 {
		return fsproto.Reply{Status: sc}
	}
	v := s.Vol
	n := v.Inodes.Get(uint32(args.Inode))
	if n == nil {
		return fsproto.Reply{Status: int32(fserrno.ENOENT)}
	}
	defer v.Inodes.Put(n)

	n.OD.Mode = (n.OD.Mode &^ 0777) | uint16(args.Mode&0777)
	n.Update |= UpdateCtime
	v.Inodes.MarkDirty(n)
	return fsproto.Reply{Status: 0}
}

// Chown changes an inode's owning uid/gid
// (original_source/extfs/ops_prot.c ext2_chown).
func (s *Server) Chown(args fsproto.ChownArgs) fsproto.Reply {
	if sc := s.checkWritable(); sc != 0 {
		return fsproto.Reply{Status: sc}
	}
	v := s.Vol
	n := v.Inodes.Get(uint32(args.Inode))
	if n == nil {
		return fsproto.Reply{Status: int32(fserrno.ENOENT)}
	}
	defer v.Inodes.Put(n)

	n.OD.UID = uint16(args.UID)
	n.OD.GID = uint16(args.GID)
	n.Update |= UpdateCtime
	v.Inodes.MarkDirty(n)
	return fsproto.Reply{Status: 0}
}

// Truncate changes a file's size, freeing any blocks beyond the new
// size (SPEC_FULL.md §5.12, supplementing
// original_source/extfs/ops_file.c ext2_truncate, which never calls
// the -ENOSYS truncate_inode stub it was meant to).
func (s *Server) Truncate(args fsproto.TruncateArgs) fsproto.Reply {
	if sc := s.checkWritable(); sc != 0 {
		return fsproto.Reply{Status: sc}
	}
	v := s.Vol
	n := v.Inodes.Get(uint32(args.Inode))
	if n == nil {
		return fsproto.Reply{Status: int32(fserrno.ENOENT)}
	}
	defer v.Inodes.Put(n)

	sc := Truncate(v, n, args.Size)
	return fsproto.Reply{Status: sc}
}
