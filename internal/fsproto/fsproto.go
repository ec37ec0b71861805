// Package fsproto defines the wire contract every server decodes and
// replies to: the verb tag, the fixed-size request header, per-verb
// argument payloads, and the reply encoding (SPEC_FULL.md §5.15, §6.1).
// It is grounded on the request/reply field layouts implied by
// `original_source/extfs/ext2.h`'s `struct fsreq`/`struct fsreply` and
// the argument access patterns in `ops_dir.c`, `ops_file.c`,
// `ops_link.c`, and `ops_prot.c`.
package fsproto

// Verb identifies the requested operation.
type Verb uint32

const (
	VerbLookup Verb = iota + 1
	VerbClose
	VerbCreate
	VerbRead
	VerbWrite
	VerbReaddir
	VerbMkdir
	VerbRmdir
	VerbMknod
	VerbUnlink
	VerbRename
	VerbChmod
	VerbChown
	VerbTruncate
)

var verbNames = map[Verb]string{
	VerbLookup: "LOOKUP", VerbClose: "CLOSE", VerbCreate: "CREATE",
	VerbRead: "READ", VerbWrite: "WRITE", VerbReaddir: "READDIR",
	VerbMkdir: "MKDIR", VerbRmdir: "RMDIR", VerbMknod: "MKNOD",
	VerbUnlink: "UNLINK", VerbRename: "RENAME", VerbChmod: "CHMOD",
	VerbChown: "CHOWN", VerbTruncate: "TRUNCATE",
}

func (v Verb) String() string {
	if s, ok := verbNames[v]; ok {
		return s
	}
	return "UNKNOWN"
}

// InodeID is a filesystem-local inode number, carried on the wire as a
// uint32 (ext2's ino_t) by every verb that references an existing node.
type InodeID uint32

// LookupArgs/... below are the per-verb argument payloads named in the
// request-protocol table, SPEC_FULL.md §6.1.

type LookupArgs struct {
	DirInode InodeID
	Name     string
}

type LookupReply struct {
	Inode                  InodeID
	Size                   int64
	Mode, UID, GID         uint32
	Atime, Mtime, Ctime    int64
}

type CloseArgs struct {
	Inode InodeID
}

type CreateArgs struct {
	DirInode       InodeID
	Name           string
	Mode, UID, GID uint32
	OFlags         uint32
}

type CreateReply = LookupReply

type ReadArgs struct {
	Inode  InodeID
	Offset int64
	Size   uint32
}

// ReadReply carries only the byte count structurally; the bytes
// themselves travel in the enclosing Reply's Data field.
type ReadReply struct {
	BytesRead int
}

type WriteArgs struct {
	Inode  InodeID
	Offset int64
	Size   uint32
}

type WriteReply struct {
	BytesWritten int
}

type ReaddirArgs struct {
	Inode  InodeID
	Cookie int64
	Size   uint32
}

type ReaddirReply struct {
	Cookie int64
}

type MkdirArgs struct {
	DirInode       InodeID
	Name           string
	Mode, UID, GID uint32
}

type MkdirReply = LookupReply

type RmdirArgs struct {
	DirInode InodeID
	Name     string
}

type MknodArgs struct {
	DirInode       InodeID
	Name           string
	Mode, UID, GID uint32
}

type UnlinkArgs struct {
	DirInode InodeID
	Name     string
}

type RenameArgs struct {
	SrcDirInode, DstDirInode InodeID
	SrcName, DstName         string
}

type ChmodArgs struct {
	Inode InodeID
	Mode  uint32
}

type ChownArgs struct {
	Inode    InodeID
	UID, GID uint32
}

type TruncateArgs struct {
	Inode InodeID
	Size  int64
}

// Request is the decoded envelope handed to a server's dispatch
// methods: the verb plus a type-erased argument struct (one of the
// *Args types above), matching the union-by-verb shape of the original
// `struct fsreq`.
type Request struct {
	MsgID uint64
	Verb  Verb
	Args  any
}

// Reply is what a dispatch method hands back to the loop: a negative
// errno (or 0/positive byte count for READ/WRITE/READDIR) plus an
// optional structured payload and optional trailing raw bytes.
type Reply struct {
	Status  int32
	Payload any
	Data    []byte
}
