// Package transport implements fsdispatch.Transport over a Unix domain
// socket: the userspace stand-in for the microkernel message port a
// real CheviotOS mount would use (original_source/extfs/main.c's
// getmsg/replymsg/readmsg/writemsg calls against a kernel-assigned
// port ID, SPEC_FULL.md §4.11). There is nothing in the example pack
// that talks a local kernel IPC primitive (gcsfuse's nearest analog is
// the FUSE kernel channel, also not present in the retrieval pack), so
// this package picks the closest portable Go equivalent — a listening
// Unix socket per mount, one accepted connection per client — rather
// than inventing a fake dependency for it.
package transport

import (
	"encoding/gob"
	"fmt"
	"net"
	"os"

	"github.com/google/uuid"

	"github.com/Marvenlee/cheviot-filesystems/internal/fsproto"
)

func init() {
	gob.Register(fsproto.LookupArgs{})
	gob.Register(fsproto.CreateArgs{})
	gob.Register(fsproto.ReadArgs{})
	gob.Register(fsproto.WriteArgs{})
	gob.Register(fsproto.ReaddirArgs{})
	gob.Register(fsproto.MkdirArgs{})
	gob.Register(fsproto.RmdirArgs{})
	gob.Register(fsproto.MknodArgs{})
	gob.Register(fsproto.UnlinkArgs{})
	gob.Register(fsproto.RenameArgs{})
	gob.Register(fsproto.ChmodArgs{})
	gob.Register(fsproto.ChownArgs{})
	gob.Register(fsproto.TruncateArgs{})
	gob.Register(fsproto.CloseArgs{})

	gob.Register(fsproto.LookupReply{})
	gob.Register(fsproto.ReadReply{})
	gob.Register(fsproto.WriteReply{})
	gob.Register(fsproto.ReaddirReply{})
}

// envelope carries one decoded request across the wire. Args is one of
// the fsproto *Args structs registered above, type-erased the same way
// fsdispatch.Handler's dispatch already expects.
type envelope struct {
	MsgID uint64
	Verb  fsproto.Verb
	Args  any
	Data  []byte
}

type replyEnvelope struct {
	MsgID uint64
	Reply fsproto.Reply
}

// Conn is one accepted client connection, satisfying
// fsdispatch.Transport. Its ID correlates log lines for this
// connection's requests across the lifetime of a long-running mount,
// a connection-scoped counterpart to what a kernel-assigned port ID
// would identify in the original.
type Conn struct {
	id   string
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder
}

// NewConn wraps an accepted net.Conn for use as an fsdispatch.Transport.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		id:   uuid.NewString(),
		conn: c,
		enc:  gob.NewEncoder(c),
		dec:  gob.NewDecoder(c),
	}
}

// ID returns this connection's correlation identifier for logging.
func (c *Conn) ID() string { return c.id }

func (c *Conn) Recv() (msgID uint64, verb fsproto.Verb, args any, data []byte, err error) {
	var env envelope
	if err := c.dec.Decode(&env); err != nil {
		return 0, 0, nil, nil, err
	}
	return env.MsgID, env.Verb, env.Args, env.Data, nil
}

func (c *Conn) Send(msgID uint64, reply fsproto.Reply) error {
	return c.enc.Encode(replyEnvelope{MsgID: msgID, Reply: reply})
}

// Close releases the underlying socket connection.
func (c *Conn) Close() error { return c.conn.Close() }

// Listen binds a Unix domain socket at path, removing any stale socket
// file left behind by a prior unclean shutdown first (the socket path
// doubles as the mount point clients connect to, per SPEC_FULL.md
// §6.3's <mount-path> argument).
func Listen(path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("transport: removing stale socket %s: %w", path, err)
		}
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("transport: listening on %s: %w", path, err)
	}
	return l, nil
}
