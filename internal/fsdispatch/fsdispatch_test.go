package fsdispatch

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Marvenlee/cheviot-filesystems/internal/fserrno"
	"github.com/Marvenlee/cheviot-filesystems/internal/fsproto"
	"github.com/Marvenlee/cheviot-filesystems/internal/logger"
)

// recordingHandler records the last verb dispatched to it and returns a
// fixed reply, enough to verify dispatch()'s routing without a real
// filesystem behind it.
type recordingHandler struct {
	lastVerb string
}

func (h *recordingHandler) Lookup(fsproto.LookupArgs) fsproto.Reply {
	h.lastVerb = "Lookup"
	return fsproto.Reply{Status: 0}
}
func (h *recordingHandler) Close(fsproto.CloseArgs) fsproto.Reply {
	h.lastVerb = "Close"
	return fsproto.Reply{Status: 0}
}
func (h *recordingHandler) Create(fsproto.CreateArgs) fsproto.Reply {
	h.lastVerb = "Create"
	return fsproto.Reply{Status: 0}
}
func (h *recordingHandler) Read(fsproto.ReadArgs) fsproto.Reply {
	h.lastVerb = "Read"
	return fsproto.Reply{Status: 0}
}
func (h *recordingHandler) Write(fsproto.WriteArgs, []byte) fsproto.Reply {
	h.lastVerb = "Write"
	return fsproto.Reply{Status: 0}
}
func (h *recordingHandler) Readdir(fsproto.ReaddirArgs) fsproto.Reply {
	h.lastVerb = "Readdir"
	return fsproto.Reply{Status: 0}
}
func (h *recordingHandler) Mkdir(fsproto.MkdirArgs) fsproto.Reply {
	h.lastVerb = "Mkdir"
	return fsproto.Reply{Status: 0}
}
func (h *recordingHandler) Rmdir(fsproto.RmdirArgs) fsproto.Reply {
	h.lastVerb = "Rmdir"
	return fsproto.Reply{Status: 0}
}
func (h *recordingHandler) Mknod(fsproto.MknodArgs) fsproto.Reply {
	h.lastVerb = "Mknod"
	return fsproto.Reply{Status: 0}
}
func (h *recordingHandler) Unlink(fsproto.UnlinkArgs) fsproto.Reply {
	h.lastVerb = "Unlink"
	return fsproto.Reply{Status: 0}
}
func (h *recordingHandler) Rename(fsproto.RenameArgs) fsproto.Reply {
	h.lastVerb = "Rename"
	return fsproto.Reply{Status: 0}
}
func (h *recordingHandler) Chmod(fsproto.ChmodArgs) fsproto.Reply {
	h.lastVerb = "Chmod"
	return fsproto.Reply{Status: 0}
}
func (h *recordingHandler) Chown(fsproto.ChownArgs) fsproto.Reply {
	h.lastVerb = "Chown"
	return fsproto.Reply{Status: 0}
}
func (h *recordingHandler) Truncate(fsproto.TruncateArgs) fsproto.Reply {
	h.lastVerb = "Truncate"
	return fsproto.Reply{Status: 0}
}

func TestDispatchRoutesEveryVerb(t *testing.T) {
	cases := []struct {
		verb fsproto.Verb
		args any
		want string
	}{
		{fsproto.VerbLookup, fsproto.LookupArgs{}, "Lookup"},
		{fsproto.VerbClose, fsproto.CloseArgs{}, "Close"},
		{fsproto.VerbCreate, fsproto.CreateArgs{}, "Create"},
		{fsproto.VerbRead, fsproto.ReadArgs{}, "Read"},
		{fsproto.VerbWrite, fsproto.WriteArgs{}, "Write"},
		{fsproto.VerbReaddir, fsproto.ReaddirArgs{}, "Readdir"},
		{fsproto.VerbMkdir, fsproto.MkdirArgs{}, "Mkdir"},
		{fsproto.VerbRmdir, fsproto.RmdirArgs{}, "Rmdir"},
		{fsproto.VerbMknod, fsproto.MknodArgs{}, "Mknod"},
		{fsproto.VerbUnlink, fsproto.UnlinkArgs{}, "Unlink"},
		{fsproto.VerbRename, fsproto.RenameArgs{}, "Rename"},
		{fsproto.VerbChmod, fsproto.ChmodArgs{}, "Chmod"},
		{fsproto.VerbChown, fsproto.ChownArgs{}, "Chown"},
		{fsproto.VerbTruncate, fsproto.TruncateArgs{}, "Truncate"},
	}

	for _, c := range cases {
		h := &recordingHandler{}
		reply := dispatch(h, c.verb, c.args, nil)
		if reply.Status != 0 {
			t.Errorf("verb %s: status = %d, want 0", c.verb, reply.Status)
		}
		if h.lastVerb != c.want {
			t.Errorf("verb %s: routed to %q, want %q", c.verb, h.lastVerb, c.want)
		}
	}
}

func TestDispatchRejectsMismatchedArgs(t *testing.T) {
	h := &recordingHandler{}
	reply := dispatch(h, fsproto.VerbLookup, fsproto.WriteArgs{}, nil)
	if reply.Status != int32(fserrno.EINVAL) {
		t.Fatalf("mismatched args: status = %d, want EINVAL", reply.Status)
	}
	if h.lastVerb != "" {
		t.Fatalf("handler was called despite mismatched args: %q", h.lastVerb)
	}
}

func TestDispatchUnknownVerb(t *testing.T) {
	h := &recordingHandler{}
	reply := dispatch(h, fsproto.Verb(9999), nil, nil)
	if reply.Status != int32(fserrno.ENOTSUP) {
		t.Fatalf("unknown verb: status = %d, want ENOTSUP", reply.Status)
	}
}

func TestReadOnlyHandlerRefusesEveryMutatingVerb(t *testing.T) {
	var ro ReadOnlyHandler
	checks := []fsproto.Reply{
		ro.Create(fsproto.CreateArgs{}),
		ro.Write(fsproto.WriteArgs{}, nil),
		ro.Mkdir(fsproto.MkdirArgs{}),
		ro.Rmdir(fsproto.RmdirArgs{}),
		ro.Mknod(fsproto.MknodArgs{}),
		ro.Unlink(fsproto.UnlinkArgs{}),
		ro.Rename(fsproto.RenameArgs{}),
		ro.Chmod(fsproto.ChmodArgs{}),
		ro.Chown(fsproto.ChownArgs{}),
		ro.Truncate(fsproto.TruncateArgs{}),
	}
	for i, r := range checks {
		if r.Status != int32(fserrno.EROFS) {
			t.Errorf("ReadOnlyHandler check %d: status = %d, want EROFS", i, r.Status)
		}
	}
}

// fakeTransport replays a fixed sequence of requests then reports EOF,
// recording every reply it's handed back.
type fakeTransport struct {
	reqs    []fakeReq
	pos     int
	replies []fsproto.Reply
}

type fakeReq struct {
	verb fsproto.Verb
	args any
	data []byte
}

func (ft *fakeTransport) Recv() (uint64, fsproto.Verb, any, []byte, error) {
	if ft.pos >= len(ft.reqs) {
		return 0, 0, nil, nil, io.EOF
	}
	r := ft.reqs[ft.pos]
	ft.pos++
	return uint64(ft.pos), r.verb, r.args, r.data, nil
}

func (ft *fakeTransport) Send(msgID uint64, reply fsproto.Reply) error {
	ft.replies = append(ft.replies, reply)
	return nil
}

type countingFlusher struct{ n int }

func (f *countingFlusher) Flush() error {
	f.n++
	return nil
}

func newTestLogger() *logger.Logger {
	return logger.New(io.Discard, "text", slog.LevelError)
}

func TestRunProcessesRequestsThenFlushesOnEOF(t *testing.T) {
	h := &recordingHandler{}
	tr := &fakeTransport{reqs: []fakeReq{
		{verb: fsproto.VerbLookup, args: fsproto.LookupArgs{Name: "a"}},
		{verb: fsproto.VerbCreate, args: fsproto.CreateArgs{Name: "b"}},
	}}
	flusher := &countingFlusher{}

	err := Run(context.Background(), h, tr, flusher, time.Hour, newTestLogger())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(tr.replies) != 2 {
		t.Fatalf("got %d replies, want 2", len(tr.replies))
	}
	if h.lastVerb != "Create" {
		t.Fatalf("last handled verb = %q, want Create", h.lastVerb)
	}
	if flusher.n != 1 {
		t.Fatalf("flush count = %d, want 1 (the EOF flush)", flusher.n)
	}
}

func TestRunFlushesOnContextCancellation(t *testing.T) {
	h := &recordingHandler{}
	// The context is cancelled before Run starts, so Run's first
	// ctx.Done() check returns through the cancellation flush before
	// Recv is ever called; the transport holds no requests.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := &fakeTransport{}
	flusher := &countingFlusher{}

	err := Run(ctx, h, tr, flusher, time.Hour, newTestLogger())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if flusher.n != 1 {
		t.Fatalf("flush count = %d, want 1 (the cancellation flush)", flusher.n)
	}
}
