package fuse

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/gomyth/cmyth/internal/logger"
	"github.com/gomyth/cmyth/internal/metrics"
	"github.com/gomyth/cmyth/myth/conn"
	"github.com/gomyth/cmyth/myth/program"
)

var sanitizeRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// fileName turns a recording's title into the flat ".mpg" name exposed
// under /recordings, matching mythfuse.c's whitespace-to-underscore
// sanitization of pathname components.
func fileName(p program.Info) string {
	name := sanitizeRe.ReplaceAllString(strings.TrimSpace(p.Title), "_")
	if name == "" {
		name = "recording"
	}
	return name + ".mpg"
}

// Root is the filesystem root: a single "recordings" directory populated
// from a master backend connection's recordings snapshot, taken once at
// mount time.
type Root struct {
	fs.Inode

	master  *conn.Connection
	host    string
	port    int
	version int
	metrics *metrics.Metrics
}

var _ fs.NodeOnAdder = (*Root)(nil)
var _ fs.NodeGetattrer = (*Root)(nil)

// New builds a Root backed by master, an already-open Playback connection
// to the backend that will serve the QUERY_RECORDINGS lookup.
func New(master *conn.Connection, host string, port int, m *metrics.Metrics) *Root {
	return &Root{master: master, host: host, port: port, version: master.Version(), metrics: m}
}

func (r *Root) log() *slog.Logger { return logger.Logger() }

// OnAdd builds the "recordings" directory and one RecordingNode per entry
// returned by QUERY_RECORDINGS Play. mythfuse.c instead caches its
// per-host proglist lazily on first access (o_files); this client takes
// the snapshot once at mount since it serves a single backend connection.
func (r *Root) OnAdd(ctx context.Context) {
	recordingsDir := r.NewPersistentInode(ctx, &fs.Inode{}, fs.StableAttr{Mode: fuse.S_IFDIR, Ino: inoFromString("dir:recordings")})
	r.AddChild("recordings", recordingsDir, true)

	list, err := r.master.Recordings()
	if err != nil {
		r.log().Warn("mythfuse: failed to list recordings", "error", err)
		return
	}

	for _, p := range list.Programs {
		name := fileName(p)
		node := &RecordingNode{root: r, prog: p}
		child := recordingsDir.NewPersistentInode(ctx, node, fs.StableAttr{
			Mode: fuse.S_IFREG,
			Ino:  inoFromString("file:" + p.Pathname),
		})
		recordingsDir.AddChild(name, child, true)
	}
}

// Getattr reports the root as a directory.
func (r *Root) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0755
	return 0
}
