// Package conn implements the Connection entity: a Framed Transport paired
// with a negotiated protocol version, peer identity and role. Grounded on
// cmyth_connect/cmyth_conn_connect in connection.c and, for the Go idiom of
// a mutex-guarded struct with an identity string and structured logging, on
// internal/rtmp/conn/conn.go in the teacher repo.
package conn

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	protoerr "github.com/gomyth/cmyth/internal/errors"
	"github.com/gomyth/cmyth/internal/logger"
	"github.com/gomyth/cmyth/internal/metrics"
	"github.com/gomyth/cmyth/internal/versioncache"
	"github.com/gomyth/cmyth/internal/wire"
	"github.com/gomyth/cmyth/myth/handshake"
)

// connectTimeout bounds the TCP connect attempt, replacing the original's
// SIGALRM-based 5-second hack with a native dial timeout.
const connectTimeout = 5 * time.Second

// DefaultControlBuffer and DefaultDataBuffer are the TCP receive-buffer
// sizes used unless a caller overrides them: small buffers starve streaming
// playback, large ones cause handshake hangs (see spec's §4.1 rationale).
const (
	DefaultControlBuffer = 4096
	DefaultDataBuffer    = 128 * 1024
)

var (
	processIdentity     string
	processIdentityOnce sync.Once
	connCounter         uint64
)

// localIdentity returns the process-unique Playback-announcement suffix,
// computed once per process: "<hostname>_<pid>_<instance>".
func localIdentity(instance uint64) string {
	processIdentityOnce.Do(func() {
		h, err := os.Hostname()
		if err != nil {
			h = "localhost"
		}
		processIdentity = h
	})
	return fmt.Sprintf("%s_%d_%d", processIdentity, os.Getpid(), instance)
}

// Connection pairs a Framed Transport with its agreed protocol version,
// role, and peer identity. Safe for concurrent use by virtue of the
// Transport's own mutex; Connection itself adds no additional locking
// because Version and Role never change after Open returns.
type Connection struct {
	id      string
	log     *slog.Logger
	metrics *metrics.Metrics

	transport *wire.Transport
	role      handshake.Role
	version   int
	host      string
	port      int

	ctx    context.Context
	cancel context.CancelFunc

	// fileTransferReply is populated when Role == RoleFileTransfer.
	fileTransferReply *handshake.FileTransferReply
}

// Options configures Open. Zero value selects sane control-connection
// defaults.
type Options struct {
	Role           handshake.Role
	RecvBufferSize int
	VersionCache   *versioncache.Cache
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	// Pathname is required when Role == RoleFileTransfer.
	Pathname string
	// RecorderID is required when Role == RoleRingBuffer.
	RecorderID int
}

func nextID() string { return fmt.Sprintf("conn-%d-%s", atomic.AddUint64(&connCounter, 1), uuid.NewString()[:8]) }

// Open resolves host, dials with a bounded connect timeout, negotiates the
// protocol version (starting from the version cache or HighestSupported),
// and announces the requested role.
func Open(ctx context.Context, host string, port int, opts Options) (*Connection, error) {
	if opts.RecvBufferSize == 0 {
		opts.RecvBufferSize = DefaultControlBuffer
		if opts.Role == handshake.RoleFileTransfer || opts.Role == handshake.RoleRingBuffer {
			opts.RecvBufferSize = DefaultDataBuffer
		}
	}
	lg := opts.Logger
	if lg == nil {
		lg = logger.Logger()
	}

	dialer := net.Dialer{Timeout: connectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, protoerr.NewIoError("conn.open.dial", err)
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetReadBuffer(opts.RecvBufferSize)
	}

	t := wire.NewTransport(raw)

	trial := handshake.HighestSupported
	if opts.VersionCache != nil {
		if v, ok := opts.VersionCache.Get(host); ok {
			trial = v
		}
	}

	agreed, err := handshake.Negotiate(t, trial, opts.Metrics)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	if opts.VersionCache != nil {
		opts.VersionCache.Set(host, agreed)
	}

	cctx, cancel := context.WithCancel(ctx)
	id := nextID()
	c := &Connection{
		id:        id,
		log:       logger.WithConn(lg, id, opts.Role.String(), raw.RemoteAddr().String()),
		metrics:   opts.Metrics,
		transport: t,
		role:      opts.Role,
		version:   agreed,
		host:      host,
		port:      port,
		ctx:       cctx,
		cancel:    cancel,
	}

	if err := c.announce(opts); err != nil {
		cancel()
		_ = t.Close()
		return nil, err
	}

	c.metrics.ConnectionOpened(opts.Role.String())
	c.log.Info("connection established", "version", agreed)
	return c, nil
}

func (c *Connection) announce(opts Options) error {
	switch opts.Role {
	case handshake.RolePlayback, handshake.RoleEvent:
		return handshake.AnnouncePlayback(c.transport, localIdentity(atomic.AddUint64(&connCounter, 0)), opts.Role == handshake.RoleEvent)
	case handshake.RoleFileTransfer:
		if opts.Pathname == "" {
			return protoerr.NewInvalidArgumentError("conn.announce", fmt.Errorf("file-transfer role requires a pathname"))
		}
		local, err := os.Hostname()
		if err != nil {
			local = "localhost"
		}
		reply, err := handshake.AnnounceFileTransfer(c.transport, c.version, local, opts.Pathname)
		if err != nil {
			return err
		}
		c.fileTransferReply = reply
		return nil
	case handshake.RoleRingBuffer:
		local, err := os.Hostname()
		if err != nil {
			local = "localhost"
		}
		return handshake.AnnounceRingBuffer(c.transport, local, opts.RecorderID)
	default:
		return protoerr.NewInvalidArgumentError("conn.announce", fmt.Errorf("unknown role %v", opts.Role))
	}
}

// Transport exposes the underlying Framed Transport for higher layers
// (recorder, file transfer, chain, event) that issue their own requests.
func (c *Connection) Transport() *wire.Transport { return c.transport }

// Version returns the negotiated protocol version, constant for the
// Connection's lifetime.
func (c *Connection) Version() int { return c.version }

// Role returns the announced role.
func (c *Connection) Role() handshake.Role { return c.role }

// Host returns the backend host this connection was opened against.
func (c *Connection) Host() string { return c.host }

// FileTransferReply returns the backend's ANN FileTransfer reply. Only
// meaningful when Role() == handshake.RoleFileTransfer.
func (c *Connection) FileTransferReply() *handshake.FileTransferReply { return c.fileTransferReply }

// Logger returns the connection's structured logger.
func (c *Connection) Logger() *slog.Logger { return c.log }

// Close releases the connection.
func (c *Connection) Close() error {
	c.cancel()
	err := c.transport.Close()
	c.metrics.ConnectionClosed(c.role.String())
	c.log.Debug("connection closed")
	return err
}
