// Package filetransfer implements the pull-based read model described in
// spec §4.4: request-block pacing over the shared control connection, raw
// data reads off a dedicated data connection, seek, and end-of-segment
// detection. Grounded on cmyth_file_get_block / cmyth_file_request_block /
// cmyth_file_seek in file.c.
package filetransfer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	protoerr "github.com/gomyth/cmyth/internal/errors"
	"github.com/gomyth/cmyth/internal/metrics"
	"github.com/gomyth/cmyth/internal/wire"
)

// Whence mirrors the standard seek whence values.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

// dataReadTimeout bounds each select-style read on the data connection.
const dataReadTimeout = 10 * time.Second

// FileTransfer is a remote file handle: a server-assigned file id, a shared
// control connection, and a dedicated data connection.
type FileTransfer struct {
	mu sync.Mutex

	fileID     int64
	fileLength int64
	position   int64
	version    int

	control *wire.Transport
	data    *wire.Transport

	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// Options configures a FileTransfer.
type Options struct {
	// RateLimit paces RequestBlock calls so a slow consumer doesn't flood a
	// fast backend. Nil disables pacing.
	RateLimit *rate.Limiter
	Metrics   *metrics.Metrics
}

// New wraps an already-announced control/data connection pair.
func New(control, data *wire.Transport, fileID, fileLength int64, version int, opts Options) *FileTransfer {
	return &FileTransfer{
		fileID:     fileID,
		fileLength: fileLength,
		version:    version,
		control:    control,
		data:       data,
		limiter:    opts.RateLimit,
		metrics:    opts.Metrics,
	}
}

// FileID returns the server-assigned file id.
func (f *FileTransfer) FileID() int64 { return f.fileID }

// Length returns the file's length in bytes as reported at open time.
func (f *FileTransfer) Length() int64 { return f.fileLength }

// Position returns the cached cursor.
func (f *FileTransfer) Position() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

// RequestBlock asks the backend to grant up to length bytes on the data
// connection and advances the cursor by the granted amount. granted may be
// less than length (partial grant) or 0 (segment exhausted).
func (f *FileTransfer) RequestBlock(ctx context.Context, length int) (granted int64, err error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return 0, protoerr.NewCancelledError("filetransfer.request_block")
		}
	}
	msg := fmt.Sprintf("QUERY_FILETRANSFER %d%sREQUEST_BLOCK%s%d", f.fileID, wire.FieldSep, wire.FieldSep, length)
	payload, err := f.control.Request(msg)
	if err != nil {
		return 0, err
	}
	r := wire.NewFieldReader(payload)
	n, err := r.NextInt64(f.version)
	if err != nil {
		return 0, protoerr.NewProtocolError("filetransfer.request_block", err)
	}
	if n < 0 {
		return 0, protoerr.NewProtocolError("filetransfer.request_block", fmt.Errorf("negative grant %d", n))
	}

	f.mu.Lock()
	f.position += n
	f.mu.Unlock()
	f.metrics.ObserveBytes("filetransfer", int(n))
	return n, nil
}

// GetBlock reads up to len(buf) raw bytes off the data connection with a
// 10-second read window. A deadline expiry marks the transport hung but is
// not an error; it returns (0, nil). It never reads past maxLen.
func (f *FileTransfer) GetBlock(buf []byte, maxLen int) (int, error) {
	if maxLen < len(buf) {
		buf = buf[:maxLen]
	}
	n, err := f.data.ReadTimeout(buf, dataReadTimeout)
	if err != nil {
		return n, protoerr.NewIoError("filetransfer.get_block", err)
	}
	return n, nil
}

// Seek repositions the cursor. (0, SeekCur) returns the cached cursor
// without a network round-trip. All other seeks send a SEEK command
// carrying both the target offset and the client's believed current
// position (so the backend can detect a stale client) and adopt the
// backend's returned absolute position.
func (f *FileTransfer) Seek(offset int64, whence Whence) (int64, error) {
	f.mu.Lock()
	cur := f.position
	f.mu.Unlock()

	if offset == 0 && whence == SeekCur {
		return cur, nil
	}

	var target int64
	switch whence {
	case SeekSet:
		target = offset
	case SeekCur:
		target = cur + offset
	case SeekEnd:
		target = f.fileLength + offset
	default:
		return 0, protoerr.NewInvalidArgumentError("filetransfer.seek", fmt.Errorf("unknown whence %d", whence))
	}

	targetFields := wire.EncodeInt64(f.version, target)
	curFields := wire.EncodeInt64(f.version, cur)
	fields := append([]string{fmt.Sprintf("QUERY_FILETRANSFER %d", f.fileID), "SEEK"}, targetFields...)
	fields = append(fields, curFields...)
	msg := wire.JoinFields(fields...)

	payload, err := f.control.Request(msg)
	if err != nil {
		return 0, err
	}
	r := wire.NewFieldReader(payload)
	newPos, err := r.NextInt64(f.version)
	if err != nil {
		return 0, protoerr.NewProtocolError("filetransfer.seek", err)
	}

	f.mu.Lock()
	f.position = newPos
	f.mu.Unlock()
	return newPos, nil
}

// Close sends DONE on the control connection, awaits OK, then closes the
// data connection. The control connection remains usable by other callers.
func (f *FileTransfer) Close() error {
	msg := fmt.Sprintf("QUERY_FILETRANSFER %d%sDONE", f.fileID, wire.FieldSep)
	payload, reqErr := f.control.Request(msg)
	dataErr := f.data.Close()
	if reqErr != nil {
		return reqErr
	}
	if err := wire.NewFieldReader(payload).NextOK(); err != nil {
		return err
	}
	return dataErr
}

var _ io.Closer = (*FileTransfer)(nil)
