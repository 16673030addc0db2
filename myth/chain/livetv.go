package chain

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gomyth/cmyth/internal/metrics"
	"github.com/gomyth/cmyth/internal/wire"
	"github.com/gomyth/cmyth/myth/conn"
	"github.com/gomyth/cmyth/myth/event"
	"github.com/gomyth/cmyth/myth/filetransfer"
	"github.com/gomyth/cmyth/myth/handshake"
	"github.com/gomyth/cmyth/myth/program"
	"github.com/gomyth/cmyth/myth/recorder"
)

// makeOpenSegment returns an OpenSegment that dials a fresh FileTransfer-role
// connection to host:port for each segment's pathname, pairing it with the
// shared control transport for QUERY_FILETRANSFER commands.
func makeOpenSegment(host string, port, version int, control *wire.Transport, m *metrics.Metrics) OpenSegment {
	return func(ctx context.Context, p program.Info) (*filetransfer.FileTransfer, error) {
		c, err := conn.Open(ctx, host, port, conn.Options{
			Role:     handshake.RoleFileTransfer,
			Pathname: p.Pathname,
			Metrics:  m,
		})
		if err != nil {
			return nil, err
		}
		reply := c.FileTransferReply()
		return filetransfer.New(control, c.Transport(), reply.FileID, reply.FileLength, version, filetransfer.Options{Metrics: m}), nil
	}
}

// SpawnLiveTV is the spawn_chain_livetv entry point: it tells rec to start
// live-TV, mints a chain id, and returns a Chain whose worker subscribes to
// evCh for LIVETV_CHAIN_UPDATE notifications, querying rec for the current
// program and lazily opening each segment's dedicated FileTransfer
// connection against host:port as the backend discovers it.
func SpawnLiveTV(rec *recorder.Recorder, control *wire.Transport, host string, port, version int, evCh *event.Channel, m *metrics.Metrics) (*Chain, error) {
	chainID := fmt.Sprintf("livetv-%s", uuid.NewString())
	if _, err := rec.SpawnLiveTV(chainID); err != nil {
		return nil, err
	}

	queryCurrent := func(ctx context.Context) (program.Info, error) {
		return rec.CurrentProgram()
	}

	return New(chainID, evCh, makeOpenSegment(host, port, version, control, m), queryCurrent, m), nil
}
