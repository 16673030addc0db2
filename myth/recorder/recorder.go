// Package recorder implements the Recorder Handle: a logical tuner/encoder
// on the backend reached over its own dedicated control connection, plus
// the tuning, channel-list and current-program queries issued over it.
// Grounded on cmyth_conn_get_recorder_from_num / cmyth_conn_get_recorder in
// connection.c and the QUERY_RECORDER accessor declarations in cmyth.h.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	protoerr "github.com/gomyth/cmyth/internal/errors"
	"github.com/gomyth/cmyth/internal/logger"
	"github.com/gomyth/cmyth/internal/metrics"
	"github.com/gomyth/cmyth/internal/wire"
	"github.com/gomyth/cmyth/myth/channel"
	"github.com/gomyth/cmyth/myth/handshake"
	"github.com/gomyth/cmyth/myth/program"
)

const connectTimeout = 5 * time.Second

// Direction parameterizes change_channel and get_next_proginfo.
type Direction int

const (
	DirUp Direction = iota
	DirDown
	DirFavorite
	DirSame
)

// Recorder is a handle to a backend recorder: its id, its server address,
// and a dedicated control connection opened directly to that recorder
// (distinct from the master backend connection used to look it up).
type Recorder struct {
	mu sync.Mutex

	id        int
	host      string
	port      int
	version   int
	connected bool

	transport *wire.Transport
	chanlist  channel.List

	metrics *metrics.Metrics
	log     *slog.Logger
}

// dialControl opens and announces a RingBuffer-role control connection
// directly to the recorder's host/port, the same way myth/conn.Open
// announces a Playback connection to the master backend.
func dialControl(ctx context.Context, host string, port, id, version int) (*wire.Transport, error) {
	d := net.Dialer{Timeout: connectTimeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, protoerr.NewIoError("recorder.dial", err)
	}
	t := wire.NewTransport(conn)
	if err := handshake.AnnounceRingBuffer(t, host, id); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// FromNum performs the full round trip: GET_RECORDER_FROM_NUM on the
// shared master-backend transport yields the recorder's host and port,
// then a fresh control connection is dialed directly to it.
func FromNum(ctx context.Context, master *wire.Transport, version int, id int, m *metrics.Metrics) (*Recorder, error) {
	msg := fmt.Sprintf("GET_RECORDER_FROM_NUM%s%d", wire.FieldSep, id)
	payload, err := master.Request(msg)
	if err != nil {
		return nil, err
	}
	r := wire.NewFieldReader(payload)
	host, err := r.Next()
	if err != nil {
		return nil, protoerr.NewProtocolError("recorder.from_num", err)
	}
	port, err := r.NextInt64(version)
	if err != nil {
		return nil, protoerr.NewProtocolError("recorder.from_num", err)
	}
	if port < 0 {
		return nil, protoerr.NewNotFoundError("recorder.from_num", fmt.Errorf("recorder %d not available", id))
	}

	transport, err := dialControl(ctx, host, int(port), id, version)
	if err != nil {
		return nil, err
	}

	rec := &Recorder{
		id:        id,
		host:      host,
		port:      int(port),
		version:   version,
		connected: true,
		transport: transport,
		metrics:   m,
		log:       logger.WithConn(logger.Logger(), fmt.Sprintf("rec-%d", id), "recorder", fmt.Sprintf("%s:%d", host, port)),
	}
	if err := rec.refreshChanlist(); err != nil {
		transport.Close()
		return nil, err
	}
	m.ConnectionOpened("recorder")
	rec.log.Info("recorder connection established", "channels", len(rec.chanlist.Channels))
	return rec, nil
}

// Borrow creates a recorder handle from an already-open control connection
// (the "no round trip" constructor). The returned handle shares the
// caller's transport and is marked disconnected: releasing it does not
// close the underlying connection.
func Borrow(t *wire.Transport, version int, id int, m *metrics.Metrics) (*Recorder, error) {
	rec := &Recorder{
		id:        id,
		version:   version,
		connected: false,
		transport: t,
		metrics:   m,
		log:       logger.WithConn(logger.Logger(), fmt.Sprintf("rec-%d", id), "recorder", ""),
	}
	if err := rec.refreshChanlist(); err != nil {
		return nil, err
	}
	return rec, nil
}

// FreeRecorder asks the backend to pick any idle recorder.
func FreeRecorder(ctx context.Context, master *wire.Transport, version int, m *metrics.Metrics) (*Recorder, error) {
	payload, err := master.Request("GET_FREE_RECORDER")
	if err != nil {
		return nil, err
	}
	r := wire.NewFieldReader(payload)
	id, err := r.NextInt64(version)
	if err != nil {
		return nil, protoerr.NewProtocolError("recorder.get_free_recorder", err)
	}
	host, err := r.Next()
	if err != nil {
		return nil, protoerr.NewProtocolError("recorder.get_free_recorder", err)
	}
	port, err := r.NextInt64(version)
	if err != nil {
		return nil, protoerr.NewProtocolError("recorder.get_free_recorder", err)
	}
	if id < 0 || port < 0 {
		return nil, protoerr.NewNotFoundError("recorder.get_free_recorder", fmt.Errorf("no free recorder available"))
	}

	transport, err := dialControl(ctx, host, int(port), int(id), version)
	if err != nil {
		return nil, err
	}
	rec := &Recorder{
		id:        int(id),
		host:      host,
		port:      int(port),
		version:   version,
		connected: true,
		transport: transport,
		metrics:   m,
		log:       logger.WithConn(logger.Logger(), fmt.Sprintf("rec-%d", id), "recorder", fmt.Sprintf("%s:%d", host, port)),
	}
	if err := rec.refreshChanlist(); err != nil {
		transport.Close()
		return nil, err
	}
	m.ConnectionOpened("recorder")
	rec.log.Info("recorder connection established", "channels", len(rec.chanlist.Channels))
	return rec, nil
}

func (r *Recorder) request(msg string) ([]byte, error) {
	return r.requestNamed("QUERY_RECORDER", msg)
}

func (r *Recorder) requestNamed(command, msg string) ([]byte, error) {
	r.metrics.ObserveRequest(command)
	payload, err := r.transport.Request(msg)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.metrics.ObserveReply(command, outcome)
	return payload, err
}

func (r *Recorder) cmd(name string, args ...string) string {
	fields := append([]string{fmt.Sprintf("QUERY_RECORDER %d", r.id), name}, args...)
	return wire.JoinFields(fields...)
}

// ID returns the recorder's backend-assigned number.
func (r *Recorder) ID() int { return r.id }

// Host returns the recorder's backend host, empty for a borrowed handle.
func (r *Recorder) Host() string { return r.host }

// Chanlist returns the channel list populated at construction time.
func (r *Recorder) Chanlist() channel.List {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chanlist
}

func (r *Recorder) refreshChanlist() error {
	payload, err := r.request(r.cmd("GET_CHANNEL_INFO", "ALL"))
	if err != nil {
		return err
	}
	fr := wire.NewFieldReader(payload)
	count, err := fr.NextInt64(r.version)
	if err != nil {
		return protoerr.NewProtocolError("recorder.chanlist", err)
	}
	list, err := channel.DecodeList(fr, r.version, int(count))
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.chanlist = list
	r.mu.Unlock()
	return nil
}

// IsRecording reports whether the recorder is actively recording.
func (r *Recorder) IsRecording() (bool, error) {
	payload, err := r.request(r.cmd("IS_RECORDING"))
	if err != nil {
		return false, err
	}
	n, err := wire.NewFieldReader(payload).NextInt64(r.version)
	if err != nil {
		return false, protoerr.NewProtocolError("recorder.is_recording", err)
	}
	return n != 0, nil
}

// Framerate returns the recorder's current video framerate.
func (r *Recorder) Framerate() (float64, error) {
	payload, err := r.request(r.cmd("GET_FRAMERATE"))
	if err != nil {
		return 0, err
	}
	s, err := wire.NewFieldReader(payload).Next()
	if err != nil {
		return 0, protoerr.NewProtocolError("recorder.get_framerate", err)
	}
	var f float64
	if _, err := fmt.Sscanf(s, "%f", &f); err != nil {
		return 0, protoerr.NewProtocolError("recorder.get_framerate", err)
	}
	return f, nil
}

// Pause pauses the recorder's live stream.
func (r *Recorder) Pause() error {
	_, err := r.request(r.cmd("PAUSE"))
	return err
}

// ChangeChannel steps the tuned channel up, down, to the favorite, or
// restarts the same channel.
func (r *Recorder) ChangeChannel(dir Direction) error {
	_, err := r.request(r.cmd("CHANGE_CHANNEL", fmt.Sprintf("%d", dir)))
	return err
}

// SetChannel tunes directly to the named channel.
func (r *Recorder) SetChannel(name string) error {
	_, err := r.request(r.cmd("SET_CHANNEL", name))
	return err
}

// CheckChannel reports whether name is a channel this recorder can tune.
func (r *Recorder) CheckChannel(name string) (bool, error) {
	payload, err := r.request(r.cmd("CHECK_CHANNEL", name))
	if err != nil {
		return false, err
	}
	n, err := wire.NewFieldReader(payload).NextInt64(r.version)
	if err != nil {
		return false, protoerr.NewProtocolError("recorder.check_channel", err)
	}
	return n != 0, nil
}

// CurrentProgram returns the program currently being recorded. An empty
// Pathname means the server is between segments.
func (r *Recorder) CurrentProgram() (program.Info, error) {
	payload, err := r.request(r.cmd("GET_CURRENT_PROGINFO"))
	if err != nil {
		return program.Info{}, err
	}
	return program.Decode(wire.NewFieldReader(payload), r.version)
}

// NextProgram returns the program adjacent to cur in the given direction,
// used to preview schedule entries before a channel change.
func (r *Recorder) NextProgram(cur program.Info, dir Direction) (program.Info, error) {
	payload, err := r.request(r.cmd("GET_NEXT_PROGINFO", cur.ChanSign, fmt.Sprintf("%d", cur.ChanID), fmt.Sprintf("%d", dir)))
	if err != nil {
		return program.Info{}, err
	}
	return program.Decode(wire.NewFieldReader(payload), r.version)
}

// Filename returns the recorder's currently open pathname.
func (r *Recorder) Filename() (string, error) {
	payload, err := r.request(r.cmd("GET_FILENAME"))
	if err != nil {
		return "", err
	}
	return wire.NewFieldReader(payload).Next()
}

// StopLiveTV tells the backend to tear down live-TV on this recorder.
func (r *Recorder) StopLiveTV() error {
	_, err := r.request(r.cmd("STOP_LIVETV"))
	return err
}

// SpawnLiveTVResult carries the chain id that was sent with SPAWN_LIVETV,
// for constructing a myth/chain.Chain.
type SpawnLiveTVResult struct {
	ChainID string
}

// SpawnLiveTV starts live-TV on this recorder and returns the chain id the
// backend will tag subsequent LIVETV_CHAIN_UPDATE events with.
func (r *Recorder) SpawnLiveTV(chainID string) (SpawnLiveTVResult, error) {
	_, err := r.request(r.cmd("SPAWN_LIVETV", chainID, "0", "Live TV"))
	if err != nil {
		return SpawnLiveTVResult{}, err
	}
	return SpawnLiveTVResult{ChainID: chainID}, nil
}

// Release closes the recorder's dedicated control connection if this
// handle owns one (i.e. it was not Borrow()ed from a shared connection).
func (r *Recorder) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return nil
	}
	r.connected = false
	r.metrics.ConnectionClosed("recorder")
	r.log.Debug("recorder connection released")
	return r.transport.Close()
}
