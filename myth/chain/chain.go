// Package chain implements the Live-TV Chain: a recorder's dynamically
// growing ordered list of file-transfer segments, populated asynchronously
// by a background worker holding the Event Channel. Grounded on
// cmyth_chain_create / cmyth_chain_event_loop / cmyth_chain_switch_to /
// cmyth_chain_add_wait in chain.c; the growing-map worker pattern mirrors
// internal/rtmp/relay/manager.go's DestinationManager in the teacher repo.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	protoerr "github.com/gomyth/cmyth/internal/errors"
	"github.com/gomyth/cmyth/internal/logger"
	"github.com/gomyth/cmyth/internal/metrics"
	"github.com/gomyth/cmyth/myth/event"
	"github.com/gomyth/cmyth/myth/filetransfer"
	"github.com/gomyth/cmyth/myth/program"
)

// State is the chain's lifecycle state.
type State int

const (
	StateEmpty State = iota
	StateGrowing
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateGrowing:
		return "growing"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// waitTimeout is how long a reader blocks for the next segment before
// giving up, matching cmyth_chain_add_wait's default.
const waitTimeout = 5 * time.Second

// maxAdvanceRetries bounds the cross-segment-read retry loop so a chain
// that never grows another segment doesn't spin forever.
const maxAdvanceRetries = 3

// Entry is one segment of a live stream.
type Entry struct {
	Program program.Info
	File    *filetransfer.FileTransfer // lazily opened; nil until SwitchTo opens it
	Offset  int64
}

// OpenSegment opens (or reopens) the dedicated control+data connections for
// a chain segment and returns its FileTransfer.
type OpenSegment func(ctx context.Context, p program.Info) (*filetransfer.FileTransfer, error)

// QueryCurrent fetches the recorder's current program, used by the chain's
// event-driven worker to learn what to append after a LIVETV_CHAIN_UPDATE
// notification (the event itself carries only the chain id, not the
// program).
type QueryCurrent func(ctx context.Context) (program.Info, error)

// Chain is a recorder's ordered sequence of ChainEntry, grown whenever the
// Event Channel delivers a LIVETV_CHAIN_UPDATE for this chain's id.
type Chain struct {
	mu       sync.Mutex
	cond     *sync.Cond
	id       string
	state    State
	segments []Entry
	current  int
	callback func(program.Info)

	openSegment  OpenSegment
	queryCurrent QueryCurrent
	metrics      *metrics.Metrics
	log          *slog.Logger
}

// New creates a chain bound to chainID and subscribes to evCh so that every
// LIVETV_CHAIN_UPDATE event naming this chain triggers append_segment via
// queryCurrent. queryCurrent may be nil, in which case the caller is
// responsible for invoking OnUpdate directly (e.g. in tests).
func New(chainID string, evCh *event.Channel, openSegment OpenSegment, queryCurrent QueryCurrent, m *metrics.Metrics) *Chain {
	c := &Chain{
		id:           chainID,
		current:      -1,
		openSegment:  openSegment,
		queryCurrent: queryCurrent,
		metrics:      m,
		log:          logger.WithChain(logger.Logger(), chainID, 0),
	}
	c.cond = sync.NewCond(&c.mu)

	evCh.Subscribe(func(ev event.Event) {
		if ev.Kind != event.KindLiveTVChainUpdate || ev.Payload != chainID || c.queryCurrent == nil {
			return
		}
		current, err := c.queryCurrent(context.Background())
		if err != nil {
			c.log.Warn("failed to query current program after chain update", "error", err)
			return
		}
		if err := c.appendSegment(context.Background(), current); err != nil {
			c.log.Warn("append_segment failed", "error", err)
		}
	})

	return c
}

// OnUpdate appends current as a new segment if it differs from the tip. It
// is the same operation the event subscription above performs automatically
// when queryCurrent is configured; tests and callers without a live Event
// Channel can drive the chain directly through this method instead.
func (c *Chain) OnUpdate(ctx context.Context, current program.Info) error {
	return c.appendSegment(ctx, current)
}

// appendSegment takes the recorder's current program and, if its pathname
// differs from the tip's, appends a new segment whose offset is the previous tip's
// offset plus its length.
func (c *Chain) appendSegment(ctx context.Context, current program.Info) error {
	if current.Pathname == "" {
		// Server is between segments; nothing to append yet.
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return protoerr.NewCancelledError("chain.append_segment")
	}
	if len(c.segments) > 0 {
		tip := c.segments[len(c.segments)-1]
		if tip.Program.Pathname == current.Pathname {
			return nil // not a new segment
		}
	}

	var offset int64
	if len(c.segments) > 0 {
		tip := c.segments[len(c.segments)-1]
		offset = tip.Offset + tip.Program.LengthBytes
	}

	c.segments = append(c.segments, Entry{Program: current, Offset: offset})
	wasEmpty := c.state == StateEmpty
	c.state = StateGrowing
	if wasEmpty {
		c.current = 0
	}
	c.metrics.ObserveChainSegment(c.id)
	cb := c.callback
	c.cond.Broadcast()
	c.mu.Unlock()
	if cb != nil {
		cb(current)
	}
	c.mu.Lock()
	return nil
}

// SetCallback installs a function invoked (outside the chain mutex) each
// time a segment is appended.
func (c *Chain) SetCallback(fn func(program.Info)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = fn
}

// State returns the chain's current lifecycle state.
func (c *Chain) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Len returns the number of segments currently known.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.segments)
}

// Current returns the index of the current segment, or -1 if none exists.
func (c *Chain) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Program returns segment i's program record, used by callers that tear
// down a finished live-TV chain's recordings (cmyth_chain_get_prog).
func (c *Chain) Program(i int) (program.Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.segments) {
		return program.Info{}, protoerr.NewNotFoundError("chain.program", fmt.Errorf("index %d out of range [0,%d)", i, len(c.segments)))
	}
	return c.segments[i].Program, nil
}

// SwitchTo makes segments[i] current, lazily opening its FileTransfer.
// Once the current segment's FileTransfer is open, SwitchTo(current) is a
// no-op that returns success without reopening.
func (c *Chain) SwitchTo(ctx context.Context, i int) error {
	c.mu.Lock()
	if i < 0 || i >= len(c.segments) {
		c.mu.Unlock()
		return protoerr.NewNotFoundError("chain.switch_to", fmt.Errorf("index %d out of range [0,%d)", i, len(c.segments)))
	}
	if i == c.current && c.segments[i].File != nil {
		c.mu.Unlock()
		return nil
	}
	entry := c.segments[i]
	needsOpen := entry.File == nil
	c.mu.Unlock()

	var ft *filetransfer.FileTransfer
	var err error
	if needsOpen {
		ft, err = c.openSegment(ctx, entry.Program)
		if err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if needsOpen {
		c.segments[i].File = ft
	}
	c.current = i
	c.state = StateActive
	return nil
}

// Switch moves the current segment by delta.
func (c *Chain) Switch(ctx context.Context, delta int) error {
	c.mu.Lock()
	target := c.current + delta
	c.mu.Unlock()
	return c.SwitchTo(ctx, target)
}

// SwitchLast jumps to the final known segment, used after a channel change
// to skip past stale segments.
func (c *Chain) SwitchLast(ctx context.Context) error {
	c.mu.Lock()
	last := len(c.segments) - 1
	c.mu.Unlock()
	if last < 0 {
		return protoerr.NewNotFoundError("chain.switch_last", fmt.Errorf("chain has no segments"))
	}
	return c.SwitchTo(ctx, last)
}

// currentFileTransfer returns the FileTransfer for the current segment.
func (c *Chain) currentFileTransfer() (*filetransfer.FileTransfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current < 0 || c.current >= len(c.segments) {
		return nil, protoerr.NewNotFoundError("chain.current_file_transfer", fmt.Errorf("no current segment"))
	}
	ft := c.segments[c.current].File
	if ft == nil {
		return nil, protoerr.NewNotFoundError("chain.current_file_transfer", fmt.Errorf("current segment has no open file transfer"))
	}
	return ft, nil
}

// RequestBlock calls request-block on the current segment. If the segment
// reports exhaustion (granted == 0), it attempts to switch to the next
// segment and retry, bounded by maxAdvanceRetries so a chain that never
// grows another segment does not spin forever.
func (c *Chain) RequestBlock(ctx context.Context, length int) (int64, error) {
	for attempt := 0; attempt <= maxAdvanceRetries; attempt++ {
		ft, err := c.currentFileTransfer()
		if err != nil {
			return 0, err
		}
		granted, err := ft.RequestBlock(ctx, length)
		if err != nil {
			return 0, err
		}
		if granted > 0 {
			return granted, nil
		}
		if err := c.Switch(ctx, 1); err != nil {
			return 0, nil // no next segment yet; surface as end-of-chain, not an error
		}
	}
	return 0, protoerr.NewTimeoutError("chain.request_block", waitTimeout, fmt.Errorf("exhausted retries waiting for next segment"))
}

// GetBlock reads raw bytes off the current segment's data connection,
// matching cmyth_livetv_get_block. Callers always issue RequestBlock
// first; GetBlock never crosses a segment boundary on its own.
func (c *Chain) GetBlock(buf []byte, maxLen int) (int, error) {
	ft, err := c.currentFileTransfer()
	if err != nil {
		return 0, err
	}
	return ft.GetBlock(buf, maxLen)
}

// Seek locates the segment containing offset via binary search over
// cumulative offsets and switches to it, then seeks within that segment.
// This resolves the source's open question in favor of "locate the
// containing segment" rather than snapping to a boundary.
func (c *Chain) Seek(ctx context.Context, offset int64) (int64, error) {
	c.mu.Lock()
	segs := make([]Entry, len(c.segments))
	copy(segs, c.segments)
	c.mu.Unlock()

	if len(segs) == 0 {
		return 0, protoerr.NewNotFoundError("chain.seek", fmt.Errorf("chain has no segments"))
	}

	idx := sort.Search(len(segs), func(i int) bool {
		return segs[i].Offset > offset
	}) - 1
	if idx < 0 {
		idx = 0
	}

	if err := c.SwitchTo(ctx, idx); err != nil {
		return 0, err
	}
	ft, err := c.currentFileTransfer()
	if err != nil {
		return 0, err
	}
	localOffset := offset - segs[idx].Offset
	return ft.Seek(localOffset, filetransfer.SeekSet)
}

// AddWait blocks until the next segment is appended or the default 5s
// timeout elapses, whichever comes first. Returns true if a new segment
// arrived.
func (c *Chain) AddWait() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.segments)

	done := make(chan struct{})
	timer := time.AfterFunc(waitTimeout, func() {
		c.mu.Lock()
		close(done)
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	for len(c.segments) == before && c.state != StateClosed {
		c.cond.Wait()
		select {
		case <-done:
			return len(c.segments) > before
		default:
		}
	}
	return len(c.segments) > before
}

// RemoveProg is a permanent stub matching cmyth_livetv_chain_remove_prog in
// the original: no caller in this client ever removes a live segment, and
// the original never implemented it either.
func (c *Chain) RemoveProg(i int) error {
	return protoerr.NewInvalidArgumentError("chain.remove_prog", fmt.Errorf("removing a segment is not supported"))
}

// Close marks the chain Closed and wakes any goroutine blocked in AddWait.
func (c *Chain) Close() error {
	c.mu.Lock()
	c.state = StateClosed
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}
