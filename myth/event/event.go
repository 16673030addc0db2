// Package event implements the Event Channel: a dedicated connection that
// receives unsolicited backend notifications, decoded into a tagged Event
// and fanned out to subscribers. Grounded on the message format in §4.7 of
// the spec and, for the Go idiom of typed event constants plus a
// subscriber-registry dispatcher, on internal/rtmp/server/hooks in the
// teacher repo.
package event

import (
	"fmt"
	"sync"

	protoerr "github.com/gomyth/cmyth/internal/errors"
	"github.com/gomyth/cmyth/internal/wire"
)

// Kind identifies the tagged variant of a backend event.
type Kind string

const (
	KindClose               Kind = "CLOSE"
	KindRecordingListChange Kind = "RECORDING_LIST_CHANGE"
	KindScheduleChange      Kind = "SCHEDULE_CHANGE"
	KindDoneRecording       Kind = "DONE_RECORDING"
	KindQuitLiveTV          Kind = "QUIT_LIVETV"
	KindWatchLiveTV         Kind = "WATCH_LIVETV"
	KindLiveTVChainUpdate   Kind = "LIVETV_CHAIN_UPDATE"
	KindSignal              Kind = "SIGNAL"
	KindAskRecording        Kind = "ASK_RECORDING"
	KindSystemEvent         Kind = "SYSTEM_EVENT"
	KindUpdateFileSize      Kind = "UPDATE_FILE_SIZE"
	KindGeneratedPixmap     Kind = "GENERATED_PIXMAP"
	KindClearSettingsCache  Kind = "CLEAR_SETTINGS_CACHE"
	KindError               Kind = "ERROR"
	KindCommflagStart       Kind = "COMMFLAG_START"
	KindUnknown             Kind = "UNKNOWN"
)

// Event is one decoded backend notification.
type Event struct {
	Kind    Kind
	Payload string
}

// parseMessage decodes a raw payload of the form
// "BACKEND_MESSAGE[]:[]<body>[]:[]empty" into a tagged Event.
func parseMessage(raw []byte) (Event, error) {
	r := wire.NewFieldReader(raw)
	tag, err := r.Next()
	if err != nil {
		return Event{}, protoerr.NewProtocolError("event.parse", err)
	}
	if tag != "BACKEND_MESSAGE" {
		return Event{}, protoerr.NewProtocolError("event.parse", fmt.Errorf("unexpected event envelope %q", tag))
	}
	body, err := r.Next()
	if err != nil {
		return Event{}, protoerr.NewProtocolError("event.parse", err)
	}
	kind, rest := splitKind(body)
	return Event{Kind: kind, Payload: rest}, nil
}

func splitKind(body string) (Kind, string) {
	for _, k := range []Kind{
		KindClose, KindRecordingListChange, KindScheduleChange, KindDoneRecording,
		KindQuitLiveTV, KindWatchLiveTV, KindLiveTVChainUpdate, KindSignal,
		KindAskRecording, KindSystemEvent, KindUpdateFileSize, KindGeneratedPixmap,
		KindClearSettingsCache, KindError, KindCommflagStart,
	} {
		prefix := string(k)
		if len(body) >= len(prefix) && body[:len(prefix)] == prefix {
			rest := body[len(prefix):]
			if len(rest) > 0 && rest[0] == ' ' {
				rest = rest[1:]
			}
			return k, rest
		}
	}
	return KindUnknown, body
}

// Handler is called for each event delivered to a subscriber.
type Handler func(Event)

// Channel reads events off a dedicated Transport and fans them out to
// registered handlers in wire arrival order.
type Channel struct {
	transport *wire.Transport

	mu       sync.RWMutex
	handlers []Handler
}

// NewChannel wraps an already-announced event-role Transport.
func NewChannel(t *wire.Transport) *Channel {
	return &Channel{transport: t}
}

// Subscribe registers fn to be invoked for every subsequently decoded event.
func (c *Channel) Subscribe(fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// GetEvent blocks for the next event and returns it without dispatching.
func (c *Channel) GetEvent() (Event, error) {
	payload, err := func() ([]byte, error) {
		n, err := c.transport.RecvLength()
		if err != nil {
			return nil, err
		}
		return c.transport.RecvPayload(n)
	}()
	if err != nil {
		return Event{}, err
	}
	return parseMessage(payload)
}

// Run blocks reading events and dispatches each to every subscriber, in the
// order it arrived on the wire. It returns the read error when the channel
// errors (typically because the connection was closed), or nil once a CLOSE
// event has been dispatched.
func (c *Channel) Run() error {
	for {
		ev, err := c.GetEvent()
		if err != nil {
			return err
		}
		c.mu.RLock()
		handlers := make([]Handler, len(c.handlers))
		copy(handlers, c.handlers)
		c.mu.RUnlock()
		for _, h := range handlers {
			h(ev)
		}
		if ev.Kind == KindClose {
			return nil
		}
	}
}

// Close releases the underlying transport.
func (c *Channel) Close() error { return c.transport.Close() }
