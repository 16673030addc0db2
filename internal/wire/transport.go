// Package wire implements the length-prefixed framing and field encoding
// used by every connection role (control, event, file-transfer, ring-buffer).
// It has no notion of commands or roles; callers build request strings and
// interpret reply fields.
package wire

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	protoerr "github.com/gomyth/cmyth/internal/errors"
)

// headerLen is the size of the ASCII decimal length prefix on every message.
const headerLen = 8

// FieldSep is the literal four-byte field boundary marker.
const FieldSep = "[]:[]"

// Transport owns a single TCP stream. Every framed send and receive holds
// mu so a request's send-then-recv sequence is
// never interleaved with another goroutine's conversation on the same
// stream — mirroring the teacher's per-Connection mutex in internal/rtmp/conn.
type Transport struct {
	mu   sync.Mutex
	conn net.Conn
	hung bool
}

// NewTransport wraps an already-connected net.Conn.
func NewTransport(conn net.Conn) *Transport {
	return &Transport{conn: conn}
}

// Hung reports whether the last operation timed out without failing outright.
func (t *Transport) Hung() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hung
}

func (t *Transport) setHung(v bool) {
	t.mu.Lock()
	t.hung = v
	t.mu.Unlock()
}

// Conn exposes the underlying net.Conn for callers that need to set
// deadlines or inspect the peer address. Not for direct I/O.
func (t *Transport) Conn() net.Conn { return t.conn }

// Send writes an 8-byte space-left-padded ASCII decimal length followed by
// the UTF-8 message body as one framed write.
func (t *Transport) Send(message string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sendLocked(message)
}

func (t *Transport) sendLocked(message string) (int, error) {
	if len(message) > 99_999_999 {
		return 0, protoerr.NewProtocolError("transport.send", fmt.Errorf("message too large: %d bytes", len(message)))
	}
	header := fmt.Sprintf("%-8d", len(message))
	n, err := io.WriteString(t.conn, header+message)
	if err != nil {
		return n, protoerr.NewIoError("transport.send", err)
	}
	return n, nil
}

// RecvLength reads exactly 8 bytes and parses the decimal payload length.
func (t *Transport) RecvLength() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recvLengthLocked()
}

func (t *Transport) recvLengthLocked() (int, error) {
	var buf [headerLen]byte
	if _, err := io.ReadFull(t.conn, buf[:]); err != nil {
		return 0, protoerr.NewIoError("transport.recv_length", err)
	}
	s := strings.TrimSpace(string(buf[:]))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, protoerr.NewProtocolError("transport.recv_length", fmt.Errorf("malformed length header %q: %w", string(buf[:]), err))
	}
	if n < 0 {
		return 0, protoerr.NewProtocolError("transport.recv_length", fmt.Errorf("negative length header: %d", n))
	}
	return n, nil
}

// RecvPayload reads exactly n bytes (the full payload announced by the
// preceding length header).
func (t *Transport) RecvPayload(n int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recvPayloadLocked(n)
}

func (t *Transport) recvPayloadLocked(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.conn, buf); err != nil {
		return nil, protoerr.NewIoError("transport.recv_payload", err)
	}
	return buf, nil
}

// Request sends message and returns the full reply payload, holding the
// transport mutex across both halves so replies on this stream are never
// interleaved with a concurrent request.
func (t *Transport) Request(message string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.sendLocked(message); err != nil {
		return nil, err
	}
	n, err := t.recvLengthLocked()
	if err != nil {
		return nil, err
	}
	return t.recvPayloadLocked(n)
}

// RecvOK reads a reply payload and confirms it is the single-field "OK".
func (t *Transport) RecvOK() error {
	payload, err := func() ([]byte, error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		n, err := t.recvLengthLocked()
		if err != nil {
			return nil, err
		}
		return t.recvPayloadLocked(n)
	}()
	if err != nil {
		return err
	}
	if string(payload) != "OK" {
		return protoerr.NewProtocolError("transport.recv_ok", fmt.Errorf("expected OK, got %q", string(payload)))
	}
	return nil
}

// ReadTimeout reads up to len(buf) bytes off the connection within d. A
// deadline expiry is not a failure: it sets the hung flag and returns
// (0, nil) so callers can distinguish "nothing arrived yet" from a real I/O
// error, matching cmyth_file_get_block's select-then-recv behavior.
func (t *Transport) ReadTimeout(buf []byte, d time.Duration) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return 0, protoerr.NewIoError("transport.read_timeout.set_deadline", err)
	}
	defer t.conn.SetReadDeadline(time.Time{})

	n, err := t.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			t.setHung(true)
			return 0, nil
		}
		return n, protoerr.NewIoError("transport.read_timeout", err)
	}
	t.setHung(false)
	return n, nil
}

// Close half-shuts-down the write side (when supported) then closes.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tcp, ok := t.conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	return t.conn.Close()
}
