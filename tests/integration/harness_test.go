// Package integration runs the end-to-end scenarios from the spec's
// TESTABLE PROPERTIES section against a fake backend listener, in the
// style of the teacher's net.Pipe-based handshake integration test:
// one goroutine plays the backend side of a real TCP connection, the
// library's own client code plays the other, and assertions run on
// both sides' outcomes.
package integration

import (
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/gomyth/cmyth/internal/wire"
)

// fakeBackend is a TCP listener that hands each accepted connection to a
// caller-supplied handler, one goroutine per connection, mirroring a real
// backend's accept loop without any of its scheduling/tuner logic.
type fakeBackend struct {
	ln net.Listener
}

// startFakeBackend listens on 127.0.0.1:0 and spawns handle for every
// accepted connection until the test ends.
func startFakeBackend(t *testing.T, handle func(t *testing.T, conn net.Conn)) *fakeBackend {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	b := &fakeBackend{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(t, c)
		}
	}()
	return b
}

// HostPort returns the host and numeric port the fake backend listens on.
func (b *fakeBackend) HostPort() (string, int) {
	addr := b.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

// recvMessage reads one framed request off conn using a throwaway
// *wire.Transport (request/response framing is symmetric, so the same
// Transport type serves the backend side as well as the client side).
func recvMessage(tr *wire.Transport) (string, error) {
	n, err := tr.RecvLength()
	if err != nil {
		return "", err
	}
	payload, err := tr.RecvPayload(n)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// parseHandshakeOffer splits a "MYTH_PROTO_VERSION <n>[ <token>]" request
// into its version number.
func parseHandshakeOffer(msg string) (int, error) {
	fields := strings.Fields(msg)
	if len(fields) < 2 || fields[0] != "MYTH_PROTO_VERSION" {
		return 0, fmt.Errorf("not a handshake offer: %q", msg)
	}
	var v int
	if _, err := fmt.Sscanf(fields[1], "%d", &v); err != nil {
		return 0, err
	}
	return v, nil
}

func handshakeVerdict(verdict string, version int) string {
	return wire.JoinFields(verdict, fmt.Sprintf("%d", version))
}

// acceptHandshake reads the client's MYTH_PROTO_VERSION offer and replies
// ACCEPT for wantVersion (any other offer is REJECTed with wantVersion as
// the counter-offer, so a single handler can serve both the direct-accept
// and renegotiation scenarios).
func acceptHandshake(t *testing.T, tr *wire.Transport, wantVersion int) {
	t.Helper()
	msg, err := recvMessage(tr)
	if err != nil {
		t.Errorf("backend: recv handshake offer: %v", err)
		return
	}
	offered, err := parseHandshakeOffer(msg)
	if err != nil {
		t.Errorf("backend: malformed handshake offer %q: %v", msg, err)
		return
	}
	if offered == wantVersion {
		if _, err := tr.Send(handshakeVerdict("ACCEPT", wantVersion)); err != nil {
			t.Errorf("backend: send ACCEPT: %v", err)
		}
		return
	}
	if _, err := tr.Send(handshakeVerdict("REJECT", wantVersion)); err != nil {
		t.Errorf("backend: send REJECT: %v", err)
		return
	}
	// Client retries once with the counter-offer; accept it.
	msg2, err := recvMessage(tr)
	if err != nil {
		t.Errorf("backend: recv retried handshake offer: %v", err)
		return
	}
	offered2, err := parseHandshakeOffer(msg2)
	if err != nil || offered2 != wantVersion {
		t.Errorf("backend: expected retry at %d, got %q", wantVersion, msg2)
		return
	}
	if _, err := tr.Send(handshakeVerdict("ACCEPT", wantVersion)); err != nil {
		t.Errorf("backend: send ACCEPT on retry: %v", err)
	}
}

// acceptAnnouncePlayback reads an ANN Playback line and replies OK.
func acceptAnnouncePlayback(t *testing.T, tr *wire.Transport) {
	t.Helper()
	msg, err := recvMessage(tr)
	if err != nil {
		t.Errorf("backend: recv ANN: %v", err)
		return
	}
	if len(msg) < 3 || msg[:3] != "ANN" {
		t.Errorf("backend: expected ANN, got %q", msg)
		return
	}
	if _, err := tr.Send("OK"); err != nil {
		t.Errorf("backend: send ANN OK: %v", err)
	}
}
