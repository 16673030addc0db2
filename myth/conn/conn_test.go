package conn

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gomyth/cmyth/myth/handshake"
)

// fakeBackend accepts one connection, completes the handshake, and answers
// an ANN with OK.
func fakeBackend(t *testing.T, ln net.Listener) {
	t.Helper()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		readFrame := func() string {
			header := make([]byte, 8)
			io.ReadFull(c, header)
			var n int
			fmt.Sscanf(string(header), "%d", &n)
			body := make([]byte, n)
			io.ReadFull(c, body)
			return string(body)
		}
		writeFrame := func(s string) { fmt.Fprintf(c, "%-8d%s", len(s), s) }

		readFrame() // MYTH_PROTO_VERSION ...
		writeFrame("ACCEPT[]:[]77")
		readFrame() // ANN Playback ...
		writeFrame("OK")
	}()
}

func TestOpenNegotiatesAndAnnounces(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	fakeBackend(t, ln)

	addr := ln.Addr().(*net.TCPAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Open(ctx, "127.0.0.1", addr.Port, Options{Role: handshake.RolePlayback})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if c.Version() != 77 {
		t.Fatalf("expected negotiated version 77, got %d", c.Version())
	}
	if c.Role() != handshake.RolePlayback {
		t.Fatalf("expected playback role, got %v", c.Role())
	}
}

func TestOpenFailsOnDialError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := Open(ctx, "127.0.0.1", 1, Options{Role: handshake.RolePlayback}); err == nil {
		t.Fatalf("expected dial error against an unused low port")
	}
}
