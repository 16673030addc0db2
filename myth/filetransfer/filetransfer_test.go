package filetransfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/gomyth/cmyth/internal/wire"
)

func pipePair(t *testing.T) (*wire.Transport, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return wire.NewTransport(client), server
}

func readFrame(conn net.Conn) string {
	header := make([]byte, 8)
	io.ReadFull(conn, header)
	var n int
	fmt.Sscanf(string(header), "%d", &n)
	body := make([]byte, n)
	io.ReadFull(conn, body)
	return string(body)
}

func writeFrame(conn net.Conn, payload string) {
	fmt.Fprintf(conn, "%-8d%s", len(payload), payload)
}

func TestRequestBlockAdvancesCursor(t *testing.T) {
	control, controlServer := pipePair(t)
	data, _ := pipePair(t)

	go func() {
		msg := readFrame(controlServer)
		if msg != "QUERY_FILETRANSFER 42[]:[]REQUEST_BLOCK[]:[]131072" {
			t.Errorf("unexpected request: %q", msg)
		}
		writeFrame(controlServer, "65536")
	}()

	ft := New(control, data, 42, 1048576, 77, Options{})
	granted, err := ft.RequestBlock(context.Background(), 131072)
	if err != nil {
		t.Fatalf("RequestBlock: %v", err)
	}
	if granted != 65536 {
		t.Fatalf("expected grant 65536, got %d", granted)
	}
	if ft.Position() != 65536 {
		t.Fatalf("expected cursor 65536, got %d", ft.Position())
	}
}

func TestSeekCurZeroSkipsRoundTrip(t *testing.T) {
	control, controlServer := pipePair(t)
	data, _ := pipePair(t)

	wroteAny := false
	go func() {
		buf := make([]byte, 1)
		n, _ := controlServer.Read(buf)
		if n > 0 {
			wroteAny = true
		}
	}()

	ft := New(control, data, 1, 100, 77, Options{})
	pos, err := ft.Seek(0, SeekCur)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != 0 {
		t.Fatalf("expected cached position 0, got %d", pos)
	}
	if wroteAny {
		t.Fatalf("expected no bytes written for seek(0, cur)")
	}
}

func TestSeekSetSendsRoundTrip(t *testing.T) {
	control, controlServer := pipePair(t)
	data, _ := pipePair(t)

	go func() {
		msg := readFrame(controlServer)
		if msg != "QUERY_FILETRANSFER 1[]:[]SEEK[]:[]500[]:[]0" {
			t.Errorf("unexpected seek message: %q", msg)
		}
		writeFrame(controlServer, "500")
	}()

	ft := New(control, data, 1, 1000, 77, Options{})
	pos, err := ft.Seek(500, SeekSet)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != 500 {
		t.Fatalf("expected new position 500, got %d", pos)
	}
}

func TestClosesSendsDoneAndAwaitsOK(t *testing.T) {
	control, controlServer := pipePair(t)
	data, dataServer := pipePair(t)
	defer dataServer.Close()

	go func() {
		msg := readFrame(controlServer)
		if msg != "QUERY_FILETRANSFER 7[]:[]DONE" {
			t.Errorf("unexpected DONE message: %q", msg)
		}
		writeFrame(controlServer, "OK")
	}()

	ft := New(control, data, 7, 0, 77, Options{})
	if err := ft.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
