package integration

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gomyth/cmyth/internal/versioncache"
	"github.com/gomyth/cmyth/internal/wire"
	"github.com/gomyth/cmyth/myth/chain"
	"github.com/gomyth/cmyth/myth/conn"
	"github.com/gomyth/cmyth/myth/event"
	"github.com/gomyth/cmyth/myth/filetransfer"
	"github.com/gomyth/cmyth/myth/handshake"
	"github.com/gomyth/cmyth/myth/program"
	"github.com/gomyth/cmyth/myth/recorder"
)

const testVersion = 77

// programFromIdentity builds the minimal program.Info a bookmark command
// needs: the chanid/start-timestamp pair that forms its wire identity.
func programFromIdentity(chanID int64, startTS string) program.Info {
	ts, err := time.Parse("2006-01-02T15:04:05", startTS)
	if err != nil {
		panic(err)
	}
	return program.Info{ChanID: chanID, RecStartTS: ts}
}

// programFields builds the exact field sequence program.Decode expects for
// the given version, matching myth/program's own test fixtures.
func programFields(version int, title, pathname string, chanID, length int64, start, end string) []string {
	fields := []string{title, "", "", ""}
	fields = append(fields, wire.EncodeInt64(version, chanID)...)
	fields = append(fields, "KABC", "ABC", pathname)
	fields = append(fields, wire.EncodeInt64(version, length)...)
	fields = append(fields, start, end)
	fields = append(fields, "backend1")
	fields = append(fields, wire.EncodeInt64(version, 6543)...)
	fields = append(fields, wire.EncodeInt64(version, 0)...)
	fields = append(fields, "series-1", "program-1")
	fields = append(fields, wire.EncodeInt64(version, 2)...)
	for i := 0; i < 6; i++ {
		fields = append(fields, "")
	}
	return fields
}

// Scenario 1: alive probe.
func TestAliveProbe(t *testing.T) {
	backend := startFakeBackend(t, func(t *testing.T, c net.Conn) {
		defer c.Close()
		tr := wire.NewTransport(c)
		acceptHandshake(t, tr, testVersion)
		acceptAnnouncePlayback(t, tr)
	})
	host, port := backend.HostPort()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := conn.Open(ctx, host, port, conn.Options{Role: handshake.RolePlayback})
	if err != nil {
		t.Fatalf("conn.Open: %v", err)
	}
	defer c.Close()

	if c.Version() == 0 {
		t.Fatalf("expected a negotiated protocol version, got 0")
	}
}

// Scenario 2: recorded list.
func TestRecordedList(t *testing.T) {
	backend := startFakeBackend(t, func(t *testing.T, c net.Conn) {
		defer c.Close()
		tr := wire.NewTransport(c)
		acceptHandshake(t, tr, testVersion)
		acceptAnnouncePlayback(t, tr)

		msg, err := recvMessage(tr)
		if err != nil {
			t.Errorf("backend: recv QUERY_RECORDINGS: %v", err)
			return
		}
		if msg != "QUERY_RECORDINGS"+wire.FieldSep+"Play" {
			t.Errorf("backend: unexpected request %q", msg)
			return
		}
		fields := []string{"1"}
		fields = append(fields, programFields(testVersion, "My Show", "/recordings/1000_20200101120000.mpg", 1000, 1048576, "2020-01-01T12:00:00", "2020-01-01T13:00:00")...)
		if _, err := tr.Send(wire.JoinFields(fields...)); err != nil {
			t.Errorf("backend: send recordings: %v", err)
		}
	})
	host, port := backend.HostPort()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := conn.Open(ctx, host, port, conn.Options{Role: handshake.RolePlayback})
	if err != nil {
		t.Fatalf("conn.Open: %v", err)
	}
	defer c.Close()

	list, err := c.Recordings()
	if err != nil {
		t.Fatalf("Recordings: %v", err)
	}
	if len(list.Programs) != 1 {
		t.Fatalf("expected 1 program, got %d", len(list.Programs))
	}
	if list.Programs[0].Title == "" {
		t.Fatalf("expected non-empty title")
	}
}

// Scenario 3: file dump via a dedicated control + data connection pair.
func TestFileDump(t *testing.T) {
	const pathname = "/recordings/1000_20200101120000.mpg"
	const length = 1048576
	const blockSize = 131072

	var accepted int
	backend := startFakeBackend(t, func(t *testing.T, c net.Conn) {
		defer c.Close()
		tr := wire.NewTransport(c)
		acceptHandshake(t, tr, testVersion)

		msg, err := recvMessage(tr)
		if err != nil {
			t.Errorf("backend: recv ANN: %v", err)
			return
		}

		switch {
		case len(msg) >= len("ANN Playback") && msg[:len("ANN Playback")] == "ANN Playback":
			if _, err := tr.Send("OK"); err != nil {
				t.Errorf("backend: send ANN Playback OK: %v", err)
				return
			}
			// Control connection then serves REQUEST_BLOCK calls.
			var delivered int64
			for delivered < length {
				req, err := recvMessage(tr)
				if err != nil {
					t.Errorf("backend: recv request_block: %v", err)
					return
				}
				_ = req
				grant := int64(blockSize)
				if length-delivered < grant {
					grant = length - delivered
				}
				if _, err := tr.Send(wire.JoinFields(wire.EncodeInt64(testVersion, grant)...)); err != nil {
					t.Errorf("backend: send grant: %v", err)
					return
				}
				delivered += grant
			}
		case len(msg) >= len("ANN FileTransfer") && msg[:len("ANN FileTransfer")] == "ANN FileTransfer":
			reply := "OK" + wire.FieldSep +
				wire.JoinFields(wire.EncodeInt64(testVersion, 42)...) + wire.FieldSep +
				wire.JoinFields(wire.EncodeInt64(testVersion, length)...) + wire.FieldSep + ""
			if _, err := tr.Send(reply); err != nil {
				t.Errorf("backend: send ANN FileTransfer reply: %v", err)
				return
			}
			// Data connection: stream exactly `length` raw bytes, in
			// blockSize-sized writes matching the grants above.
			var sent int64
			buf := make([]byte, blockSize)
			for sent < length {
				n := int64(blockSize)
				if length-sent < n {
					n = length - sent
				}
				if _, err := c.Write(buf[:n]); err != nil {
					t.Errorf("backend: write data: %v", err)
					return
				}
				sent += n
			}
		default:
			t.Errorf("backend: unexpected ANN %q", msg)
		}
		accepted++
	})
	host, port := backend.HostPort()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	control, err := conn.Open(ctx, host, port, conn.Options{Role: handshake.RolePlayback})
	if err != nil {
		t.Fatalf("control conn.Open: %v", err)
	}
	defer control.Close()

	data, err := conn.Open(ctx, host, port, conn.Options{Role: handshake.RoleFileTransfer, Pathname: pathname})
	if err != nil {
		t.Fatalf("data conn.Open: %v", err)
	}
	defer data.Close()

	reply := data.FileTransferReply()
	ft := filetransfer.New(control.Transport(), data.Transport(), reply.FileID, reply.FileLength, testVersion, filetransfer.Options{})

	buf := make([]byte, blockSize)
	var total int64
	var lastGrant int64
	for total < length {
		granted, err := ft.RequestBlock(ctx, blockSize)
		if err != nil {
			t.Fatalf("RequestBlock: %v", err)
		}
		if granted == 0 {
			break
		}
		lastGrant = granted
		got, err := ft.GetBlock(buf, int(granted))
		if err != nil {
			t.Fatalf("GetBlock: %v", err)
		}
		if int64(got) > lastGrant {
			t.Fatalf("read %d bytes, more than last grant %d", got, lastGrant)
		}
		total += int64(got)
	}
	if total != length {
		t.Fatalf("expected to read %d bytes, got %d", length, total)
	}
}

// Scenario 4: live-TV channel change grows the chain past its first segment.
//
// The client opens exactly three connections in a fixed, fully sequential
// order (each round trip completes before the next dial starts), so the
// fake backend dispatches by accept order rather than by sniffing each
// connection's ANN line: 1st = master control, 2nd = recorder control
// (opened by recorder.FreeRecorder's own dial), 3rd = event channel.
func TestLiveTVChannelChange(t *testing.T) {
	const chainID = "livetv-test-chain"
	progA := programFields(testVersion, "Show A", "/livetv/a.mpg", 5, 512, "2020-01-01T12:00:00", "2020-01-01T13:00:00")
	progB := programFields(testVersion, "Show B", "/livetv/b.mpg", 6, 512, "2020-01-01T13:00:00", "2020-01-01T14:00:00")

	var mu sync.Mutex
	seq := 0
	nextSeq := func() int {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return seq
	}

	backend := startFakeBackend(t, func(t *testing.T, c net.Conn) {
		defer c.Close()
		tr := wire.NewTransport(c)

		switch nextSeq() {
		case 1: // master control
			acceptHandshake(t, tr, testVersion)
			acceptAnnouncePlayback(t, tr)
			req, err := recvMessage(tr)
			if err != nil || req != "GET_FREE_RECORDER" {
				t.Errorf("backend: expected GET_FREE_RECORDER, got %q err=%v", req, err)
				return
			}
			host, port := backend.HostPort()
			fields := append([]string{}, wire.EncodeInt64(testVersion, 1)...)
			fields = append(fields, host)
			fields = append(fields, wire.EncodeInt64(testVersion, int64(port))...)
			if _, err := tr.Send(wire.JoinFields(fields...)); err != nil {
				t.Errorf("backend: send GET_FREE_RECORDER reply: %v", err)
			}

		case 2: // recorder control, announced ANN RingBuffer
			if _, err := recvMessage(tr); err != nil {
				t.Errorf("backend: recv recorder ANN: %v", err)
				return
			}
			if _, err := tr.Send("OK"); err != nil {
				t.Errorf("backend: send recorder ANN OK: %v", err)
				return
			}
			var switched bool
			for {
				req, err := recvMessage(tr)
				if err != nil {
					return
				}
				switch {
				case hasSuffix(req, "GET_CHANNEL_INFO"+wire.FieldSep+"ALL"):
					if _, err := tr.Send(wire.JoinFields("0")); err != nil {
						t.Errorf("backend: send chanlist: %v", err)
						return
					}
				case hasSuffix(req, "SPAWN_LIVETV"+wire.FieldSep+chainID+wire.FieldSep+"0"+wire.FieldSep+"Live TV"):
					if _, err := tr.Send("OK"); err != nil {
						t.Errorf("backend: send spawn_livetv reply: %v", err)
						return
					}
				case hasSuffix(req, "SET_CHANNEL"+wire.FieldSep+"5"):
					switched = true
					if _, err := tr.Send("OK"); err != nil {
						t.Errorf("backend: send set_channel reply: %v", err)
						return
					}
				case hasSuffix(req, "GET_CURRENT_PROGINFO"):
					f := progA
					if switched {
						f = progB
					}
					if _, err := tr.Send(wire.JoinFields(f...)); err != nil {
						t.Errorf("backend: send current proginfo: %v", err)
						return
					}
				default:
					if _, err := tr.Send("OK"); err != nil {
						return
					}
				}
			}

		case 3: // event channel, announced ANN Playback ... 1
			acceptHandshake(t, tr, testVersion)
			acceptAnnouncePlayback(t, tr)
			// Push LIVETV_CHAIN_UPDATE once, then again after the channel change.
			time.Sleep(200 * time.Millisecond)
			if _, err := tr.Send(wire.JoinFields("BACKEND_MESSAGE", "LIVETV_CHAIN_UPDATE "+chainID, "empty")); err != nil {
				t.Errorf("backend: send chain update 1: %v", err)
				return
			}
			time.Sleep(300 * time.Millisecond)
			if _, err := tr.Send(wire.JoinFields("BACKEND_MESSAGE", "LIVETV_CHAIN_UPDATE "+chainID, "empty")); err != nil {
				t.Errorf("backend: send chain update 2: %v", err)
			}

		default:
			t.Errorf("backend: unexpected 4th connection")
		}
	})
	host, port := backend.HostPort()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	master, err := conn.Open(ctx, host, port, conn.Options{Role: handshake.RolePlayback})
	if err != nil {
		t.Fatalf("master conn.Open: %v", err)
	}
	defer master.Close()

	rec, err := recorder.FreeRecorder(ctx, master.Transport(), testVersion, nil)
	if err != nil {
		t.Fatalf("FreeRecorder: %v", err)
	}
	defer rec.Release()

	evConn, err := conn.Open(ctx, host, port, conn.Options{Role: handshake.RoleEvent})
	if err != nil {
		t.Fatalf("event conn.Open: %v", err)
	}
	defer evConn.Close()
	evCh := event.NewChannel(evConn.Transport())
	go evCh.Run()

	ch, err := chain.SpawnLiveTV(rec, master.Transport(), host, port, testVersion, evCh, nil)
	if err != nil {
		t.Fatalf("SpawnLiveTV: %v", err)
	}

	waitForLen(t, ch, 1, 3*time.Second)
	if err := ch.SwitchTo(ctx, 0); err != nil {
		t.Fatalf("SwitchTo(0): %v", err)
	}

	if err := rec.SetChannel("5"); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}

	waitForLen(t, ch, 2, 5*time.Second)
	if err := ch.SwitchLast(ctx); err != nil {
		t.Fatalf("SwitchLast: %v", err)
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func waitForLen(t *testing.T, ch *chain.Chain, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ch.Len() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("chain did not reach %d segments within %s (have %d)", want, timeout, ch.Len())
}

// Scenario 5: bookmark round-trip at protocol v>=66.
func TestBookmarkRoundTrip(t *testing.T) {
	const offset = int64(123456789012)
	var stored int64

	backend := startFakeBackend(t, func(t *testing.T, c net.Conn) {
		defer c.Close()
		tr := wire.NewTransport(c)
		acceptHandshake(t, tr, testVersion)
		acceptAnnouncePlayback(t, tr)

		setReq, err := recvMessage(tr)
		if err != nil {
			t.Errorf("backend: recv SET_BOOKMARK: %v", err)
			return
		}
		want := "SET_BOOKMARK 1001 2020-01-01T12:00:00 123456789012"
		if setReq != want {
			t.Errorf("backend: expected %q, got %q", want, setReq)
			return
		}
		stored = offset
		if _, err := tr.Send("OK"); err != nil {
			t.Errorf("backend: send SET_BOOKMARK OK: %v", err)
			return
		}

		getReq, err := recvMessage(tr)
		if err != nil {
			t.Errorf("backend: recv QUERY_BOOKMARK: %v", err)
			return
		}
		wantGet := "QUERY_BOOKMARK 1001 2020-01-01T12:00:00"
		if getReq != wantGet {
			t.Errorf("backend: expected %q, got %q", wantGet, getReq)
			return
		}
		if _, err := tr.Send(wire.JoinFields(wire.EncodeInt64(testVersion, stored)...)); err != nil {
			t.Errorf("backend: send QUERY_BOOKMARK reply: %v", err)
		}
	})
	host, port := backend.HostPort()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := conn.Open(ctx, host, port, conn.Options{Role: handshake.RolePlayback})
	if err != nil {
		t.Fatalf("conn.Open: %v", err)
	}
	defer c.Close()

	prog := programFromIdentity(1001, "2020-01-01T12:00:00")
	if err := c.SetBookmark(prog, offset); err != nil {
		t.Fatalf("SetBookmark: %v", err)
	}
	got, err := c.Bookmark(prog)
	if err != nil {
		t.Fatalf("Bookmark: %v", err)
	}
	if got != offset {
		t.Fatalf("expected bookmark %d, got %d", offset, got)
	}
}

// Scenario 6: version renegotiation.
func TestVersionRenegotiation(t *testing.T) {
	backend := startFakeBackend(t, func(t *testing.T, c net.Conn) {
		defer c.Close()
		tr := wire.NewTransport(c)
		acceptHandshake(t, tr, 75)
		acceptAnnouncePlayback(t, tr)
	})
	host, port := backend.HostPort()

	cache := versioncache.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := conn.Open(ctx, host, port, conn.Options{Role: handshake.RolePlayback, VersionCache: cache})
	if err != nil {
		t.Fatalf("conn.Open: %v", err)
	}
	defer c.Close()

	if c.Version() != 75 {
		t.Fatalf("expected agreed version 75, got %d", c.Version())
	}
	v, ok := cache.Get(host)
	if !ok || v != 75 {
		t.Fatalf("expected version cache to hold 75 for %s, got %d (ok=%v)", host, v, ok)
	}
}
