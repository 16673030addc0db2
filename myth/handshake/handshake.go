// Package handshake implements the MYTH_PROTO_VERSION negotiation and the
// ANN role announcement that follows it. Grounded on cmyth_conn_connect,
// cmyth_conn_connect_pathname and cmyth_conn_connect_ring in connection.c.
package handshake

import (
	"fmt"

	protoerr "github.com/gomyth/cmyth/internal/errors"
	"github.com/gomyth/cmyth/internal/metrics"
	"github.com/gomyth/cmyth/internal/wire"
)

// HighestSupported is the newest protocol version this client offers.
const HighestSupported = 77

// legacyVersion23056 is a published-but-out-of-sequence label some backends
// answer with instead of 56; it must be folded back to 56 internally.
const legacyVersion23056 = 23056

// tokens maps protocol version to its opaque per-version handshake token.
// Every entry is protocol-load-bearing: a backend rejects a version offered
// with the wrong token.
var tokens = map[int]string{
	62: "78B5631E",
	63: "3875641D",
	64: "8675309J",
	65: "D2BB94C2",
	66: "0C0FFEE0",
	67: "0G0G0G0",
	68: "90094EAD",
	69: "63835135",
	70: "53153836",
	71: "05e82186",
	72: "D78EFD6F",
	73: "D7FE8D6F",
	74: "SingingPotato",
	75: "SweetRock",
	76: "FireWilde",
	77: "WindMark",
	78: "IceBurns",
	79: "BasaltGiant",
	80: "TaDah!",
}

// firstTokenVersion is the oldest protocol version whose MYTH_PROTO_VERSION
// line carries a token; older versions are offered without one.
const firstTokenVersion = 62

// Token returns the opaque handshake token for version, or false if the
// token table has no entry for that protocol version.
func Token(version int) (string, bool) {
	t, ok := tokens[version]
	return t, ok
}

// Negotiate performs the MYTH_PROTO_VERSION <-> ACCEPT/REJECT exchange on an
// already-connected Transport, starting from trial and retrying at most once
// with the backend's counter-offer. Returns the version both sides agreed on.
func Negotiate(t *wire.Transport, trial int, m *metrics.Metrics) (int, error) {
	v, err := negotiateOnce(t, trial, m)
	if err == nil {
		return v, nil
	}
	rej, ok := err.(*rejection)
	if !ok {
		return 0, err
	}
	m.ObserveHandshakeRejection()
	v2, err2 := negotiateOnce(t, rej.offered, m)
	if err2 != nil {
		return 0, protoerr.NewProtocolError("handshake.negotiate", fmt.Errorf("version rejected twice: tried %d then %d", trial, rej.offered))
	}
	return v2, nil
}

// rejection carries the backend's counter-offered version out of a failed
// negotiation attempt so Negotiate can retry exactly once.
type rejection struct{ offered int }

func (r *rejection) Error() string { return fmt.Sprintf("version rejected, backend offered %d", r.offered) }

func negotiateOnce(t *wire.Transport, version int, m *metrics.Metrics) (int, error) {
	m.ObserveHandshakeAttempt()
	token, ok := Token(version)
	if !ok && version >= firstTokenVersion {
		return 0, protoerr.NewVersionUnsupportedError(version, nil)
	}

	var msg string
	if token != "" {
		msg = fmt.Sprintf("MYTH_PROTO_VERSION %d %s", version, token)
	} else {
		msg = fmt.Sprintf("MYTH_PROTO_VERSION %d", version)
	}
	payload, err := t.Request(msg)
	if err != nil {
		return 0, err
	}
	r := wire.NewFieldReader(payload)
	verdict, err := r.Next()
	if err != nil {
		return 0, err
	}
	verNum, err := r.NextInt32()
	if err != nil {
		return 0, protoerr.NewProtocolError("handshake.negotiate", fmt.Errorf("malformed version in reply: %w", err))
	}
	agreed := int(verNum)
	if agreed == legacyVersion23056 {
		agreed = 56
	}
	switch verdict {
	case "ACCEPT":
		return agreed, nil
	case "REJECT":
		return 0, &rejection{offered: agreed}
	default:
		return 0, protoerr.NewProtocolError("handshake.negotiate", fmt.Errorf("unexpected handshake verdict %q", verdict))
	}
}

// Role identifies which announcement a connection makes after negotiation.
type Role int

const (
	RolePlayback Role = iota
	RoleEvent
	RoleFileTransfer
	RoleRingBuffer
)

func (r Role) String() string {
	switch r {
	case RolePlayback:
		return "playback"
	case RoleEvent:
		return "event"
	case RoleFileTransfer:
		return "filetransfer"
	case RoleRingBuffer:
		return "ringbuffer"
	default:
		return "unknown"
	}
}

// AnnouncePlayback sends the control/event role announcement. identity is
// the process-unique local hostname suffix (host[_pid_instance]); isEvent
// selects the event-flag so the backend does not dedup events across
// multiple connections from the same identity.
func AnnouncePlayback(t *wire.Transport, identity string, isEvent bool) error {
	flag := 0
	if isEvent {
		flag = 1
	}
	payload, err := t.Request(fmt.Sprintf("ANN Playback %s %d", identity, flag))
	if err != nil {
		return err
	}
	return wire.NewFieldReader(payload).NextOK()
}

// FileTransferReply carries the backend's response to ANN FileTransfer.
type FileTransferReply struct {
	FileID     int64
	FileLength int64
}

// AnnounceFileTransfer opens a file-transfer role on t. version selects the
// trailing []:[]  field present from protocol >= 44 onward.
func AnnounceFileTransfer(t *wire.Transport, version int, host, pathname string) (*FileTransferReply, error) {
	var msg string
	if version >= 44 {
		msg = "ANN FileTransfer " + host + wire.JoinFields("", pathname, "")
	} else {
		msg = "ANN FileTransfer " + host + wire.JoinFields("", pathname)
	}
	payload, err := t.Request(msg)
	if err != nil {
		return nil, err
	}
	r := wire.NewFieldReader(payload)
	if err := r.NextOK(); err != nil {
		return nil, err
	}
	fileID, err := r.NextInt64(version)
	if err != nil {
		return nil, protoerr.NewProtocolError("handshake.announce_file_transfer", fmt.Errorf("file-id: %w", err))
	}
	fileLen, err := r.NextInt64(version)
	if err != nil {
		return nil, protoerr.NewProtocolError("handshake.announce_file_transfer", fmt.Errorf("file-length: %w", err))
	}
	r.Drain()
	return &FileTransferReply{FileID: fileID, FileLength: fileLen}, nil
}

// AnnounceRingBuffer opens the legacy (pre-v26) ring-buffer role.
func AnnounceRingBuffer(t *wire.Transport, host string, recorderID int) error {
	payload, err := t.Request(fmt.Sprintf("ANN RingBuffer %s %d", host, recorderID))
	if err != nil {
		return err
	}
	return wire.NewFieldReader(payload).NextOK()
}
