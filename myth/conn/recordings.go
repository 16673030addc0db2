package conn

import (
	"fmt"

	protoerr "github.com/gomyth/cmyth/internal/errors"
	"github.com/gomyth/cmyth/internal/wire"
	"github.com/gomyth/cmyth/myth/program"
)

// request issues a named command with []:[]-joined arguments over the
// control transport and records it in metrics the same way myth/recorder
// does.
func (c *Connection) request(command string, args ...string) ([]byte, error) {
	msg := command
	if len(args) > 0 {
		msg = wire.JoinFields(append([]string{command}, args...)...)
	}
	return c.requestRaw(command, msg)
}

// requestByProgram issues command followed by a plain space-separated
// program identity, matching QUERY_BOOKMARK/SET_BOOKMARK's argument shape
// in bookmark.c rather than the []:[] convention most other commands use.
func (c *Connection) requestByProgram(command string, p program.Info) ([]byte, error) {
	return c.requestRaw(command, fmt.Sprintf("%s %s", command, identity(p)))
}

func (c *Connection) requestRaw(command, msg string) ([]byte, error) {
	c.metrics.ObserveRequest(command)
	payload, err := c.transport.Request(msg)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.ObserveReply(command, outcome)
	return payload, err
}

// identity formats a program's chanid+starttime as the backend expects it
// for any command that must name a specific recording, grounded on
// QUERY_BOOKMARK's "%ld %s" argument shape in bookmark.c.
func identity(p program.Info) string {
	return fmt.Sprintf("%d %s", p.ChanID, p.RecStartTS.Format("2006-01-02T15:04:05"))
}

func decodeProgramList(payload []byte, version int) (program.List, error) {
	r := wire.NewFieldReader(payload)
	count, err := r.NextInt64(version)
	if err != nil {
		return program.List{}, protoerr.NewProtocolError("conn.decode_program_list", err)
	}
	return program.DecodeList(r, version, int(count))
}

// Recordings returns the backend's full recorded-programs list, the
// client-side analogue of cmyth_proglist_get_all_recorded (QUERY_RECORDINGS
// Play).
func (c *Connection) Recordings() (program.List, error) {
	payload, err := c.request("QUERY_RECORDINGS", "Play")
	if err != nil {
		return program.List{}, err
	}
	return decodeProgramList(payload, c.version)
}

// PendingList returns the scheduler's pending-recordings list
// (QUERY_GETALLPENDING).
func (c *Connection) PendingList() (program.List, error) {
	payload, err := c.request("QUERY_GETALLPENDING")
	if err != nil {
		return program.List{}, err
	}
	return decodeProgramList(payload, c.version)
}

// ScheduledList returns every scheduled recording rule's next occurrence
// (QUERY_GETALLSCHEDULED).
func (c *Connection) ScheduledList() (program.List, error) {
	payload, err := c.request("QUERY_GETALLSCHEDULED")
	if err != nil {
		return program.List{}, err
	}
	return decodeProgramList(payload, c.version)
}

// ConflictingList returns the scheduled recordings that conflict with p
// (QUERY_GETCONFLICTING). This resolves the source's open question of
// whether conflict resolution belongs to the client or the scheduler: the
// backend computes it, the client only surfaces the result.
func (c *Connection) ConflictingList(p program.Info) (program.List, error) {
	payload, err := c.requestByProgram("QUERY_GETCONFLICTING", p)
	if err != nil {
		return program.List{}, err
	}
	return decodeProgramList(payload, c.version)
}

// DeleteRecording asks the backend to delete p's recording file and its
// entry in the recorded table.
func (c *Connection) DeleteRecording(p program.Info) error {
	payload, err := c.requestByProgram("DELETE_RECORDING", p)
	if err != nil {
		return err
	}
	return wire.NewFieldReader(payload).NextOK()
}

// UndeleteRecording reverses a prior DeleteRecording while the file still
// exists in the backend's undelete window.
func (c *Connection) UndeleteRecording(p program.Info) error {
	payload, err := c.requestByProgram("UNDELETE_RECORDING", p)
	if err != nil {
		return err
	}
	return wire.NewFieldReader(payload).NextOK()
}

// ForgetRecording clears p's "already watched" bookmark/position state
// without deleting the file.
func (c *Connection) ForgetRecording(p program.Info) error {
	payload, err := c.requestByProgram("FORGET_RECORDING", p)
	if err != nil {
		return err
	}
	return wire.NewFieldReader(payload).NextOK()
}

// StopRecording tells the backend to end an in-progress recording early.
func (c *Connection) StopRecording(p program.Info) error {
	payload, err := c.requestByProgram("STOP_RECORDING", p)
	if err != nil {
		return err
	}
	return wire.NewFieldReader(payload).NextOK()
}

// CheckRecording reports whether p is still actively being recorded
// (QUERY_CHECK_RECORDING).
func (c *Connection) CheckRecording(p program.Info) (bool, error) {
	payload, err := c.requestByProgram("QUERY_CHECK_RECORDING", p)
	if err != nil {
		return false, err
	}
	n, err := wire.NewFieldReader(payload).NextInt64(c.version)
	if err != nil {
		return false, protoerr.NewProtocolError("conn.check_recording", err)
	}
	return n != 0, nil
}

// Bookmark returns p's saved playback position in bytes (QUERY_BOOKMARK),
// grounded on bookmark.c's cmyth_get_bookmark: a plain "chanid starttime"
// argument pair, not []:[]-joined, with the returned offset carrying the
// same pre-v66 hi/lo encoding as any other 64-bit field.
func (c *Connection) Bookmark(p program.Info) (int64, error) {
	payload, err := c.requestByProgram("QUERY_BOOKMARK", p)
	if err != nil {
		return 0, err
	}
	return wire.NewFieldReader(payload).NextInt64(c.version)
}

// SetBookmark saves offset as p's playback position (SET_BOOKMARK),
// version-branching the trailing value the same way bookmark.c's
// cmyth_set_bookmark does: a single decimal at v66+, a hi/lo pair below.
func (c *Connection) SetBookmark(p program.Info, offset int64) error {
	var trailing string
	if c.version >= 66 {
		trailing = fmt.Sprintf("%d", offset)
	} else {
		trailing = fmt.Sprintf("%d %d", uint32(offset>>32), uint32(offset))
	}
	msg := fmt.Sprintf("SET_BOOKMARK %s %s", identity(p), trailing)
	payload, err := c.requestRaw("SET_BOOKMARK", msg)
	if err != nil {
		return err
	}
	return wire.NewFieldReader(payload).NextOK()
}

// Break is one commercial-break or cutlist interval, in frame numbers.
type Break struct {
	Start int64
	End   int64
}

func decodeBreaks(payload []byte, version int) ([]Break, error) {
	r := wire.NewFieldReader(payload)
	count, err := r.NextInt64(version)
	if err != nil {
		return nil, protoerr.NewProtocolError("conn.decode_breaks", err)
	}
	breaks := make([]Break, 0, count)
	for i := int64(0); i < count; i++ {
		start, err := r.NextInt64(version)
		if err != nil {
			return nil, protoerr.NewProtocolError("conn.decode_breaks", err)
		}
		end, err := r.NextInt64(version)
		if err != nil {
			return nil, protoerr.NewProtocolError("conn.decode_breaks", err)
		}
		breaks = append(breaks, Break{Start: start, End: end})
	}
	return breaks, nil
}

// Commbreak returns p's detected commercial-break intervals
// (QUERY_COMMBREAK).
func (c *Connection) Commbreak(p program.Info) ([]Break, error) {
	payload, err := c.requestByProgram("QUERY_COMMBREAK", p)
	if err != nil {
		return nil, err
	}
	return decodeBreaks(payload, c.version)
}

// Cutlist returns p's user-edited cutlist intervals (QUERY_CUTLIST).
func (c *Connection) Cutlist(p program.Info) ([]Break, error) {
	payload, err := c.requestByProgram("QUERY_CUTLIST", p)
	if err != nil {
		return nil, err
	}
	return decodeBreaks(payload, c.version)
}
