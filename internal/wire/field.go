package wire

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	protoerr "github.com/gomyth/cmyth/internal/errors"
)

// FieldReader splits a payload of known length into []:[]-delimited fields
// and interprets them according to the type the caller expects for a given
// command schema.
type FieldReader struct {
	fields []string
	pos    int
}

// NewFieldReader splits payload on the literal field separator.
func NewFieldReader(payload []byte) *FieldReader {
	if len(payload) == 0 {
		return &FieldReader{}
	}
	return &FieldReader{fields: strings.Split(string(payload), FieldSep)}
}

// Remaining reports how many unread fields are left.
func (r *FieldReader) Remaining() int {
	if r.pos >= len(r.fields) {
		return 0
	}
	return len(r.fields) - r.pos
}

// Next returns the next raw field as a string.
func (r *FieldReader) Next() (string, error) {
	if r.pos >= len(r.fields) {
		return "", protoerr.NewProtocolError("field.next", fmt.Errorf("no more fields (consumed %d)", r.pos))
	}
	f := r.fields[r.pos]
	r.pos++
	return f, nil
}

// NextInt64 reads the next field as a decimal int64. When version < 66,
// reads two consecutive fields (hi, lo 32-bit halves) and recombines them;
// at version >= 66 a single decimal field carries the full value.
func (r *FieldReader) NextInt64(version int) (int64, error) {
	if version >= 66 {
		s, err := r.Next()
		if err != nil {
			return 0, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, protoerr.NewProtocolError("field.next_int64", fmt.Errorf("parse %q: %w", s, err))
		}
		return n, nil
	}
	hiStr, err := r.Next()
	if err != nil {
		return 0, err
	}
	loStr, err := r.Next()
	if err != nil {
		return 0, err
	}
	hi, err := strconv.ParseUint(strings.TrimSpace(hiStr), 10, 32)
	if err != nil {
		return 0, protoerr.NewProtocolError("field.next_int64", fmt.Errorf("parse hi %q: %w", hiStr, err))
	}
	lo, err := strconv.ParseUint(strings.TrimSpace(loStr), 10, 32)
	if err != nil {
		return 0, protoerr.NewProtocolError("field.next_int64", fmt.Errorf("parse lo %q: %w", loStr, err))
	}
	return int64(hi)<<32 | int64(lo), nil
}

// NextInt32 reads the next field as a decimal int32.
func (r *FieldReader) NextInt32() (int32, error) {
	s, err := r.Next()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, protoerr.NewProtocolError("field.next_int32", fmt.Errorf("parse %q: %w", s, err))
	}
	return int32(n), nil
}

// NextUint32 reads the next field as a decimal uint32.
func (r *FieldReader) NextUint32() (uint32, error) {
	s, err := r.Next()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, protoerr.NewProtocolError("field.next_uint32", fmt.Errorf("parse %q: %w", s, err))
	}
	return uint32(n), nil
}

// mythTimestampLayout is the server's local-time timestamp format.
const mythTimestampLayout = "2006-01-02T15:04:05"

// NextTimestamp parses the next field as a YYYY-MM-DDTHH:MM:SS timestamp.
func (r *FieldReader) NextTimestamp() (time.Time, error) {
	s, err := r.Next()
	if err != nil {
		return time.Time{}, err
	}
	s = strings.TrimSpace(s)
	ts, err := time.Parse(mythTimestampLayout, s)
	if err != nil {
		return time.Time{}, protoerr.NewProtocolError("field.next_timestamp", fmt.Errorf("parse %q: %w", s, err))
	}
	return ts, nil
}

// NextOK confirms the next field is exactly "OK" or "ERROR"; ERROR is
// surfaced as a ProtocolError, optionally wrapping a following reason field.
func (r *FieldReader) NextOK() error {
	s, err := r.Next()
	if err != nil {
		return err
	}
	switch s {
	case "OK":
		return nil
	case "ERROR":
		reason := ""
		if r.Remaining() > 0 {
			reason, _ = r.Next()
		}
		return protoerr.NewProtocolError("field.next_ok", fmt.Errorf("backend returned ERROR: %s", reason))
	default:
		return protoerr.NewProtocolError("field.next_ok", fmt.Errorf("expected OK/ERROR, got %q", s))
	}
}

// Drain logs (via the returned slice) and discards any unread fields,
// tolerating a malformed backend that sends extra trailing fields rather
// than aborting the connection.
func (r *FieldReader) Drain() []string {
	if r.pos >= len(r.fields) {
		return nil
	}
	rest := r.fields[r.pos:]
	r.pos = len(r.fields)
	return rest
}

// JoinFields builds a payload from fields using the literal separator.
func JoinFields(fields ...string) string {
	return strings.Join(fields, FieldSep)
}

// EncodeInt64 renders n as the version-appropriate field(s): a single
// decimal field at version >= 66, or two decimal fields (hi, lo) below.
func EncodeInt64(version int, n int64) []string {
	if version >= 66 {
		return []string{strconv.FormatInt(n, 10)}
	}
	hi := uint32(uint64(n) >> 32)
	lo := uint32(uint64(n))
	return []string{strconv.FormatUint(uint64(hi), 10), strconv.FormatUint(uint64(lo), 10)}
}
