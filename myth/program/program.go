// Package program holds the immutable value objects decoded from control
// replies: ProgramInfo and ProgramList. Field layout is grounded on
// cmyth_proginfo_* accessors in cmyth.h; the per-version count of trailing
// fields that decoding drains after the fixed fields comes from
// trailingFieldCount.
package program

import (
	"fmt"
	"time"

	protoerr "github.com/gomyth/cmyth/internal/errors"
	"github.com/gomyth/cmyth/internal/wire"
)

// RecStatus mirrors cmyth_proginfo_rec_status_t.
type RecStatus int

const (
	RecStatusUnknown RecStatus = iota
	RecStatusRecording
	RecStatusRecorded
	RecStatusWillRecord
	RecStatusFailed
)

// Info is an immutable decoded program record. Once built it is never
// mutated; copies may be shared freely by value or pointer.
type Info struct {
	ChanID      int64
	Title       string
	Subtitle    string
	Description string
	Category    string
	ChanSign    string
	ChanName    string
	Pathname    string
	Host        string
	Port        int64
	RecStartTS  time.Time
	RecEndTS    time.Time
	LengthBytes int64
	RecStatus   RecStatus
	CardID      int64
	SeriesID    string
	ProgramID   string
}

// List is an ordered, immutable sequence of Info records.
type List struct {
	Programs []Info
}

// trailingFieldCount returns how many additional schema fields (beyond the
// ones this client understands) a program record carries for the given
// protocol version. MythTV's PROGRAM_INFO layout grows across versions;
// real deployments carry many more fields than this client decodes, so
// Decode drains exactly this many trailing fields per record rather than
// assuming every record ends where our understanding does — per the
// teacher's per-version schema descriptor design note.
func trailingFieldCount(version int) int {
	switch {
	case version >= 75:
		return 6
	case version >= 66:
		return 4
	default:
		return 4
	}
}

// Decode reads one program record's fields from r for the given protocol
// version. It consumes the decoded fields plus trailingFieldCount(version)
// trailing fields (fewer only when r runs out), so a following record that
// starts after those trailing fields is left intact.
func Decode(r *wire.FieldReader, version int) (Info, error) {
	var p Info
	var err error
	next := func(dst *string) {
		if err != nil {
			return
		}
		*dst, err = r.Next()
	}
	nextInt := func(dst *int64) {
		if err != nil {
			return
		}
		*dst, err = r.NextInt64(version)
	}
	nextTS := func(dst *time.Time) {
		if err != nil {
			return
		}
		*dst, err = r.NextTimestamp()
	}

	next(&p.Title)
	next(&p.Subtitle)
	next(&p.Description)
	next(&p.Category)
	nextInt(&p.ChanID)
	next(&p.ChanSign)
	next(&p.ChanName)
	next(&p.Pathname)
	nextInt(&p.LengthBytes)
	nextTS(&p.RecStartTS)
	nextTS(&p.RecEndTS)
	next(&p.Host)
	nextInt(&p.Port)
	nextInt(&p.CardID)
	next(&p.SeriesID)
	next(&p.ProgramID)
	var recStatus int64
	nextInt(&recStatus)

	if err != nil {
		return Info{}, protoerr.NewProtocolError("program.decode", err)
	}
	p.RecStatus = RecStatus(recStatus)

	trailing := trailingFieldCount(version)
	for i := 0; i < trailing && r.Remaining() > 0; i++ {
		if _, err := r.Next(); err != nil {
			return Info{}, protoerr.NewProtocolError("program.decode", fmt.Errorf("draining trailing fields: %w", err))
		}
	}
	return p, nil
}

// DecodeList reads count consecutive program records.
func DecodeList(r *wire.FieldReader, version int, count int) (List, error) {
	list := List{Programs: make([]Info, 0, count)}
	for i := 0; i < count; i++ {
		p, err := Decode(r, version)
		if err != nil {
			return List{}, err
		}
		list.Programs = append(list.Programs, p)
	}
	return list, nil
}

// SortByDateRecorded returns a new List sorted by RecStartTS ascending.
func (l List) SortByDateRecorded() List {
	out := make([]Info, len(l.Programs))
	copy(out, l.Programs)
	insertionSortByTime(out, func(p Info) time.Time { return p.RecStartTS })
	return List{Programs: out}
}

func insertionSortByTime(s []Info, key func(Info) time.Time) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && key(s[j]).Before(key(s[j-1])); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
