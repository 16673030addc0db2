package program

import (
	"testing"
	"time"

	"github.com/gomyth/cmyth/internal/wire"
)

func sampleFields(version int) []string {
	fields := []string{
		"My Show", "Episode 1", "A description", "Drama",
	}
	fields = append(fields, wire.EncodeInt64(version, 1001)...) // ChanID
	fields = append(fields, "KABC", "ABC", "/recordings/1001_20200101120000.mpg")
	fields = append(fields, wire.EncodeInt64(version, 1048576)...) // LengthBytes
	fields = append(fields, "2020-01-01T12:00:00", "2020-01-01T13:00:00")
	fields = append(fields, "backend1")
	fields = append(fields, wire.EncodeInt64(version, 6543)...) // Port
	fields = append(fields, wire.EncodeInt64(version, 0)...)    // CardID
	fields = append(fields, "series-1", "program-1")
	fields = append(fields, wire.EncodeInt64(version, 2)...) // RecStatus
	for i := 0; i < trailingFieldCount(version); i++ {
		fields = append(fields, "") // trailing schema fields Decode drains
	}
	return fields
}

func TestDecodeSingleRecordV77(t *testing.T) {
	fields := sampleFields(77)
	r := wire.NewFieldReader([]byte(wire.JoinFields(fields...)))
	p, err := Decode(r, 77)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Title != "My Show" || p.ChanID != 1001 || p.LengthBytes != 1048576 {
		t.Fatalf("unexpected decode: %+v", p)
	}
	if !p.RecStartTS.Equal(time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected RecStartTS: %v", p.RecStartTS)
	}
	if p.RecStatus != RecStatusRecorded {
		t.Fatalf("unexpected RecStatus: %v", p.RecStatus)
	}
}

func TestDecodeListAdvancesPastEachRecord(t *testing.T) {
	version := 77
	all := append(sampleFields(version), sampleFields(version)...)
	r := wire.NewFieldReader([]byte(wire.JoinFields(all...)))
	list, err := DecodeList(r, version, 2)
	if err != nil {
		t.Fatalf("DecodeList: %v", err)
	}
	if len(list.Programs) != 2 {
		t.Fatalf("expected 2 programs, got %d", len(list.Programs))
	}
	for _, p := range list.Programs {
		if p.Title != "My Show" {
			t.Fatalf("unexpected program in list: %+v", p)
		}
	}
}

func TestDecodePreV66UsesHiLoInt64(t *testing.T) {
	fields := sampleFields(60)
	r := wire.NewFieldReader([]byte(wire.JoinFields(fields...)))
	p, err := Decode(r, 60)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.ChanID != 1001 {
		t.Fatalf("expected ChanID 1001, got %d", p.ChanID)
	}
}

func TestSortByDateRecorded(t *testing.T) {
	later := Info{RecStartTS: time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)}
	earlier := Info{RecStartTS: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	list := List{Programs: []Info{later, earlier}}
	sorted := list.SortByDateRecorded()
	if !sorted.Programs[0].RecStartTS.Equal(earlier.RecStartTS) {
		t.Fatalf("expected earlier program first, got %+v", sorted.Programs[0])
	}
}
