package channel

import (
	"testing"

	"github.com/gomyth/cmyth/internal/wire"
)

func TestDecodeListAndByNumber(t *testing.T) {
	version := 77
	var fields []string
	fields = append(fields, wire.EncodeInt64(version, 5)...)
	fields = append(fields, "ABC", "KABC", "5", "abc.png")
	fields = append(fields, wire.EncodeInt64(version, 7)...)
	fields = append(fields, "NBC", "KNBC", "7", "nbc.png")

	r := wire.NewFieldReader([]byte(wire.JoinFields(fields...)))
	list, err := DecodeList(r, version, 2)
	if err != nil {
		t.Fatalf("DecodeList: %v", err)
	}
	if len(list.Channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(list.Channels))
	}
	ch, ok := list.ByNumber("7")
	if !ok || ch.Name != "NBC" {
		t.Fatalf("expected NBC at channel 7, got %+v ok=%v", ch, ok)
	}
	if _, ok := list.ByNumber("99"); ok {
		t.Fatalf("expected no channel 99")
	}
}

func TestAppendProducesNewList(t *testing.T) {
	l1 := List{}
	l2 := l1.Append(Channel{ID: 1, Name: "A"})
	if len(l1.Channels) != 0 {
		t.Fatalf("expected original list unaffected, got %d channels", len(l1.Channels))
	}
	if len(l2.Channels) != 1 {
		t.Fatalf("expected appended list to have 1 channel, got %d", len(l2.Channels))
	}
}
