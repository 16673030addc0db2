// Package channel holds the Channel and ChannelList value objects returned
// by QUERY_RECORDER GET_CHANNEL_INFO style replies. Grounded on
// cmyth_channel_* accessors and the resizable-vector ChannelList in
// channel.c / chanlist.c.
package channel

import (
	protoerr "github.com/gomyth/cmyth/internal/errors"
	"github.com/gomyth/cmyth/internal/wire"
)

// Channel is an immutable channel descriptor.
type Channel struct {
	ID     int64
	Name   string
	Sign   string
	String string
	Icon   string
}

// List is an ordered, resizable sequence of Channels.
type List struct {
	Channels []Channel
}

// Decode reads one channel record's fields from r.
func Decode(r *wire.FieldReader, version int) (Channel, error) {
	var c Channel
	var err error
	id, err := r.NextInt64(version)
	if err != nil {
		return Channel{}, protoerr.NewProtocolError("channel.decode", err)
	}
	c.ID = id
	if c.Name, err = r.Next(); err != nil {
		return Channel{}, protoerr.NewProtocolError("channel.decode", err)
	}
	if c.Sign, err = r.Next(); err != nil {
		return Channel{}, protoerr.NewProtocolError("channel.decode", err)
	}
	if c.String, err = r.Next(); err != nil {
		return Channel{}, protoerr.NewProtocolError("channel.decode", err)
	}
	if c.Icon, err = r.Next(); err != nil {
		return Channel{}, protoerr.NewProtocolError("channel.decode", err)
	}
	return c, nil
}

// DecodeList reads count consecutive channel records.
func DecodeList(r *wire.FieldReader, version int, count int) (List, error) {
	list := List{Channels: make([]Channel, 0, count)}
	for i := 0; i < count; i++ {
		c, err := Decode(r, version)
		if err != nil {
			return List{}, err
		}
		list.Channels = append(list.Channels, c)
	}
	return list, nil
}

// ByNumber returns the channel whose String field equals number, and true
// if found.
func (l List) ByNumber(number string) (Channel, bool) {
	for _, c := range l.Channels {
		if c.String == number {
			return c, true
		}
	}
	return Channel{}, false
}

// Append returns a new List with c appended (ChannelList is resizable but
// value objects here remain immutable after construction; growth produces a
// new List rather than mutating in place).
func (l List) Append(c Channel) List {
	out := make([]Channel, len(l.Channels), len(l.Channels)+1)
	copy(out, l.Channels)
	out = append(out, c)
	return List{Channels: out}
}
