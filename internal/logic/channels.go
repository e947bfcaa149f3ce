package logic

import (
	"errors"
	"fmt"
)

// DefaultChannel is the index every unknown channel resolves to.
const DefaultChannel = 1

var errNoChannels = errors.New("channel map: at least one channel is required")

// ChannelMap is the fixed table of relay channels, indexed 1..N.
type ChannelMap struct {
	channels []Channel
}

// NewChannelMap builds a map from channels. Indices must be exactly 1..len(channels)
// in order, and no two channels may share a line.
func NewChannelMap(channels []Channel) (*ChannelMap, error) {
	if len(channels) == 0 {
		return nil, errNoChannels
	}

	lines := make(map[int]int, len(channels))
	for i, ch := range channels {
		if ch.Index != i+1 {
			return nil, fmt.Errorf("channel map: entry %d has index %d, want %d", i, ch.Index, i+1)
		}
		if prev, ok := lines[ch.Line]; ok {
			return nil, fmt.Errorf("channel map: line %d used by channels %d and %d", ch.Line, prev, ch.Index)
		}
		lines[ch.Line] = ch.Index
		if ch.Polarity != ActiveHigh && ch.Polarity != ActiveLow {
			return nil, fmt.Errorf("channel map: channel %d has unknown polarity %q", ch.Index, ch.Polarity)
		}
	}

	out := make([]Channel, len(channels))
	copy(out, channels)
	return &ChannelMap{channels: out}, nil
}

// Resolve returns the channel for index. Indices outside 1..Len() resolve to
// channel 1 instead of failing.
func (m *ChannelMap) Resolve(index int) Channel {
	ch, _ := m.Lookup(index)
	return ch
}

// Lookup is Resolve that also reports whether index was configured.
func (m *ChannelMap) Lookup(index int) (Channel, bool) {
	if index < 1 || index > len(m.channels) {
		return m.channels[DefaultChannel-1], false
	}
	return m.channels[index-1], true
}

// Len returns the number of configured channels.
func (m *ChannelMap) Len() int {
	return len(m.channels)
}

// Channels returns a copy of the table in index order.
func (m *ChannelMap) Channels() []Channel {
	out := make([]Channel, len(m.channels))
	copy(out, m.channels)
	return out
}
