package mqtt

// bufferedMsg is a serialized publish waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog holds publishes made while the broker is away. A retained message
// replaces any earlier retained message on the same topic, so each relay
// replays only its latest state. Events without the retained flag are kept
// one by one. When full the oldest entry is dropped. Not safe for concurrent
// use; the caller must synchronize.
type backlog struct {
	msgs     []bufferedMsg
	capacity int
	overflow bool // an entry was dropped since the last drain
}

func newBacklog(capacity int) *backlog {
	if capacity < 1 {
		capacity = 1
	}
	return &backlog{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
	}
}

// push queues msg after everything already held. It reports true the first
// time an entry is lost since the last drain.
func (b *backlog) push(msg bufferedMsg) bool {
	if msg.retained {
		for i, m := range b.msgs {
			if m.retained && m.topic == msg.topic {
				b.remove(i)
				break
			}
		}
	}

	dropped := false
	if len(b.msgs) == b.capacity {
		b.remove(0)
		dropped = !b.overflow
		b.overflow = true
	}
	b.msgs = append(b.msgs, msg)
	return dropped
}

func (b *backlog) remove(i int) {
	copy(b.msgs[i:], b.msgs[i+1:])
	b.msgs[len(b.msgs)-1] = bufferedMsg{}
	b.msgs = b.msgs[:len(b.msgs)-1]
}

// drainAll returns the held messages oldest first and empties the backlog.
func (b *backlog) drainAll() []bufferedMsg {
	if len(b.msgs) == 0 {
		return nil
	}
	out := make([]bufferedMsg, len(b.msgs))
	copy(out, b.msgs)
	for i := range b.msgs {
		b.msgs[i] = bufferedMsg{}
	}
	b.msgs = b.msgs[:0]
	b.overflow = false
	return out
}

func (b *backlog) len() int {
	return len(b.msgs)
}
