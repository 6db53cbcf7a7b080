package mqtt

import "github.com/rs/zerolog"

type msgKind int

const (
	kindResponse msgKind = iota
	kindHeartbeat
	kindReading
)

// bufferedMsg is a formatted publish waiting for the broker.
type bufferedMsg struct {
	kind     msgKind
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// offlineBuffer holds responses and heartbeats published while the broker
// is unreachable. Only the newest heartbeat is kept. When full, the buffered
// heartbeat is evicted before any response, then the oldest response.
// Not safe for concurrent use; the caller must synchronize.
type offlineBuffer struct {
	msgs     []bufferedMsg
	capacity int
	dropped  int
	overflow bool // warned since the last drain
	log      zerolog.Logger
}

func newOfflineBuffer(capacity int, log zerolog.Logger) *offlineBuffer {
	return &offlineBuffer{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
		log:      log,
	}
}

// push queues msg. It reports false for kinds that are never buffered.
func (b *offlineBuffer) push(msg bufferedMsg) bool {
	if msg.kind == kindReading {
		return false
	}
	if msg.kind == kindHeartbeat {
		if i := b.index(kindHeartbeat); i >= 0 {
			b.remove(i)
		}
	}
	if len(b.msgs) == b.capacity {
		i := b.index(kindHeartbeat)
		if i < 0 {
			i = 0
		}
		b.remove(i)
		b.dropped++
		if !b.overflow {
			b.log.Warn().Int("capacity", b.capacity).Msg("offline buffer full, dropping oldest")
			b.overflow = true
		}
	}
	b.msgs = append(b.msgs, msg)
	return true
}

func (b *offlineBuffer) index(k msgKind) int {
	for i, m := range b.msgs {
		if m.kind == k {
			return i
		}
	}
	return -1
}

func (b *offlineBuffer) remove(i int) {
	b.msgs = append(b.msgs[:i], b.msgs[i+1:]...)
}

// drainAll returns the queued messages in publish order and empties the
// buffer.
func (b *offlineBuffer) drainAll() []bufferedMsg {
	if len(b.msgs) == 0 {
		return nil
	}
	out := b.msgs
	b.msgs = make([]bufferedMsg, 0, b.capacity)
	b.overflow = false
	return out
}

func (b *offlineBuffer) len() int { return len(b.msgs) }

// droppedTotal counts messages evicted since startup.
func (b *offlineBuffer) droppedTotal() int { return b.dropped }
