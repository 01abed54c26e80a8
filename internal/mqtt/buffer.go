package mqtt

import "log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// replayBuffer is a fixed-capacity FIFO that stores messages while the broker
// connection is down. When full, the oldest message is dropped to make room.
// Not safe for concurrent use; the publisher synchronizes access.
type replayBuffer struct {
	msgs     []bufferedMsg
	capacity int
	dropped  uint64 // messages lost to overflow since the last drain
}

func newReplayBuffer(capacity int) *replayBuffer {
	return &replayBuffer{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
	}
}

func (b *replayBuffer) add(msg bufferedMsg) {
	if len(b.msgs) == b.capacity {
		if b.dropped == 0 {
			log.Printf("mqtt: buffer full (%d messages), dropping oldest", b.capacity)
		}
		b.dropped++
		copy(b.msgs, b.msgs[1:])
		b.msgs = b.msgs[:len(b.msgs)-1]
	}
	b.msgs = append(b.msgs, msg)
}

// takeAll returns the buffered messages in publish order plus the overflow
// count, and resets both.
func (b *replayBuffer) takeAll() ([]bufferedMsg, uint64) {
	if len(b.msgs) == 0 {
		return nil, 0
	}

	msgs := b.msgs
	dropped := b.dropped
	b.msgs = make([]bufferedMsg, 0, b.capacity)
	b.dropped = 0
	return msgs, dropped
}

func (b *replayBuffer) size() int {
	return len(b.msgs)
}
