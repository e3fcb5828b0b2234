package mqtt

import "github.com/rs/zerolog/log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox queues messages while the broker is unreachable.
//
// The broker keeps only the latest retained message per topic, so a queued
// retained message is replaced by a newer one on the same topic instead of
// taking another slot. When full, retained messages are evicted before
// alerts; among equals the oldest goes first.
//
// Not safe for concurrent use; the publisher holds its mutex around it.
type outbox struct {
	msgs     []bufferedMsg
	capacity int
	dropped  int // since the last drain
}

func newOutbox(capacity int) *outbox {
	return &outbox{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
	}
}

func (o *outbox) push(msg bufferedMsg) {
	if msg.retained {
		for i, m := range o.msgs {
			if m.retained && m.topic == msg.topic {
				o.remove(i)
				break
			}
		}
	}

	if len(o.msgs) == o.capacity {
		if o.dropped == 0 {
			log.Warn().Int("capacity", o.capacity).Msg("mqtt outbox full, dropping messages")
		}
		o.remove(o.victim())
		o.dropped++
	}
	o.msgs = append(o.msgs, msg)
}

// victim returns the index to evict: the oldest retained message, or the
// oldest message if none is retained.
func (o *outbox) victim() int {
	for i, m := range o.msgs {
		if m.retained {
			return i
		}
	}
	return 0
}

func (o *outbox) remove(i int) {
	copy(o.msgs[i:], o.msgs[i+1:])
	o.msgs = o.msgs[:len(o.msgs)-1]
}

// drain returns the queued messages oldest first and empties the outbox.
func (o *outbox) drain() (msgs []bufferedMsg, dropped int) {
	if len(o.msgs) == 0 && o.dropped == 0 {
		return nil, 0
	}
	msgs = append([]bufferedMsg(nil), o.msgs...)
	dropped = o.dropped
	o.msgs = o.msgs[:0]
	o.dropped = 0
	return msgs, dropped
}

func (o *outbox) len() int {
	return len(o.msgs)
}
