package mqtt

import "log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer holds messages published while the broker is unreachable and
// replays them oldest-first once the connection returns. When full, the
// oldest message is overwritten.
// Not safe for concurrent use; RealPublisher guards it with its mutex.
type ringBuffer struct {
	buf      []bufferedMsg
	head     int // next write position
	count    int
	dropped  int  // total messages overwritten since creation
	overflow bool // true if any message was dropped since last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{buf: make([]bufferedMsg, capacity)}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	capacity := len(r.buf)
	r.buf[r.head] = msg
	r.head = (r.head + 1) % capacity

	if r.count < capacity {
		r.count++
		return
	}
	r.dropped++
	if !r.overflow {
		log.Printf("mqtt: offline buffer full (%d messages), dropping oldest", capacity)
		r.overflow = true
	}
}

// drainAll returns buffered messages oldest-first and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	capacity := len(r.buf)
	start := (r.head - r.count + capacity) % capacity
	out := make([]bufferedMsg, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%capacity])
	}

	r.count = 0
	r.head = 0
	r.overflow = false
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
