package coopconn

import (
	"sync"

	"github.com/blukai/coopparty/internal/protocol"
)

// sendQueue is the fifo between producers (game tick, ping loop, receive
// loop answering pings) and the single send loop.
//
// When limit is reached the oldest state packet is dropped to make room.
// Control packets are never dropped.
type sendQueue struct {
	mu    sync.Mutex
	items []protocol.Packet
	limit int

	// wake holds at most one pending notification for the send loop.
	wake chan struct{}
}

func newSendQueue(limit int) *sendQueue {
	return &sendQueue{
		limit: limit,
		wake:  make(chan struct{}, 1),
	}
}

// push appends p and returns the packet that had to be dropped, if any. That
// may be p itself when the queue is full of control packets.
func (q *sendQueue) push(p protocol.Packet) protocol.Packet {
	var dropped protocol.Packet

	q.mu.Lock()
	if q.limit > 0 && len(q.items) >= q.limit {
		if i := q.oldestState(); i >= 0 {
			dropped = q.items[i]
			q.items = append(q.items[:i], q.items[i+1:]...)
		} else if !p.PacketHeader().Type.IsControl() {
			q.mu.Unlock()
			return p
		}
	}
	q.items = append(q.items, p)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return dropped
}

func (q *sendQueue) pop() (protocol.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return p, true
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *sendQueue) oldestState() int {
	for i, p := range q.items {
		if !p.PacketHeader().Type.IsControl() {
			return i
		}
	}
	return -1
}
