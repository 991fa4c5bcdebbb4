package coopconn

import (
	"testing"

	"github.com/blukai/coopparty/internal/protocol"
	"github.com/matryer/is"
)

func input(seq uint32) *protocol.Input {
	return &protocol.Input{Header: protocol.Header{Type: protocol.TypeInput, Sequence: seq}}
}

func control(t protocol.Type, seq uint32) *protocol.Control {
	return protocol.NewControl(t, seq, 0)
}

func TestQueueFIFO(t *testing.T) {
	is := is.New(t)

	q := newSendQueue(0)
	for seq := uint32(0); seq < 1000; seq++ {
		is.Equal(q.push(input(seq)), nil)
	}
	is.Equal(q.len(), 1000)

	for seq := uint32(0); seq < 1000; seq++ {
		p, ok := q.pop()
		is.True(ok)
		is.Equal(p.PacketHeader().Sequence, seq)
	}

	_, ok := q.pop()
	is.True(!ok)
}

func TestQueueDropsOldestState(t *testing.T) {
	is := is.New(t)

	q := newSendQueue(3)
	q.push(control(protocol.TypePing, 0))
	q.push(input(1))
	q.push(input(2))

	dropped := q.push(input(3))
	is.Equal(dropped.PacketHeader().Sequence, uint32(1))

	var seqs []uint32
	for {
		p, ok := q.pop()
		if !ok {
			break
		}
		seqs = append(seqs, p.PacketHeader().Sequence)
	}
	is.Equal(seqs, []uint32{0, 2, 3})
}

func TestQueueKeepsControl(t *testing.T) {
	is := is.New(t)

	q := newSendQueue(2)
	q.push(control(protocol.TypePing, 0))
	q.push(control(protocol.TypePong, 1))

	// no state packet to make room with, control goes over the limit
	is.Equal(q.push(control(protocol.TypeDisconnect, 2)), nil)
	is.Equal(q.len(), 3)

	// a state packet that can't make room is the one dropped
	in := input(3)
	is.Equal(q.push(in), protocol.Packet(in))
	is.Equal(q.len(), 3)
}

func TestQueueWake(t *testing.T) {
	is := is.New(t)

	q := newSendQueue(0)
	q.push(input(0))
	q.push(input(1))

	select {
	case <-q.wake:
	default:
		t.Fatal("push did not wake the sender")
	}

	select {
	case <-q.wake:
		t.Fatal("wake must coalesce")
	default:
	}
	is.Equal(q.len(), 2)
}

func TestSlot(t *testing.T) {
	is := is.New(t)

	var s slot[int]
	_, ok := s.load()
	is.True(!ok)

	s.store(1)
	s.store(2)
	v, ok := s.load()
	is.True(ok)
	is.Equal(v, 2)
}
