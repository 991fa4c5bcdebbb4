package coopconn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blukai/coopparty/internal/config"
	"github.com/blukai/coopparty/internal/debug"
	"github.com/blukai/coopparty/internal/logging"
	"github.com/blukai/coopparty/internal/metrics"
	"github.com/blukai/coopparty/internal/protocol"
	"github.com/google/uuid"
	"github.com/phuslu/log"
)

var (
	// ErrClosed is the reason of a connection that was closed on this side.
	ErrClosed           = errors.New("connection closed")
	ErrPeerDisconnected = errors.New("peer disconnected")
	ErrTransport        = errors.New("transport error")
)

// pings older than this are forgotten, their pong is not coming back.
const pendingPingTTL = 30 * time.Second

type Options struct {
	Logger  *log.Logger
	Metrics *metrics.Metrics

	WriteTimeout time.Duration
	// PingInterval of 0 disables the ping loop.
	PingInterval time.Duration
	// QueueLimit of 0 makes the send queue unbounded.
	QueueLimit int

	// OnEvent is called from the receive loop. It must not block and must
	// not Close the connection.
	OnEvent func(protocol.Event)
}

func OptionsFrom(cfg config.Config) Options {
	return Options{
		WriteTimeout: cfg.WriteTimeout,
		PingInterval: cfg.PingInterval,
		QueueLimit:   cfg.SendQueueLimit,
	}
}

// Conn is one end of an established session. It exclusively owns nc.
type Conn struct {
	id      string
	nc      net.Conn
	logger  *log.Logger
	metrics *metrics.Metrics
	opts    Options
	epoch   time.Time

	sequence atomic.Uint32
	queue    *sendQueue
	snapshot slot[protocol.Snapshot]
	input    slot[protocol.Input]

	latency atomic.Int64
	pingMu  sync.Mutex
	pings   map[uint32]time.Time

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
	wg        sync.WaitGroup
}

func New(nc net.Conn, opts Options) *Conn {
	debug.Assert(nc != nil)

	return &Conn{
		id:      uuid.NewString(),
		nc:      nc,
		logger:  logging.OrDiscard(opts.Logger),
		metrics: opts.Metrics,
		opts:    opts,
		epoch:   time.Now(),

		queue: newSendQueue(opts.QueueLimit),
		pings: make(map[uint32]time.Time),
		done:  make(chan struct{}),
	}
}

func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.logger.Info().
			Str("conn", c.id).
			Str("remote", c.nc.RemoteAddr().String()).
			Msg("connection established")

		c.wg.Add(2)
		go func() {
			defer c.wg.Done()
			c.runRecv()
		}()
		go func() {
			defer c.wg.Done()
			c.runSend()
		}()

		if c.opts.PingInterval > 0 {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.runPing()
			}()
		}
	})
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) Latency() time.Duration {
	return time.Duration(c.latency.Load())
}

func (c *Conn) LatestSnapshot() (protocol.Snapshot, bool) {
	return c.snapshot.load()
}

func (c *Conn) LatestInput() (protocol.Input, bool) {
	return c.input.load()
}

func (c *Conn) nextSequence() uint32 {
	return c.sequence.Add(1) - 1
}

// timestamp is this side's clock in milliseconds, wrapping after ~49 days.
func (c *Conn) timestamp() uint32 {
	return uint32(time.Since(c.epoch).Milliseconds())
}

func (c *Conn) header(t protocol.Type) protocol.Header {
	return protocol.Header{Type: t, Sequence: c.nextSequence(), Timestamp: c.timestamp()}
}

func (c *Conn) SendSnapshot(s protocol.Snapshot) (uint32, error) {
	s.Header = c.header(protocol.TypeSnapshot)
	return s.Header.Sequence, c.enqueue(&s)
}

func (c *Conn) SendInput(in protocol.Input) (uint32, error) {
	in.Header = c.header(protocol.TypeInput)
	return in.Header.Sequence, c.enqueue(&in)
}

func (c *Conn) SendEvent(kind uint8, data [4]uint32) error {
	return c.enqueue(&protocol.Event{
		Header: c.header(protocol.TypeEvent),
		Kind:   kind,
		Data:   data,
	})
}

func (c *Conn) Ping() (uint32, error) {
	h := c.header(protocol.TypePing)

	now := time.Now()
	c.pingMu.Lock()
	for seq, sentAt := range c.pings {
		if now.Sub(sentAt) > pendingPingTTL {
			delete(c.pings, seq)
		}
	}
	c.pings[h.Sequence] = now
	c.pingMu.Unlock()

	return h.Sequence, c.enqueue(&protocol.Control{Header: h})
}

func (c *Conn) enqueue(p protocol.Packet) error {
	if c.Closed() {
		return c.Err()
	}

	if dropped := c.queue.push(p); dropped != nil {
		c.metrics.Dropped()
		c.logger.Debug().
			Str("conn", c.id).
			Str("type", dropped.PacketHeader().Type.String()).
			Uint32("seq", dropped.PacketHeader().Sequence).
			Msg("send queue full, dropped packet")
	}
	return nil
}

func (c *Conn) runRecv() {
	buf := make([]byte, protocol.MaxPacketSize)

	for {
		p, err := ReadPacket(c.nc, buf)
		if err != nil {
			if protocol.IsDecodeError(err) {
				c.logger.Error().
					Str("conn", c.id).
					Err(err).
					Msg("discarding packet")
				c.metrics.DecodeError(decodeErrorReason(err))
				continue
			}

			c.shutdown(classifyReadErr(err))
			return
		}

		h := p.PacketHeader()
		c.metrics.Received(h.Type.String())
		c.logger.Trace().
			Str("conn", c.id).
			Str("type", h.Type.String()).
			Uint32("seq", h.Sequence).
			Msg("recv")

		if stop := c.dispatch(p); stop {
			return
		}
	}
}

// dispatch reports whether the receive loop must stop.
func (c *Conn) dispatch(p protocol.Packet) bool {
	switch p := p.(type) {
	case *protocol.Snapshot:
		c.snapshot.store(*p)
	case *protocol.Input:
		c.input.store(*p)
	case *protocol.Event:
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(*p)
		}
	case *protocol.Control:
		switch p.Header.Type {
		case protocol.TypePing:
			pong := protocol.NewControl(protocol.TypePong, p.Header.Sequence, c.timestamp())
			if err := c.enqueue(pong); err != nil {
				return true
			}
		case protocol.TypePong:
			c.handlePong(p.Header.Sequence)
		case protocol.TypeDisconnect:
			c.shutdown(ErrPeerDisconnected)
			return true
		default:
			c.logger.Debug().
				Str("conn", c.id).
				Str("type", p.Header.Type.String()).
				Msg("ignoring handshake packet on established connection")
		}
	default:
		debug.Assertf(false, "unhandled packet %T", p)
	}
	return false
}

func (c *Conn) handlePong(seq uint32) {
	c.pingMu.Lock()
	sentAt, ok := c.pings[seq]
	delete(c.pings, seq)
	c.pingMu.Unlock()

	if !ok {
		c.logger.Debug().
			Str("conn", c.id).
			Uint32("seq", seq).
			Msg("pong for unknown ping")
		return
	}

	rtt := time.Since(sentAt)
	c.latency.Store(int64(rtt))
	c.metrics.ObserveLatency(rtt)
}

func (c *Conn) runSend() {
	for {
		p, ok := c.queue.pop()
		if !ok {
			select {
			case <-c.done:
				return
			case <-c.queue.wake:
			}
			continue
		}

		if c.Closed() {
			return
		}

		if err := c.write(p); err != nil {
			c.shutdown(fmt.Errorf("%w: could not write: %w", ErrTransport, err))
			return
		}

		// NOTE(blukai): disconnect is the last thing we ever say.
		if p.PacketHeader().Type == protocol.TypeDisconnect {
			c.shutdown(ErrClosed)
			return
		}
	}
}

func (c *Conn) write(p protocol.Packet) error {
	if c.opts.WriteTimeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return err
		}
	}

	if err := WritePacket(c.nc, p); err != nil {
		return err
	}

	c.metrics.Sent(p.PacketHeader().Type.String())
	return nil
}

func (c *Conn) runPing() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		if _, err := c.Ping(); err != nil {
			return
		}

		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
	}
}

// NOTE(blukai): closing nc is what unblocks a pending read.
func (c *Conn) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = reason
		c.errMu.Unlock()

		close(c.done)

		if err := c.nc.Close(); err != nil {
			c.logger.Debug().
				Str("conn", c.id).
				Err(err).
				Msg("could not close socket")
		}

		c.logger.Info().
			Str("conn", c.id).
			Str("reason", reason.Error()).
			Msg("connection closed")
	})
}

// Close closes the connection and waits for its goroutines to exit. It is
// safe to call more than once, but not from OnEvent.
func (c *Conn) Close() error {
	c.shutdown(ErrClosed)
	c.wg.Wait()
	return nil
}

// CloseGracefully tells the peer we are leaving, gives the send loop up to
// timeout to flush that (and whatever was queued before it), then closes.
func (c *Conn) CloseGracefully(timeout time.Duration) error {
	if err := c.enqueue(protocol.NewControl(protocol.TypeDisconnect, c.nextSequence(), c.timestamp())); err == nil {
		select {
		case <-c.done:
		case <-time.After(timeout):
			c.logger.Debug().
				Str("conn", c.id).
				Msg("disconnect was not flushed in time")
		}
	}
	return c.Close()
}

func classifyReadErr(err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrPeerDisconnected
	default:
		return fmt.Errorf("%w: could not read: %w", ErrTransport, err)
	}
}

func decodeErrorReason(err error) string {
	if errors.Is(err, protocol.ErrChecksumMismatch) {
		return "checksum"
	}
	return "truncated"
}
