package coopclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/blukai/coopparty/internal/config"
	"github.com/blukai/coopparty/internal/coopconn"
	"github.com/blukai/coopparty/internal/debug"
	"github.com/blukai/coopparty/internal/game"
	"github.com/blukai/coopparty/internal/logging"
	"github.com/blukai/coopparty/internal/metrics"
	"github.com/blukai/coopparty/internal/protocol"
	"github.com/phuslu/log"
)

var (
	ErrConnectFailed = errors.New("could not connect to host")
	ErrNotConnected  = errors.New("not connected")
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Option func(*Client)

func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logging.OrDiscard(logger) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithEventHandler receives event packets from the host. It runs on the
// connection's receive loop.
func WithEventHandler(fn func(protocol.Event)) Option {
	return func(c *Client) { c.onEvent = fn }
}

// Client is the joining side of a session: it streams the local player's
// input to the host and keeps the newest snapshot it got back.
type Client struct {
	cfg        config.Config
	controller game.ControllerReader
	logger     *log.Logger
	metrics    *metrics.Metrics
	onEvent    func(protocol.Event)

	// lifecycle serializes Connect and Disconnect.
	lifecycle sync.Mutex

	mu    sync.Mutex
	state State
	conn  *coopconn.Conn
}

func New(cfg config.Config, controller game.ControllerReader, opts ...Option) *Client {
	debug.Assert(controller != nil)

	c := &Client{
		cfg:        cfg,
		controller: controller,
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the host and performs the handshake. On failure the error
// wraps ErrConnectFailed (and coopconn.ErrRejected if the host already has
// a client) and the client stays disconnected. Connecting while connected
// is a no-op.
func (c *Client) Connect(ctx context.Context, address string, port uint16) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.conn != nil && !c.conn.Closed() {
		c.mu.Unlock()
		return nil
	}
	// a connection lost earlier still has to be joined
	stale := c.conn
	c.conn = nil
	c.state = StateConnecting
	c.mu.Unlock()

	if stale != nil {
		stale.Close()
	}

	conn, err := c.dial(ctx, net.JoinHostPort(address, strconv.Itoa(int(port))))

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.state = StateDisconnected
		return err
	}

	c.conn = conn
	c.state = StateConnected
	conn.Start()
	c.metrics.Connected()

	c.logger.Info().
		Str("host", conn.RemoteAddr().String()).
		Msg("joined host")

	return nil
}

func (c *Client) dial(ctx context.Context, addr string) (*coopconn.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	if err := coopconn.RequestHandshake(nc, c.cfg.HandshakeTimeout); err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	opts := coopconn.OptionsFrom(c.cfg)
	opts.Logger = c.logger
	opts.Metrics = c.metrics
	opts.OnEvent = c.onEvent
	return coopconn.New(nc, opts), nil
}

// Update reads the local controller and queues an input sample. It does
// nothing while disconnected.
func (c *Client) Update() {
	conn := c.activeConn()
	if conn == nil {
		return
	}

	input := c.controller.ReadLocalControllerInput()
	if _, err := conn.SendInput(input.Sample()); err != nil {
		c.logger.Debug().Err(err).Msg("could not queue input")
	}
}

// GetLatestSnapshot is the newest snapshot from the host, or the zero value
// if none arrived yet.
func (c *Client) GetLatestSnapshot() protocol.Snapshot {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return protocol.Snapshot{}
	}
	s, _ := conn.LatestSnapshot()
	return s
}

func (c *Client) GetLatency() time.Duration {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return 0
	}
	return conn.Latency()
}

func (c *Client) SendEvent(kind uint8, data [4]uint32) error {
	conn := c.activeConn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.SendEvent(kind, data)
}

func (c *Client) activeConn() *coopconn.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.conn == nil || c.conn.Closed() {
		return nil
	}
	return c.conn
}

// State reports StateDisconnected as soon as the connection is lost, even
// before Disconnect is called.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateConnected && (c.conn == nil || c.conn.Closed()) {
		return StateDisconnected
	}
	return c.state
}

func (c *Client) Connected() bool {
	return c.activeConn() != nil
}

// Err tells why the connection to the host was lost; nil while connected or
// if we never connected.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	return c.conn.Err()
}

// Disconnect tells the host we are leaving (best effort), closes the
// connection and waits for its goroutines. It is safe while disconnected.
func (c *Client) Disconnect() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	if err := conn.CloseGracefully(c.cfg.ShutdownGrace); err != nil {
		return fmt.Errorf("could not close connection: %w", err)
	}

	c.logger.Info().Msg("left host")
	return nil
}
