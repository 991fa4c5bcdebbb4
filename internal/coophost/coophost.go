package coophost

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/blukai/coopparty/internal/config"
	"github.com/blukai/coopparty/internal/coopconn"
	"github.com/blukai/coopparty/internal/debug"
	"github.com/blukai/coopparty/internal/game"
	"github.com/blukai/coopparty/internal/logging"
	"github.com/blukai/coopparty/internal/metrics"
	"github.com/blukai/coopparty/internal/protocol"
	"github.com/blukai/coopparty/internal/roomcode"
	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
)

var (
	ErrStartFailed  = errors.New("could not start host")
	ErrNotConnected = errors.New("no client connected")
)

type State int32

const (
	StateStopped State = iota
	StateListening
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Option func(*Host)

func WithLogger(logger *log.Logger) Option {
	return func(h *Host) { h.logger = logging.OrDiscard(logger) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// WithEventHandler receives event packets from the client. It runs on the
// connection's receive loop.
func WithEventHandler(fn func(protocol.Event)) Option {
	return func(h *Host) { h.onEvent = fn }
}

type addrKey uint64

// makeAddrKey keys by ip only, a client retrying from the same machine comes
// from a new port every time.
func makeAddrKey(addr net.Addr) addrKey {
	host := addr.String()
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		host = tcpAddr.IP.String()
	}
	return addrKey(xxhash.Sum64String(host))
}

// Host owns the authoritative simulation's side of a session: it listens,
// takes exactly one client and streams snapshots to it. Once that client is
// gone the host is stopped; hosting again takes a fresh Start.
type Host struct {
	cfg      config.Config
	entities game.EntityReader
	logger   *log.Logger
	metrics  *metrics.Metrics
	onEvent  func(protocol.Event)

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu       sync.Mutex
	state    State
	listener *net.TCPListener
	conn     *coopconn.Conn
	// claimed is set while an accepted handshake is being turned into conn.
	claimed  bool
	pending  map[net.Conn]struct{}
	lost     error
	roomCode string
	localIP  string
	stop     chan struct{}
	rejected map[addrKey]int

	wg sync.WaitGroup
}

func New(cfg config.Config, entities game.EntityReader, opts ...Option) *Host {
	debug.Assert(entities != nil)

	h := &Host{
		cfg:      cfg,
		entities: entities,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start listens on port (0 picks a free one, see Addr). Starting a running
// host is a no-op.
func (h *Host) Start(port uint16) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.mu.Lock()
	running := h.stateLocked() != StateStopped
	h.mu.Unlock()
	if running {
		return nil
	}

	// a session that ended by losing its client still has goroutines and a
	// connection to collect
	if err := h.shutdown(); err != nil {
		h.logger.Debug().Err(err).Msg("could not clean up previous session")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{Port: int(port)})
	if err != nil {
		return fmt.Errorf("%w: could not listen on port %d: %w", ErrStartFailed, port, err)
	}

	code, err := roomcode.Generate()
	if err != nil {
		listener.Close()
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	h.listener = listener
	h.conn = nil
	h.claimed = false
	h.pending = make(map[net.Conn]struct{})
	h.lost = nil
	h.roomCode = code
	h.localIP = localIP()
	h.stop = make(chan struct{})
	h.rejected = make(map[addrKey]int)
	h.state = StateListening

	h.wg.Add(1)
	go func(listener *net.TCPListener, stop <-chan struct{}) {
		defer h.wg.Done()
		h.runAccept(listener, stop)
	}(listener, h.stop)

	h.logger.Info().
		Str("addr", listener.Addr().String()).
		Str("code", code).
		Str("ip", h.localIP).
		Msg("host listening")

	return nil
}

func (h *Host) runAccept(listener *net.TCPListener, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		// NOTE(blukai): the deadline keeps Accept from outliving a stop
		// request by more than one poll interval.
		if err := listener.SetDeadline(time.Now().Add(h.cfg.AcceptPollInterval)); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				h.logger.Error().Err(err).Msg("could not set accept deadline")
			}
			return
		}

		nc, err := listener.AcceptTCP()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}

			h.logger.Error().Err(err).Msg("could not accept")
			continue
		}

		if !h.track(nc, stop) {
			nc.Close()
			return
		}

		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.handlePeer(nc, stop)
		}()
	}
}

// track registers a socket whose handshake is in flight so that Stop can
// close it. It reports false if the host is stopping.
func (h *Host) track(nc net.Conn, stop <-chan struct{}) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-stop:
		return false
	default:
	}

	h.pending[nc] = struct{}{}
	return true
}

func (h *Host) untrack(nc net.Conn) {
	h.mu.Lock()
	delete(h.pending, nc)
	h.mu.Unlock()
}

func (h *Host) handlePeer(nc *net.TCPConn, stop <-chan struct{}) {
	defer h.untrack(nc)

	accepted := false
	err := coopconn.AnswerHandshakeFunc(nc, h.cfg.HandshakeTimeout, func() bool {
		accepted = h.claim(nc.RemoteAddr(), stop)
		return accepted
	})
	if err != nil {
		if accepted {
			h.mu.Lock()
			h.claimed = false
			h.mu.Unlock()
		}

		h.logger.Warn().
			Str("remote", nc.RemoteAddr().String()).
			Err(err).
			Msg("handshake failed")
		nc.Close()
		return
	}
	if !accepted {
		nc.Close()
		return
	}

	opts := coopconn.OptionsFrom(h.cfg)
	opts.Logger = h.logger
	opts.Metrics = h.metrics
	opts.OnEvent = h.onEvent
	conn := coopconn.New(nc, opts)

	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.pending, nc)
	h.claimed = false

	select {
	case <-stop:
		conn.Close()
		return
	default:
	}

	h.conn = conn
	h.state = StateConnected
	conn.Start()
	h.metrics.Connected()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.watch(conn, stop)
	}()

	h.logger.Info().
		Str("remote", nc.RemoteAddr().String()).
		Msg("client joined")
}

// claim decides a handshake. The first peer to ask wins; everyone after it
// is turned away and the first one is never displaced.
func (h *Host) claim(addr net.Addr, stop <-chan struct{}) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-stop:
		return false
	default:
	}

	if h.conn == nil && !h.claimed {
		h.claimed = true
		return true
	}

	key := makeAddrKey(addr)
	h.rejected[key] += 1
	h.metrics.Reject()

	h.logger.Info().
		Str("remote", addr.String()).
		Uint64("peer", uint64(key)).
		Int("attempts", h.rejected[key]).
		Msg("rejected peer, session already in progress")

	return false
}

// watch stops the host once its client's connection is gone, leaving the
// reason in Err.
func (h *Host) watch(conn *coopconn.Conn, stop <-chan struct{}) {
	select {
	case <-stop:
		return
	case <-conn.Done():
	}

	h.mu.Lock()
	if h.conn != conn || h.state != StateConnected {
		h.mu.Unlock()
		return
	}
	listener := h.listener
	h.listener = nil
	h.lost = conn.Err()
	h.state = StateStopped
	h.mu.Unlock()

	if err := listener.Close(); err != nil {
		h.logger.Debug().Err(err).Msg("could not close listener")
	}

	h.logger.Warn().
		Err(conn.Err()).
		Msg("client lost, host stopped")
}

// Update samples the live game and queues a snapshot for the client. It does
// nothing until a client is connected.
func (h *Host) Update() {
	conn := h.activeConn()
	if conn == nil {
		return
	}

	world := h.entities.ReadWorldState()
	snapshot := protocol.Snapshot{
		Leon:       h.entities.ReadLocalEntityState(game.Leon).Entity(),
		Ashley:     h.entities.ReadLocalEntityState(game.Ashley).Entity(),
		RoomID:     world.RoomID,
		EnemyCount: world.EnemyCount,
	}

	if _, err := conn.SendSnapshot(snapshot); err != nil {
		h.logger.Debug().Err(err).Msg("could not queue snapshot")
	}
}

// GetLatestInput is the newest input sample from the client, or the zero
// value if none arrived yet.
func (h *Host) GetLatestInput() protocol.Input {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()

	if conn == nil {
		return protocol.Input{}
	}
	in, _ := conn.LatestInput()
	return in
}

func (h *Host) GetLatency() time.Duration {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()

	if conn == nil {
		return 0
	}
	return conn.Latency()
}

func (h *Host) SendEvent(kind uint8, data [4]uint32) error {
	conn := h.activeConn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.SendEvent(kind, data)
}

func (h *Host) activeConn() *coopconn.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateConnected || h.conn == nil || h.conn.Closed() {
		return nil
	}
	return h.conn
}

// State is StateStopped again once the client is lost, see Err for why.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stateLocked()
}

func (h *Host) stateLocked() State {
	if h.state == StateConnected && h.conn.Closed() {
		return StateStopped
	}
	return h.state
}

// Connected reports whether a client is attached and its connection is
// still alive.
func (h *Host) Connected() bool {
	return h.activeConn() != nil
}

// Err tells why the client's connection was lost; nil while it is alive or
// before anyone joined.
func (h *Host) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.lost != nil {
		return h.lost
	}
	if h.conn != nil {
		return h.conn.Err()
	}
	return nil
}

func (h *Host) RoomCode() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomCode
}

func (h *Host) LocalIP() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.localIP
}

// Addr is the listening address, nil while stopped.
func (h *Host) Addr() *net.TCPAddr {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listener == nil {
		return nil
	}
	return h.listener.Addr().(*net.TCPAddr)
}

// Stop closes the listener, every socket and the client's connection and
// waits for every goroutine to exit. It is safe in any state.
func (h *Host) Stop() error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	return h.shutdown()
}

func (h *Host) shutdown() error {
	h.mu.Lock()
	if h.stop == nil {
		h.mu.Unlock()
		return nil
	}
	close(h.stop)
	h.stop = nil
	listener, conn := h.listener, h.conn
	pending := make([]net.Conn, 0, len(h.pending))
	for nc := range h.pending {
		pending = append(pending, nc)
	}
	h.listener = nil
	h.conn = nil
	h.pending = nil
	h.state = StateStopped
	h.mu.Unlock()

	var errs error
	if listener != nil {
		if err := listener.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("could not close listener: %w", err))
		}
	}
	// NOTE(blukai): closing is what unblocks a handshake that waits on a
	// silent peer.
	for _, nc := range pending {
		nc.Close()
	}
	if conn != nil {
		if err := conn.CloseGracefully(h.cfg.ShutdownGrace); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("could not close connection: %w", err))
		}
	}

	h.wg.Wait()

	h.logger.Info().Msg("host stopped")
	return errs
}

// localIP is the address to read out next to the room code. It falls back
// to loopback when no interface qualifies.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
