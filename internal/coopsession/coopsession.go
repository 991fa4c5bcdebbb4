// Package coopsession ties a host or client role to the game it runs in. The
// surrounding application owns a Session and calls Tick once per frame.
package coopsession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blukai/coopparty/internal/coopclient"
	"github.com/blukai/coopparty/internal/coophost"
	"github.com/blukai/coopparty/internal/debug"
	"github.com/blukai/coopparty/internal/game"
	"github.com/blukai/coopparty/internal/logging"
	"github.com/blukai/coopparty/internal/protocol"
	"github.com/phuslu/log"
)

type Role uint8

const (
	RoleHost Role = iota
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

type Status struct {
	Role      Role
	State     string
	Connected bool
	Latency   time.Duration
	// RoomCode and LocalIP are only known on the host.
	RoomCode string
	LocalIP  string
	// Err tells why the peer was lost, if it was.
	Err error
}

type Option func(*Session)

func WithLogger(logger *log.Logger) Option {
	return func(s *Session) { s.logger = logging.OrDiscard(logger) }
}

type Session struct {
	role   Role
	logger *log.Logger

	host    *coophost.Host
	applier game.InputApplier

	client *coopclient.Client
	writer game.EntityWriter

	// mu serializes ticks; everything below is only touched by Tick.
	mu        sync.Mutex
	connected bool
	applied   protocol.Header
}

// NewHost wraps a host. Every tick the client's latest input is handed to
// applier.
func NewHost(host *coophost.Host, applier game.InputApplier, opts ...Option) *Session {
	debug.Assert(host != nil && applier != nil)

	s := &Session{
		role:    RoleHost,
		logger:  logging.Discard(),
		host:    host,
		applier: applier,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewClient wraps a client. Every new snapshot from the host is written to
// writer.
func NewClient(client *coopclient.Client, writer game.EntityWriter, opts ...Option) *Session {
	debug.Assert(client != nil && writer != nil)

	s := &Session{
		role:   RoleClient,
		logger: logging.Discard(),
		client: client,
		writer: writer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Role() Role { return s.role }

// Tick sends this side's share of the frame and applies what the peer sent.
func (s *Session) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.role {
	case RoleHost:
		s.tickHost()
	case RoleClient:
		s.tickClient()
	}
}

func (s *Session) tickHost() {
	s.host.Update()

	connected := s.host.Connected()
	s.track(connected)

	if connected {
		s.applier.ApplyRemoteInput(game.CoopInputFrom(s.host.GetLatestInput()))
	}
}

func (s *Session) tickClient() {
	s.client.Update()
	s.track(s.client.Connected())

	snapshot := s.client.GetLatestSnapshot()
	if snapshot.Header.Type != protocol.TypeSnapshot {
		return
	}
	// NOTE(blukai): sequence alone is not enough, it starts over on every
	// connection.
	if snapshot.Header == s.applied {
		return
	}
	s.applied = snapshot.Header

	s.writer.WriteRemoteEntityState(game.Leon, game.EntityStateFrom(snapshot.Leon))
	s.writer.WriteRemoteEntityState(game.Ashley, game.EntityStateFrom(snapshot.Ashley))
	s.writer.WriteWorldState(game.World{RoomID: snapshot.RoomID, EnemyCount: snapshot.EnemyCount})
}

// track logs connection changes and, on the host, releases the remote
// player's controls once the peer is gone.
func (s *Session) track(connected bool) {
	if connected == s.connected {
		return
	}
	s.connected = connected

	if connected {
		s.logger.Info().Str("role", s.role.String()).Msg("peer connected")
		return
	}

	s.logger.Warn().
		Str("role", s.role.String()).
		Err(s.peerErr()).
		Msg("connection lost")

	if s.role == RoleHost {
		s.applier.ApplyRemoteInput(game.CoopInput{})
	}
}

func (s *Session) peerErr() error {
	if s.role == RoleHost {
		return s.host.Err()
	}
	return s.client.Err()
}

func (s *Session) Status() Status {
	switch s.role {
	case RoleHost:
		return Status{
			Role:      RoleHost,
			State:     s.host.State().String(),
			Connected: s.host.Connected(),
			Latency:   s.host.GetLatency(),
			RoomCode:  s.host.RoomCode(),
			LocalIP:   s.host.LocalIP(),
			Err:       s.host.Err(),
		}
	default:
		return Status{
			Role:      RoleClient,
			State:     s.client.State().String(),
			Connected: s.client.Connected(),
			Latency:   s.client.GetLatency(),
			Err:       s.client.Err(),
		}
	}
}

// SendEvent forwards a one-off game event to the peer.
func (s *Session) SendEvent(kind uint8, data [4]uint32) error {
	if s.role == RoleHost {
		return s.host.SendEvent(kind, data)
	}
	return s.client.SendEvent(kind, data)
}

// Run ticks tickRate times per second until ctx is done. afterTick, if not
// nil, runs after every tick; the cli uses it to step its demo world.
func (s *Session) Run(ctx context.Context, tickRate int, afterTick func(dt time.Duration)) error {
	debug.Assertf(tickRate > 0, "invalid tick rate %d", tickRate)

	interval := time.Second / time.Duration(tickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		s.Tick()
		if afterTick != nil {
			afterTick(interval)
		}
	}
}

// Close stops the host or leaves the host.
func (s *Session) Close() error {
	if s.role == RoleHost {
		return s.host.Stop()
	}
	return s.client.Disconnect()
}
