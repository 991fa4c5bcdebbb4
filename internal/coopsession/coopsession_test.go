package coopsession_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blukai/coopparty/internal/config"
	"github.com/blukai/coopparty/internal/coopclient"
	"github.com/blukai/coopparty/internal/coophost"
	"github.com/blukai/coopparty/internal/coopsession"
	"github.com/blukai/coopparty/internal/game"
	"github.com/matryer/is"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.AcceptPollInterval = 20 * time.Millisecond
	cfg.PingInterval = 0
	cfg.ShutdownGrace = 100 * time.Millisecond
	return cfg
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition was not met in time")
}

// countingWriter counts how many snapshots were written through it.
type countingWriter struct {
	*game.Mirror

	mu     sync.Mutex
	writes int
}

func (w *countingWriter) WriteWorldState(world game.World) {
	w.mu.Lock()
	w.writes++
	w.mu.Unlock()
	w.Mirror.WriteWorldState(world)
}

func (w *countingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

type pair struct {
	hostWorld   *game.Mirror
	clientWorld *countingWriter
	host        *coopsession.Session
	client      *coopsession.Session
}

func newPair(t *testing.T) pair {
	t.Helper()

	cfg := testConfig()

	hostWorld := game.NewMirror()
	h := coophost.New(cfg, hostWorld)
	if err := h.Start(0); err != nil {
		t.Fatalf("could not start host: %v", err)
	}

	clientWorld := &countingWriter{Mirror: game.NewMirror()}
	c := coopclient.New(cfg, clientWorld)
	port := uint16(h.Addr().Port)
	if err := c.Connect(context.Background(), "127.0.0.1", port); err != nil {
		t.Fatalf("could not connect: %v", err)
	}

	p := pair{
		hostWorld:   hostWorld,
		clientWorld: clientWorld,
		host:        coopsession.NewHost(h, hostWorld),
		client:      coopsession.NewClient(c, clientWorld),
	}
	t.Cleanup(func() {
		p.client.Close()
		p.host.Close()
	})

	eventually(t, func() bool { return p.host.Status().Connected })
	return p
}

func TestHostAppliesInput(t *testing.T) {
	is := is.New(t)

	p := newPair(t)
	p.clientWorld.SetController(game.CoopInput{MoveX: -1, Shoot: true})

	p.client.Tick()
	eventually(t, func() bool {
		p.host.Tick()
		return p.hostWorld.RemoteInput().MoveX == -1
	})

	in := p.hostWorld.RemoteInput()
	is.True(in.Shoot)
	is.True(!in.Run)
}

func TestClientAppliesNewSnapshotsOnce(t *testing.T) {
	is := is.New(t)

	p := newPair(t)
	p.hostWorld.SetLocalEntityState(game.Leon, game.EntityState{Position: game.Vec3{X: 1, Y: 2, Z: 3}, Health: 900})
	p.hostWorld.SetWorld(game.World{RoomID: 7})

	p.host.Tick()
	eventually(t, func() bool {
		p.client.Tick()
		return p.clientWorld.count() == 1
	})

	leon := p.clientWorld.ReadLocalEntityState(game.Leon)
	is.Equal(leon.Position, game.Vec3{X: 1, Y: 2, Z: 3})
	is.Equal(leon.Health, int16(900))
	is.Equal(p.clientWorld.ReadWorldState().RoomID, uint8(7))

	// same snapshot, nothing new to write
	p.client.Tick()
	p.client.Tick()
	is.Equal(p.clientWorld.count(), 1)

	p.host.Tick()
	eventually(t, func() bool {
		p.client.Tick()
		return p.clientWorld.count() == 2
	})
}

func TestStatus(t *testing.T) {
	is := is.New(t)

	p := newPair(t)

	host := p.host.Status()
	is.Equal(host.Role, coopsession.RoleHost)
	is.Equal(host.State, "connected")
	is.True(host.Connected)
	is.Equal(len(host.RoomCode), 6)
	is.NoErr(host.Err)

	client := p.client.Status()
	is.Equal(client.Role, coopsession.RoleClient)
	is.Equal(client.State, "connected")
	is.Equal(client.RoomCode, "")
}

func TestHostReleasesControlsOnLoss(t *testing.T) {
	is := is.New(t)

	p := newPair(t)
	p.clientWorld.SetController(game.CoopInput{MoveY: 1, Run: true})

	p.client.Tick()
	eventually(t, func() bool {
		p.host.Tick()
		return p.hostWorld.RemoteInput().Run
	})

	is.NoErr(p.client.Close())
	eventually(t, func() bool {
		p.host.Tick()
		return p.hostWorld.RemoteInput() == game.CoopInput{}
	})

	is.True(!p.host.Status().Connected)
	is.True(p.host.Status().Err != nil)
}

func TestRunStopsWithContext(t *testing.T) {
	is := is.New(t)

	p := newPair(t)

	ctx, cancel := context.WithCancel(context.Background())

	var ticks int
	done := make(chan error, 1)
	go func() {
		done <- p.host.Run(ctx, 100, func(dt time.Duration) {
			ticks++
			if ticks == 3 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		is.NoErr(err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
	is.True(ticks >= 3)
}

func TestSendEvent(t *testing.T) {
	is := is.New(t)

	cfg := testConfig()
	h := coophost.New(cfg, game.NewMirror())
	is.NoErr(h.Start(0))
	session := coopsession.NewHost(h, game.NewMirror())
	defer session.Close()

	// nobody to send to yet
	is.True(errors.Is(session.SendEvent(1, [4]uint32{}), coophost.ErrNotConnected))
}
