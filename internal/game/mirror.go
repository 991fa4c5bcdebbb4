package game

import (
	"math"
	"sync"
)

// walkSpeed is in game units per second at full stick deflection; runSpeed
// applies while Run is held.
const (
	walkSpeed = 150
	runSpeed  = 300
)

var (
	_ EntityReader     = (*Mirror)(nil)
	_ EntityWriter     = (*Mirror)(nil)
	_ ControllerReader = (*Mirror)(nil)
	_ InputApplier     = (*Mirror)(nil)
)

// Mirror is an in-memory stand-in for the game. The c-shared layer pushes the
// real game's values into it every frame and pulls remote state out of it;
// the cli and tests drive it through Step.
type Mirror struct {
	mu         sync.Mutex
	entities   [2]EntityState
	world      World
	controller CoopInput
	remote     CoopInput
}

func NewMirror() *Mirror {
	m := &Mirror{}
	m.entities[Leon].Health = 1200
	m.entities[Ashley].Health = 100
	m.entities[Ashley].Position = Vec3{X: 100}
	return m
}

func (m *Mirror) ReadLocalEntityState(which Which) EntityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entities[which]
}

func (m *Mirror) ReadWorldState() World {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.world
}

func (m *Mirror) WriteRemoteEntityState(which Which, state EntityState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[which] = state
}

func (m *Mirror) WriteWorldState(world World) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.world = world
}

func (m *Mirror) ReadLocalControllerInput() CoopInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controller
}

func (m *Mirror) ApplyRemoteInput(input CoopInput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remote = input
}

// SetLocalEntityState and SetController are how the owner of the real
// game (or a test) feeds the mirror.
func (m *Mirror) SetLocalEntityState(which Which, state EntityState) {
	m.WriteRemoteEntityState(which, state)
}

func (m *Mirror) SetWorld(world World) {
	m.WriteWorldState(world)
}

func (m *Mirror) SetController(input CoopInput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controller = input
}

// RemoteInput is the last input handed over by ApplyRemoteInput.
func (m *Mirror) RemoteInput() CoopInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remote
}

// Step moves Ashley by the remote player's stick, the way the host
// simulation would.
func (m *Mirror) Step(dt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	speed := float64(walkSpeed)
	if m.remote.Run {
		speed = runSpeed
	}

	ashley := &m.entities[Ashley]
	ashley.Position.X += float32(float64(m.remote.MoveX) * speed * dt)
	ashley.Position.Z += float32(float64(m.remote.MoveY) * speed * dt)
	if m.remote.MoveX != 0 || m.remote.MoveY != 0 {
		ashley.Rotation = float32(math.Atan2(float64(m.remote.MoveX), float64(m.remote.MoveY)))
	}
}
