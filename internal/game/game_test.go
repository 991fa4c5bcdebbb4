package game_test

import (
	"testing"

	"github.com/blukai/coopparty/internal/game"
	"github.com/blukai/coopparty/internal/protocol"
	"github.com/matryer/is"
)

func TestButtonPacking(t *testing.T) {
	is := is.New(t)

	in := game.CoopInput{Run: true, Shoot: true, Map: true}
	b := in.Buttons()
	is.Equal(b, protocol.ButtonRun|protocol.ButtonShoot|protocol.ButtonMap)

	all := game.CoopInput{
		Aim: true, Shoot: true, Action: true, Run: true,
		Reload: true, Knife: true, Inventory: true, Map: true,
	}
	is.Equal(uint16(all.Buttons()), uint16(0x00ff))
}

func TestSampleRoundTrip(t *testing.T) {
	is := is.New(t)

	in := game.CoopInput{
		MoveX: 0.75, LookY: -0.5,
		Aim: true, Knife: true,
		LeftTrigger: 0.25, RightTrigger: 1,
	}
	is.Equal(game.CoopInputFrom(in.Sample()), in)
}

func TestEntityConversion(t *testing.T) {
	is := is.New(t)

	state := game.EntityState{
		Position: game.Vec3{X: 1, Y: 2, Z: 3},
		Rotation: 0.5,
		Health:   80,
		State:    1,
		Weapon:   4,
	}
	is.Equal(game.EntityStateFrom(state.Entity()), state)
}

func TestMirrorStep(t *testing.T) {
	is := is.New(t)

	m := game.NewMirror()
	start := m.ReadLocalEntityState(game.Ashley).Position

	m.ApplyRemoteInput(game.CoopInput{MoveX: 1, Run: true})
	m.Step(0.5)

	moved := m.ReadLocalEntityState(game.Ashley).Position
	is.Equal(moved.X, start.X+150)
	is.Equal(moved.Z, start.Z)
	is.Equal(m.RemoteInput().Run, true)
}
