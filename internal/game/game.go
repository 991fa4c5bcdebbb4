// Package game is the seam between the networking core and the running game.
//
// The mod reads and writes the game's memory; everything here only sees the
// values that cross the wire.
package game

import (
	"fmt"

	"github.com/blukai/coopparty/internal/protocol"
)

type Which uint8

const (
	Leon   Which = iota // host's character
	Ashley              // client's character
)

func (w Which) String() string {
	switch w {
	case Leon:
		return "leon"
	case Ashley:
		return "ashley"
	default:
		return fmt.Sprintf("which(%d)", uint8(w))
	}
}

type Vec3 = protocol.Vec3

type EntityState struct {
	Position  Vec3
	Rotation  float32
	Health    int16
	State     uint8
	Animation uint8
	Weapon    uint8
}

type World struct {
	RoomID     uint8
	EnemyCount uint8
}

// CoopInput is the local controller, already normalized: sticks in [-1, 1],
// triggers in [0, 1].
type CoopInput struct {
	MoveX, MoveY float32
	LookX, LookY float32

	Aim       bool
	Shoot     bool
	Action    bool
	Run       bool
	Reload    bool
	Knife     bool
	Inventory bool
	Map       bool

	LeftTrigger  float32
	RightTrigger float32
}

// EntityReader reads the authoritative simulation on the host.
type EntityReader interface {
	ReadLocalEntityState(which Which) EntityState
	ReadWorldState() World
}

// EntityWriter applies received state to the client's copy of the world.
type EntityWriter interface {
	WriteRemoteEntityState(which Which, state EntityState)
	WriteWorldState(world World)
}

type ControllerReader interface {
	ReadLocalControllerInput() CoopInput
}

// InputApplier feeds the remote player's input into the host simulation.
type InputApplier interface {
	ApplyRemoteInput(input CoopInput)
}

func (s EntityState) Entity() protocol.Entity {
	return protocol.Entity{
		Position:  s.Position,
		Rotation:  s.Rotation,
		Health:    s.Health,
		State:     s.State,
		Animation: s.Animation,
		Weapon:    s.Weapon,
	}
}

func EntityStateFrom(e protocol.Entity) EntityState {
	return EntityState{
		Position:  e.Position,
		Rotation:  e.Rotation,
		Health:    e.Health,
		State:     e.State,
		Animation: e.Animation,
		Weapon:    e.Weapon,
	}
}

// Buttons packs the eight face/shoulder buttons in wire bit order.
func (in CoopInput) Buttons() protocol.Buttons {
	var b protocol.Buttons
	set := func(pressed bool, mask protocol.Buttons) {
		if pressed {
			b |= mask
		}
	}
	set(in.Action, protocol.ButtonAction)
	set(in.Run, protocol.ButtonRun)
	set(in.Reload, protocol.ButtonReload)
	set(in.Knife, protocol.ButtonKnife)
	set(in.Aim, protocol.ButtonAim)
	set(in.Shoot, protocol.ButtonShoot)
	set(in.Inventory, protocol.ButtonInventory)
	set(in.Map, protocol.ButtonMap)
	return b
}

// Sample turns the controller state into an input packet body. The header is
// filled in by the connection.
func (in CoopInput) Sample() protocol.Input {
	return protocol.Input{
		MoveX:        in.MoveX,
		MoveY:        in.MoveY,
		LookX:        in.LookX,
		LookY:        in.LookY,
		Buttons:      in.Buttons(),
		LeftTrigger:  in.LeftTrigger,
		RightTrigger: in.RightTrigger,
	}
}

func CoopInputFrom(in protocol.Input) CoopInput {
	return CoopInput{
		MoveX:        in.MoveX,
		MoveY:        in.MoveY,
		LookX:        in.LookX,
		LookY:        in.LookY,
		Aim:          in.Buttons.Has(protocol.ButtonAim),
		Shoot:        in.Buttons.Has(protocol.ButtonShoot),
		Action:       in.Buttons.Has(protocol.ButtonAction),
		Run:          in.Buttons.Has(protocol.ButtonRun),
		Reload:       in.Buttons.Has(protocol.ButtonReload),
		Knife:        in.Buttons.Has(protocol.ButtonKnife),
		Inventory:    in.Buttons.Has(protocol.ButtonInventory),
		Map:          in.Buttons.Has(protocol.ButtonMap),
		LeftTrigger:  in.LeftTrigger,
		RightTrigger: in.RightTrigger,
	}
}
