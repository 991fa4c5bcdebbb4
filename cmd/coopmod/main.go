// coopmod is built with -buildmode=c-shared and loaded by the game mod. The
// mod pushes the live game's values in and pulls the peer's values out once
// per frame; everything is keyed by the handle HostStart or ClientConnect
// returned.
package main

/*
#include <stdlib.h>
#include <stdbool.h>

typedef struct {
	float x, y, z;
	float rotation;
	short health;
	unsigned char state;
	unsigned char animation;
	unsigned char weapon;
} CoopEntity;

typedef struct {
	float move_x, move_y;
	float look_x, look_y;
	unsigned short buttons;
	float left_trigger, right_trigger;
} CoopInput;
*/
import "C"

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	runtimedebug "runtime/debug"
	"sync"
	"time"
	"unsafe"

	"github.com/blukai/coopparty/internal/config"
	"github.com/blukai/coopparty/internal/coopclient"
	"github.com/blukai/coopparty/internal/coophost"
	"github.com/blukai/coopparty/internal/coopsession"
	"github.com/blukai/coopparty/internal/debug"
	"github.com/blukai/coopparty/internal/game"
	"github.com/blukai/coopparty/internal/protocol"
)

var errUnknownHandle = errors.New("unknown session handle")

type session struct {
	*coopsession.Session
	world *game.Mirror
}

var (
	mu         sync.Mutex
	sessions   = make(map[uint32]*session)
	nextHandle uint32 = 1
	lastErr    error
)

func setLastErr(err error) {
	mu.Lock()
	lastErr = err
	mu.Unlock()
}

func register(s *session) uint32 {
	mu.Lock()
	defer mu.Unlock()

	handle := nextHandle
	nextHandle += 1
	sessions[handle] = s
	return handle
}

func lookup(handle C.uint) *session {
	mu.Lock()
	defer mu.Unlock()

	s, ok := sessions[uint32(handle)]
	if !ok {
		lastErr = errUnknownHandle
		return nil
	}
	return s
}

// maybeDumpStack is not absolutely panic-free, it theoretically may also panic
func maybeDumpStack() {
	if r := recover(); r == nil {
		return
	}

	// game's root directory
	cwd, err := os.Getwd()
	debug.Assert(err == nil)

	filename := filepath.Join(
		cwd,
		"crashes",
		"coopparty-"+time.Now().UTC().Format(time.RFC3339)+".txt",
	)
	stackTrace := runtimedebug.Stack()

	err = os.WriteFile(filename, stackTrace, 0644)
	debug.Assert(err == nil)

	panic("oopsie woopsie")
}

//export LastErr
func LastErr() *C.char {
	defer maybeDumpStack()

	mu.Lock()
	defer mu.Unlock()

	if lastErr == nil {
		return nil
	}

	return C.CString(lastErr.Error())
}

//export FreeString
func FreeString(s *C.char) {
	defer maybeDumpStack()

	C.free(unsafe.Pointer(s))
}

// HostStart returns a session handle, or 0 on failure (see LastErr).
//
//export HostStart
func HostStart(port C.ushort) C.uint {
	defer maybeDumpStack()

	cfg, err := config.Load()
	if err != nil {
		setLastErr(err)
		return 0
	}

	world := game.NewMirror()
	host := coophost.New(cfg, world)
	if err := host.Start(uint16(port)); err != nil {
		setLastErr(err)
		return 0
	}

	return C.uint(register(&session{
		Session: coopsession.NewHost(host, world),
		world:   world,
	}))
}

// ClientConnect returns a session handle, or 0 on failure (see LastErr).
//
//export ClientConnect
func ClientConnect(address *C.char, port C.ushort) C.uint {
	defer maybeDumpStack()

	cfg, err := config.Load()
	if err != nil {
		setLastErr(err)
		return 0
	}

	world := game.NewMirror()
	client := coopclient.New(cfg, world)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout+cfg.HandshakeTimeout)
	defer cancel()

	if err := client.Connect(ctx, C.GoString(address), uint16(port)); err != nil {
		setLastErr(err)
		return 0
	}

	return C.uint(register(&session{
		Session: coopsession.NewClient(client, world),
		world:   world,
	}))
}

// Close stops the host or leaves the host and forgets the handle.
//
//export Close
func Close(handle C.uint) {
	defer maybeDumpStack()

	mu.Lock()
	s, ok := sessions[uint32(handle)]
	delete(sessions, uint32(handle))
	mu.Unlock()

	if !ok {
		setLastErr(errUnknownHandle)
		return
	}
	if err := s.Close(); err != nil {
		setLastErr(err)
	}
}

//export Tick
func Tick(handle C.uint) {
	defer maybeDumpStack()

	if s := lookup(handle); s != nil {
		s.Tick()
	}
}

//export IsConnected
func IsConnected(handle C.uint) C.bool {
	defer maybeDumpStack()

	s := lookup(handle)
	return C.bool(s != nil && s.Status().Connected)
}

// GetLatency is the last round trip time in milliseconds.
//
//export GetLatency
func GetLatency(handle C.uint) C.uint {
	defer maybeDumpStack()

	s := lookup(handle)
	if s == nil {
		return 0
	}
	return C.uint(s.Status().Latency.Milliseconds())
}

// GetRoomCode must be released with FreeString. It is NULL for clients.
//
//export GetRoomCode
func GetRoomCode(handle C.uint) *C.char {
	defer maybeDumpStack()

	s := lookup(handle)
	if s == nil || s.Role() != coopsession.RoleHost {
		return nil
	}
	return C.CString(s.Status().RoomCode)
}

//export SetLocalEntity
func SetLocalEntity(handle C.uint, which C.uchar, entity *C.CoopEntity) {
	defer maybeDumpStack()

	debug.Assert(entity != nil)

	s := lookup(handle)
	if s == nil {
		return
	}
	s.world.SetLocalEntityState(game.Which(which), game.EntityState{
		Position:  game.Vec3{X: float32(entity.x), Y: float32(entity.y), Z: float32(entity.z)},
		Rotation:  float32(entity.rotation),
		Health:    int16(entity.health),
		State:     uint8(entity.state),
		Animation: uint8(entity.animation),
		Weapon:    uint8(entity.weapon),
	})
}

//export SetWorld
func SetWorld(handle C.uint, roomID, enemyCount C.uchar) {
	defer maybeDumpStack()

	if s := lookup(handle); s != nil {
		s.world.SetWorld(game.World{RoomID: uint8(roomID), EnemyCount: uint8(enemyCount)})
	}
}

// GetRemoteEntity fills out with the host's latest copy of which. It reports
// false if nothing was received yet.
//
//export GetRemoteEntity
func GetRemoteEntity(handle C.uint, which C.uchar, out *C.CoopEntity) C.bool {
	defer maybeDumpStack()

	debug.Assert(out != nil)

	s := lookup(handle)
	if s == nil || !s.Status().Connected {
		return false
	}

	state := s.world.ReadLocalEntityState(game.Which(which))
	out.x = C.float(state.Position.X)
	out.y = C.float(state.Position.Y)
	out.z = C.float(state.Position.Z)
	out.rotation = C.float(state.Rotation)
	out.health = C.short(state.Health)
	out.state = C.uchar(state.State)
	out.animation = C.uchar(state.Animation)
	out.weapon = C.uchar(state.Weapon)
	return true
}

//export SetController
func SetController(handle C.uint, in *C.CoopInput) {
	defer maybeDumpStack()

	debug.Assert(in != nil)

	if s := lookup(handle); s != nil {
		s.world.SetController(game.CoopInputFrom(protocol.Input{
			MoveX:        float32(in.move_x),
			MoveY:        float32(in.move_y),
			LookX:        float32(in.look_x),
			LookY:        float32(in.look_y),
			Buttons:      protocol.Buttons(in.buttons),
			LeftTrigger:  float32(in.left_trigger),
			RightTrigger: float32(in.right_trigger),
		}))
	}
}

// GetRemoteInput fills out with the client's latest input, for the host to
// drive ashley with.
//
//export GetRemoteInput
func GetRemoteInput(handle C.uint, out *C.CoopInput) {
	defer maybeDumpStack()

	debug.Assert(out != nil)

	s := lookup(handle)
	if s == nil {
		return
	}

	in := s.world.RemoteInput().Sample()
	out.move_x = C.float(in.MoveX)
	out.move_y = C.float(in.MoveY)
	out.look_x = C.float(in.LookX)
	out.look_y = C.float(in.LookY)
	out.buttons = C.ushort(in.Buttons)
	out.left_trigger = C.float(in.LeftTrigger)
	out.right_trigger = C.float(in.RightTrigger)
}

//export SendEvent
func SendEvent(handle C.uint, kind C.uchar, a, b, c, d C.uint) {
	defer maybeDumpStack()

	s := lookup(handle)
	if s == nil {
		return
	}
	if err := s.SendEvent(uint8(kind), [4]uint32{uint32(a), uint32(b), uint32(c), uint32(d)}); err != nil {
		setLastErr(err)
	}
}

func main() {}
