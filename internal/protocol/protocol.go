package protocol

import (
	"encoding"
	"errors"
	"fmt"
	"math/bits"

	"github.com/blukai/coopparty/internal/byteorder"
	"github.com/blukai/coopparty/internal/debug"
	"github.com/blukai/coopparty/internal/zigzag"
)

// NOTE(blukai): every numeric field travels in network byte order, floats as
// their ieee-754 bits. layouts are fixed, there is no padding anywhere.

const (
	HeaderSize   = 9  // type (1) + sequence (4) + timestamp (4)
	ChecksumSize = 4  // uint32
	EntitySize   = 20 // position (12) + rotation (4) + health (2) + state (1) + animation (1)

	ControlSize  = HeaderSize
	SnapshotSize = HeaderSize + (EntitySize + 1) + EntitySize + 2 + ChecksumSize // = 56
	InputSize    = HeaderSize + 4*4 + 2 + 2*4 + ChecksumSize                      // = 39
	EventSize    = HeaderSize + 1 + 4*4 + ChecksumSize                            // = 30

	MaxPacketSize = SnapshotSize
)

type Type uint8

const (
	// connection control, header only
	TypeConnectRequest Type = 0x01
	TypeConnectAccept  Type = 0x02
	TypeConnectReject  Type = 0x03
	TypeDisconnect     Type = 0x04
	TypePing           Type = 0x05
	TypePong           Type = 0x06

	// gameplay
	TypeSnapshot Type = 0x10 // host -> client
	TypeInput    Type = 0x11 // client -> host
	TypeEvent    Type = 0x12
)

func (t Type) String() string {
	switch t {
	case TypeConnectRequest:
		return "connect_request"
	case TypeConnectAccept:
		return "connect_accept"
	case TypeConnectReject:
		return "connect_reject"
	case TypeDisconnect:
		return "disconnect"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	case TypeSnapshot:
		return "snapshot"
	case TypeInput:
		return "input"
	case TypeEvent:
		return "event"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

// IsControl reports whether t is one of the header-only kinds.
func (t Type) IsControl() bool {
	return t >= TypeConnectRequest && t <= TypePong
}

// Size returns the encoded size of a packet of type t.
func Size(t Type) (int, bool) {
	switch {
	case t.IsControl():
		return ControlSize, true
	case t == TypeSnapshot:
		return SnapshotSize, true
	case t == TypeInput:
		return InputSize, true
	case t == TypeEvent:
		return EventSize, true
	default:
		return 0, false
	}
}

var (
	ErrTruncatedPacket  = errors.New("truncated packet")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrUnknownType      = errors.New("unknown packet type")
)

// IsDecodeError reports whether err means that a single packet was bad while
// the stream it came from is still usable.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrTruncatedPacket) || errors.Is(err, ErrChecksumMismatch)
}

// Checksum folds data into an order dependent 32 bit sum: each byte is added
// and the accumulator is rotated left by one.
func Checksum(data []byte) uint32 {
	sum := uint32(0)
	for _, b := range data {
		sum += uint32(b)
		sum = bits.RotateLeft32(sum, 1)
	}
	return sum
}

type Packet interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler

	PacketHeader() *Header
}

type Header struct {
	Type      Type
	Sequence  uint32
	Timestamp uint32 // milliseconds on the sender's clock
}

var (
	_ encoding.BinaryMarshaler   = (*Header)(nil)
	_ encoding.BinaryUnmarshaler = (*Header)(nil)
)

func (h *Header) appendTo(dst []byte) []byte {
	dst = append(dst, byte(h.Type))
	dst = byteorder.AppendHtonl(dst, h.Sequence)
	dst = byteorder.AppendHtonl(dst, h.Timestamp)
	return dst
}

func (h *Header) MarshalBinary() ([]byte, error) {
	data := h.appendTo(make([]byte, 0, HeaderSize))
	debug.Assert(len(data) == HeaderSize)
	return data, nil
}

func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: header is %d bytes, want %d", ErrTruncatedPacket, len(data), HeaderSize)
	}

	h.Type = Type(data[0])
	h.Sequence = byteorder.Ntohl(data[1:5])
	h.Timestamp = byteorder.Ntohl(data[5:9])

	return nil
}

// sealed appends the checksum of data to data.
func sealed(data []byte) []byte {
	return byteorder.AppendHtonl(data, Checksum(data))
}

// unseal verifies length and trailing checksum of a checksummed packet and
// returns the bytes it covers.
func unseal(data []byte, t Type, size int) ([]byte, error) {
	if len(data) < size {
		return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrTruncatedPacket, t, len(data), size)
	}

	body := data[:size-ChecksumSize]
	want := byteorder.Ntohl(data[size-ChecksumSize : size])
	if got := Checksum(body); got != want {
		return nil, fmt.Errorf("%w: %s (got %08x; want %08x)", ErrChecksumMismatch, t, got, want)
	}

	return body, nil
}

// Control is any of the header-only packets.
type Control struct {
	Header Header
}

var _ Packet = (*Control)(nil)

func NewControl(t Type, sequence, timestamp uint32) *Control {
	debug.Assertf(t.IsControl(), "%s is not a control type", t)
	return &Control{Header: Header{Type: t, Sequence: sequence, Timestamp: timestamp}}
}

func (c *Control) PacketHeader() *Header { return &c.Header }

func (c *Control) MarshalBinary() ([]byte, error) {
	return c.Header.MarshalBinary()
}

func (c *Control) UnmarshalBinary(data []byte) error {
	return c.Header.UnmarshalBinary(data)
}

type Vec3 struct {
	X, Y, Z float32
}

// Entity is one player's block inside a snapshot. Weapon is only carried for
// the host's character.
type Entity struct {
	Position  Vec3
	Rotation  float32
	Health    int16
	State     uint8
	Animation uint8
	Weapon    uint8
}

func (e *Entity) appendTo(dst []byte, withWeapon bool) []byte {
	dst = byteorder.AppendHtonf(dst, e.Position.X)
	dst = byteorder.AppendHtonf(dst, e.Position.Y)
	dst = byteorder.AppendHtonf(dst, e.Position.Z)
	dst = byteorder.AppendHtonf(dst, e.Rotation)
	dst = byteorder.AppendHtons(dst, zigzag.Encode16(e.Health))
	dst = append(dst, e.State, e.Animation)
	if withWeapon {
		dst = append(dst, e.Weapon)
	}
	return dst
}

// readFrom decodes an entity block and returns the number of bytes consumed.
func (e *Entity) readFrom(data []byte, withWeapon bool) int {
	e.Position.X = byteorder.Ntohf(data[0:4])
	e.Position.Y = byteorder.Ntohf(data[4:8])
	e.Position.Z = byteorder.Ntohf(data[8:12])
	e.Rotation = byteorder.Ntohf(data[12:16])
	e.Health = zigzag.Decode16(byteorder.Ntohs(data[16:18]))
	e.State = data[18]
	e.Animation = data[19]
	if withWeapon {
		e.Weapon = data[20]
		return EntitySize + 1
	}
	e.Weapon = 0
	return EntitySize
}

// Snapshot is the host's authoritative view of both players and the room.
type Snapshot struct {
	Header     Header
	Leon       Entity
	Ashley     Entity
	RoomID     uint8
	EnemyCount uint8
}

var _ Packet = (*Snapshot)(nil)

func (s *Snapshot) PacketHeader() *Header { return &s.Header }

func (s *Snapshot) MarshalBinary() ([]byte, error) {
	s.Header.Type = TypeSnapshot

	data := make([]byte, 0, SnapshotSize)
	data = s.Header.appendTo(data)
	data = s.Leon.appendTo(data, true)
	data = s.Ashley.appendTo(data, false)
	data = append(data, s.RoomID, s.EnemyCount)
	data = sealed(data)

	debug.Assert(len(data) == SnapshotSize)
	return data, nil
}

func (s *Snapshot) UnmarshalBinary(data []byte) error {
	body, err := unseal(data, TypeSnapshot, SnapshotSize)
	if err != nil {
		return err
	}

	if err := s.Header.UnmarshalBinary(body); err != nil {
		return err
	}
	off := HeaderSize
	off += s.Leon.readFrom(body[off:], true)
	off += s.Ashley.readFrom(body[off:], false)
	s.RoomID = body[off]
	s.EnemyCount = body[off+1]

	debug.Assert(off+2 == len(body))
	return nil
}

type Buttons uint16

const (
	ButtonAction    Buttons = 0x0001 // A
	ButtonRun       Buttons = 0x0002 // B
	ButtonReload    Buttons = 0x0004 // X
	ButtonKnife     Buttons = 0x0008 // Y
	ButtonAim       Buttons = 0x0010 // LT
	ButtonShoot     Buttons = 0x0020 // RT
	ButtonInventory Buttons = 0x0040 // Start
	ButtonMap       Buttons = 0x0080 // Back

	// NOTE(blukai): d-pad bits are reserved, nothing produces them yet.
	ButtonDPadUp    Buttons = 0x0100
	ButtonDPadDown  Buttons = 0x0200
	ButtonDPadLeft  Buttons = 0x0400
	ButtonDPadRight Buttons = 0x0800
)

func (b Buttons) Has(mask Buttons) bool {
	return b&mask == mask
}

// Input is a single sample of the remote player's controller.
type Input struct {
	Header       Header
	MoveX        float32 // [-1, 1]
	MoveY        float32 // [-1, 1]
	LookX        float32 // [-1, 1]
	LookY        float32 // [-1, 1]
	Buttons      Buttons
	LeftTrigger  float32 // [0, 1]
	RightTrigger float32 // [0, 1]
}

var _ Packet = (*Input)(nil)

func (in *Input) PacketHeader() *Header { return &in.Header }

func (in *Input) MarshalBinary() ([]byte, error) {
	in.Header.Type = TypeInput

	data := make([]byte, 0, InputSize)
	data = in.Header.appendTo(data)
	data = byteorder.AppendHtonf(data, in.MoveX)
	data = byteorder.AppendHtonf(data, in.MoveY)
	data = byteorder.AppendHtonf(data, in.LookX)
	data = byteorder.AppendHtonf(data, in.LookY)
	data = byteorder.AppendHtons(data, uint16(in.Buttons))
	data = byteorder.AppendHtonf(data, in.LeftTrigger)
	data = byteorder.AppendHtonf(data, in.RightTrigger)
	data = sealed(data)

	debug.Assert(len(data) == InputSize)
	return data, nil
}

func (in *Input) UnmarshalBinary(data []byte) error {
	body, err := unseal(data, TypeInput, InputSize)
	if err != nil {
		return err
	}

	if err := in.Header.UnmarshalBinary(body); err != nil {
		return err
	}
	in.MoveX = byteorder.Ntohf(body[9:13])
	in.MoveY = byteorder.Ntohf(body[13:17])
	in.LookX = byteorder.Ntohf(body[17:21])
	in.LookY = byteorder.Ntohf(body[21:25])
	in.Buttons = Buttons(byteorder.Ntohs(body[25:27]))
	in.LeftTrigger = byteorder.Ntohf(body[27:31])
	in.RightTrigger = byteorder.Ntohf(body[31:35])

	return nil
}

// Event is reserved for one-off gameplay notifications. Data is opaque to
// the transport.
type Event struct {
	Header Header
	Kind   uint8
	Data   [4]uint32
}

var _ Packet = (*Event)(nil)

func (ev *Event) PacketHeader() *Header { return &ev.Header }

func (ev *Event) MarshalBinary() ([]byte, error) {
	ev.Header.Type = TypeEvent

	data := make([]byte, 0, EventSize)
	data = ev.Header.appendTo(data)
	data = append(data, ev.Kind)
	for _, v := range ev.Data {
		data = byteorder.AppendHtonl(data, v)
	}
	data = sealed(data)

	debug.Assert(len(data) == EventSize)
	return data, nil
}

func (ev *Event) UnmarshalBinary(data []byte) error {
	body, err := unseal(data, TypeEvent, EventSize)
	if err != nil {
		return err
	}

	if err := ev.Header.UnmarshalBinary(body); err != nil {
		return err
	}
	ev.Kind = body[9]
	for i := range ev.Data {
		off := 10 + i*4
		ev.Data[i] = byteorder.Ntohl(body[off : off+4])
	}

	return nil
}

func Encode(p Packet) ([]byte, error) {
	return p.MarshalBinary()
}

// Decode picks the packet kind from the leading type byte and unmarshals
// exactly Size(type) bytes of data. Checksummed kinds are verified.
func Decode(data []byte) (Packet, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty buffer", ErrTruncatedPacket)
	}

	t := Type(data[0])
	var p Packet
	switch {
	case t.IsControl():
		p = &Control{}
	case t == TypeSnapshot:
		p = &Snapshot{}
	case t == TypeInput:
		p = &Input{}
	case t == TypeEvent:
		p = &Event{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}

	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return p, nil
}
