package protocol_test

import (
	"errors"
	"math"
	"testing"

	"github.com/blukai/coopparty/internal/protocol"
	"github.com/matryer/is"
)

func sampleSnapshot() *protocol.Snapshot {
	return &protocol.Snapshot{
		Header: protocol.Header{Type: protocol.TypeSnapshot, Sequence: 7, Timestamp: 123456},
		Leon: protocol.Entity{
			Position:  protocol.Vec3{X: 1.5, Y: -20.25, Z: 3000},
			Rotation:  3.14,
			Health:    1200,
			State:     4,
			Animation: 17,
			Weapon:    9,
		},
		Ashley: protocol.Entity{
			Position:  protocol.Vec3{X: -1, Y: 0, Z: 0.5},
			Rotation:  -1.57,
			Health:    -5,
			State:     2,
			Animation: 200,
		},
		RoomID:     0x21,
		EnemyCount: 12,
	}
}

func sampleInput() *protocol.Input {
	return &protocol.Input{
		Header:       protocol.Header{Type: protocol.TypeInput, Sequence: math.MaxUint32, Timestamp: 1},
		MoveX:        0.75,
		MoveY:        -1,
		LookX:        1,
		LookY:        -0.25,
		Buttons:      protocol.ButtonRun | protocol.ButtonAim,
		LeftTrigger:  0,
		RightTrigger: 1,
	}
}

func sampleEvent() *protocol.Event {
	return &protocol.Event{
		Header: protocol.Header{Type: protocol.TypeEvent, Sequence: 3, Timestamp: 99},
		Kind:   5,
		Data:   [4]uint32{1, math.MaxUint32, 0, 0xdeadbeef},
	}
}

func TestHeaderEncoding(t *testing.T) {
	is := is.New(t)

	original := protocol.Header{Type: protocol.TypePing, Sequence: 42, Timestamp: 1000}

	encoded, err := original.MarshalBinary()
	is.NoErr(err)
	is.Equal(len(encoded), protocol.HeaderSize)

	decoded := protocol.Header{}
	is.NoErr(decoded.UnmarshalBinary(encoded))
	is.Equal(original, decoded)
}

func TestSizes(t *testing.T) {
	is := is.New(t)

	is.Equal(protocol.SnapshotSize, 56)
	is.Equal(protocol.InputSize, 39)
	is.Equal(protocol.EventSize, 30)

	for _, tc := range []struct {
		p    protocol.Packet
		size int
	}{
		{protocol.NewControl(protocol.TypePing, 1, 2), protocol.ControlSize},
		{sampleSnapshot(), protocol.SnapshotSize},
		{sampleInput(), protocol.InputSize},
		{sampleEvent(), protocol.EventSize},
	} {
		data, err := protocol.Encode(tc.p)
		is.NoErr(err)
		is.Equal(len(data), tc.size)

		size, ok := protocol.Size(tc.p.PacketHeader().Type)
		is.True(ok)
		is.Equal(size, tc.size)
	}

	_, ok := protocol.Size(protocol.Type(0x7f))
	is.True(!ok)
}

func TestRoundTrip(t *testing.T) {
	controls := []protocol.Type{
		protocol.TypeConnectRequest,
		protocol.TypeConnectAccept,
		protocol.TypeConnectReject,
		protocol.TypeDisconnect,
		protocol.TypePing,
		protocol.TypePong,
	}
	for _, typ := range controls {
		t.Run(typ.String(), func(t *testing.T) {
			is := is.New(t)

			original := protocol.NewControl(typ, 11, 22)
			data, err := protocol.Encode(original)
			is.NoErr(err)

			decoded, err := protocol.Decode(data)
			is.NoErr(err)
			is.Equal(decoded, protocol.Packet(original))
		})
	}

	t.Run("snapshot", func(t *testing.T) {
		is := is.New(t)

		original := sampleSnapshot()
		data, err := protocol.Encode(original)
		is.NoErr(err)

		decoded, err := protocol.Decode(data)
		is.NoErr(err)
		is.Equal(decoded, protocol.Packet(original))
	})

	t.Run("snapshot drops ashley weapon", func(t *testing.T) {
		is := is.New(t)

		original := sampleSnapshot()
		original.Ashley.Weapon = 3
		data, err := protocol.Encode(original)
		is.NoErr(err)

		decoded, err := protocol.Decode(data)
		is.NoErr(err)
		is.Equal(decoded.(*protocol.Snapshot).Ashley.Weapon, uint8(0))
	})

	t.Run("input", func(t *testing.T) {
		is := is.New(t)

		original := sampleInput()
		data, err := protocol.Encode(original)
		is.NoErr(err)

		decoded, err := protocol.Decode(data)
		is.NoErr(err)
		is.Equal(decoded, protocol.Packet(original))
	})

	t.Run("event", func(t *testing.T) {
		is := is.New(t)

		original := sampleEvent()
		data, err := protocol.Encode(original)
		is.NoErr(err)

		decoded, err := protocol.Decode(data)
		is.NoErr(err)
		is.Equal(decoded, protocol.Packet(original))
	})

	t.Run("health extremes", func(t *testing.T) {
		is := is.New(t)

		for _, hp := range []int16{0, 1, -1, math.MaxInt16, math.MinInt16} {
			original := sampleSnapshot()
			original.Leon.Health = hp
			original.Ashley.Health = -hp

			data, err := protocol.Encode(original)
			is.NoErr(err)
			decoded, err := protocol.Decode(data)
			is.NoErr(err)
			is.Equal(decoded, protocol.Packet(original))
		}
	})
}

func TestChecksumSensitivity(t *testing.T) {
	packets := map[string]protocol.Packet{
		"snapshot": sampleSnapshot(),
		"input":    sampleInput(),
		"event":    sampleEvent(),
	}

	for name, p := range packets {
		t.Run(name, func(t *testing.T) {
			is := is.New(t)

			data, err := protocol.Encode(p)
			is.NoErr(err)

			// NOTE: byte 0 selects the layout, it is covered by
			// TestCorruptedType.
			for i := 1; i < len(data)-protocol.ChecksumSize; i++ {
				corrupted := append([]byte(nil), data...)
				corrupted[i] ^= 0xff

				_, err := protocol.Decode(corrupted)
				is.True(errors.Is(err, protocol.ErrChecksumMismatch))
				is.True(protocol.IsDecodeError(err))
			}
		})
	}
}

func TestCorruptedType(t *testing.T) {
	is := is.New(t)

	data, err := protocol.Encode(sampleSnapshot())
	is.NoErr(err)

	data[0] = 0x7f
	_, err = protocol.Decode(data)
	is.True(errors.Is(err, protocol.ErrUnknownType))
	is.True(!protocol.IsDecodeError(err))

	data[0] = byte(protocol.TypeInput)
	_, err = protocol.Decode(data)
	is.True(errors.Is(err, protocol.ErrChecksumMismatch))
}

func TestTruncated(t *testing.T) {
	is := is.New(t)

	data, err := protocol.Encode(sampleInput())
	is.NoErr(err)

	for _, n := range []int{0, 1, protocol.HeaderSize, protocol.InputSize - 1} {
		_, err := protocol.Decode(data[:n])
		is.True(errors.Is(err, protocol.ErrTruncatedPacket))
	}

	_, err = protocol.Decode([]byte{byte(protocol.TypePing), 0, 0})
	is.True(errors.Is(err, protocol.ErrTruncatedPacket))
}

func TestChecksum(t *testing.T) {
	is := is.New(t)

	is.Equal(protocol.Checksum(nil), uint32(0))
	// 1 -> rotl -> 2; 2+2=4 -> rotl -> 8
	is.Equal(protocol.Checksum([]byte{1, 2}), uint32(8))
	// order matters
	is.True(protocol.Checksum([]byte{1, 2, 3}) != protocol.Checksum([]byte{3, 2, 1}))
	// rotation carries the top bit around
	is.Equal(protocol.Checksum([]byte{0x80, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}), uint32(0x80))
}

func TestButtons(t *testing.T) {
	is := is.New(t)

	b := protocol.ButtonRun | protocol.ButtonShoot
	is.True(b.Has(protocol.ButtonRun))
	is.True(b.Has(protocol.ButtonShoot))
	is.True(!b.Has(protocol.ButtonAction))
	is.Equal(uint16(b), uint16(0x22))
}
