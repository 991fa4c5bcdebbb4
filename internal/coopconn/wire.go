package coopconn

import (
	"fmt"
	"io"

	"github.com/blukai/coopparty/internal/debug"
	"github.com/blukai/coopparty/internal/protocol"
)

// ReadPacket reads exactly one packet from a byte stream. buf must hold at
// least protocol.MaxPacketSize bytes.
//
// Decode errors (see protocol.IsDecodeError) leave the stream aligned on the
// next packet. Any other error means the stream can't be used anymore.
func ReadPacket(r io.Reader, buf []byte) (protocol.Packet, error) {
	debug.Assert(len(buf) >= protocol.MaxPacketSize)

	if _, err := io.ReadFull(r, buf[:protocol.HeaderSize]); err != nil {
		return nil, err
	}

	typ := protocol.Type(buf[0])
	size, ok := protocol.Size(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownType, typ)
	}

	if _, err := io.ReadFull(r, buf[protocol.HeaderSize:size]); err != nil {
		return nil, err
	}

	return protocol.Decode(buf[:size])
}

func WritePacket(w io.Writer, p protocol.Packet) error {
	data, err := protocol.Encode(p)
	debug.Assert(err == nil)

	_, err = w.Write(data)
	return err
}
