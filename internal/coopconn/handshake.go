package coopconn

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/blukai/coopparty/internal/protocol"
)

var ErrRejected = errors.New("host rejected the connection")

// RequestHandshake is the client half: send ConnectRequest and wait for the
// host's verdict.
func RequestHandshake(nc net.Conn, timeout time.Duration) error {
	if err := nc.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	defer nc.SetDeadline(time.Time{})

	if err := WritePacket(nc, protocol.NewControl(protocol.TypeConnectRequest, 0, 0)); err != nil {
		return fmt.Errorf("could not send connect request: %w", err)
	}

	reply, err := ReadPacket(nc, make([]byte, protocol.MaxPacketSize))
	if err != nil {
		return fmt.Errorf("could not read connect reply: %w", err)
	}

	switch typ := reply.PacketHeader().Type; typ {
	case protocol.TypeConnectAccept:
		return nil
	case protocol.TypeConnectReject:
		return ErrRejected
	default:
		return fmt.Errorf("unexpected reply to connect request: %s", typ)
	}
}

// AnswerHandshake is the host half: wait for ConnectRequest and reply with
// ConnectAccept, or ConnectReject when accept is false.
func AnswerHandshake(nc net.Conn, timeout time.Duration, accept bool) error {
	return AnswerHandshakeFunc(nc, timeout, func() bool { return accept })
}

// AnswerHandshakeFunc asks decide for the verdict once a ConnectRequest has
// arrived. decide is not called if the request never comes.
func AnswerHandshakeFunc(nc net.Conn, timeout time.Duration, decide func() bool) error {
	if err := nc.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	defer nc.SetDeadline(time.Time{})

	request, err := ReadPacket(nc, make([]byte, protocol.MaxPacketSize))
	if err != nil {
		return fmt.Errorf("could not read connect request: %w", err)
	}
	if typ := request.PacketHeader().Type; typ != protocol.TypeConnectRequest {
		return fmt.Errorf("unexpected packet during handshake: %s", typ)
	}

	verdict := protocol.TypeConnectAccept
	if !decide() {
		verdict = protocol.TypeConnectReject
	}
	if err := WritePacket(nc, protocol.NewControl(verdict, 0, 0)); err != nil {
		return fmt.Errorf("could not send %s: %w", verdict, err)
	}

	return nil
}
