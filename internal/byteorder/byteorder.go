package byteorder

import (
	"encoding/binary"
	"math"
)

// https://linux.die.net/man/3/ntohs
// https://github.com/vishvananda/netlink/blob/e5fd1f8193dee65ec93fafde8faf67e32a34692a/order.go

// decrypt names:
// h = host
// n = network
// s = short = 16 bit
// l = long  = 32 bit
// f = float = 32 bit ieee-754
//
// Append* variants write into dst and return the extended slice, which lets
// packet marshalers build a whole fixed-size block in one allocation.

func AppendHtons(dst []byte, val uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, val)
}

func AppendHtonl(dst []byte, val uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, val)
}

func AppendHtonf(dst []byte, val float32) []byte {
	return binary.BigEndian.AppendUint32(dst, math.Float32bits(val))
}

func Ntohs(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf)
}

func Ntohl(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}

func Ntohf(buf []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(buf))
}
