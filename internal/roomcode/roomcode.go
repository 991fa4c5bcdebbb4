// Package roomcode produces the short codes a host reads out to the friend
// who is joining. Codes are not part of the wire protocol.
package roomcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	Length = 6
	// Alphabet leaves out 0/O and 1/I so that codes survive being read
	// aloud or typed from a screenshot.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var ErrInvalid = errors.New("invalid room code")

func Generate() (string, error) {
	max := big.NewInt(int64(len(Alphabet)))

	code := make([]byte, Length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("could not read random: %w", err)
		}
		code[i] = Alphabet[n.Int64()]
	}
	return string(code), nil
}

// Normalize trims and upper-cases user input.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func Validate(code string) error {
	if len(code) != Length {
		return fmt.Errorf("%w: %q has %d characters, want %d", ErrInvalid, code, len(code), Length)
	}
	for _, r := range code {
		if !strings.ContainsRune(Alphabet, r) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalid, code, r)
		}
	}
	return nil
}
