package roomcode_test

import (
	"errors"
	"testing"

	"github.com/blukai/coopparty/internal/roomcode"
	"github.com/matryer/is"
)

func TestGenerate(t *testing.T) {
	is := is.New(t)

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		code, err := roomcode.Generate()
		is.NoErr(err)
		is.Equal(len(code), roomcode.Length)
		is.NoErr(roomcode.Validate(code))
		seen[code] = struct{}{}
	}
	// 32^6 codes, a hundred draws colliding down to a handful would mean
	// the generator is broken.
	is.True(len(seen) > 90)
}

func TestValidate(t *testing.T) {
	is := is.New(t)

	is.NoErr(roomcode.Validate("ABC234"))
	is.NoErr(roomcode.Validate(roomcode.Normalize("  abc234 ")))

	for _, bad := range []string{"", "ABC23", "ABC2345", "ABC0DE", "ABCIDE", "abc234"} {
		err := roomcode.Validate(bad)
		is.True(errors.Is(err, roomcode.ErrInvalid))
	}
}
