package zigzag_test

import (
	"math"
	"testing"

	"github.com/blukai/coopparty/internal/zigzag"
	"github.com/matryer/is"
)

func TestEncode16(t *testing.T) {
	is := is.New(t)

	testCases := []struct {
		in  int16
		out uint16
	}{
		{0, 0},
		{-1, 1},
		{1, 2},
		{-2, 3},
		{math.MaxInt16, 65534},
		{math.MinInt16, 65535},
	}

	for _, tc := range testCases {
		is.Equal(zigzag.Encode16(tc.in), tc.out)
		is.Equal(zigzag.Decode16(tc.out), tc.in)
	}
}

func TestRoundTrip16(t *testing.T) {
	is := is.New(t)

	for n := math.MinInt16; n <= math.MaxInt16; n++ {
		is.Equal(zigzag.Decode16(zigzag.Encode16(int16(n))), int16(n))
	}
}
