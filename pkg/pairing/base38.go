package pairing

import (
	"errors"
	"strings"
)

// Invite codes use Base38 so they fit QR alphanumeric mode and survive
// being read aloud. Bytes are taken in chunks of 3, 2 or 1 and written as
// 5, 4 or 2 characters, least significant character first.
const (
	base38Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ-."
	base38Radix    = 38
)

// base38Chars maps a chunk's byte count (1..3) to its character count.
var base38Chars = [4]int{0, 2, 4, 5}

var (
	errBase38Char     = errors.New("base38: invalid character")
	errBase38Length   = errors.New("base38: invalid length")
	errBase38Overflow = errors.New("base38: chunk value out of range")
)

func base38Encode(data []byte) string {
	var b strings.Builder
	b.Grow(base38EncodedLen(len(data)))
	for len(data) > 0 {
		n := min(len(data), 3)
		var v uint32
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint32(data[i])
		}
		for k := 0; k < base38Chars[n]; k++ {
			b.WriteByte(base38Alphabet[v%base38Radix])
			v /= base38Radix
		}
		data = data[n:]
	}
	return b.String()
}

func base38EncodedLen(n int) int {
	return n/3*5 + base38Chars[n%3]
}

func base38Decode(s string) ([]byte, error) {
	s = strings.ToUpper(s)
	out := make([]byte, 0, len(s)/5*3+2)
	for len(s) > 0 {
		var chars, n int
		switch {
		case len(s) >= 5:
			chars, n = 5, 3
		case len(s) == 4:
			chars, n = 4, 2
		case len(s) == 2:
			chars, n = 2, 1
		default:
			return nil, errBase38Length
		}
		var v uint32
		for i := chars - 1; i >= 0; i-- {
			d := strings.IndexByte(base38Alphabet, s[i])
			if d < 0 {
				return nil, errBase38Char
			}
			v = v*base38Radix + uint32(d)
		}
		for k := 0; k < n; k++ {
			out = append(out, byte(v))
			v >>= 8
		}
		if v != 0 {
			return nil, errBase38Overflow
		}
		s = s[chars:]
	}
	return out, nil
}
