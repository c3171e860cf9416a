package journal

import (
	"strconv"
	"unicode/utf16"
)

// Checksum is the seal marker: a 31-multiplier rolling hash over the UTF-16
// code units of input, kept in a signed 32-bit accumulator and rendered as
// signed lower-case hex ("-1a2b" for negative values).
//
// It detects accidental edits of persisted sealed entries. It is not
// collision resistant and is not a security boundary.
func Checksum(input string) string {
	var h int32
	for _, u := range utf16.Encode([]rune(input)) {
		h = h*31 + int32(u)
	}
	return strconv.FormatInt(int64(h), 16)
}
