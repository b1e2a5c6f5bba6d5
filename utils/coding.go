package utils

import (
	"encoding/binary"
	"strings"
)

// EncodeFixed64 writes v into buf[:8], little-endian.
func EncodeFixed64(buf []byte, v uint64) int {
	binary.LittleEndian.PutUint64(buf, v)
	return 8
}

func DecodeFixed64(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

// EncodeInt64 stores a signed value in two's complement.
func EncodeInt64(buf []byte, v int64) int {
	return EncodeFixed64(buf, uint64(v))
}

func DecodeInt64(buf []byte) int64 {
	return int64(DecodeFixed64(buf))
}

// IsZero reports whether every byte of buf is zero.
func IsZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// EscapeText prefixes every character of special and the escape character
// itself with escape.
func EscapeText(special string, escape byte, s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == escape || strings.IndexByte(special, c) >= 0 {
			sb.WriteByte(escape)
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// UnescapeText undoes EscapeText.
func UnescapeText(escape byte, s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == escape && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
