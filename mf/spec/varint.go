// Package spec implements the on-disk layout of the Mapsforge binary map
// format: variable-length integers, the file header, per-subfile tile indexes
// and tile data blocks.
package spec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrTruncatedData   = errors.New("truncated data")
	ErrMalformedVarint = errors.New("malformed varint")
)

// 64-bit value in base-128 groups.
const maxVarintLen = 10

// Uvarint decodes an unsigned variable-length integer at offset: little-endian
// base-128 groups, the high bit of each byte flagging continuation. It returns
// the value and the offset of the first byte after it.
func Uvarint(buf []byte, offset int) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; ; i++ {
		if offset+i >= len(buf) {
			return 0, 0, fmt.Errorf("%w: varint runs past end of buffer", ErrTruncatedData)
		}
		if i == maxVarintLen {
			return 0, 0, ErrMalformedVarint
		}
		b := buf[offset+i]
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, offset + i + 1, nil
		}
		shift += 7
	}
}

// Varint decodes a zig-zag coded signed variable-length integer.
func Varint(buf []byte, offset int) (int64, int, error) {
	u, next, err := Uvarint(buf, offset)
	if err != nil {
		return 0, 0, err
	}
	return int64(u>>1) ^ -int64(u&1), next, nil
}

// String decodes a varint-length-prefixed UTF-8 string.
func String(buf []byte, offset int) (string, int, error) {
	n, next, err := Uvarint(buf, offset)
	if err != nil {
		return "", 0, err
	}
	if n > uint64(len(buf)-next) {
		return "", 0, fmt.Errorf("%w: string of length %d runs past end of buffer", ErrTruncatedData, n)
	}
	return string(buf[next : next+int(n)]), next + int(n), nil
}

// AppendUvarint, AppendVarint and AppendString mirror the decoders.
// The zig-zag mapping matches encoding/binary's.

func AppendUvarint(buf []byte, v uint64) []byte {
	return binary.AppendUvarint(buf, v)
}

func AppendVarint(buf []byte, v int64) []byte {
	return binary.AppendVarint(buf, v)
}

func AppendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}
