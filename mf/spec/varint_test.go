package spec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eak1mov/go-mapsforge/mf/spec"
)

func TestUvarint(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		buf    []byte
		offset int
		value  uint64
		next   int
	}{
		{[]byte{0x0a}, 0, 10, 1},
		{[]byte{0x81, 0x01}, 0, 0x81, 2},
		{[]byte{0x80, 0x01, 0x81}, 0, 0x80, 2},
		{[]byte{0xff, 0x0a}, 1, 10, 2},
		{[]byte{0x00}, 0, 0, 1},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, 0, 1<<64 - 1, 10},
	} {
		value, next, err := spec.Uvarint(tc.buf, tc.offset)
		require.NoError(t, err)
		require.Equal(t, tc.value, value)
		require.Equal(t, tc.next, next)
	}

	for _, v := range []uint64{0, 1, 127, 128, 1 << 21, 1<<42 + 7, 1<<64 - 1} {
		buf := spec.AppendUvarint(nil, v)
		value, next, err := spec.Uvarint(buf, 0)
		require.NoError(t, err)
		require.Equal(t, v, value)
		require.Equal(t, len(buf), next)
	}
}

func TestUvarintErrors(t *testing.T) {
	t.Parallel()

	_, _, err := spec.Uvarint(nil, 0)
	require.ErrorIs(t, err, spec.ErrTruncatedData)

	_, _, err = spec.Uvarint([]byte{0x80, 0x80}, 0)
	require.ErrorIs(t, err, spec.ErrTruncatedData)

	overlong := make([]byte, 11)
	for i := range overlong {
		overlong[i] = 0x80
	}
	_, _, err = spec.Uvarint(overlong, 0)
	require.ErrorIs(t, err, spec.ErrMalformedVarint)
}

func TestVarint(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		value int64
	}{
		{0}, {1}, {-1}, {2}, {-2}, {63}, {-64}, {64}, {-65},
		{1 << 20}, {-(1 << 20)}, {1<<31 - 1}, {-(1 << 31)},
	} {
		buf := spec.AppendVarint(nil, tc.value)
		value, next, err := spec.Varint(buf, 0)
		require.NoError(t, err)
		require.Equal(t, tc.value, value)
		require.Equal(t, len(buf), next)
	}

	// Small magnitudes stay in one byte under the zig-zag mapping.
	require.Len(t, spec.AppendVarint(nil, -64), 1)
	require.Len(t, spec.AppendVarint(nil, 64), 2)
}

func TestString(t *testing.T) {
	t.Parallel()

	s, next, err := spec.String([]byte("\x05helloworld"), 0)
	require.NoError(t, err)
	require.Equal(t, "hello", s)
	require.Equal(t, 6, next)

	buf := spec.AppendString(nil, "grüße")
	s, next, err = spec.String(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "grüße", s)
	require.Equal(t, len(buf), next)

	_, _, err = spec.String([]byte{0x05, 'a', 'b'}, 0)
	require.ErrorIs(t, err, spec.ErrTruncatedData)
}
