package spec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/eak1mov/go-mapsforge/tile"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported map file format")
	ErrCorruptHeader     = errors.New("corrupt map file header")
)

const magic = "mapsforge binary OSM"

const (
	MagicLength = len(magic)

	// PreambleLength covers the magic signature and the header size field.
	// The remaining header length is only known after parsing the preamble.
	PreambleLength = MagicLength + 4

	MinSupportedVersion = 3
	MaxSupportedVersion = 5

	// The only projection the format defines.
	ProjectionMercator = "Mercator"
)

// Header flag bits.
const (
	flagDebugInfo     = 0x80
	flagStartPosition = 0x40
	flagStartZoom     = 0x20
	flagLanguage      = 0x10
	flagComment       = 0x08
	flagCreator       = 0x04
)

// TagKind describes how a tag table entry resolves at decode time.
// Literal tags resolve from the table alone; variable tags make each
// referencing record carry a typed payload.
type TagKind uint8

const (
	TagLiteral TagKind = iota
	TagByte
	TagShort
	TagInt
	TagFloat
	TagString
)

// Tag is one entry of the header's POI or way tag table. The entry's position
// in the table is its id.
type Tag struct {
	Key   string
	Value string // literal value; empty for key-only and variable tags
	Kind  TagKind
}

// String renders the tag the way it appears in the tag table.
func (t Tag) String() string {
	switch t.Kind {
	case TagByte:
		return t.Key + "=%b"
	case TagShort:
		return t.Key + "=%h"
	case TagInt:
		return t.Key + "=%i"
	case TagFloat:
		return t.Key + "=%f"
	case TagString:
		return t.Key + "=%s"
	}
	if t.Value == "" {
		return t.Key
	}
	return t.Key + "=" + t.Value
}

func parseTag(s string) Tag {
	key, value, found := strings.Cut(s, "=")
	if !found {
		return Tag{Key: key}
	}
	switch value {
	case "%b":
		return Tag{Key: key, Kind: TagByte}
	case "%h":
		return Tag{Key: key, Kind: TagShort}
	case "%i":
		return Tag{Key: key, Kind: TagInt}
	case "%f":
		return Tag{Key: key, Kind: TagFloat}
	case "%s":
		return Tag{Key: key, Kind: TagString}
	}
	return Tag{Key: key, Value: value}
}

// ZoomInterval describes one subfile: the zoom range it serves and its byte
// range within the map file.
type ZoomInterval struct {
	BaseZoom uint8
	MinZoom  uint8
	MaxZoom  uint8
	Start    uint64
	Length   uint64
}

// Covers reports whether the interval serves the given zoom level.
func (zi ZoomInterval) Covers(zoom uint8) bool {
	return zoom >= zi.MinZoom && zoom <= zi.MaxZoom
}

// Header is the parsed map file header. It is built once at open time and
// never mutated afterwards, so concurrent readers need no synchronization.
type Header struct {
	Version       uint32
	FileSize      uint64
	Created       uint64 // milliseconds since the epoch
	Bounds        tile.Bounds
	TilePixelSize uint16
	Projection    string
	DebugInfo     bool
	StartPosition *tile.LatLon
	StartZoom     *uint8
	Language      string
	Comment       string
	Creator       string
	PoiTags       []Tag
	WayTags       []Tag
	ZoomIntervals []ZoomInterval
}

// IntervalForZoom returns the index of the zoom interval covering the given
// zoom level. The intervals partition the supported range, so at most one
// matches.
func (h *Header) IntervalForZoom(zoom uint8) (int, bool) {
	for i, zi := range h.ZoomIntervals {
		if zi.Covers(zoom) {
			return i, true
		}
	}
	return 0, false
}

// ParsePreamble validates the magic signature and returns the total header
// length in bytes. It needs only the first PreambleLength bytes of the file,
// so a bad signature is rejected before anything else is read.
func ParsePreamble(buf []byte) (int, error) {
	if len(buf) < MagicLength || string(buf[:MagicLength]) != magic {
		return 0, fmt.Errorf("%w: bad magic signature", ErrUnsupportedFormat)
	}
	if len(buf) < PreambleLength {
		return 0, fmt.Errorf("%w: file shorter than header preamble", ErrCorruptHeader)
	}
	size := binary.BigEndian.Uint32(buf[MagicLength:PreambleLength])
	return PreambleLength + int(size), nil
}

// ParseHeader parses the complete file header. buf must start at the
// beginning of the file and contain at least the number of bytes reported by
// ParsePreamble.
func ParseHeader(buf []byte) (*Header, error) {
	headerLen, err := ParsePreamble(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) < headerLen {
		return nil, fmt.Errorf("%w: declared header length %d exceeds file", ErrCorruptHeader, headerLen)
	}
	buf = buf[:headerLen]

	h := &Header{}
	cur := cursor{buf: buf, off: PreambleLength}

	h.Version = cur.u32()
	if cur.err == nil && (h.Version < MinSupportedVersion || h.Version > MaxSupportedVersion) {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedFormat, h.Version)
	}
	h.FileSize = cur.u64()
	h.Created = cur.u64()
	h.Bounds = tile.Bounds{
		MinLatE6: cur.i32(),
		MinLonE6: cur.i32(),
		MaxLatE6: cur.i32(),
		MaxLonE6: cur.i32(),
	}
	h.TilePixelSize = cur.u16()
	h.Projection = cur.str()
	if cur.err == nil && h.Projection != ProjectionMercator {
		return nil, fmt.Errorf("%w: projection %q", ErrUnsupportedFormat, h.Projection)
	}

	flags := cur.u8()
	h.DebugInfo = flags&flagDebugInfo != 0
	if flags&flagStartPosition != 0 {
		pos := tile.LatLon{LatE6: cur.i32(), LonE6: cur.i32()}
		h.StartPosition = &pos
	}
	if flags&flagStartZoom != 0 {
		zoom := cur.u8()
		h.StartZoom = &zoom
	}
	if flags&flagLanguage != 0 {
		h.Language = cur.str()
	}
	if flags&flagComment != 0 {
		h.Comment = cur.str()
	}
	if flags&flagCreator != 0 {
		h.Creator = cur.str()
	}

	h.PoiTags = cur.tagTable()
	h.WayTags = cur.tagTable()

	intervalCount := int(cur.u8())
	for range intervalCount {
		h.ZoomIntervals = append(h.ZoomIntervals, ZoomInterval{
			BaseZoom: cur.u8(),
			MinZoom:  cur.u8(),
			MaxZoom:  cur.u8(),
			Start:    cur.u64(),
			Length:   cur.u64(),
		})
	}

	if cur.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptHeader, cur.err)
	}
	if err := h.validate(uint64(headerLen)); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Header) validate(headerLen uint64) error {
	b := h.Bounds
	if b.MinLatE6 > b.MaxLatE6 || b.MinLonE6 > b.MaxLonE6 ||
		b.MinLatE6 < -90_000_000 || b.MaxLatE6 > 90_000_000 ||
		b.MinLonE6 < -180_000_000 || b.MaxLonE6 > 180_000_000 {
		return fmt.Errorf("%w: invalid bounding box %+v", ErrCorruptHeader, b)
	}
	if len(h.ZoomIntervals) == 0 {
		return fmt.Errorf("%w: no zoom intervals", ErrCorruptHeader)
	}

	for _, zi := range h.ZoomIntervals {
		if zi.MinZoom > zi.BaseZoom || zi.BaseZoom > zi.MaxZoom || zi.MaxZoom > tile.MaxZoom {
			return fmt.Errorf("%w: invalid zoom interval base=%d min=%d max=%d",
				ErrCorruptHeader, zi.BaseZoom, zi.MinZoom, zi.MaxZoom)
		}
		if zi.Length == 0 || zi.Start < headerLen || zi.Start+zi.Length > h.FileSize {
			return fmt.Errorf("%w: subfile range [%d, %d) outside file",
				ErrCorruptHeader, zi.Start, zi.Start+zi.Length)
		}
	}

	// The intervals must strictly partition the supported zoom range:
	// sorted by base zoom, contiguous and non-overlapping.
	sorted := slices.Clone(h.ZoomIntervals)
	slices.SortFunc(sorted, func(a, b ZoomInterval) int {
		return int(a.BaseZoom) - int(b.BaseZoom)
	})
	for i := 1; i < len(sorted); i++ {
		prev, next := sorted[i-1], sorted[i]
		if next.MinZoom <= prev.MaxZoom {
			return fmt.Errorf("%w: zoom intervals overlap at zoom %d", ErrCorruptHeader, next.MinZoom)
		}
		if next.MinZoom != prev.MaxZoom+1 {
			return fmt.Errorf("%w: gap between zoom levels %d and %d", ErrCorruptHeader, prev.MaxZoom, next.MinZoom)
		}
	}
	return nil
}

// cursor is a checked reader over the header buffer. The first failed read
// sticks; every multi-byte read goes through one of these primitives.
type cursor struct {
	buf []byte
	off int
	err error
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if c.off+n > len(c.buf) {
		c.err = fmt.Errorf("%w: field at offset %d runs past end of header", ErrTruncatedData, c.off)
		return nil
	}
	out := c.buf[c.off : c.off+n]
	c.off += n
	return out
}

func (c *cursor) u8() uint8 {
	b := c.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (c *cursor) u16() uint16 {
	b := c.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (c *cursor) u32() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (c *cursor) u64() uint64 {
	b := c.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (c *cursor) i32() int32 {
	return int32(c.u32())
}

func (c *cursor) str() string {
	if c.err != nil {
		return ""
	}
	s, next, err := String(c.buf, c.off)
	if err != nil {
		c.err = err
		return ""
	}
	c.off = next
	return s
}

func (c *cursor) tagTable() []Tag {
	count := int(c.u16())
	if c.err != nil {
		return nil
	}
	tags := make([]Tag, 0, count)
	for range count {
		tags = append(tags, parseTag(c.str()))
	}
	if c.err != nil {
		return nil
	}
	return tags
}
