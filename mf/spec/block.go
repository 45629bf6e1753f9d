package spec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/eak1mov/go-mapsforge/tile"
)

var (
	ErrTruncatedTileBlock = errors.New("truncated tile block")
	ErrCorruptTileBlock   = errors.New("corrupt tile block")
)

// Debug signature preceding a block when the header debug flag is set.
const blockSignatureLength = 32

// Layers run from 0 to 10 with 5 as the neutral middle; out-of-range bytes
// are clamped rather than rejected.
const (
	MaxLayer     = 10
	DefaultLayer = 5
)

// Record flag bits shared by POI and way records.
const (
	featureFlagName        = 0x80
	featureFlagHouseNumber = 0x40
	featureFlagElevation   = 0x20
	wayFlagPathCount       = 0x10
	wayFlagArea            = 0x08
	// Remaining bits are reserved; decoders ignore them so files written by
	// newer tools still decode.
)

// FeatureInfo holds the attributes common to both feature variants.
// Name and HouseNumber are empty when absent; Elevation is meaningful only
// when HasElevation is set.
type FeatureInfo struct {
	Layer        uint8
	Tags         []string
	Name         string
	HouseNumber  string
	Elevation    int32
	HasElevation bool
}

// Info lets both feature variants satisfy the Feature interface through
// embedding.
func (fi FeatureInfo) Info() FeatureInfo { return fi }

// Feature is a decoded map feature: a PointOfInterest or a Way.
// Consumers switch on the concrete type.
type Feature interface {
	Info() FeatureInfo
}

// PointOfInterest is a feature anchored at a single coordinate.
type PointOfInterest struct {
	FeatureInfo
	Position tile.LatLon
}

// Way is a line or area feature with one or more coordinate sub-paths.
type Way struct {
	FeatureInfo
	Paths [][]tile.LatLon
	Area  bool
}

// Block is one tile's decoded data block.
type Block struct {
	POIs []PointOfInterest
	Ways []Way
}

// Features flattens the block into the caller-facing feature sequence,
// POIs first.
func (b *Block) Features() []Feature {
	out := make([]Feature, 0, len(b.POIs)+len(b.Ways))
	for _, p := range b.POIs {
		out = append(out, p)
	}
	for _, w := range b.Ways {
		out = append(out, w)
	}
	return out
}

// DecodeBlock decodes one tile's data block. buf must hold exactly the block
// bytes located by the tile index; origin is the geographic top-left corner
// of the tile, the reference point for the block's delta-coded coordinates.
// Reads past the end of buf fail with ErrTruncatedTileBlock and never touch
// bytes beyond it.
func DecodeBlock(buf []byte, origin tile.LatLon, h *Header) (*Block, error) {
	d := &blockDecoder{buf: buf, origin: origin, header: h}
	block, err := d.decode()
	if err != nil {
		if errors.Is(err, ErrTruncatedData) || errors.Is(err, ErrMalformedVarint) {
			err = fmt.Errorf("%w: %w", ErrTruncatedTileBlock, err)
		}
		return nil, err
	}
	return block, nil
}

type blockDecoder struct {
	buf    []byte
	off    int
	origin tile.LatLon
	header *Header
}

func (d *blockDecoder) decode() (*Block, error) {
	if d.header.DebugInfo {
		if _, err := d.take(blockSignatureLength); err != nil {
			return nil, err
		}
	}

	poiCount, err := d.count()
	if err != nil {
		return nil, fmt.Errorf("poi count: %w", err)
	}
	block := &Block{}
	for i := 0; i < poiCount; i++ {
		poi, err := d.decodePOI()
		if err != nil {
			return nil, fmt.Errorf("poi %d: %w", i, err)
		}
		block.POIs = append(block.POIs, poi)
	}

	wayCount, err := d.count()
	if err != nil {
		return nil, fmt.Errorf("way count: %w", err)
	}
	for i := 0; i < wayCount; i++ {
		way, err := d.decodeWay()
		if err != nil {
			return nil, fmt.Errorf("way %d: %w", i, err)
		}
		block.Ways = append(block.Ways, way)
	}

	return block, nil
}

func (d *blockDecoder) decodePOI() (PointOfInterest, error) {
	pos, err := d.delta(d.origin)
	if err != nil {
		return PointOfInterest{}, err
	}
	info, _, err := d.decodeInfo(d.header.PoiTags)
	if err != nil {
		return PointOfInterest{}, err
	}
	return PointOfInterest{FeatureInfo: info, Position: pos}, nil
}

func (d *blockDecoder) decodeWay() (Way, error) {
	wayOrigin, err := d.delta(d.origin)
	if err != nil {
		return Way{}, err
	}
	info, flags, err := d.decodeInfo(d.header.WayTags)
	if err != nil {
		return Way{}, err
	}

	pathCount := 1
	if flags&wayFlagPathCount != 0 {
		pathCount, err = d.count()
		if err != nil {
			return Way{}, err
		}
		if pathCount == 0 {
			return Way{}, fmt.Errorf("%w: way with zero sub-paths", ErrCorruptTileBlock)
		}
	}

	paths := make([][]tile.LatLon, 0, pathCount)
	for i := 0; i < pathCount; i++ {
		path, err := d.decodePath(wayOrigin)
		if err != nil {
			return Way{}, fmt.Errorf("sub-path %d: %w", i, err)
		}
		paths = append(paths, path)
	}

	return Way{FeatureInfo: info, Paths: paths, Area: flags&wayFlagArea != 0}, nil
}

// decodePath reads one coordinate sub-path: the first point is a delta from
// the way origin, each following point a delta from its predecessor.
func (d *blockDecoder) decodePath(wayOrigin tile.LatLon) ([]tile.LatLon, error) {
	pointCount, err := d.count()
	if err != nil {
		return nil, err
	}
	if pointCount == 0 {
		return nil, fmt.Errorf("%w: sub-path with zero points", ErrCorruptTileBlock)
	}
	path := make([]tile.LatLon, 0, pointCount)
	cur := wayOrigin
	for range pointCount {
		cur, err = d.delta(cur)
		if err != nil {
			return nil, err
		}
		path = append(path, cur)
	}
	return path, nil
}

// decodeInfo reads the fields shared by POI and way records: layer byte, tag
// list and the optional-field block. It returns the flags byte so way
// decoding can pick up its variant-specific bits.
func (d *blockDecoder) decodeInfo(table []Tag) (FeatureInfo, byte, error) {
	layer, err := d.byte()
	if err != nil {
		return FeatureInfo{}, 0, err
	}
	tags, err := d.decodeTags(table)
	if err != nil {
		return FeatureInfo{}, 0, err
	}
	flags, err := d.byte()
	if err != nil {
		return FeatureInfo{}, 0, err
	}

	info := FeatureInfo{Layer: min(layer, MaxLayer), Tags: tags}
	if flags&featureFlagName != 0 {
		if info.Name, err = d.string(); err != nil {
			return FeatureInfo{}, 0, err
		}
	}
	if flags&featureFlagHouseNumber != 0 {
		if info.HouseNumber, err = d.string(); err != nil {
			return FeatureInfo{}, 0, err
		}
	}
	if flags&featureFlagElevation != 0 {
		elevation, err := d.varint()
		if err != nil {
			return FeatureInfo{}, 0, err
		}
		info.Elevation = int32(elevation)
		info.HasElevation = true
	}
	return info, flags, nil
}

// decodeTags reads the tag-id list and resolves each id against the table.
// Variable tags carry a typed payload after the id list.
func (d *blockDecoder) decodeTags(table []Tag) ([]string, error) {
	tagCount, err := d.count()
	if err != nil {
		return nil, err
	}
	if tagCount == 0 {
		return nil, nil
	}

	ids := make([]uint64, 0, tagCount)
	for range tagCount {
		id, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		if id >= uint64(len(table)) {
			return nil, fmt.Errorf("%w: tag id %d out of range (table has %d entries)",
				ErrCorruptTileBlock, id, len(table))
		}
		ids = append(ids, id)
	}

	tags := make([]string, 0, tagCount)
	for _, id := range ids {
		resolved, err := d.resolveTag(table[id])
		if err != nil {
			return nil, err
		}
		tags = append(tags, resolved)
	}
	return tags, nil
}

func (d *blockDecoder) resolveTag(t Tag) (string, error) {
	switch t.Kind {
	case TagLiteral:
		return t.String(), nil
	case TagByte:
		b, err := d.take(1)
		if err != nil {
			return "", err
		}
		return t.Key + "=" + strconv.FormatInt(int64(int8(b[0])), 10), nil
	case TagShort:
		b, err := d.take(2)
		if err != nil {
			return "", err
		}
		return t.Key + "=" + strconv.FormatInt(int64(int16(binary.BigEndian.Uint16(b))), 10), nil
	case TagInt:
		b, err := d.take(4)
		if err != nil {
			return "", err
		}
		return t.Key + "=" + strconv.FormatInt(int64(int32(binary.BigEndian.Uint32(b))), 10), nil
	case TagFloat:
		b, err := d.take(4)
		if err != nil {
			return "", err
		}
		f := math.Float32frombits(binary.BigEndian.Uint32(b))
		return t.Key + "=" + strconv.FormatFloat(float64(f), 'g', -1, 32), nil
	case TagString:
		s, err := d.string()
		if err != nil {
			return "", err
		}
		return t.Key + "=" + s, nil
	}
	return "", fmt.Errorf("%w: unknown tag kind %d", ErrCorruptTileBlock, t.Kind)
}

// delta reads a signed lat/lon delta pair and applies it to base.
func (d *blockDecoder) delta(base tile.LatLon) (tile.LatLon, error) {
	dLat, err := d.varint()
	if err != nil {
		return tile.LatLon{}, err
	}
	dLon, err := d.varint()
	if err != nil {
		return tile.LatLon{}, err
	}
	return tile.LatLon{
		LatE6: base.LatE6 + int32(dLat),
		LonE6: base.LonE6 + int32(dLon),
	}, nil
}

// count reads an element count and sanity-checks it against the remaining
// buffer so corrupt counts fail fast instead of allocating wildly.
func (d *blockDecoder) count() (int, error) {
	v, err := d.uvarint()
	if err != nil {
		return 0, err
	}
	if v > uint64(len(d.buf)-d.off) {
		return 0, fmt.Errorf("%w: count %d exceeds remaining block bytes", ErrCorruptTileBlock, v)
	}
	return int(v), nil
}

func (d *blockDecoder) take(n int) ([]byte, error) {
	if d.off+n > len(d.buf) {
		return nil, fmt.Errorf("%w: field at offset %d runs past block end", ErrTruncatedData, d.off)
	}
	out := d.buf[d.off : d.off+n]
	d.off += n
	return out, nil
}

func (d *blockDecoder) byte() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *blockDecoder) uvarint() (uint64, error) {
	v, next, err := Uvarint(d.buf, d.off)
	if err != nil {
		return 0, err
	}
	d.off = next
	return v, nil
}

func (d *blockDecoder) varint() (int64, error) {
	v, next, err := Varint(d.buf, d.off)
	if err != nil {
		return 0, err
	}
	d.off = next
	return v, nil
}

func (d *blockDecoder) string() (string, error) {
	s, next, err := String(d.buf, d.off)
	if err != nil {
		return "", err
	}
	d.off = next
	return s, nil
}
