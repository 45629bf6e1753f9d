// Package internal holds test helpers shared by the package tests. It builds
// synthetic Mapsforge map files in memory so decoder tests control every byte
// of their input.
package internal

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/eak1mov/go-mapsforge/mf/spec"
	"github.com/eak1mov/go-mapsforge/tile"
)

// MapBuilder assembles a synthetic map file. Fill the descriptive fields, add
// intervals and features, then call Build. The builder panics on misuse (a
// feature outside the bounding box, a bad interval index); it never produces
// a structurally corrupt file, tests corrupt the output bytes themselves.
type MapBuilder struct {
	Version       uint32
	Created       uint64
	Bounds        tile.Bounds
	TilePixelSize uint16
	DebugInfo     bool
	StartPosition *tile.LatLon
	StartZoom     *uint8
	Language      string
	Comment       string
	Creator       string
	PoiTags       []string
	WayTags       []string

	intervals []builderInterval
	fileSize  uint64
}

type builderInterval struct {
	baseZoom uint8
	minZoom  uint8
	maxZoom  uint8
	pois     []POI
	ways     []Way
}

// TagRef references a tag table entry by id. Payload holds the raw typed
// value bytes for variable tags and stays nil for literal tags.
type TagRef struct {
	ID      int
	Payload []byte
}

// POI describes one point of interest to encode.
type POI struct {
	Position    tile.LatLon
	Layer       uint8
	Tags        []TagRef
	Name        string
	HouseNumber string
	Elevation   *int32
}

// Way describes one way to encode. The first point of the first path anchors
// the way to a base tile.
type Way struct {
	Paths       [][]tile.LatLon
	Layer       uint8
	Tags        []TagRef
	Name        string
	HouseNumber string
	Elevation   *int32
	Area        bool
}

// NewMapBuilder returns a builder with the usual defaults filled in.
func NewMapBuilder(bounds tile.Bounds) *MapBuilder {
	return &MapBuilder{
		Version:       5,
		Bounds:        bounds,
		TilePixelSize: 256,
	}
}

// IntervalCount returns the number of intervals added so far.
func (b *MapBuilder) IntervalCount() int {
	return len(b.intervals)
}

// AddInterval appends a zoom interval and returns its index for AddPOI/AddWay.
func (b *MapBuilder) AddInterval(baseZoom, minZoom, maxZoom uint8) int {
	b.intervals = append(b.intervals, builderInterval{
		baseZoom: baseZoom,
		minZoom:  minZoom,
		maxZoom:  maxZoom,
	})
	return len(b.intervals) - 1
}

func (b *MapBuilder) AddPOI(interval int, poi POI) {
	b.intervals[interval].pois = append(b.intervals[interval].pois, poi)
}

func (b *MapBuilder) AddWay(interval int, way Way) {
	b.intervals[interval].ways = append(b.intervals[interval].ways, way)
}

// Build encodes the map file.
func (b *MapBuilder) Build() []byte {
	subfiles := make([][]byte, len(b.intervals))
	for i, zi := range b.intervals {
		subfiles[i] = b.buildSubfile(zi)
	}

	// Header length does not depend on the subfile placement fields, they are
	// fixed width. Encode once with zeros to learn the length, then for real.
	headerLen := len(b.buildHeader(make([]spec.ZoomInterval, len(b.intervals))))

	placements := make([]spec.ZoomInterval, len(b.intervals))
	offset := uint64(headerLen)
	for i, zi := range b.intervals {
		placements[i] = spec.ZoomInterval{
			BaseZoom: zi.baseZoom,
			MinZoom:  zi.minZoom,
			MaxZoom:  zi.maxZoom,
			Start:    offset,
			Length:   uint64(len(subfiles[i])),
		}
		offset += uint64(len(subfiles[i]))
	}
	b.fileSize = offset

	out := b.buildHeader(placements)
	for _, sub := range subfiles {
		out = append(out, sub...)
	}
	return out
}

func (b *MapBuilder) buildHeader(placements []spec.ZoomInterval) []byte {
	body := binary.BigEndian.AppendUint32(nil, b.Version)
	body = binary.BigEndian.AppendUint64(body, b.fileSize)
	body = binary.BigEndian.AppendUint64(body, b.Created)
	body = binary.BigEndian.AppendUint32(body, uint32(b.Bounds.MinLatE6))
	body = binary.BigEndian.AppendUint32(body, uint32(b.Bounds.MinLonE6))
	body = binary.BigEndian.AppendUint32(body, uint32(b.Bounds.MaxLatE6))
	body = binary.BigEndian.AppendUint32(body, uint32(b.Bounds.MaxLonE6))
	body = binary.BigEndian.AppendUint16(body, b.TilePixelSize)
	body = spec.AppendString(body, spec.ProjectionMercator)

	var flags byte
	if b.DebugInfo {
		flags |= 0x80
	}
	if b.StartPosition != nil {
		flags |= 0x40
	}
	if b.StartZoom != nil {
		flags |= 0x20
	}
	if b.Language != "" {
		flags |= 0x10
	}
	if b.Comment != "" {
		flags |= 0x08
	}
	if b.Creator != "" {
		flags |= 0x04
	}
	body = append(body, flags)
	if b.StartPosition != nil {
		body = binary.BigEndian.AppendUint32(body, uint32(b.StartPosition.LatE6))
		body = binary.BigEndian.AppendUint32(body, uint32(b.StartPosition.LonE6))
	}
	if b.StartZoom != nil {
		body = append(body, *b.StartZoom)
	}
	if b.Language != "" {
		body = spec.AppendString(body, b.Language)
	}
	if b.Comment != "" {
		body = spec.AppendString(body, b.Comment)
	}
	if b.Creator != "" {
		body = spec.AppendString(body, b.Creator)
	}

	body = appendTagTable(body, b.PoiTags)
	body = appendTagTable(body, b.WayTags)

	body = append(body, byte(len(placements)))
	for _, zi := range placements {
		body = append(body, zi.BaseZoom, zi.MinZoom, zi.MaxZoom)
		body = binary.BigEndian.AppendUint64(body, zi.Start)
		body = binary.BigEndian.AppendUint64(body, zi.Length)
	}

	out := append([]byte("mapsforge binary OSM"), 0, 0, 0, 0)
	binary.BigEndian.PutUint32(out[spec.MagicLength:], uint32(len(body)))
	return append(out, body...)
}

func appendTagTable(buf []byte, tags []string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(tags)))
	for _, t := range tags {
		buf = spec.AppendString(buf, t)
	}
	return buf
}

// buildSubfile encodes one interval: the tile index followed by the
// concatenated non-empty tile blocks in row-major grid order.
func (b *MapBuilder) buildSubfile(zi builderInterval) []byte {
	grid, err := tile.RangeForBounds(b.Bounds, zi.baseZoom)
	if err != nil {
		panic(err)
	}

	// Group features per base tile.
	blocks := make([][]byte, grid.Count())
	tilePOIs := make(map[int][]POI)
	tileWays := make(map[int][]Way)
	for _, poi := range zi.pois {
		i := b.gridIndex(grid, poi.Position, zi.baseZoom)
		tilePOIs[i] = append(tilePOIs[i], poi)
	}
	for _, way := range zi.ways {
		i := b.gridIndex(grid, way.Paths[0][0], zi.baseZoom)
		tileWays[i] = append(tileWays[i], way)
	}

	for i := range blocks {
		if len(tilePOIs[i]) == 0 && len(tileWays[i]) == 0 {
			continue
		}
		blocks[i] = b.buildBlock(grid.TileAt(i).Origin(), tilePOIs[i], tileWays[i])
	}

	indexLen := spec.IndexLength(grid, b.DebugInfo)

	var sub []byte
	if b.DebugInfo {
		sub = append(sub, []byte("+++IndexStart+++")...)
	}
	lastBlock := -1
	for i, block := range blocks {
		if len(block) > 0 {
			lastBlock = i
		}
	}
	offset := indexLen
	for i, block := range blocks {
		entry := offset & (1<<39 - 1)
		if i == lastBlock {
			entry |= 1 << 39
		}
		sub = append(sub,
			byte(entry>>32), byte(entry>>24), byte(entry>>16), byte(entry>>8), byte(entry))
		offset += uint64(len(block))
	}
	for _, block := range blocks {
		sub = append(sub, block...)
	}
	return sub
}

func (b *MapBuilder) gridIndex(grid tile.Range, c tile.LatLon, baseZoom uint8) int {
	t, err := tile.LatLonToTile(c, baseZoom)
	if err != nil {
		panic(err)
	}
	i, ok := grid.IndexOf(t)
	if !ok {
		panic(fmt.Sprintf("feature at %v falls outside the bounding box grid", c))
	}
	return i
}

func (b *MapBuilder) buildBlock(origin tile.LatLon, pois []POI, ways []Way) []byte {
	var buf []byte
	if b.DebugInfo {
		sig := make([]byte, 32)
		copy(sig, "###TileStart")
		buf = append(buf, sig...)
	}

	buf = spec.AppendUvarint(buf, uint64(len(pois)))
	for _, poi := range pois {
		buf = appendDelta(buf, origin, poi.Position)
		buf = appendFeatureInfo(buf, featureInfo{
			layer: poi.Layer, tags: poi.Tags,
			name: poi.Name, houseNumber: poi.HouseNumber, elevation: poi.Elevation,
		}, 0)
	}

	buf = spec.AppendUvarint(buf, uint64(len(ways)))
	for _, way := range ways {
		wayOrigin := way.Paths[0][0]
		buf = appendDelta(buf, origin, wayOrigin)

		var wayFlags byte
		if len(way.Paths) > 1 {
			wayFlags |= 0x10
		}
		if way.Area {
			wayFlags |= 0x08
		}
		buf = appendFeatureInfo(buf, featureInfo{
			layer: way.Layer, tags: way.Tags,
			name: way.Name, houseNumber: way.HouseNumber, elevation: way.Elevation,
		}, wayFlags)

		if len(way.Paths) > 1 {
			buf = spec.AppendUvarint(buf, uint64(len(way.Paths)))
		}
		for _, path := range way.Paths {
			buf = spec.AppendUvarint(buf, uint64(len(path)))
			prev := wayOrigin
			for _, p := range path {
				buf = appendDelta(buf, prev, p)
				prev = p
			}
		}
	}
	return buf
}

type featureInfo struct {
	layer       uint8
	tags        []TagRef
	name        string
	houseNumber string
	elevation   *int32
}

func appendFeatureInfo(buf []byte, fi featureInfo, extraFlags byte) []byte {
	buf = append(buf, fi.layer)

	buf = spec.AppendUvarint(buf, uint64(len(fi.tags)))
	for _, t := range fi.tags {
		buf = spec.AppendUvarint(buf, uint64(t.ID))
	}
	for _, t := range fi.tags {
		buf = append(buf, t.Payload...)
	}

	flags := extraFlags
	if fi.name != "" {
		flags |= 0x80
	}
	if fi.houseNumber != "" {
		flags |= 0x40
	}
	if fi.elevation != nil {
		flags |= 0x20
	}
	buf = append(buf, flags)
	if fi.name != "" {
		buf = spec.AppendString(buf, fi.name)
	}
	if fi.houseNumber != "" {
		buf = spec.AppendString(buf, fi.houseNumber)
	}
	if fi.elevation != nil {
		buf = spec.AppendVarint(buf, int64(*fi.elevation))
	}
	return buf
}

func appendDelta(buf []byte, from, to tile.LatLon) []byte {
	buf = spec.AppendVarint(buf, int64(to.LatE6)-int64(from.LatE6))
	return spec.AppendVarint(buf, int64(to.LonE6)-int64(from.LonE6))
}

// MemoryAccess adapts a byte slice to the reader's file access contract.
func MemoryAccess(data []byte) func(offset, length uint64) ([]byte, error) {
	return func(offset, length uint64) ([]byte, error) {
		if offset+length > uint64(len(data)) {
			return nil, io.ErrUnexpectedEOF
		}
		return data[offset : offset+length : offset+length], nil
	}
}
