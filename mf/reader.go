// Package mf provides API for reading points of interest and ways from
// Mapsforge binary map files.
package mf

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"slices"

	"github.com/eak1mov/go-mapsforge/mf/spec"
	"github.com/eak1mov/go-mapsforge/tile"
)

var ErrNoCoverage = errors.New("no zoom interval covers zoom level")

// FileAccessFunc reads length bytes at the given absolute offset.
// Implementations must support concurrent positioned reads; the Reader never
// keeps a shared cursor.
type FileAccessFunc = func(offset, length uint64) ([]byte, error)

type Option func(*options)

type options struct {
	cacheSize int
}

const defaultCacheSize = 64

// WithCacheSize bounds the decoded-tile cache to n tiles. Zero or negative
// disables caching.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// Reader decodes map features from one Mapsforge map file. The header and
// tile indexes are parsed once at open time and never mutated, so a Reader
// is safe for concurrent use.
type Reader struct {
	fileAccess FileAccessFunc
	fileCloser func() error
	header     *spec.Header
	indexes    []*spec.TileIndex
	cache      *tileCache
}

// NewFileReader opens the map file at filePath read-only and parses its
// header and tile indexes. Open-time errors abort the open entirely; no
// partial Reader is returned.
func NewFileReader(filePath string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	fileAccess := func(offset, length uint64) ([]byte, error) {
		buffer := make([]byte, length)
		if _, err := file.ReadAt(buffer, int64(offset)); err != nil {
			return nil, err
		}
		return buffer, nil
	}
	reader, err := newReader(fileAccess, func() error { return file.Close() }, opts)
	if err != nil {
		file.Close()
		return nil, err
	}
	return reader, nil
}

// NewReader is like NewFileReader over a caller-provided access function
// (a memory buffer, an mmap, a remote range reader).
func NewReader(fileAccess FileAccessFunc, opts ...Option) (*Reader, error) {
	return newReader(fileAccess, func() error { return nil }, opts)
}

func newReader(fileAccess FileAccessFunc, fileCloser func() error, opts []Option) (*Reader, error) {
	o := options{cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	preamble, err := fileAccess(0, uint64(spec.PreambleLength))
	if err != nil {
		if isEOF(err) {
			return nil, fmt.Errorf("%w: file shorter than header preamble", spec.ErrUnsupportedFormat)
		}
		return nil, err
	}
	headerLen, err := spec.ParsePreamble(preamble)
	if err != nil {
		return nil, err
	}
	headerData, err := fileAccess(0, uint64(headerLen))
	if err != nil {
		if isEOF(err) {
			return nil, fmt.Errorf("%w: header runs past end of file", spec.ErrCorruptHeader)
		}
		return nil, err
	}
	header, err := spec.ParseHeader(headerData)
	if err != nil {
		return nil, err
	}

	indexes := make([]*spec.TileIndex, 0, len(header.ZoomIntervals))
	for _, zi := range header.ZoomIntervals {
		grid, err := spec.IndexGrid(header, zi)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", spec.ErrCorruptHeader, err)
		}
		indexLen := spec.IndexLength(grid, header.DebugInfo)
		if indexLen > zi.Length {
			return nil, fmt.Errorf("%w: tile index larger than its subfile", spec.ErrCorruptHeader)
		}
		indexData, err := fileAccess(zi.Start, indexLen)
		if err != nil {
			if isEOF(err) {
				return nil, fmt.Errorf("%w: tile index runs past end of file", spec.ErrCorruptHeader)
			}
			return nil, err
		}
		index, err := spec.ParseTileIndex(indexData, zi, grid, header.DebugInfo)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, index)
	}

	return &Reader{
		fileAccess: fileAccess,
		fileCloser: fileCloser,
		header:     header,
		indexes:    indexes,
		cache:      newTileCache(o.cacheSize),
	}, nil
}

func (r *Reader) Close() error {
	return r.fileCloser()
}

// Metadata is a copy of the header's descriptive fields.
type Metadata struct {
	Version       uint32
	FileSize      uint64
	Created       uint64
	Bounds        tile.Bounds
	TilePixelSize uint16
	Projection    string
	Language      string
	Comment       string
	Creator       string
	StartPosition *tile.LatLon
	StartZoom     *uint8
	PoiTags       []spec.Tag
	WayTags       []spec.Tag
	ZoomIntervals []spec.ZoomInterval
}

func (r *Reader) Metadata() Metadata {
	h := r.header
	return Metadata{
		Version:       h.Version,
		FileSize:      h.FileSize,
		Created:       h.Created,
		Bounds:        h.Bounds,
		TilePixelSize: h.TilePixelSize,
		Projection:    h.Projection,
		Language:      h.Language,
		Comment:       h.Comment,
		Creator:       h.Creator,
		StartPosition: h.StartPosition,
		StartZoom:     h.StartZoom,
		PoiTags:       slices.Clone(h.PoiTags),
		WayTags:       slices.Clone(h.WayTags),
		ZoomIntervals: slices.Clone(h.ZoomIntervals),
	}
}

// ZoomInterval returns the zoom interval covering the given zoom level.
func (r *Reader) ZoomInterval(zoom uint8) (spec.ZoomInterval, error) {
	if zoom > tile.MaxZoom {
		return spec.ZoomInterval{}, fmt.Errorf("%w: %d", tile.ErrInvalidZoom, zoom)
	}
	idx, ok := r.header.IntervalForZoom(zoom)
	if !ok {
		return spec.ZoomInterval{}, fmt.Errorf("%w: zoom %d", ErrNoCoverage, zoom)
	}
	return r.header.ZoomIntervals[idx], nil
}

// TileFeatures decodes the features visible in the given tile. A request at
// a zoom finer than the covering interval's base zoom decodes the one base
// tile containing it; a coarser request decodes every covered base tile in
// the index grid and concatenates the results. Decode failures are scoped to
// this tile and leave the Reader usable.
func (r *Reader) TileFeatures(t tile.ID) ([]spec.Feature, error) {
	if t.Z > tile.MaxZoom {
		return nil, fmt.Errorf("%w: %d", tile.ErrInvalidZoom, t.Z)
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %v outside the zoom %d pyramid", spec.ErrTileOutOfRange, t, t.Z)
	}
	idx, ok := r.header.IntervalForZoom(t.Z)
	if !ok {
		return nil, fmt.Errorf("%w: zoom %d", ErrNoCoverage, t.Z)
	}
	zi := r.header.ZoomIntervals[idx]

	if t.Z >= zi.BaseZoom {
		return r.baseTileFeatures(idx, t.Parent(zi.BaseZoom))
	}

	// Coarser than base zoom: the request covers a square of base tiles.
	shift := zi.BaseZoom - t.Z
	grid := r.indexes[idx].Grid()
	covered := tile.Range{
		Min: tile.ID{X: t.X << shift, Y: t.Y << shift, Z: zi.BaseZoom},
		Max: tile.ID{X: (t.X+1)<<shift - 1, Y: (t.Y+1)<<shift - 1, Z: zi.BaseZoom},
	}
	covered.Min.X = max(covered.Min.X, grid.Min.X)
	covered.Min.Y = max(covered.Min.Y, grid.Min.Y)
	covered.Max.X = min(covered.Max.X, grid.Max.X)
	covered.Max.Y = min(covered.Max.Y, grid.Max.Y)
	if covered.Min.X > covered.Max.X || covered.Min.Y > covered.Max.Y {
		return nil, fmt.Errorf("%w: %v outside base-zoom grid %v..%v",
			spec.ErrTileOutOfRange, t, grid.Min, grid.Max)
	}

	var features []spec.Feature
	for i := 0; i < covered.Count(); i++ {
		fs, err := r.baseTileFeatures(idx, covered.TileAt(i))
		if err != nil {
			return nil, err
		}
		features = append(features, fs...)
	}
	return features, nil
}

// baseTileFeatures decodes one base-zoom tile's block, through the cache.
func (r *Reader) baseTileFeatures(interval int, base tile.ID) ([]spec.Feature, error) {
	key := cacheKey{interval: interval, tileCode: spec.EncodeTileID(base)}
	if features, ok := r.cache.get(key); ok {
		return features, nil
	}

	start, end, err := r.indexes[interval].BlockRange(base)
	if err != nil {
		return nil, err
	}
	if start == end {
		r.cache.put(key, nil)
		return nil, nil
	}

	blockData, err := r.fileAccess(start, end-start)
	if err != nil {
		if isEOF(err) {
			return nil, fmt.Errorf("%w: block of tile %v runs past end of file",
				spec.ErrTruncatedTileBlock, base)
		}
		return nil, err
	}
	block, err := spec.DecodeBlock(blockData, base.Origin(), r.header)
	if err != nil {
		return nil, fmt.Errorf("tile %v: %w", base, err)
	}

	features := block.Features()
	r.cache.put(key, features)
	return features, nil
}

// Location is the byte range of one tile's data block inside the map file.
type Location struct {
	Offset uint64
	Length uint64
}

// VisitTileLocations walks the non-empty tile blocks of the interval covering
// zoom, in row-major index order.
func (r *Reader) VisitTileLocations(zoom uint8, visitor func(tile.ID, Location) error) error {
	if zoom > tile.MaxZoom {
		return fmt.Errorf("%w: %d", tile.ErrInvalidZoom, zoom)
	}
	idx, ok := r.header.IntervalForZoom(zoom)
	if !ok {
		return fmt.Errorf("%w: zoom %d", ErrNoCoverage, zoom)
	}
	return r.indexes[idx].Visit(func(t tile.ID, start, end uint64) error {
		if start == end {
			return nil
		}
		return visitor(t, Location{Offset: start, Length: end - start})
	})
}

var errVisitCancelled = errors.New("visit cancelled")

// TileLocations returns an iterator over the non-empty tile blocks of the
// interval covering zoom. Iteration panics on unrecoverable errors.
func (r *Reader) TileLocations(zoom uint8) iter.Seq2[tile.ID, Location] {
	return func(yield func(tile.ID, Location) bool) {
		err := r.VisitTileLocations(zoom, func(t tile.ID, location Location) error {
			if !yield(t, location) {
				return errVisitCancelled
			}
			return nil
		})
		if err != nil && err != errVisitCancelled {
			panic(err)
		}
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
