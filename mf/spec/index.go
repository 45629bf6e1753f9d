package spec

import (
	"errors"
	"fmt"

	"github.com/eak1mov/go-mapsforge/tile"
)

var ErrTileOutOfRange = errors.New("tile out of range")

const (
	// IndexEntryLength is the packed size of one tile index entry: a 40-bit
	// big-endian value holding the block offset and the last-tile flag.
	IndexEntryLength = 5

	// Debug signature preceding the index when the header debug flag is set.
	indexSignatureLength = 16

	lastTileFlag = uint64(1) << 39
	offsetMask   = lastTileFlag - 1
)

// IndexEntry locates one tile's data block inside the map file.
type IndexEntry struct {
	// Offset is the absolute byte offset of the block. On disk the offset is
	// stored relative to the subfile start; parsing fixes it to absolute.
	Offset uint64

	// LastTile marks the tile owning the final block of the subfile. Its
	// block extends to the subfile end instead of the next entry's offset.
	LastTile bool
}

// TileIndex is one zoom interval's lookup table from base-zoom tile
// coordinates to block byte ranges. It holds one entry per tile of the
// interval's bounding-box grid, row-major, and is immutable once parsed.
type TileIndex struct {
	interval ZoomInterval
	grid     tile.Range
	entries  []IndexEntry
}

// IndexGrid returns the base-zoom tile grid the interval's index addresses:
// the tiles covered by the header bounding box at the interval's base zoom.
func IndexGrid(h *Header, zi ZoomInterval) (tile.Range, error) {
	return tile.RangeForBounds(h.Bounds, zi.BaseZoom)
}

// IndexLength returns the on-disk byte length of the index for a grid.
func IndexLength(grid tile.Range, debugInfo bool) uint64 {
	n := uint64(grid.Count()) * IndexEntryLength
	if debugInfo {
		n += indexSignatureLength
	}
	return n
}

// ParseTileIndex parses the packed index read from the start of a subfile.
// Offsets must be non-decreasing in row-major order and stay inside the
// subfile; violations mean the file is corrupt, not just a single tile.
func ParseTileIndex(buf []byte, zi ZoomInterval, grid tile.Range, debugInfo bool) (*TileIndex, error) {
	if uint64(len(buf)) < IndexLength(grid, debugInfo) {
		return nil, fmt.Errorf("%w: tile index of %d entries runs past end of subfile",
			ErrCorruptHeader, grid.Count())
	}
	if debugInfo {
		buf = buf[indexSignatureLength:]
	}

	entries := make([]IndexEntry, grid.Count())
	var prev uint64
	for i := range entries {
		raw := uint64(buf[0])<<32 | uint64(buf[1])<<24 | uint64(buf[2])<<16 |
			uint64(buf[3])<<8 | uint64(buf[4])
		buf = buf[IndexEntryLength:]

		offset := raw & offsetMask
		if offset > zi.Length {
			return nil, fmt.Errorf("%w: index entry %d points outside subfile", ErrCorruptHeader, i)
		}
		if offset < prev {
			return nil, fmt.Errorf("%w: index entry %d breaks offset monotonicity", ErrCorruptHeader, i)
		}
		prev = offset

		entries[i] = IndexEntry{
			Offset:   zi.Start + offset,
			LastTile: raw&lastTileFlag != 0,
		}
	}

	return &TileIndex{interval: zi, grid: grid, entries: entries}, nil
}

// Grid returns the base-zoom tile grid the index addresses.
func (x *TileIndex) Grid() tile.Range {
	return x.grid
}

// Lookup returns the index entry for a tile given in absolute coordinates at
// the interval's base zoom. Callers at finer zoom levels must first map their
// tile to the covering base-zoom tile.
func (x *TileIndex) Lookup(t tile.ID) (IndexEntry, error) {
	i, ok := x.grid.IndexOf(t)
	if !ok {
		return IndexEntry{}, fmt.Errorf("%w: %v outside base-zoom grid %v..%v",
			ErrTileOutOfRange, t, x.grid.Min, x.grid.Max)
	}
	return x.entries[i], nil
}

// BlockRange returns the absolute byte range [start, end) of the tile's data
// block. Empty tiles come back with start == end.
func (x *TileIndex) BlockRange(t tile.ID) (start, end uint64, err error) {
	i, ok := x.grid.IndexOf(t)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %v outside base-zoom grid %v..%v",
			ErrTileOutOfRange, t, x.grid.Min, x.grid.Max)
	}
	return x.blockRangeAt(i)
}

func (x *TileIndex) blockRangeAt(i int) (start, end uint64, err error) {
	entry := x.entries[i]
	if entry.LastTile || i == len(x.entries)-1 {
		return entry.Offset, x.interval.Start + x.interval.Length, nil
	}
	return entry.Offset, x.entries[i+1].Offset, nil
}

// Visit walks the grid in row-major order, reporting each tile and the byte
// range of its block, empty tiles included.
func (x *TileIndex) Visit(visitor func(t tile.ID, start, end uint64) error) error {
	for i := range x.entries {
		start, end, err := x.blockRangeAt(i)
		if err != nil {
			return err
		}
		if err := visitor(x.grid.TileAt(i), start, end); err != nil {
			return err
		}
	}
	return nil
}
