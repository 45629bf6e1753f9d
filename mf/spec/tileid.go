package spec

import (
	"math/bits"

	"github.com/eak1mov/go-mapsforge/tile"
	"github.com/google/hilbert"
)

// EncodeTileID maps a tile to its position on the zoom-ordered Hilbert curve:
// all tiles of coarser zoom levels come first, tiles within one level follow
// the curve. Codes are dense and locality-preserving, which makes them good
// cache keys and a good visit order for nearby tiles.
func EncodeTileID(tileID tile.ID) uint64 {
	h, _ := hilbert.NewHilbert(1 << tileID.Z)
	tileCode, _ := h.MapInverse(int(tileID.X), int(tileID.Y))

	tilesCount := (1<<(2*int(tileID.Z)) - 1) / 3
	return uint64(tileCode + tilesCount)
}

func DecodeTileID(tileCode uint64) tile.ID {
	z := (bits.Len64(3*tileCode+1) - 1) / 2
	tilesCount := (1<<(2*z) - 1) / 3

	h, _ := hilbert.NewHilbert(1 << z)
	x, y, _ := h.Map(int(tileCode) - tilesCount)

	return tile.ID{X: uint32(x), Y: uint32(y), Z: uint8(z)}
}
