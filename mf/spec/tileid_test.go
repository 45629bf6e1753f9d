package spec_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/eak1mov/go-mapsforge/mf/spec"
	"github.com/eak1mov/go-mapsforge/tile"
)

func TestEncodeDecodeTileID(t *testing.T) {
	t.Parallel()

	for z := range uint8(8) {
		for x := range uint32(1) << z {
			for y := range uint32(1) << z {
				tileID := tile.ID{X: x, Y: y, Z: z}
				if diff := cmp.Diff(tileID, spec.DecodeTileID(spec.EncodeTileID(tileID))); diff != "" {
					t.Errorf("DecodeTileID(EncodeTileID(%v)) mismatch (-want+got):\n%v", tileID, diff)
				}
			}
		}
	}
	for z := uint8(0); z <= tile.MaxZoom; z++ {
		tileID := tile.ID{X: uint32(1)<<z - 1, Y: uint32(1)<<z - 1, Z: z}
		if diff := cmp.Diff(tileID, spec.DecodeTileID(spec.EncodeTileID(tileID))); diff != "" {
			t.Errorf("DecodeTileID(EncodeTileID(%v)) mismatch (-want+got):\n%v", tileID, diff)
		}
	}
}

func TestEncodeTileIDOrdering(t *testing.T) {
	t.Parallel()

	// All codes of one zoom level come after every code of coarser levels.
	prevMax := uint64(0)
	for z := range uint8(6) {
		levelMin := spec.EncodeTileID(tile.ID{Z: z})
		if z > 0 && levelMin <= prevMax {
			t.Errorf("zoom %d codes start at %d, overlapping zoom %d", z, levelMin, z-1)
		}
		for x := range uint32(1) << z {
			for y := range uint32(1) << z {
				code := spec.EncodeTileID(tile.ID{X: x, Y: y, Z: z})
				prevMax = max(prevMax, code)
			}
		}
	}
}
