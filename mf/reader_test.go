package mf_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/eak1mov/go-mapsforge/internal"
	"github.com/eak1mov/go-mapsforge/mf"
	"github.com/eak1mov/go-mapsforge/mf/spec"
	"github.com/eak1mov/go-mapsforge/tile"
)

var testBounds = tile.Bounds{
	MinLatE6: 52_300_000, MinLonE6: 13_100_000,
	MaxLatE6: 52_700_000, MaxLonE6: 13_700_000,
}

var (
	cafePosition = tile.LatLon{LatE6: 52_520_008, LonE6: 13_404_954}
	parkPosition = tile.LatLon{LatE6: 52_360_000, LonE6: 13_150_000}
)

// buildCityMap assembles a two-interval map with one POI and one way near the
// center and a second POI in the southwest corner.
func buildCityMap(configure func(*internal.MapBuilder)) []byte {
	b := internal.NewMapBuilder(testBounds)
	b.Creator = "mapbuilder"
	b.PoiTags = []string{"amenity=cafe", "leisure=park", "population=%i"}
	b.WayTags = []string{"highway=primary", "ref=%s"}
	coarse := b.AddInterval(8, 0, 11)
	fine := b.AddInterval(14, 12, 22)
	if configure != nil {
		configure(b)
	}

	elevation := int32(34)
	for _, interval := range []int{coarse, fine} {
		b.AddPOI(interval, internal.POI{
			Position:  cafePosition,
			Layer:     7,
			Tags:      []internal.TagRef{{ID: 0}},
			Name:      "Kaffeehaus",
			Elevation: &elevation,
		})
		b.AddPOI(interval, internal.POI{
			Position: parkPosition,
			Layer:    5,
			Tags:     []internal.TagRef{{ID: 1}},
		})
		b.AddWay(interval, internal.Way{
			Paths: [][]tile.LatLon{{
				cafePosition,
				{LatE6: cafePosition.LatE6 + 500, LonE6: cafePosition.LonE6 + 800},
				{LatE6: cafePosition.LatE6 + 900, LonE6: cafePosition.LonE6 + 400},
			}},
			Layer: 4,
			Tags:  []internal.TagRef{{ID: 0}},
			Name:  "Hauptstrasse",
		})
	}
	return b.Build()
}

func newTestReader(t *testing.T, data []byte, opts ...mf.Option) *mf.Reader {
	t.Helper()
	r, err := mf.NewReader(internal.MemoryAccess(data), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, r.Close()) })
	return r
}

func TestNewFileReader(t *testing.T) {
	t.Parallel()

	mapPath := filepath.Join(t.TempDir(), "city.map")
	require.NoError(t, os.WriteFile(mapPath, buildCityMap(nil), 0o644))

	r, err := mf.NewFileReader(mapPath)
	require.NoError(t, err)
	defer r.Close()

	md := r.Metadata()
	require.Equal(t, testBounds, md.Bounds)
	require.Equal(t, "mapbuilder", md.Creator)
	require.Len(t, md.ZoomIntervals, 2)

	features, err := r.TileFeatures(mustTile(t, cafePosition, 14))
	require.NoError(t, err)
	require.NotEmpty(t, features)
}

func TestNewFileReaderMissing(t *testing.T) {
	t.Parallel()

	_, err := mf.NewFileReader(filepath.Join(t.TempDir(), "nope.map"))
	require.Error(t, err)
}

func TestNewReaderRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := mf.NewReader(internal.MemoryAccess([]byte("garbage")))
	require.ErrorIs(t, err, spec.ErrUnsupportedFormat)

	_, err = mf.NewReader(internal.MemoryAccess(nil))
	require.ErrorIs(t, err, spec.ErrUnsupportedFormat)

	// Valid header, file cut inside the tile index.
	data := buildCityMap(nil)
	h, err := spec.ParseHeader(data)
	require.NoError(t, err)
	_, err = mf.NewReader(internal.MemoryAccess(data[:h.ZoomIntervals[0].Start+3]))
	require.ErrorIs(t, err, spec.ErrCorruptHeader)
}

func TestMetadata(t *testing.T) {
	t.Parallel()

	r := newTestReader(t, buildCityMap(nil))
	md := r.Metadata()

	require.Equal(t, uint32(5), md.Version)
	require.Equal(t, spec.ProjectionMercator, md.Projection)
	require.Equal(t, uint16(256), md.TilePixelSize)
	wantPoiTags := []spec.Tag{
		{Key: "amenity", Value: "cafe"},
		{Key: "leisure", Value: "park"},
		{Key: "population", Kind: spec.TagInt},
	}
	if diff := cmp.Diff(wantPoiTags, md.PoiTags); diff != "" {
		t.Errorf("PoiTags mismatch (-want+got):\n%v", diff)
	}

	zi, err := r.ZoomInterval(10)
	require.NoError(t, err)
	require.Equal(t, uint8(8), zi.BaseZoom)
	zi, err = r.ZoomInterval(18)
	require.NoError(t, err)
	require.Equal(t, uint8(14), zi.BaseZoom)

	_, err = r.ZoomInterval(tile.MaxZoom + 1)
	require.ErrorIs(t, err, tile.ErrInvalidZoom)
}

func TestTileFeaturesAtBaseZoom(t *testing.T) {
	t.Parallel()

	r := newTestReader(t, buildCityMap(nil))
	features, err := r.TileFeatures(mustTile(t, cafePosition, 14))
	require.NoError(t, err)
	require.Len(t, features, 2) // cafe poi + way

	poi, ok := features[0].(spec.PointOfInterest)
	require.True(t, ok)
	require.Equal(t, cafePosition, poi.Position)
	require.Equal(t, uint8(7), poi.Layer)
	require.Equal(t, []string{"amenity=cafe"}, poi.Tags)
	require.Equal(t, "Kaffeehaus", poi.Name)
	require.True(t, poi.HasElevation)
	require.Equal(t, int32(34), poi.Elevation)

	way, ok := features[1].(spec.Way)
	require.True(t, ok)
	require.Equal(t, "Hauptstrasse", way.Name)
	require.Len(t, way.Paths, 1)
	require.Len(t, way.Paths[0], 3)
	require.Equal(t, cafePosition, way.Paths[0][0])
	require.False(t, way.Area)
}

func TestTileFeaturesFinerThanBase(t *testing.T) {
	t.Parallel()

	r := newTestReader(t, buildCityMap(nil))

	// A zoom 18 request decodes the covering base tile at zoom 14.
	fine := mustTile(t, cafePosition, 18)
	features, err := r.TileFeatures(fine)
	require.NoError(t, err)
	require.Len(t, features, 2)
	require.Equal(t, mustTile(t, cafePosition, 14), fine.Parent(14))
}

func TestTileFeaturesCoarserThanBase(t *testing.T) {
	t.Parallel()

	r := newTestReader(t, buildCityMap(nil))

	// A zoom 12 request aggregates the covered zoom 14 base tiles; the whole
	// bounding box at zoom 5 aggregates everything in the coarse interval.
	features, err := r.TileFeatures(mustTile(t, cafePosition, 12))
	require.NoError(t, err)
	require.Len(t, features, 2)

	features, err = r.TileFeatures(mustTile(t, cafePosition, 5))
	require.NoError(t, err)
	require.Len(t, features, 3) // both pois + way
}

func TestTileFeaturesOutOfRange(t *testing.T) {
	t.Parallel()

	r := newTestReader(t, buildCityMap(nil))

	// One column east of the bounding box grid.
	grid, err := tile.RangeForBounds(testBounds, 14)
	require.NoError(t, err)
	_, err = r.TileFeatures(tile.ID{X: grid.Max.X + 1, Y: grid.Min.Y, Z: 14})
	require.ErrorIs(t, err, spec.ErrTileOutOfRange)

	// Far away from the map entirely, at a coarser-than-base zoom.
	_, err = r.TileFeatures(tile.ID{X: 0, Y: 0, Z: 12})
	require.ErrorIs(t, err, spec.ErrTileOutOfRange)

	// Outside the tile pyramid.
	_, err = r.TileFeatures(tile.ID{X: 1 << 14, Y: 0, Z: 14})
	require.ErrorIs(t, err, spec.ErrTileOutOfRange)

	_, err = r.TileFeatures(tile.ID{X: 0, Y: 0, Z: tile.MaxZoom + 1})
	require.ErrorIs(t, err, tile.ErrInvalidZoom)
}

func TestTileFeaturesEmptyTile(t *testing.T) {
	t.Parallel()

	r := newTestReader(t, buildCityMap(nil))

	// Inside the grid but holding no features.
	grid, err := tile.RangeForBounds(testBounds, 14)
	require.NoError(t, err)
	empty := tile.ID{X: grid.Max.X, Y: grid.Min.Y, Z: 14}
	require.NotEqual(t, empty, mustTile(t, cafePosition, 14))

	features, err := r.TileFeatures(empty)
	require.NoError(t, err)
	require.Empty(t, features)
}

func TestTileFeaturesNoCoverage(t *testing.T) {
	t.Parallel()

	// A map whose intervals stop at zoom 17.
	b := internal.NewMapBuilder(testBounds)
	b.AddInterval(14, 0, 17)
	r := newTestReader(t, b.Build())
	_, err := r.TileFeatures(mustTile(t, cafePosition, 18))
	require.ErrorIs(t, err, mf.ErrNoCoverage)
}

func TestTileFeaturesTruncatedBlock(t *testing.T) {
	t.Parallel()

	data := buildCityMap(nil)
	r := newTestReader(t, data, mf.WithCacheSize(0))

	// Cut the file a few bytes short. The header and indexes still parse, the
	// tile owning the final block fails, undamaged tiles keep working. The park
	// sits furthest south, so its block comes last in row-major order.
	h, err := spec.ParseHeader(data)
	require.NoError(t, err)
	fine := h.ZoomIntervals[1]
	cut := fine.Start + fine.Length - 4
	damaged := newTestReader(t, data[:cut], mf.WithCacheSize(0))

	parkTile := mustTile(t, parkPosition, 14)
	_, err = damaged.TileFeatures(parkTile)
	require.ErrorIs(t, err, spec.ErrTruncatedTileBlock)

	cafeTile := mustTile(t, cafePosition, 14)
	features, err := damaged.TileFeatures(cafeTile)
	require.NoError(t, err)
	require.Len(t, features, 2)

	// The intact reader decodes the damaged tile fine.
	features, err = r.TileFeatures(parkTile)
	require.NoError(t, err)
	require.Len(t, features, 1)
}

func TestTileFeaturesDebugInfo(t *testing.T) {
	t.Parallel()

	data := buildCityMap(func(b *internal.MapBuilder) { b.DebugInfo = true })
	r := newTestReader(t, data)

	features, err := r.TileFeatures(mustTile(t, cafePosition, 14))
	require.NoError(t, err)
	require.Len(t, features, 2)
}

func TestTileFeaturesCached(t *testing.T) {
	t.Parallel()

	data := buildCityMap(nil)
	reads := 0
	counting := func(offset, length uint64) ([]byte, error) {
		reads++
		return internal.MemoryAccess(data)(offset, length)
	}
	r, err := mf.NewReader(counting)
	require.NoError(t, err)
	defer r.Close()

	cafeTile := mustTile(t, cafePosition, 14)
	_, err = r.TileFeatures(cafeTile)
	require.NoError(t, err)
	afterFirst := reads

	for range 5 {
		_, err = r.TileFeatures(cafeTile)
		require.NoError(t, err)
	}
	require.Equal(t, afterFirst, reads)
}

func TestConcurrentTileFeatures(t *testing.T) {
	t.Parallel()

	r := newTestReader(t, buildCityMap(nil))
	grid, err := tile.RangeForBounds(testBounds, 14)
	require.NoError(t, err)

	t.Run("group", func(t *testing.T) {
		for i := 0; i < 8; i++ {
			t.Run("worker", func(t *testing.T) {
				t.Parallel()
				for j := 0; j < grid.Count(); j += 7 {
					_, err := r.TileFeatures(grid.TileAt(j))
					require.NoError(t, err)
				}
			})
		}
	})
}

func TestTileLocations(t *testing.T) {
	t.Parallel()

	data := buildCityMap(nil)
	r := newTestReader(t, data)

	var tiles []tile.ID
	for tileID, location := range r.TileLocations(14) {
		require.Greater(t, location.Length, uint64(0))
		require.LessOrEqual(t, location.Offset+location.Length, uint64(len(data)))
		tiles = append(tiles, tileID)
	}
	require.Len(t, tiles, 2) // cafe tile (poi + way) and park tile

	// Early break must not blow up.
	for range r.TileLocations(14) {
		break
	}

	err := r.VisitTileLocations(tile.MaxZoom+1, func(tile.ID, mf.Location) error { return nil })
	require.ErrorIs(t, err, tile.ErrInvalidZoom)
}

func TestSingleIntervalEndToEnd(t *testing.T) {
	t.Parallel()

	b := internal.NewMapBuilder(testBounds)
	b.PoiTags = []string{"amenity=cafe", "cuisine=turkish"}
	b.WayTags = []string{"landuse=grass"}
	interval := b.AddInterval(11, 10, 12)
	b.AddPOI(interval, internal.POI{
		Position: cafePosition,
		Layer:    5,
		Tags:     []internal.TagRef{{ID: 0}, {ID: 1}},
		Name:     "Kaffeehaus",
	})
	b.AddWay(interval, internal.Way{
		Paths: [][]tile.LatLon{
			{
				parkPosition,
				{LatE6: parkPosition.LatE6 + 400, LonE6: parkPosition.LonE6 + 600},
				{LatE6: parkPosition.LatE6 + 800, LonE6: parkPosition.LonE6 + 100},
			},
			{
				{LatE6: parkPosition.LatE6 + 200, LonE6: parkPosition.LonE6 + 300},
				{LatE6: parkPosition.LatE6 + 300, LonE6: parkPosition.LonE6 + 350},
			},
		},
		Layer: 3,
		Tags:  []internal.TagRef{{ID: 0}},
		Area:  true,
	})
	r := newTestReader(t, b.Build())

	features, err := r.TileFeatures(mustTile(t, cafePosition, 11))
	require.NoError(t, err)
	require.Len(t, features, 1)
	poi, ok := features[0].(spec.PointOfInterest)
	require.True(t, ok)
	require.Equal(t, cafePosition, poi.Position)
	require.Equal(t, []string{"amenity=cafe", "cuisine=turkish"}, poi.Tags)
	require.Equal(t, "Kaffeehaus", poi.Name)

	features, err = r.TileFeatures(mustTile(t, parkPosition, 11))
	require.NoError(t, err)
	require.Len(t, features, 1)
	way, ok := features[0].(spec.Way)
	require.True(t, ok)
	require.True(t, way.Area)
	require.Len(t, way.Paths, 2)
	require.Equal(t, parkPosition, way.Paths[0][0])
	require.Len(t, way.Paths[0], 3)
	require.Len(t, way.Paths[1], 2)
	require.Equal(t, []string{"landuse=grass"}, way.Tags)
}

func mustTile(t *testing.T, c tile.LatLon, zoom uint8) tile.ID {
	t.Helper()
	id, err := tile.LatLonToTile(c, zoom)
	require.NoError(t, err)
	return id
}
