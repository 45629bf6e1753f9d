package mf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eak1mov/go-mapsforge/internal"
	"github.com/eak1mov/go-mapsforge/mf"
	"github.com/eak1mov/go-mapsforge/mf/spec"
	"github.com/eak1mov/go-mapsforge/tile"
)

func featureNames(features []spec.Feature) []string {
	names := make([]string, 0, len(features))
	for _, f := range features {
		names = append(names, f.Info().Name)
	}
	return names
}

func TestFeaturesInBounds(t *testing.T) {
	t.Parallel()

	r := newTestReader(t, buildCityMap(nil))

	// A box around the cafe, well clear of the park.
	box := tile.Bounds{
		MinLatE6: cafePosition.LatE6 - 10_000, MinLonE6: cafePosition.LonE6 - 10_000,
		MaxLatE6: cafePosition.LatE6 + 10_000, MaxLonE6: cafePosition.LonE6 + 10_000,
	}
	features, err := r.FeaturesInBounds(box, 14)
	require.NoError(t, err)

	names := featureNames(features)
	require.Contains(t, names, "Kaffeehaus")
	require.Contains(t, names, "Hauptstrasse")
	require.NotContains(t, names, "") // the park poi has no name
	require.Len(t, features, 2)
}

func TestFeaturesInBoundsWholeMap(t *testing.T) {
	t.Parallel()

	r := newTestReader(t, buildCityMap(nil))

	features, err := r.FeaturesInBounds(testBounds, 14)
	require.NoError(t, err)
	require.Len(t, features, 3)

	// Coarse interval sees the same three features.
	features, err = r.FeaturesInBounds(testBounds, 9)
	require.NoError(t, err)
	require.Len(t, features, 3)
}

func TestFeaturesInBoundsExcludes(t *testing.T) {
	t.Parallel()

	r := newTestReader(t, buildCityMap(nil))

	// A box in the map's northeast corner holding nothing. The covering tiles
	// may still decode, the refinement must drop everything.
	box := tile.Bounds{
		MinLatE6: testBounds.MaxLatE6 - 5_000, MinLonE6: testBounds.MaxLonE6 - 5_000,
		MaxLatE6: testBounds.MaxLatE6, MaxLonE6: testBounds.MaxLonE6,
	}
	features, err := r.FeaturesInBounds(box, 14)
	require.NoError(t, err)
	require.Empty(t, features)
}

func TestFeaturesInBoundsOutsideMap(t *testing.T) {
	t.Parallel()

	r := newTestReader(t, buildCityMap(nil))

	// Disjoint from the map bounds entirely.
	box := tile.Bounds{
		MinLatE6: -10_000_000, MinLonE6: -10_000_000,
		MaxLatE6: -9_000_000, MaxLonE6: -9_000_000,
	}
	features, err := r.FeaturesInBounds(box, 14)
	require.NoError(t, err)
	require.Empty(t, features)
}

func TestFeaturesInBoundsOverhang(t *testing.T) {
	t.Parallel()

	r := newTestReader(t, buildCityMap(nil))

	// A box straddling the map's western edge. The part outside the bounding
	// box clips away instead of failing on out-of-grid tiles.
	box := tile.Bounds{
		MinLatE6: parkPosition.LatE6 - 10_000, MinLonE6: testBounds.MinLonE6 - 500_000,
		MaxLatE6: parkPosition.LatE6 + 10_000, MaxLonE6: parkPosition.LonE6 + 10_000,
	}
	features, err := r.FeaturesInBounds(box, 14)
	require.NoError(t, err)
	require.Len(t, features, 1) // the park poi
	require.Equal(t, []string{"leisure=park"}, features[0].Info().Tags)
}

func TestFeaturesInBoundsErrors(t *testing.T) {
	t.Parallel()

	r := newTestReader(t, buildCityMap(nil))

	_, err := r.FeaturesInBounds(testBounds, tile.MaxZoom+1)
	require.ErrorIs(t, err, tile.ErrInvalidZoom)

	b := internal.NewMapBuilder(testBounds)
	b.AddInterval(14, 0, 17)
	limited := newTestReader(t, b.Build())
	_, err = limited.FeaturesInBounds(testBounds, 20)
	require.ErrorIs(t, err, mf.ErrNoCoverage)
}

func TestFeaturesInBoundsWayByAnyPoint(t *testing.T) {
	t.Parallel()

	r := newTestReader(t, buildCityMap(nil))

	// A box touching only the far end of the way still picks it up.
	end := tile.LatLon{LatE6: cafePosition.LatE6 + 900, LonE6: cafePosition.LonE6 + 400}
	box := tile.Bounds{
		MinLatE6: end.LatE6 - 100, MinLonE6: end.LonE6 - 100,
		MaxLatE6: end.LatE6 + 100, MaxLonE6: end.LonE6 + 100,
	}
	features, err := r.FeaturesInBounds(box, 16)
	require.NoError(t, err)

	names := featureNames(features)
	require.Contains(t, names, "Hauptstrasse")
}
