package mf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eak1mov/go-mapsforge/mf/spec"
)

func TestTileCacheEviction(t *testing.T) {
	t.Parallel()

	c := newTileCache(2)
	k1 := cacheKey{interval: 0, tileCode: 1}
	k2 := cacheKey{interval: 0, tileCode: 2}
	k3 := cacheKey{interval: 1, tileCode: 1}

	c.put(k1, []spec.Feature{spec.PointOfInterest{}})
	c.put(k2, nil)
	require.Equal(t, 2, c.len())

	// Touch k1 so k2 becomes the eviction candidate.
	_, ok := c.get(k1)
	require.True(t, ok)

	c.put(k3, nil)
	require.Equal(t, 2, c.len())

	_, ok = c.get(k2)
	require.False(t, ok)
	features, ok := c.get(k1)
	require.True(t, ok)
	require.Len(t, features, 1)
	_, ok = c.get(k3)
	require.True(t, ok)
}

func TestTileCacheUpdateInPlace(t *testing.T) {
	t.Parallel()

	c := newTileCache(4)
	k := cacheKey{interval: 0, tileCode: 7}
	c.put(k, nil)
	c.put(k, []spec.Feature{spec.Way{}})
	require.Equal(t, 1, c.len())

	features, ok := c.get(k)
	require.True(t, ok)
	require.Len(t, features, 1)
}

func TestTileCacheDisabled(t *testing.T) {
	t.Parallel()

	c := newTileCache(0)
	require.Nil(t, c)
	require.Equal(t, 0, c.len())

	c.put(cacheKey{}, nil)
	_, ok := c.get(cacheKey{})
	require.False(t, ok)
}

func TestTileCacheEmptyEntry(t *testing.T) {
	t.Parallel()

	// A cached empty tile is a hit with nil features, distinct from a miss.
	c := newTileCache(2)
	k := cacheKey{interval: 0, tileCode: 3}

	_, ok := c.get(k)
	require.False(t, ok)

	c.put(k, nil)
	features, ok := c.get(k)
	require.True(t, ok)
	require.Nil(t, features)
}
