package mf

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/dhconnelly/rtreego"

	"github.com/eak1mov/go-mapsforge/mf/spec"
	"github.com/eak1mov/go-mapsforge/tile"
)

// FeaturesInBounds returns the features intersecting the bounding box at the
// given zoom level. Covering tiles are decoded concurrently through the
// decoded-tile cache, then refined to the exact box with an R-tree, since
// edge tiles overhang the viewport.
func (r *Reader) FeaturesInBounds(bounds tile.Bounds, zoom uint8) ([]spec.Feature, error) {
	if zoom > tile.MaxZoom {
		return nil, fmt.Errorf("%w: %d", tile.ErrInvalidZoom, zoom)
	}
	idx, ok := r.header.IntervalForZoom(zoom)
	if !ok {
		return nil, fmt.Errorf("%w: zoom %d", ErrNoCoverage, zoom)
	}
	clipped, ok := bounds.Intersect(r.header.Bounds)
	if !ok {
		return nil, nil
	}
	// Decode at the interval's base zoom, the granularity the blocks are
	// stored at, so every block is decoded exactly once.
	covering, err := tile.RangeForBounds(clipped, r.header.ZoomIntervals[idx].BaseZoom)
	if err != nil {
		return nil, err
	}

	decoded, err := r.decodeRange(covering)
	if err != nil {
		return nil, err
	}
	if len(decoded) == 0 {
		return nil, nil
	}

	rtree := rtreego.NewTree(2, 25, 50)
	for _, f := range decoded {
		rtree.Insert(&indexedFeature{feature: f, bounds: featureBounds(f)})
	}

	matches := rtree.SearchIntersect(boundsRect(bounds))
	features := make([]spec.Feature, 0, len(matches))
	for _, m := range matches {
		features = append(features, m.(*indexedFeature).feature)
	}
	return features, nil
}

// decodeRange decodes every tile of the range across a small worker pool.
// Per-tile decoding is stateless given the immutable header and indexes, so
// the workers need no coordination beyond collecting results.
func (r *Reader) decodeRange(covering tile.Range) ([]spec.Feature, error) {
	var (
		mu       sync.Mutex
		decoded  []spec.Feature
		firstErr error
	)

	tiles := make(chan tile.ID)
	workers := min(runtime.NumCPU(), covering.Count())
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for t := range tiles {
				features, err := r.TileFeatures(t)
				if errors.Is(err, spec.ErrTileOutOfRange) {
					// Edge tiles past the index grid hold no data.
					continue
				}
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
				} else {
					decoded = append(decoded, features...)
				}
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < covering.Count(); i++ {
		tiles <- covering.TileAt(i)
	}
	close(tiles)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return decoded, nil
}

// indexedFeature wraps a feature for R-tree storage.
type indexedFeature struct {
	feature spec.Feature
	bounds  tile.Bounds
}

// The R-tree needs non-zero extents; roughly 11 meters at the equator.
const rectEpsilon = 0.0001

func (f *indexedFeature) Bounds() rtreego.Rect {
	return boundsRect(f.bounds)
}

func boundsRect(b tile.Bounds) rtreego.Rect {
	minLat, minLon := tile.LatLon{LatE6: b.MinLatE6, LonE6: b.MinLonE6}.Degrees()
	maxLat, maxLon := tile.LatLon{LatE6: b.MaxLatE6, LonE6: b.MaxLonE6}.Degrees()
	rect, _ := rtreego.NewRect(
		rtreego.Point{minLon, minLat},
		[]float64{max(maxLon-minLon, rectEpsilon), max(maxLat-minLat, rectEpsilon)},
	)
	return rect
}

func featureBounds(f spec.Feature) tile.Bounds {
	switch v := f.(type) {
	case spec.PointOfInterest:
		return tile.Bounds{
			MinLatE6: v.Position.LatE6,
			MinLonE6: v.Position.LonE6,
			MaxLatE6: v.Position.LatE6,
			MaxLonE6: v.Position.LonE6,
		}
	case spec.Way:
		b := tile.Bounds{
			MinLatE6: int32(1<<31 - 1), MinLonE6: int32(1<<31 - 1),
			MaxLatE6: -1 << 31, MaxLonE6: -1 << 31,
		}
		for _, path := range v.Paths {
			for _, p := range path {
				b.MinLatE6 = min(b.MinLatE6, p.LatE6)
				b.MinLonE6 = min(b.MinLonE6, p.LonE6)
				b.MaxLatE6 = max(b.MaxLatE6, p.LatE6)
				b.MaxLonE6 = max(b.MaxLonE6, p.LonE6)
			}
		}
		return b
	}
	return tile.Bounds{}
}
