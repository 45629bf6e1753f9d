// Package tile provides tile coordinate types and conversions between
// geographic coordinates and the XYZ tile pyramid.
package tile

import (
	"errors"
	"fmt"
	"math"
)

// MaxZoom is the highest zoom level addressable by the tile pyramid.
const MaxZoom = 22

// Latitude/longitude limits representable in the Web Mercator projection.
const (
	LatitudeMax  = 85.05112878
	LongitudeMax = 180.0
)

var ErrInvalidZoom = errors.New("invalid zoom level")

// LatLon is a geographic coordinate in fixed-point microdegrees.
// Fixed-point keeps delta accumulation exact during decoding; conversion to
// floating degrees happens only at the API boundary.
type LatLon struct {
	LatE6 int32
	LonE6 int32
}

func FromDegrees(lat, lon float64) LatLon {
	return LatLon{
		LatE6: int32(math.Round(lat * 1e6)),
		LonE6: int32(math.Round(lon * 1e6)),
	}
}

// Degrees returns the coordinate as floating-point degrees.
func (c LatLon) Degrees() (lat, lon float64) {
	return float64(c.LatE6) / 1e6, float64(c.LonE6) / 1e6
}

// Constrain clamps the coordinate to the Mercator-representable range.
func (c LatLon) Constrain() LatLon {
	return LatLon{
		LatE6: clampInt32(c.LatE6, -LatitudeMax*1e6, LatitudeMax*1e6),
		LonE6: clampInt32(c.LonE6, -LongitudeMax*1e6, LongitudeMax*1e6),
	}
}

func (c LatLon) String() string {
	lat, lon := c.Degrees()
	return fmt.Sprintf("(%.6f, %.6f)", lat, lon)
}

// Bounds is a geographic bounding box in microdegrees.
type Bounds struct {
	MinLatE6 int32
	MinLonE6 int32
	MaxLatE6 int32
	MaxLonE6 int32
}

func (b Bounds) Contains(c LatLon) bool {
	return c.LatE6 >= b.MinLatE6 && c.LatE6 <= b.MaxLatE6 &&
		c.LonE6 >= b.MinLonE6 && c.LonE6 <= b.MaxLonE6
}

func (b Bounds) Intersects(o Bounds) bool {
	return b.MinLatE6 <= o.MaxLatE6 && b.MaxLatE6 >= o.MinLatE6 &&
		b.MinLonE6 <= o.MaxLonE6 && b.MaxLonE6 >= o.MinLonE6
}

// Intersect returns the overlap of two boxes, reporting whether it is non-empty.
func (b Bounds) Intersect(o Bounds) (Bounds, bool) {
	out := Bounds{
		MinLatE6: max(b.MinLatE6, o.MinLatE6),
		MinLonE6: max(b.MinLonE6, o.MinLonE6),
		MaxLatE6: min(b.MaxLatE6, o.MaxLatE6),
		MaxLonE6: min(b.MaxLonE6, o.MaxLonE6),
	}
	return out, out.MinLatE6 <= out.MaxLatE6 && out.MinLonE6 <= out.MaxLonE6
}

// ID represents tile coordinates in the XYZ scheme (Tiled web map).
type ID struct {
	X uint32
	Y uint32
	Z uint8
}

func (t ID) Valid() bool {
	return t.Z <= MaxZoom && t.X < 1<<t.Z && t.Y < 1<<t.Z
}

func (t ID) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Origin returns the geographic coordinate of the tile's top-left corner.
// Latitude rounds down and longitude rounds up so the fixed-point origin
// always lies inside the tile.
func (t ID) Origin() LatLon {
	n := float64(uint64(1) << t.Z)
	lon := float64(t.X)/n*360 - 180
	lat := mercatorLat(float64(t.Y) / n)
	return LatLon{
		LatE6: int32(math.Floor(lat * 1e6)),
		LonE6: int32(math.Ceil(lon * 1e6)),
	}
}

// Bounds returns the geographic extent of the tile.
func (t ID) Bounds() Bounds {
	o := t.Origin()
	n := float64(uint64(1) << t.Z)
	south := mercatorLat(float64(t.Y+1) / n)
	east := float64(t.X+1)/n*360 - 180
	return Bounds{
		MinLatE6: int32(math.Floor(south * 1e6)),
		MinLonE6: o.LonE6,
		MaxLatE6: o.LatE6,
		MaxLonE6: int32(math.Ceil(east * 1e6)),
	}
}

// Parent returns the tile containing t at the coarser zoom level.
// It panics if zoom is finer than t.Z.
func (t ID) Parent(zoom uint8) ID {
	if zoom > t.Z {
		panic("tile: Parent requires a coarser zoom level")
	}
	shift := t.Z - zoom
	return ID{X: t.X >> shift, Y: t.Y >> shift, Z: zoom}
}

// LatLonToTile maps a coordinate to the tile containing it at the given zoom.
// https://wiki.openstreetmap.org/wiki/Slippy_map_tilenames
func LatLonToTile(c LatLon, zoom uint8) (ID, error) {
	if zoom > MaxZoom {
		return ID{}, fmt.Errorf("%w: %d", ErrInvalidZoom, zoom)
	}
	return tileAt(c, zoom, false), nil
}

// tileAt converts a coordinate to tile indices. With biasLow set, a coordinate
// lying exactly on a tile's top or left edge selects the previous tile, which
// makes inclusive bounding-box grids come out right.
func tileAt(c LatLon, zoom uint8, biasLow bool) ID {
	c = c.Constrain()
	lat, lon := c.Degrees()
	n := float64(uint64(1) << zoom)
	latRad := lat * math.Pi / 180
	x := uint32(math.Floor((lon + 180) / 360 * n))
	y := uint32(math.Floor((1 - math.Asinh(math.Tan(latRad))/math.Pi) / 2 * n))
	maxTile := uint32(1<<zoom - 1)
	x, y = min(x, maxTile), min(y, maxTile)
	if biasLow {
		origin := ID{X: x, Y: y, Z: zoom}.Origin()
		if origin.LatE6 == c.LatE6 && y > 0 {
			y--
		}
		if origin.LonE6 == c.LonE6 && x > 0 {
			x--
		}
	}
	return ID{X: x, Y: y, Z: zoom}
}

// Range is an inclusive rectangle of tiles at a single zoom level.
type Range struct {
	Min ID
	Max ID
}

// RangeForBounds returns the tiles covered by the bounding box at the given
// zoom. The top-left corner maps without bias and the bottom-right corner
// maps with low bias, so boxes ending exactly on a tile edge do not pick up
// an extra row or column.
func RangeForBounds(b Bounds, zoom uint8) (Range, error) {
	if zoom > MaxZoom {
		return Range{}, fmt.Errorf("%w: %d", ErrInvalidZoom, zoom)
	}
	minTile := tileAt(LatLon{LatE6: b.MaxLatE6, LonE6: b.MinLonE6}, zoom, false)
	maxTile := tileAt(LatLon{LatE6: b.MinLatE6, LonE6: b.MaxLonE6}, zoom, true)
	maxTile.X = max(maxTile.X, minTile.X)
	maxTile.Y = max(maxTile.Y, minTile.Y)
	return Range{Min: minTile, Max: maxTile}, nil
}

func (r Range) Width() uint32  { return r.Max.X - r.Min.X + 1 }
func (r Range) Height() uint32 { return r.Max.Y - r.Min.Y + 1 }

func (r Range) Count() int {
	return int(uint64(r.Width()) * uint64(r.Height()))
}

func (r Range) Contains(t ID) bool {
	return t.Z == r.Min.Z &&
		t.X >= r.Min.X && t.X <= r.Max.X &&
		t.Y >= r.Min.Y && t.Y <= r.Max.Y
}

// IndexOf returns the row-major position of t within the range.
func (r Range) IndexOf(t ID) (int, bool) {
	if !r.Contains(t) {
		return 0, false
	}
	return int((t.Y-r.Min.Y)*r.Width() + (t.X - r.Min.X)), true
}

// TileAt is the inverse of IndexOf. It panics if i is out of range.
func (r Range) TileAt(i int) ID {
	if i < 0 || i >= r.Count() {
		panic("tile: range index out of bounds")
	}
	w := r.Width()
	return ID{
		X: r.Min.X + uint32(i)%w,
		Y: r.Min.Y + uint32(i)/w,
		Z: r.Min.Z,
	}
}

// mercatorLat returns the latitude in degrees of the horizontal line at
// fraction y (0 = north edge, 1 = south edge) of the Mercator square.
func mercatorLat(y float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*y))) * 180 / math.Pi
}

func clampInt32(v int32, lo, hi float64) int32 {
	return int32(math.Min(math.Max(float64(v), lo), hi))
}
