package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"

	"github.com/eak1mov/go-mapsforge/mf"
	"github.com/eak1mov/go-mapsforge/mf/spec"
	"github.com/eak1mov/go-mapsforge/tile"
)

type dumpCmd struct {
	inputPath  string
	outputPath string
	zoom       uint
}

func (c *dumpCmd) Name() string     { return "dump" }
func (c *dumpCmd) Synopsis() string { return "dump all features of a zoom level as JSON lines" }
func (c *dumpCmd) Usage() string {
	return "mapinfo dump -i <path> -o <path> [-z <zoom>]\n"
}
func (c *dumpCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input map file path")
	f.StringVar(&c.outputPath, "o", "", "Output file path")
	f.UintVar(&c.zoom, "z", 14, "Zoom level to dump")
}

type dumpedFeature struct {
	Tile        string          `json:"tile"`
	Type        string          `json:"type"`
	Layer       uint8           `json:"layer"`
	Tags        []string        `json:"tags,omitempty"`
	Name        string          `json:"name,omitempty"`
	HouseNumber string          `json:"house_number,omitempty"`
	Elevation   *int32          `json:"elevation,omitempty"`
	Position    []float64       `json:"position,omitempty"`
	Paths       [][][2]float64  `json:"paths,omitempty"`
	Area        bool            `json:"area,omitempty"`
}

func (c *dumpCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if c.inputPath == "" || c.outputPath == "" {
		log.Print("missing required flags: -i and -o")
		return subcommands.ExitUsageError
	}
	if c.zoom > tile.MaxZoom {
		log.Printf("zoom %d out of range", c.zoom)
		return subcommands.ExitUsageError
	}

	if err := c.dump(); err != nil {
		log.Printf("dump failed: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *dumpCmd) dump() error {
	reader, err := mf.NewFileReader(c.inputPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	outFile, err := os.Create(c.outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()
	out := bufio.NewWriter(outFile)
	encoder := json.NewEncoder(out)

	bar := progressbar.NewOptions(-1, progressbar.OptionShowIts(), progressbar.OptionShowCount())

	zoom := uint8(c.zoom)
	err = reader.VisitTileLocations(zoom, func(tileID tile.ID, _ mf.Location) error {
		features, err := reader.TileFeatures(tileID)
		if err != nil {
			return err
		}
		for _, f := range features {
			if err := encoder.Encode(dumpFeature(tileID, f)); err != nil {
				return err
			}
		}
		bar.Add(1)
		return nil
	})
	if err != nil {
		return err
	}

	return out.Flush()
}

func dumpFeature(tileID tile.ID, f spec.Feature) dumpedFeature {
	info := f.Info()
	d := dumpedFeature{
		Tile:        tileID.String(),
		Layer:       info.Layer,
		Tags:        info.Tags,
		Name:        info.Name,
		HouseNumber: info.HouseNumber,
	}
	if info.HasElevation {
		elevation := info.Elevation
		d.Elevation = &elevation
	}

	switch v := f.(type) {
	case spec.PointOfInterest:
		d.Type = "poi"
		lat, lon := v.Position.Degrees()
		d.Position = []float64{lat, lon}
	case spec.Way:
		d.Type = "way"
		d.Area = v.Area
		d.Paths = make([][][2]float64, 0, len(v.Paths))
		for _, path := range v.Paths {
			points := make([][2]float64, 0, len(path))
			for _, p := range path {
				lat, lon := p.Degrees()
				points = append(points, [2]float64{lat, lon})
			}
			d.Paths = append(d.Paths, points)
		}
	}
	return d
}
