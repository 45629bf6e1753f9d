package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"github.com/eak1mov/go-mapsforge/mf"
	"github.com/eak1mov/go-mapsforge/mf/spec"
	"github.com/eak1mov/go-mapsforge/tile"
)

type queryCmd struct {
	inputPath string
	boxSpec   string
	zoom      uint
}

func (c *queryCmd) Name() string     { return "query" }
func (c *queryCmd) Synopsis() string { return "list features inside a bounding box" }
func (c *queryCmd) Usage() string {
	return "mapinfo query -i <path> -b <minlat,minlon,maxlat,maxlon> [-z <zoom>]\n"
}
func (c *queryCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input map file path")
	f.StringVar(&c.boxSpec, "b", "", "Bounding box as minlat,minlon,maxlat,maxlon in degrees")
	f.UintVar(&c.zoom, "z", 14, "Zoom level to query at")
}

func (c *queryCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if c.inputPath == "" || c.boxSpec == "" {
		log.Print("missing required flags: -i and -b")
		return subcommands.ExitUsageError
	}
	bounds, err := parseBounds(c.boxSpec)
	if err != nil {
		log.Printf("bad bounding box: %v", err)
		return subcommands.ExitUsageError
	}
	if c.zoom > tile.MaxZoom {
		log.Printf("zoom %d out of range", c.zoom)
		return subcommands.ExitUsageError
	}

	reader, err := mf.NewFileReader(c.inputPath)
	if err != nil {
		log.Printf("failed to open map file: %v", err)
		return subcommands.ExitFailure
	}
	defer reader.Close()

	features, err := reader.FeaturesInBounds(bounds, uint8(c.zoom))
	if err != nil {
		log.Printf("query failed: %v", err)
		return subcommands.ExitFailure
	}

	for _, f := range features {
		info := f.Info()
		kind := "poi"
		if _, ok := f.(spec.Way); ok {
			kind = "way"
		}
		fmt.Printf("%s layer=%d name=%q tags=%s\n", kind, info.Layer, info.Name, strings.Join(info.Tags, ";"))
	}
	fmt.Printf("%d features\n", len(features))

	return subcommands.ExitSuccess
}

func parseBounds(s string) (tile.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return tile.Bounds{}, fmt.Errorf("expected 4 comma-separated values, got %d", len(parts))
	}
	values := make([]int32, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return tile.Bounds{}, err
		}
		values[i] = int32(v * 1e6)
	}
	b := tile.Bounds{
		MinLatE6: values[0], MinLonE6: values[1],
		MaxLatE6: values[2], MaxLonE6: values[3],
	}
	if b.MinLatE6 > b.MaxLatE6 || b.MinLonE6 > b.MaxLonE6 {
		return tile.Bounds{}, fmt.Errorf("inverted bounding box")
	}
	return b, nil
}
