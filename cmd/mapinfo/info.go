package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/subcommands"

	"github.com/eak1mov/go-mapsforge/mf"
)

type infoCmd struct {
	inputPath string
}

func (c *infoCmd) Name() string     { return "info" }
func (c *infoCmd) Synopsis() string { return "print map file metadata" }
func (c *infoCmd) Usage() string {
	return "mapinfo info -i <path>\n"
}
func (c *infoCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input map file path")
}

func (c *infoCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if c.inputPath == "" {
		log.Print("missing required flag: -i")
		return subcommands.ExitUsageError
	}

	reader, err := mf.NewFileReader(c.inputPath)
	if err != nil {
		log.Printf("failed to open map file: %v", err)
		return subcommands.ExitFailure
	}
	defer reader.Close()

	md := reader.Metadata()
	fmt.Printf("version:         %d\n", md.Version)
	fmt.Printf("file size:       %d\n", md.FileSize)
	fmt.Printf("created:         %s\n", time.UnixMilli(int64(md.Created)).UTC().Format(time.RFC3339))
	fmt.Printf("projection:      %s\n", md.Projection)
	fmt.Printf("tile pixel size: %d\n", md.TilePixelSize)
	fmt.Printf("bounds:          %.6f,%.6f .. %.6f,%.6f\n",
		float64(md.Bounds.MinLatE6)/1e6, float64(md.Bounds.MinLonE6)/1e6,
		float64(md.Bounds.MaxLatE6)/1e6, float64(md.Bounds.MaxLonE6)/1e6)
	if md.Language != "" {
		fmt.Printf("language:        %s\n", md.Language)
	}
	if md.Comment != "" {
		fmt.Printf("comment:         %s\n", md.Comment)
	}
	if md.Creator != "" {
		fmt.Printf("creator:         %s\n", md.Creator)
	}
	if md.StartPosition != nil {
		fmt.Printf("start position:  %v\n", *md.StartPosition)
	}
	if md.StartZoom != nil {
		fmt.Printf("start zoom:      %d\n", *md.StartZoom)
	}

	fmt.Printf("poi tags:        %d\n", len(md.PoiTags))
	fmt.Printf("way tags:        %d\n", len(md.WayTags))
	fmt.Println("zoom intervals:")
	for i, zi := range md.ZoomIntervals {
		fmt.Printf("  %d: base=%d zoom=%d..%d subfile=[%d, %d)\n",
			i, zi.BaseZoom, zi.MinZoom, zi.MaxZoom, zi.Start, zi.Start+zi.Length)
	}

	return subcommands.ExitSuccess
}
