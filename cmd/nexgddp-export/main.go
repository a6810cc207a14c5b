// Command nexgddp-export assembles NEX-GDDP-CMIP6 variables for a set of
// scenarios, optionally clips them to a region and a time window, and writes
// the result to a NetCDF file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.ngs.io/nexgddp-api/internal/adapter/export"
	"go.ngs.io/nexgddp-api/internal/adapter/geometry"
	"go.ngs.io/nexgddp-api/internal/adapter/store"
	"go.ngs.io/nexgddp-api/internal/adapter/store/ncfile"
	"go.ngs.io/nexgddp-api/internal/adapter/store/zarr"
	"go.ngs.io/nexgddp-api/internal/domain"
	"go.ngs.io/nexgddp-api/internal/observability"
	"go.ngs.io/nexgddp-api/internal/usecase"
)

func main() {
	variables := flag.String("variables", "", "Comma-separated variables, e.g. pr,tas (required)")
	scenarios := flag.String("scenarios", "", "Comma-separated store groups: historical, projection (required)")
	regionPath := flag.String("region", "", "Region as a GeoJSON file or shapefile (.shp)")
	crs := flag.String("crs", "", "CRS of the region, overriding the file's own")
	out := flag.String("out", "", "Output NetCDF path (required)")
	timeStart := flag.String("time-start", "", "First day to keep (YYYY-MM-DD or RFC 3339)")
	timeEnd := flag.String("time-end", "", "Last day to keep (YYYY-MM-DD or RFC 3339)")
	storeRoot := flag.String("store-root", domain.DefaultStoreRoot, "Root of the time-optimized stores")
	storeFormat := flag.String("store-format", "zarr", "Store format under -store-root: zarr or netcdf")
	storeRegion := flag.String("store-region", "us-west-2", "S3 region of the stores")
	maxCells := flag.Int("max-cells", 0, "Refuse to write more cells than this (0 disables)")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if *variables == "" || *scenarios == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "-variables, -scenarios and -out are required")
		flag.Usage()
		os.Exit(2)
	}

	logger := observability.NewLogger(*logLevel, "text")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	opener := store.NewMux()
	opener.Handle(domain.ZarrSuffix, zarr.NewOpener(zarr.Config{Region: *storeRegion, Anonymous: true}, metrics, logger))
	opener.Handle(domain.NetCDFSuffix, ncfile.NewOpener(metrics, logger))
	defer opener.Close()

	resolver := domain.NewResolver(*storeRoot)
	switch *storeFormat {
	case "zarr":
	case "netcdf":
		resolver = resolver.WithSuffix(domain.NetCDFSuffix)
	default:
		fail("store-format", fmt.Errorf("unknown format %q", *storeFormat))
	}
	assembler := usecase.NewDatasetAssembler(resolver, opener, logger, metrics)

	ds, err := assembler.GetDataset(ctx, splitList(*variables), splitList(*scenarios))
	if err != nil {
		fail("assemble", err)
	}

	if *regionPath != "" {
		region, err := loadRegion(*regionPath)
		if err != nil {
			fail("load region", err)
		}
		if *crs != "" {
			region.CRS = geometry.NormalizeCRS(*crs)
		}
		if ds, err = usecase.SelectRegion(ds, region); err != nil {
			fail("clip", err)
		}
	}

	start, err := usecase.ParseTimeBound(*timeStart)
	if err != nil {
		fail("time-start", err)
	}
	end, err := usecase.ParseTimeBound(*timeEnd)
	if err != nil {
		fail("time-end", err)
	}
	if ds, err = usecase.SelectTimeRange(ds, start, end); err != nil {
		fail("time range", err)
	}

	logger.Info("writing NetCDF", "path", *out, "cells", export.Cells(ds), "variables", ds.VariableNames())
	if err := export.WriteNetCDF(ctx, *out, ds, domain.ChunkLayout(), *maxCells); err != nil {
		var limit *domain.ReadLimitError
		if errors.As(err, &limit) {
			fmt.Fprintf(os.Stderr, "Narrow the region or time window, or raise -max-cells.\n")
		}
		fail("export", err)
	}
	logger.Info("export complete", "path", *out)
}

func loadRegion(path string) (*geometry.Region, error) {
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		return geometry.FromShapefile(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read region: %w", err)
	}
	return geometry.FromGeoJSON(data)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", step, err)
	os.Exit(1)
}
