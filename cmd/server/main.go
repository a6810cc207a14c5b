// Package main provides the NEX-GDDP-CMIP6 API HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.ngs.io/nexgddp-api/internal/adapter/store"
	"go.ngs.io/nexgddp-api/internal/adapter/store/ncfile"
	"go.ngs.io/nexgddp-api/internal/adapter/store/zarr"
	"go.ngs.io/nexgddp-api/internal/config"
	"go.ngs.io/nexgddp-api/internal/domain"
	httpHandler "go.ngs.io/nexgddp-api/internal/http"
	"go.ngs.io/nexgddp-api/internal/observability"
	"go.ngs.io/nexgddp-api/internal/usecase"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("nexgddp-api version %s\n", version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	opener := store.NewMux()
	opener.Handle(domain.ZarrSuffix, zarr.NewOpener(zarr.Config{
		Region:    cfg.StoreRegion,
		Anonymous: cfg.StoreAnonymous,
	}, metrics, logger))
	opener.Handle(domain.NetCDFSuffix, ncfile.NewOpener(metrics, logger))
	resolver := domain.NewResolver(cfg.StoreRoot).WithSuffix(cfg.StoreSuffix)
	assembler := usecase.NewDatasetAssembler(resolver, opener, logger, metrics)

	handler := httpHandler.NewHandler(assembler, metrics, logger, httpHandler.Options{
		StoreRoot:      cfg.StoreRoot,
		MaxReadCells:   cfg.MaxReadCells,
		RequestTimeout: cfg.RequestTimeout,
	})
	router := httpHandler.SetupRouter(handler, cfg.CORSAllowedOrigins, logger)
	srv := httpHandler.NewServer(cfg.HTTPAddr, router, cfg.RequestTimeout+cfg.ShutdownTimeout, logger)

	logger.Info("starting nexgddp-api",
		"version", version,
		"store_root", cfg.StoreRoot,
		"store_region", cfg.StoreRegion,
		"store_suffix", cfg.StoreSuffix,
		"max_read_cells", cfg.MaxReadCells,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := opener.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("NEX-GDDP-CMIP6 API Server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  nexgddp-api [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  HTTP_ADDR               Listen address (default: :$PORT)")
	fmt.Println("  PORT                    Server port when HTTP_ADDR is unset (default: 8080)")
	fmt.Println("  STORE_ROOT              Root of the time-optimized stores")
	fmt.Printf("                          (default: %s)\n", domain.DefaultStoreRoot)
	fmt.Println("  STORE_REGION            S3 region of the stores (default: us-west-2)")
	fmt.Println("  STORE_FORMAT            zarr, or netcdf for <group>/<variable>.nc files (default: zarr)")
	fmt.Println("  STORE_ANONYMOUS         Unsigned bucket access (default: true)")
	fmt.Println("  MAX_READ_CELLS          Cells a single request may read (default: 5000000)")
	fmt.Println("  REQUEST_TIMEOUT         Per-request deadline (default: 60s)")
	fmt.Println("  SHUTDOWN_TIMEOUT        Graceful shutdown deadline (default: 10s)")
	fmt.Println("  CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println("  LOG_LEVEL               debug, info, warn or error (default: info)")
	fmt.Println("  LOG_FORMAT              json or text (default: json)")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start server with default settings")
	fmt.Println("  nexgddp-api")
	fmt.Println()
	fmt.Println("  # Serve a local mirror on a custom port")
	fmt.Println("  PORT=3000 STORE_ROOT=file:///data/nex-gddp nexgddp-api")
	fmt.Println()
	fmt.Println("  # Serve NetCDF files exported by nexgddp-export")
	fmt.Println("  STORE_ROOT=file:///data/subsets STORE_FORMAT=netcdf nexgddp-api")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET  /health                Health check")
	fmt.Println("  GET  /metrics               Prometheus metrics")
	fmt.Println("  GET  /v1/catalog            Variables, scenarios and chunk layout")
	fmt.Println("  GET  /v1/groups             Store locations for variables and scenarios")
	fmt.Println("  GET  /v1/datasets           Assembled dataset summary")
	fmt.Println("  POST /v1/datasets/clip      Dataset summary clipped to a GeoJSON region")
	fmt.Println("  GET  /v1/timeseries         Point time series")
	fmt.Println()
}
