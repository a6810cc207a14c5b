// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.ngs.io/nexgddp-api/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration

	// CORSAllowedOrigins is empty when every origin is allowed.
	CORSAllowedOrigins []string

	StoreRoot      string
	StoreRegion    string
	StoreAnonymous bool
	// StoreSuffix is domain.ZarrSuffix or domain.NetCDFSuffix, from STORE_FORMAT.
	StoreSuffix string

	// MaxReadCells bounds the cells a single request may materialize.
	MaxReadCells int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	requestTimeout, err := parseDuration("REQUEST_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	anonymous, err := strconv.ParseBool(getEnv("STORE_ANONYMOUS", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_ANONYMOUS: %w", err)
	}
	maxCells, err := strconv.Atoi(getEnv("MAX_READ_CELLS", "5000000"))
	if err != nil || maxCells <= 0 {
		return nil, fmt.Errorf("invalid MAX_READ_CELLS %q: must be a positive integer", os.Getenv("MAX_READ_CELLS"))
	}

	var suffix string
	switch format := getEnv("STORE_FORMAT", "zarr"); format {
	case "zarr":
		suffix = domain.ZarrSuffix
	case "netcdf":
		suffix = domain.NetCDFSuffix
	default:
		return nil, fmt.Errorf("invalid STORE_FORMAT %q: must be zarr or netcdf", format)
	}

	addr := getEnv("HTTP_ADDR", "")
	if addr == "" {
		addr = ":" + getEnv("PORT", "8080")
	}

	return &Config{
		HTTPAddr:           addr,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		RequestTimeout:     requestTimeout,
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		StoreRoot:          getEnv("STORE_ROOT", domain.DefaultStoreRoot),
		StoreRegion:        getEnv("STORE_REGION", "us-west-2"),
		StoreAnonymous:     anonymous,
		StoreSuffix:        suffix,
		MaxReadCells:       maxCells,
	}, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(key, defaultValue string) (time.Duration, error) {
	s := getEnv(key, defaultValue)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, s)
	}
	return d, nil
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
