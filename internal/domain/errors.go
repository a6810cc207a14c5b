package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrEmptyInput      = errors.New("empty input")
	ErrUnknownVariable = errors.New("unknown variable")
	ErrUnknownScenario = errors.New("unknown scenario")
	ErrStoreOpen       = errors.New("store open failed")
	ErrInvalidGeometry = errors.New("invalid geometry")
	ErrNoOverlap       = errors.New("region does not overlap dataset")
	ErrReadLimit       = errors.New("read limit exceeded")
	ErrInvalidRequest  = errors.New("invalid request")
)

// EmptyInputError reports that no variables or no scenarios were requested.
type EmptyInputError struct {
	Field string // "variables" or "scenarios".
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("no %s provided", e.Field)
}

func (e *EmptyInputError) Is(target error) bool { return target == ErrEmptyInput }

// UnknownVariableError names requested variables outside the catalog.
type UnknownVariableError struct {
	Names []string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("one or more variables are not available: %s", strings.Join(e.Names, ", "))
}

func (e *UnknownVariableError) Is(target error) bool { return target == ErrUnknownVariable }

// UnknownScenarioError names requested scenarios outside the time-optimized layout.
type UnknownScenarioError struct {
	Names []string
}

func (e *UnknownScenarioError) Error() string {
	return fmt.Sprintf("one or more scenarios are not available: %s", strings.Join(e.Names, ", "))
}

func (e *UnknownScenarioError) Is(target error) bool { return target == ErrUnknownScenario }

// StoreOpenError wraps a failure to open one backing store.
type StoreOpenError struct {
	Location string
	Err      error
}

func (e *StoreOpenError) Error() string {
	return fmt.Sprintf("failed to open store %s: %v", e.Location, e.Err)
}

func (e *StoreOpenError) Unwrap() error { return e.Err }

func (e *StoreOpenError) Is(target error) bool { return target == ErrStoreOpen }

// InvalidGeometryError reports an empty or malformed region.
type InvalidGeometryError struct {
	Reason string
	Err    error
}

func (e *InvalidGeometryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid region geometry: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid region geometry: %s", e.Reason)
}

func (e *InvalidGeometryError) Unwrap() error { return e.Err }

func (e *InvalidGeometryError) Is(target error) bool { return target == ErrInvalidGeometry }

// NoOverlapError reports a region that covers no grid cell of the dataset.
type NoOverlapError struct {
	Bounds [4]float64 // Region bounds in dataset CRS: minX, minY, maxX, maxY.
}

func (e *NoOverlapError) Error() string {
	return fmt.Sprintf("no data found in bounds [%.4f, %.4f, %.4f, %.4f]",
		e.Bounds[0], e.Bounds[1], e.Bounds[2], e.Bounds[3])
}

func (e *NoOverlapError) Is(target error) bool { return target == ErrNoOverlap }

// ReadLimitError reports a materialization larger than the configured cell limit.
type ReadLimitError struct {
	Cells, Limit int
}

func (e *ReadLimitError) Error() string {
	return fmt.Sprintf("request reads %d cells, limit is %d", e.Cells, e.Limit)
}

func (e *ReadLimitError) Is(target error) bool { return target == ErrReadLimit }
