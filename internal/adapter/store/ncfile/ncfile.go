// Package ncfile opens local NetCDF files as lazy datasets.
//
// A file holds one data variable named by the file's base name up to the
// first underscore, so both "tas.nc" and the archive's own
// "tas_day_ACCESS-CM2_ssp245_r1i1p1f1_gn_2050.nc" resolve to tas. Files
// written by the export package open back with the same coordinates.
package ncfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/nexgddp-api/internal/dataset"
)

// knownAttrs are the CF attributes carried onto coordinates and variables.
var knownAttrs = []string{
	"units", "calendar", "long_name", "standard_name", "axis",
	"_FillValue", "missing_value", "scale_factor", "add_offset",
}

// globalAttrs are the file attributes carried onto the dataset.
var globalAttrs = []string{"crs", "title", "Conventions", "institution", "source", "history", "comment"}

// Observer receives store events, typically metrics.
type Observer interface {
	StoreOpened(err error)
	ChunkRead(n int, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) StoreOpened(error)                   {}
func (nopObserver) ChunkRead(int, time.Duration, error) {}

// Opener opens NetCDF files addressed by "file://" URLs or plain paths.
// Files stay open until Close.
type Opener struct {
	observer Observer
	logger   *slog.Logger

	mu    sync.Mutex
	files map[string]*file
}

// file serialises access to one NetCDF handle; the C library is not safe for
// concurrent use.
type file struct {
	mu sync.Mutex
	nc netcdf.Dataset
}

// NewOpener creates a NetCDF file opener.
func NewOpener(observer Observer, logger *slog.Logger) *Opener {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{observer: observer, logger: logger, files: make(map[string]*file)}
}

// VariableName returns the data variable a file at path holds.
func VariableName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name, _, _ := strings.Cut(base, "_")
	return name
}

// OpenMember opens the file at location as a lazy dataset. Coordinates are
// read eagerly, data values on demand.
func (o *Opener) OpenMember(ctx context.Context, location string) (*dataset.Dataset, error) {
	ds, err := o.open(ctx, location)
	o.observer.StoreOpened(err)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("netcdf file opened", "location", location, "variables", ds.VariableNames())
	return ds, nil
}

func (o *Opener) open(ctx context.Context, location string) (*dataset.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(location, "file://")
	f, err := o.file(path)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name := VariableName(path)
	v, err := f.nc.Var(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s not found in %s: %w", name, path, err)
	}
	dimNames, shape, err := varDims(v)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}

	ds := dataset.New()
	ds.Attrs = readAttrs(f.nc.Attr, globalAttrs)
	for i, dim := range dimNames {
		cv, err := f.nc.Var(dim)
		if err != nil {
			continue
		}
		c, err := readCoord(dim, cv, shape[i])
		if err != nil {
			return nil, fmt.Errorf("coordinate %s: %w", dim, err)
		}
		if err := ds.AddCoord(c); err != nil {
			return nil, err
		}
	}

	attrs := readAttrs(v.Attr, knownAttrs)
	src, err := newVarSource(f, v, shape, attrs, o.observer)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	variable, err := dataset.NewVariable(name, dimNames, src, attrs)
	if err != nil {
		return nil, err
	}
	if err := ds.AddVariable(variable); err != nil {
		return nil, err
	}
	return ds, nil
}

func (o *Opener) file(path string) (*file, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if f, ok := o.files[path]; ok {
		return f, nil
	}
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file %s: %w", path, err)
	}
	f := &file{nc: nc}
	o.files[path] = f
	return f, nil
}

// Close closes every file opened so far.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var errs []error
	for path, f := range o.files {
		f.mu.Lock()
		if err := f.nc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
		f.mu.Unlock()
		delete(o.files, path)
	}
	return errors.Join(errs...)
}

func varDims(v netcdf.Var) ([]string, []int, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	names := make([]string, len(dims))
	shape := make([]int, len(dims))
	for i, d := range dims {
		if names[i], err = d.Name(); err != nil {
			return nil, nil, fmt.Errorf("failed to get dimension name: %w", err)
		}
		n, err := d.Len()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get dimension %s length: %w", names[i], err)
		}
		shape[i] = int(n)
	}
	return names, shape, nil
}

// readCoord reads a 1-D numeric coordinate or a [dim, strlen] CHAR label
// coordinate.
func readCoord(name string, v netcdf.Var, n int) (*dataset.Coord, error) {
	attrs := readAttrs(v.Attr, knownAttrs)
	typ, err := v.Type()
	if err != nil {
		return nil, err
	}
	_, shape, err := varDims(v)
	if err != nil {
		return nil, err
	}
	if typ == netcdf.CHAR {
		if len(shape) != 2 || shape[0] != n {
			return nil, fmt.Errorf("label coordinate has shape %v", shape)
		}
		raw := make([]byte, shape[0]*shape[1])
		if err := v.ReadBytes(raw); err != nil {
			return nil, err
		}
		return dataset.LabelCoord(name, unpackLabels(raw, shape[1]), attrs), nil
	}
	if len(shape) != 1 || shape[0] != n {
		return nil, fmt.Errorf("expected 1D coordinate of length %d, got shape %v", n, shape)
	}
	values, err := readSlice(v, typ, []uint64{0}, []uint64{uint64(n)})
	if err != nil {
		return nil, err
	}
	return dataset.NumericCoord(name, values, attrs), nil
}

func unpackLabels(raw []byte, width int) []string {
	labels := make([]string, 0, len(raw)/max(width, 1))
	for i := 0; i+width <= len(raw); i += width {
		labels = append(labels, strings.TrimRight(string(raw[i:i+width]), "\x00 "))
	}
	return labels
}

// readAttrs reads the named attributes present on a variable or file. Text
// becomes a string, single numbers a float64 and longer numeric attributes a
// []float64.
func readAttrs(attr func(string) netcdf.Attr, names []string) dataset.Attrs {
	out := dataset.Attrs{}
	for _, name := range names {
		a := attr(name)
		n, err := a.Len()
		if err != nil || n == 0 {
			continue
		}
		typ, err := a.Type()
		if err != nil {
			continue
		}
		var values []float64
		switch typ {
		case netcdf.CHAR:
			buf := make([]byte, n)
			if a.ReadBytes(buf) == nil {
				out[name] = strings.TrimRight(string(buf), "\x00")
			}
			continue
		case netcdf.DOUBLE:
			values = make([]float64, n)
			err = a.ReadFloat64s(values)
		case netcdf.FLOAT:
			buf := make([]float32, n)
			err = a.ReadFloat32s(buf)
			values = widen(buf)
		case netcdf.INT:
			buf := make([]int32, n)
			err = a.ReadInt32s(buf)
			values = widen(buf)
		case netcdf.SHORT:
			buf := make([]int16, n)
			err = a.ReadInt16s(buf)
			values = widen(buf)
		default:
			continue
		}
		if err != nil {
			continue
		}
		if len(values) == 1 {
			out[name] = values[0]
		} else {
			out[name] = values
		}
	}
	return out
}

func widen[T float32 | int32 | int16](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// readSlice reads the hyperslab start/count of v as float64.
func readSlice(v netcdf.Var, typ netcdf.Type, start, count []uint64) ([]float64, error) {
	n := 1
	for _, c := range count {
		n *= int(c)
	}
	switch typ {
	case netcdf.DOUBLE:
		data := make([]float64, n)
		err := v.ReadFloat64Slice(data, start, count)
		return data, err
	case netcdf.FLOAT:
		data := make([]float32, n)
		if err := v.ReadFloat32Slice(data, start, count); err != nil {
			return nil, err
		}
		return widen(data), nil
	case netcdf.INT:
		data := make([]int32, n)
		if err := v.ReadInt32Slice(data, start, count); err != nil {
			return nil, err
		}
		return widen(data), nil
	case netcdf.SHORT:
		data := make([]int16, n)
		if err := v.ReadInt16Slice(data, start, count); err != nil {
			return nil, err
		}
		return widen(data), nil
	default:
		return nil, fmt.Errorf("unsupported variable type %v", typ)
	}
}
