package geometry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"

	"go.ngs.io/nexgddp-api/internal/domain"
)

// FromShapefile reads every polygon record of the shapefile at path. The CRS
// is the WKT in the sidecar .prj file, or EPSG:4326 when there is none.
func FromShapefile(path string) (*Region, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile %s: %w", path, err)
	}
	defer d.Close()

	r := NewRegion(domain.CRS)
	prj, err := os.ReadFile(strings.TrimSuffix(path, ".shp") + ".prj")
	switch {
	case err == nil:
		if wkt := strings.TrimSpace(string(prj)); wkt != "" {
			r.CRS = wkt
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read projection of %s: %w", path, err)
	}

	for row := 0; ; row++ {
		g, _, more := d.DecodeRowFields()
		if !more {
			break
		}
		if err := d.Error(); err != nil {
			return nil, &domain.InvalidGeometryError{Reason: fmt.Sprintf("shapefile record %d", row), Err: err}
		}
		p, ok := g.(geom.Polygonal)
		if !ok {
			return nil, &domain.InvalidGeometryError{Reason: fmt.Sprintf("shapefile record %d is %T, want polygon", row, g)}
		}
		r.Polygons = append(r.Polygons, p)
	}
	if err := d.Error(); err != nil {
		return nil, &domain.InvalidGeometryError{Reason: "decode shapefile", Err: err}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
