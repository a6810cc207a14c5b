package usecase

import (
	"fmt"

	"go.ngs.io/nexgddp-api/internal/adapter/geometry"
	"go.ngs.io/nexgddp-api/internal/dataset"
	"go.ngs.io/nexgddp-api/internal/domain"
)

// SelectRegion restricts ds to the grid cells whose centre lies inside or on
// the edge of region. The lat/lon dimensions are cropped to the rows and
// columns holding kept cells and the remaining cells outside the polygons are
// masked to NaN. Other dimensions and the input are untouched.
func SelectRegion(ds *dataset.Dataset, region *geometry.Region) (*dataset.Dataset, error) {
	if err := region.Validate(); err != nil {
		return nil, err
	}
	out := ds.Clone()
	if _, ok := out.Attrs.String("crs"); !ok {
		out.Attrs["crs"] = domain.CRS
	}
	if err := out.SetSpatialDims(domain.DimLon, domain.DimLat); err != nil {
		return nil, fmt.Errorf("failed to set spatial dimensions: %w", err)
	}
	crs, _ := out.Attrs.String("crs")
	r, err := region.TransformTo(crs)
	if err != nil {
		return nil, err
	}

	lonC, _ := out.Coord(domain.DimLon)
	latC, _ := out.Coord(domain.DimLat)
	b := r.Bounds()

	keep := make([][]bool, latC.Len())
	y0, y1, x0, x1 := -1, -1, -1, -1
	for y, lat := range latC.Values {
		keep[y] = make([]bool, lonC.Len())
		if lat < b.Min.Y || lat > b.Max.Y {
			continue
		}
		for x, lon := range lonC.Values {
			if lon < b.Min.X || lon > b.Max.X || !r.Contains(lon, lat) {
				continue
			}
			keep[y][x] = true
			if y0 < 0 {
				y0 = y
			}
			y1 = y
			if x0 < 0 || x < x0 {
				x0 = x
			}
			x1 = max(x1, x)
		}
	}
	if y0 < 0 {
		return nil, &domain.NoOverlapError{Bounds: [4]float64{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y}}
	}

	if out, err = out.Isel(domain.DimLat, dataset.Arange(y0, y1+1)); err != nil {
		return nil, err
	}
	if out, err = out.Isel(domain.DimLon, dataset.Arange(x0, x1+1)); err != nil {
		return nil, err
	}

	crop := make([][]bool, 0, y1-y0+1)
	full := true
	for _, row := range keep[y0 : y1+1] {
		cols := row[x0 : x1+1]
		for _, k := range cols {
			full = full && k
		}
		crop = append(crop, cols)
	}
	if full {
		return out, nil
	}
	return out.MaskGrid(domain.DimLat, domain.DimLon, crop)
}
