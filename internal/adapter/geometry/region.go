// Package geometry loads region polygons and moves them between coordinate
// reference systems.
package geometry

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"

	"go.ngs.io/nexgddp-api/internal/domain"
)

// Region is a set of polygons in one coordinate reference system.
type Region struct {
	Polygons []geom.Polygonal
	CRS      string
}

// NewRegion returns a region over polys. An empty crs means EPSG:4326.
func NewRegion(crs string, polys ...geom.Polygonal) *Region {
	if crs == "" {
		crs = domain.CRS
	}
	return &Region{Polygons: polys, CRS: crs}
}

// Validate checks the region has at least one polygon and every ring holds at
// least three finite vertices.
func (r *Region) Validate() error {
	if r == nil || len(r.Polygons) == 0 {
		return &domain.InvalidGeometryError{Reason: "region has no polygons"}
	}
	for i, pg := range r.Polygons {
		if pg == nil {
			return &domain.InvalidGeometryError{Reason: fmt.Sprintf("polygon %d is empty", i)}
		}
		polys := pg.Polygons()
		if len(polys) == 0 {
			return &domain.InvalidGeometryError{Reason: fmt.Sprintf("polygon %d is empty", i)}
		}
		for _, p := range polys {
			if len(p) == 0 {
				return &domain.InvalidGeometryError{Reason: fmt.Sprintf("polygon %d has no rings", i)}
			}
			for j, ring := range p {
				if distinctVertices(ring) < 3 {
					return &domain.InvalidGeometryError{Reason: fmt.Sprintf("polygon %d ring %d has fewer than 3 distinct vertices", i, j)}
				}
				for _, pt := range ring {
					if !finite(pt.X) || !finite(pt.Y) {
						return &domain.InvalidGeometryError{Reason: fmt.Sprintf("polygon %d ring %d has a non-finite vertex", i, j)}
					}
				}
			}
		}
	}
	return nil
}

// TransformTo returns the region reprojected into crs. The receiver is
// returned when it is already in crs.
func (r *Region) TransformTo(crs string) (*Region, error) {
	if SameCRS(r.CRS, crs) {
		return r, nil
	}
	src, err := ParseCRS(r.CRS)
	if err != nil {
		return nil, err
	}
	dst, err := ParseCRS(crs)
	if err != nil {
		return nil, err
	}
	ct, err := src.NewTransform(dst)
	if err != nil {
		return nil, &domain.InvalidGeometryError{Reason: fmt.Sprintf("no transform from %s to %s", r.CRS, crs), Err: err}
	}
	out := &Region{CRS: NormalizeCRS(crs), Polygons: make([]geom.Polygonal, len(r.Polygons))}
	for i, pg := range r.Polygons {
		g, err := pg.Transform(ct)
		if err != nil {
			return nil, &domain.InvalidGeometryError{Reason: fmt.Sprintf("reproject polygon %d", i), Err: err}
		}
		p, ok := g.(geom.Polygonal)
		if !ok {
			return nil, &domain.InvalidGeometryError{Reason: fmt.Sprintf("reprojected polygon %d is %T", i, g)}
		}
		out.Polygons[i] = p
	}
	return out, nil
}

// Bounds returns the bounding box of every polygon.
func (r *Region) Bounds() *geom.Bounds {
	b := geom.NewBounds()
	for _, pg := range r.Polygons {
		b.Extend(pg.Bounds())
	}
	return b
}

// Contains reports whether (x, y) lies inside or on the edge of any polygon.
func (r *Region) Contains(x, y float64) bool {
	pt := geom.Point{X: x, Y: y}
	for _, pg := range r.Polygons {
		if pt.Within(pg) != geom.Outside {
			return true
		}
	}
	return false
}

func distinctVertices(ring []geom.Point) int {
	seen := make(map[geom.Point]bool, len(ring))
	for _, p := range ring {
		seen[p] = true
	}
	return len(seen)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
