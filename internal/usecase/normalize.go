package usecase

import (
	"fmt"

	"go.ngs.io/nexgddp-api/internal/dataset"
	"go.ngs.io/nexgddp-api/internal/domain"
)

// PreprocessMember normalizes one opened store before it is merged:
// models listed more than once are dropped entirely, longitudes are moved
// into [-180, 180) and the dataset is stamped with the geographic CRS.
// The input is not modified.
func PreprocessMember(member *dataset.Dataset) (*dataset.Dataset, error) {
	ds, err := dropDuplicateModels(member)
	if err != nil {
		return nil, fmt.Errorf("failed to drop duplicate models: %w", err)
	}
	if ds, err = wrapLongitudes(ds); err != nil {
		return nil, fmt.Errorf("failed to wrap longitudes: %w", err)
	}
	if ds == member {
		ds = member.Clone()
	}
	ds.Attrs["crs"] = domain.CRS
	return ds, nil
}

// dropDuplicateModels removes every model label that occurs more than once
// along the model dimension. No duplicates returns ds itself.
func dropDuplicateModels(ds *dataset.Dataset) (*dataset.Dataset, error) {
	c, ok := ds.Coord(domain.DimModel)
	if !ok || !c.Categorical() {
		return ds, nil
	}
	counts := make(map[string]int, len(c.Labels))
	for _, l := range c.Labels {
		counts[l]++
	}
	keep := make([]int, 0, len(c.Labels))
	for i, l := range c.Labels {
		if counts[l] == 1 {
			keep = append(keep, i)
		}
	}
	if len(keep) == len(c.Labels) {
		return ds, nil
	}
	return ds.Isel(domain.DimModel, keep)
}

// wrapLongitudes rewrites lon as ((lon+180) mod 360) - 180 and rolls the lon
// axis by half its length so the wrapped values run west to east. A lon axis
// the wrap leaves unchanged is returned as is.
func wrapLongitudes(ds *dataset.Dataset) (*dataset.Dataset, error) {
	c, ok := ds.Coord(domain.DimLon)
	if !ok || c.Categorical() {
		return ds, nil
	}
	wrapped := make([]float64, len(c.Values))
	changed := false
	for i, v := range c.Values {
		wrapped[i] = domain.WrapLongitude(v)
		if wrapped[i] != v {
			changed = true
		}
	}
	if !changed {
		return ds, nil
	}
	out, err := ds.AssignCoord(dataset.NumericCoord(domain.DimLon, wrapped, c.Attrs.Clone()))
	if err != nil {
		return nil, err
	}
	return out.Roll(domain.DimLon, len(wrapped)/2)
}
