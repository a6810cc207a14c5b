package usecase

import (
	"fmt"
	"time"

	"go.ngs.io/nexgddp-api/internal/dataset"
	"go.ngs.io/nexgddp-api/internal/domain"
)

// SelectTimeRange keeps the time steps within [start, end]. A zero bound is
// open; two zero bounds return ds unchanged.
func SelectTimeRange(ds *dataset.Dataset, start, end time.Time) (*dataset.Dataset, error) {
	if start.IsZero() && end.IsZero() {
		return ds, nil
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, invalid("time range end %s is before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	c, ok := ds.Coord(domain.DimTime)
	if !ok {
		return nil, invalid("dataset has no %s coordinate", domain.DimTime)
	}
	times, err := dataset.DecodeTime(c)
	if err != nil {
		return nil, fmt.Errorf("failed to decode time coordinate: %w", err)
	}
	idx := make([]int, 0, len(times))
	for i, t := range times {
		if (start.IsZero() || !t.Before(start)) && (end.IsZero() || !t.After(end)) {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, invalid("no time steps between %s and %s", formatBound(start), formatBound(end))
	}
	return ds.Isel(domain.DimTime, idx)
}

// ParseTimeBound accepts RFC 3339 timestamps or YYYY-MM-DD dates. Empty
// input yields the zero time.
func ParseTimeBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, invalid("invalid time %q: use YYYY-MM-DD or RFC 3339", s)
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "(open)"
	}
	return t.Format(time.RFC3339)
}
