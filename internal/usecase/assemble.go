package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.ngs.io/nexgddp-api/internal/adapter/store"
	"go.ngs.io/nexgddp-api/internal/dataset"
	"go.ngs.io/nexgddp-api/internal/domain"
	"go.ngs.io/nexgddp-api/internal/observability"
)

// DatasetAssembler opens the stores of a variable/scenario request and
// merges them into one lazy dataset.
type DatasetAssembler struct {
	resolver domain.Resolver
	opener   store.MemberOpener
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewDatasetAssembler creates a new dataset assembler.
func NewDatasetAssembler(resolver domain.Resolver, opener store.MemberOpener, logger *slog.Logger, metrics *observability.Metrics) *DatasetAssembler {
	return &DatasetAssembler{
		resolver: resolver,
		opener:   opener,
		logger:   logger,
		metrics:  metrics,
	}
}

// Groups returns the store locations a request reads, after validation.
func (a *DatasetAssembler) Groups(variables, scenarios []string) ([]string, error) {
	if err := domain.Validate(variables, scenarios); err != nil {
		return nil, err
	}
	return a.resolver.Resolve(domain.Unique(variables), domain.Unique(scenarios)), nil
}

// GetDataset validates the request, opens every (variable, scenario) store,
// normalizes each member and merges them with an outer join on every
// dimension coordinate. No data values are read.
func (a *DatasetAssembler) GetDataset(ctx context.Context, variables, scenarios []string) (*dataset.Dataset, error) {
	start := time.Now()
	defer func() { a.metrics.AssembleDuration.Observe(time.Since(start).Seconds()) }()

	if err := domain.Validate(variables, scenarios); err != nil {
		return nil, err
	}
	variables, scenarios = domain.Unique(variables), domain.Unique(scenarios)

	members := make([]*dataset.Dataset, 0, len(variables)*len(scenarios))
	locations := make([]string, 0, cap(members))
	var axis timeAxis
	for _, variable := range variables {
		for _, scenario := range scenarios {
			location := a.resolver.Location(variable, scenario)
			member, err := a.openMember(ctx, location, scenario, &axis)
			if err != nil {
				a.logger.Warn("store open failed", "location", location, "error", err)
				return nil, err
			}
			members = append(members, member)
			locations = append(locations, location)
		}
	}

	ds, err := dataset.Combine(members...)
	if err != nil {
		return nil, mergeError(members, locations, err)
	}
	ds.Attrs["crs"] = domain.CRS

	a.logger.Info("dataset assembled",
		"variables", variables,
		"scenarios", scenarios,
		"stores", len(members),
		"data_variables", ds.VariableNames(),
		"duration", time.Since(start),
	)
	return ds, nil
}

// openMember opens one store and prepares it for merging. Stores that open
// but cannot be prepared are reported as StoreOpenError too.
func (a *DatasetAssembler) openMember(ctx context.Context, location, scenario string, axis *timeAxis) (*dataset.Dataset, error) {
	raw, err := a.opener.OpenMember(ctx, location)
	if err != nil {
		return nil, &domain.StoreOpenError{Location: location, Err: err}
	}
	member, err := PreprocessMember(raw)
	if err != nil {
		return nil, &domain.StoreOpenError{Location: location, Err: fmt.Errorf("failed to preprocess: %w", err)}
	}
	if member, err = axis.align(member); err != nil {
		return nil, &domain.StoreOpenError{Location: location, Err: err}
	}
	if _, ok := member.Size(domain.DimScenario); !ok {
		if member, err = member.ExpandDims(domain.DimScenario, scenario); err != nil {
			return nil, &domain.StoreOpenError{Location: location, Err: fmt.Errorf("failed to add scenario dimension: %w", err)}
		}
	}
	return member, nil
}

// mergeError attributes a Combine failure to the first member that does not
// merge with the ones before it.
func mergeError(members []*dataset.Dataset, locations []string, err error) error {
	for i := 1; i < len(members); i++ {
		if _, perr := dataset.Combine(members[:i+1]...); perr != nil {
			return &domain.StoreOpenError{Location: locations[i], Err: fmt.Errorf("failed to merge: %w", perr)}
		}
	}
	return fmt.Errorf("failed to merge %d stores: %w", len(members), err)
}

// timeAxis is the time encoding every member shares before merging: the
// units and calendar of the first member with a time coordinate.
type timeAxis struct {
	units    string
	calendar string
}

// align re-encodes member's time coordinate onto the shared units, so that
// stores with different epochs merge on actual dates.
func (t *timeAxis) align(member *dataset.Dataset) (*dataset.Dataset, error) {
	c, ok := member.Coord(domain.DimTime)
	if !ok || c.Categorical() {
		return member, nil
	}
	times, err := dataset.DecodeTime(c)
	if err != nil {
		return nil, fmt.Errorf("failed to decode time: %w", err)
	}
	calendar, err := dataset.Calendar(c)
	if err != nil {
		return nil, err
	}
	units, _ := c.Attrs.String("units")
	if t.units == "" {
		t.units, t.calendar = units, calendar
		return member, nil
	}
	if calendar != t.calendar {
		return nil, fmt.Errorf("time calendar %s does not match %s", calendar, t.calendar)
	}
	if units == t.units {
		return member, nil
	}
	values, err := dataset.EncodeTime(times, t.units, t.calendar)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode time: %w", err)
	}
	attrs := c.Attrs.Clone()
	attrs["units"] = t.units
	return member.AssignCoord(dataset.NumericCoord(domain.DimTime, values, attrs))
}
