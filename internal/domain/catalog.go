package domain

// CRS is the geographic reference system of every assembled dataset.
const CRS = "EPSG:4326"

// DefaultStoreRoot is the root of the time-optimized NEX-GDDP-CMIP6 Zarr layout.
const DefaultStoreRoot = "s3://cmip6-data/NEX-GDDP-CMIP6/NEX-GDDP-CMIP6-aoi-optimized"

// Dimension names used by the NEX-GDDP-CMIP6 stores.
const (
	DimLat      = "lat"
	DimLon      = "lon"
	DimModel    = "model"
	DimScenario = "scenario"
	DimTime     = "time"
)

// availableVariables lists the measurable quantities published in the archive.
var availableVariables = [...]string{
	"hurs",    // Near-surface relative humidity.
	"huss",    // Near-surface specific humidity.
	"pr",      // Precipitation.
	"rlds",    // Surface downwelling longwave radiation.
	"rsds",    // Surface downwelling shortwave radiation.
	"sfcWind", // Daily-mean near-surface wind speed.
	"tas",     // Daily near-surface air temperature.
	"tasmax",  // Daily maximum near-surface air temperature.
	"tasmin",  // Daily minimum near-surface air temperature.
}

// availableScenarios lists every projection pathway in the archive.
var availableScenarios = [...]string{"historical", "ssp126", "ssp245", "ssp370", "ssp585"}

// timeOptimizedScenarios lists the store groups of the time-optimized layout.
// The "projection" group bundles the four SSP pathways.
var timeOptimizedScenarios = [...]string{"historical", "projection"}

// chunkLayout is the read granularity of the time-optimized stores.
var chunkLayout = map[string]int{
	DimLat:      5,
	DimLon:      5,
	DimModel:    1,
	DimScenario: 4,
	DimTime:     31411,
}

// Variables returns the variable catalog.
func Variables() []string {
	return append([]string(nil), availableVariables[:]...)
}

// Scenarios returns the full scenario catalog.
func Scenarios() []string {
	return append([]string(nil), availableScenarios[:]...)
}

// TimeOptimizedScenarios returns the scenarios accepted by the time-optimized layout.
func TimeOptimizedScenarios() []string {
	return append([]string(nil), timeOptimizedScenarios[:]...)
}

// ChunkLayout returns the chunk extent per dimension.
func ChunkLayout() map[string]int {
	out := make(map[string]int, len(chunkLayout))
	for k, v := range chunkLayout {
		out[k] = v
	}
	return out
}

// IsVariable reports whether name is in the variable catalog.
func IsVariable(name string) bool {
	return contains(availableVariables[:], name)
}

// IsTimeOptimizedScenario reports whether name is a time-optimized store group.
func IsTimeOptimizedScenario(name string) bool {
	return contains(timeOptimizedScenarios[:], name)
}

// Validate checks a variable/scenario request against the catalogs.
// It performs no I/O.
func Validate(variables, scenarios []string) error {
	if len(variables) == 0 {
		return &EmptyInputError{Field: "variables"}
	}
	if len(scenarios) == 0 {
		return &EmptyInputError{Field: "scenarios"}
	}
	if unknown := missingFrom(availableVariables[:], variables); len(unknown) > 0 {
		return &UnknownVariableError{Names: unknown}
	}
	if unknown := missingFrom(timeOptimizedScenarios[:], scenarios); len(unknown) > 0 {
		return &UnknownScenarioError{Names: unknown}
	}
	return nil
}

// missingFrom returns the distinct entries of requested absent from catalog,
// in request order.
func missingFrom(catalog []string, requested []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range requested {
		if contains(catalog, r) || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Unique returns values with repeated entries removed, keeping first occurrences.
func Unique(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// StoreGroup returns the time-optimized group holding scenario: "historical"
// for the historical run, "projection" for every SSP pathway. Group names map
// to themselves.
func StoreGroup(scenario string) (string, bool) {
	switch {
	case IsTimeOptimizedScenario(scenario):
		return scenario, true
	case contains(availableScenarios[:], scenario):
		return "projection", true
	default:
		return "", false
	}
}
