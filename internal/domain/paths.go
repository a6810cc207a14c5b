package domain

import (
	"fmt"
	"math"
	"strings"
)

// Store suffixes understood by the resolver.
const (
	ZarrSuffix   = ".zarr"
	NetCDFSuffix = ".nc"
)

// Resolver maps (variable, scenario) pairs to store locations under Base.
// Suffix selects the store format and defaults to ZarrSuffix.
type Resolver struct {
	Base   string
	Suffix string
}

// NewResolver returns a resolver rooted at base, or at DefaultStoreRoot if base is empty.
func NewResolver(base string) Resolver {
	if base == "" {
		base = DefaultStoreRoot
	}
	return Resolver{Base: strings.TrimRight(base, "/"), Suffix: ZarrSuffix}
}

// WithSuffix returns a copy of r that resolves to stores ending in suffix.
func (r Resolver) WithSuffix(suffix string) Resolver {
	if suffix != "" {
		r.Suffix = suffix
	}
	return r
}

// Location returns the store location of one variable/scenario pair.
func (r Resolver) Location(variable, scenario string) string {
	suffix := r.Suffix
	if suffix == "" {
		suffix = ZarrSuffix
	}
	return fmt.Sprintf("%s/%s/%s%s", r.Base, scenario, variable, suffix)
}

// Resolve returns one location per pair, variables outer and scenarios inner.
func (r Resolver) Resolve(variables, scenarios []string) []string {
	paths := make([]string, 0, len(variables)*len(scenarios))
	for _, variable := range variables {
		for _, scenario := range scenarios {
			paths = append(paths, r.Location(variable, scenario))
		}
	}
	return paths
}

// VariableGroups returns the Zarr groups for the given variables and scenarios
// under DefaultStoreRoot.
func VariableGroups(variables, scenarios []string) []string {
	return NewResolver(DefaultStoreRoot).Resolve(variables, scenarios)
}

// WrapLongitude maps a degree longitude into the [-180, 180) range.
func WrapLongitude(lon float64) float64 {
	lon = math.Mod(lon+180.0, 360.0)
	if lon < 0 {
		lon += 360.0
	}
	return lon - 180.0
}
