package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.ngs.io/nexgddp-api/internal/dataset"
)

// MemberOpener is the interface for opening one per-variable, per-scenario store
type MemberOpener interface {
	// OpenMember opens the store at location as a lazy dataset (metadata and
	// dimension coordinates only)
	OpenMember(ctx context.Context, location string) (*dataset.Dataset, error)
}

// Closer is implemented by openers that hold remote resources
type Closer interface {
	Close() error
}

// Mux dispatches OpenMember to the opener registered for the location's
// suffix, such as ".zarr" or ".nc".
type Mux struct {
	openers map[string]MemberOpener
	order   []string
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{openers: make(map[string]MemberOpener)}
}

// Handle registers opener for locations ending in suffix. Later
// registrations of the same suffix replace earlier ones.
func (m *Mux) Handle(suffix string, opener MemberOpener) {
	if _, ok := m.openers[suffix]; !ok {
		m.order = append(m.order, suffix)
	}
	m.openers[suffix] = opener
}

// OpenMember opens location with the opener registered for its suffix.
func (m *Mux) OpenMember(ctx context.Context, location string) (*dataset.Dataset, error) {
	trimmed := strings.TrimRight(location, "/")
	for _, suffix := range m.order {
		if strings.HasSuffix(trimmed, suffix) {
			return m.openers[suffix].OpenMember(ctx, location)
		}
	}
	return nil, fmt.Errorf("no store opener for %s", location)
}

// Close closes every registered opener that implements Closer.
func (m *Mux) Close() error {
	var errs []error
	for _, suffix := range m.order {
		if c, ok := m.openers[suffix].(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
