package masterdata

import (
	"context"
	"errors"
)

// Resource is a consumable commodity measured by units.
type Resource struct {
	Code            int
	Name            string
	MeasurementUnit string
}

// Validate checks resource invariants.
func (r Resource) Validate() error {
	if r.Code <= 0 {
		return errors.New("resource: non-positive code")
	}
	if r.Name == "" {
		return errors.New("resource: empty name")
	}
	return nil
}

// Well-known resource codes.
const (
	ResourceElectricity = 1
	ResourceWater       = 2
)

// ResourceRepository manages resource persistence. Get returns
// (nil, nil) when the code is unknown.
type ResourceRepository interface {
	Get(ctx context.Context, code int) (*Resource, error)
	List(ctx context.Context) ([]*Resource, error)
	Save(ctx context.Context, resource *Resource) error
}
