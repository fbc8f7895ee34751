package statistic

import (
	"context"
	"errors"
	"fmt"
)

// Record is one persisted rollup record of a unit variable. Records
// are created lazily the first time a period is touched and updated
// only while the period is open.
type Record struct {
	UnitID   string
	Variable string
	Key      PeriodKey
	Stats    Statistics
}

// Validate checks record invariants.
func (r Record) Validate() error {
	if r.UnitID == "" {
		return errors.New("statistic: empty unit id")
	}
	if r.Variable == "" {
		return errors.New("statistic: empty variable")
	}
	return r.Key.Validate()
}

// ID builds the storage key of a record.
func (r Record) ID() string {
	return fmt.Sprintf("%s:%s:%d:%s:%d", r.UnitID, r.Variable, r.Key.Year, r.Key.Kind, r.Key.Index)
}

// Repository persists rollup records. Get and LatestHour return
// (nil, nil) on a miss so callers can create records lazily.
type Repository interface {
	Get(ctx context.Context, unitID, variable string, key PeriodKey) (*Record, error)
	// LatestHour returns the hourly record with the greatest year and
	// hour index for the series.
	LatestHour(ctx context.Context, unitID, variable string) (*Record, error)
	List(ctx context.Context, unitID, variable string, kind PeriodKind, year int) ([]*Record, error)
	// SaveTier persists the records of one computed hour atomically:
	// either all five tiers land or none do.
	SaveTier(ctx context.Context, records []*Record) error
	// DeleteSeries removes every record of a unit variable, for
	// administrative recompute.
	DeleteSeries(ctx context.Context, unitID, variable string) error
}
