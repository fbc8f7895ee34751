package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"telemetry-cloud/internal/analytics/domain/statistic"
)

// StatisticRepository is an in-memory record store for demo/testing.
type StatisticRepository struct {
	mu   sync.RWMutex
	data map[string]statistic.Record
}

// NewStatisticRepository constructs a repository.
func NewStatisticRepository() *StatisticRepository {
	return &StatisticRepository{data: make(map[string]statistic.Record)}
}

// Get loads one record; (nil, nil) on a miss.
func (r *StatisticRepository) Get(ctx context.Context, unitID, variable string, key statistic.PeriodKey) (*statistic.Record, error) {
	_ = ctx
	if err := key.Validate(); err != nil {
		return nil, err
	}
	lookup := statistic.Record{UnitID: unitID, Variable: variable, Key: key}
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.data[lookup.ID()]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// LatestHour returns the hourly record with the greatest year and
// index; (nil, nil) when the series has none.
func (r *StatisticRepository) LatestHour(ctx context.Context, unitID, variable string) (*statistic.Record, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *statistic.Record
	for _, record := range r.data {
		if record.UnitID != unitID || record.Variable != variable || record.Key.Kind != statistic.KindHour {
			continue
		}
		if latest == nil ||
			record.Key.Year > latest.Key.Year ||
			(record.Key.Year == latest.Key.Year && record.Key.Index > latest.Key.Index) {
			copied := record
			latest = &copied
		}
	}
	return latest, nil
}

// List returns the records of one kind and year ordered by index.
func (r *StatisticRepository) List(ctx context.Context, unitID, variable string, kind statistic.PeriodKind, year int) ([]*statistic.Record, error) {
	_ = ctx
	if !kind.IsValid() {
		return nil, statistic.ErrInvalidKind
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*statistic.Record
	for _, record := range r.data {
		if record.UnitID != unitID || record.Variable != variable || record.Key.Kind != kind || record.Key.Year != year {
			continue
		}
		copied := record
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key.Index < result[j].Key.Index })
	return result, nil
}

// SaveTier persists a computed hour's records together. Validation
// runs before any write so a bad record leaves the store untouched.
func (r *StatisticRepository) SaveTier(ctx context.Context, records []*statistic.Record) error {
	_ = ctx
	if len(records) == 0 {
		return errors.New("memory statistic repo: empty tier")
	}
	for _, record := range records {
		if record == nil {
			return errors.New("memory statistic repo: nil record")
		}
		if err := record.Validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range records {
		r.data[record.ID()] = *record
	}
	return nil
}

// DeleteSeries removes every record of a unit variable.
func (r *StatisticRepository) DeleteSeries(ctx context.Context, unitID, variable string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, record := range r.data {
		if record.UnitID == unitID && record.Variable == variable {
			delete(r.data, id)
		}
	}
	return nil
}
