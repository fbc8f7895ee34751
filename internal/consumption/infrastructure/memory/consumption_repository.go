package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"telemetry-cloud/internal/analytics/domain/statistic"
	consumption "telemetry-cloud/internal/consumption/domain"
)

// ConsumptionRepository is an in-memory record store for demo/testing.
type ConsumptionRepository struct {
	mu   sync.RWMutex
	data map[string]consumption.Record
}

// NewConsumptionRepository constructs a repository.
func NewConsumptionRepository() *ConsumptionRepository {
	return &ConsumptionRepository{data: make(map[string]consumption.Record)}
}

// Get loads one record; (nil, nil) on a miss.
func (r *ConsumptionRepository) Get(ctx context.Context, resource int, itemID string, key statistic.PeriodKey) (*consumption.Record, error) {
	_ = ctx
	if err := key.Validate(); err != nil {
		return nil, err
	}
	lookup := consumption.Record{Resource: resource, ItemID: itemID, Key: key}
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
func (r *ConsumptionRepository) LatestHour(ctx context.Context, resource int, itemID string) (*consumption.Record, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *consumption.Record
	for _, record := range r.data {
		if record.Resource != resource || record.ItemID != itemID || record.Key.Kind != statistic.KindHour {
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
func (r *ConsumptionRepository) List(ctx context.Context, resource int, itemID string, kind statistic.PeriodKind, year int) ([]*consumption.Record, error) {
	_ = ctx
	if !kind.IsValid() {
		return nil, statistic.ErrInvalidKind
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*consumption.Record
	for _, record := range r.data {
		if record.Resource != resource || record.ItemID != itemID || record.Key.Kind != kind || record.Key.Year != year {
			continue
		}
		copied := record
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key.Index < result[j].Key.Index })
	return result, nil
}

// SaveBatch persists the records of one computed hour together.
// Validation runs before any write so a bad record leaves the store
// untouched.
func (r *ConsumptionRepository) SaveBatch(ctx context.Context, records []*consumption.Record) error {
	_ = ctx
	if len(records) == 0 {
		return errors.New("memory consumption repo: empty batch")
	}
	for _, record := range records {
		if record == nil {
			return errors.New("memory consumption repo: nil record")
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

// RemoveHour deletes one hourly record and applies the corrected
// coarser records in the same critical section.
func (r *ConsumptionRepository) RemoveHour(ctx context.Context, resource int, itemID string, key statistic.PeriodKey, updates []*consumption.Record) error {
	_ = ctx
	if key.Kind != statistic.KindHour {
		return statistic.ErrInvalidKind
	}
	for _, record := range updates {
		if record == nil {
			return errors.New("memory consumption repo: nil record")
		}
		if err := record.Validate(); err != nil {
			return err
		}
	}
	lookup := consumption.Record{Resource: resource, ItemID: itemID, Key: key}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, lookup.ID())
	for _, record := range updates {
		r.data[record.ID()] = *record
	}
	return nil
}

// DeleteSeries removes every record of an item for a resource.
func (r *ConsumptionRepository) DeleteSeries(ctx context.Context, resource int, itemID string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, record := range r.data {
		if record.Resource == resource && record.ItemID == itemID {
			delete(r.data, id)
		}
	}
	return nil
}
