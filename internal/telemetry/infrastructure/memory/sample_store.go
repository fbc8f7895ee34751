package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	telemetry "telemetry-cloud/internal/telemetry/domain"
)

// SampleStore is an in-memory sample series for demo/testing.
// It implements both the query and writer contracts.
type SampleStore struct {
	mu     sync.RWMutex
	series map[seriesKey][]telemetry.Sample
}

type seriesKey struct {
	unitID   string
	variable string
}

// NewSampleStore constructs a store.
func NewSampleStore() *SampleStore {
	return &SampleStore{series: make(map[seriesKey][]telemetry.Sample)}
}

// Insert appends samples, keeping each series ordered by time.
func (s *SampleStore) Insert(ctx context.Context, samples []telemetry.Sample) error {
	_ = ctx
	for _, sample := range samples {
		if err := sample.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sample := range samples {
		key := seriesKey{unitID: sample.UnitID, variable: sample.Variable}
		series := append(s.series[key], sample)
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].CollectedAt.Before(series[j].CollectedAt)
		})
		s.series[key] = series
	}
	return nil
}

// Query returns samples in [from, to) ordered by time ascending.
func (s *SampleStore) Query(ctx context.Context, unitID, variable string, fromInclusive, toExclusive time.Time) ([]telemetry.Sample, error) {
	_ = ctx
	if unitID == "" || variable == "" {
		return nil, errors.New("sample memory store: empty key")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.series[seriesKey{unitID: unitID, variable: variable}]
	var result []telemetry.Sample
	for _, sample := range series {
		if sample.CollectedAt.Before(fromInclusive) || !sample.CollectedAt.Before(toExclusive) {
			continue
		}
		result = append(result, sample)
	}
	return result, nil
}

// Latest returns the most recent sample of a series, or nil.
func (s *SampleStore) Latest(ctx context.Context, unitID, variable string) (*telemetry.Sample, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.series[seriesKey{unitID: unitID, variable: variable}]
	if len(series) == 0 {
		return nil, nil
	}
	sample := series[len(series)-1]
	return &sample, nil
}

// Earliest returns the oldest collection time across units.
func (s *SampleStore) Earliest(ctx context.Context, unitIDs []string) (time.Time, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]bool, len(unitIDs))
	for _, id := range unitIDs {
		wanted[id] = true
	}
	var earliest time.Time
	found := false
	for key, series := range s.series {
		if len(series) == 0 || !wanted[key.unitID] {
			continue
		}
		first := series[0].CollectedAt
		if !found || first.Before(earliest) {
			earliest = first
			found = true
		}
	}
	return earliest, found, nil
}
