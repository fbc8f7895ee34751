package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "telemetry-cloud/internal/telemetry/domain"
)

const defaultSampleTable = "telemetry_samples"

// SampleStore is a Postgres implementation of the sample series. It
// implements both the query and writer contracts.
type SampleStore struct {
	db    *sql.DB
	table string
}

// NewSampleStore constructs a store with default table name.
func NewSampleStore(db *sql.DB, opts ...StoreOption) *SampleStore {
	store := &SampleStore{db: db, table: defaultSampleTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// StoreOption configures the store.
type StoreOption func(*SampleStore)

// WithSampleTable overrides the default table name.
func WithSampleTable(table string) StoreOption {
	return func(store *SampleStore) {
		if table != "" {
			store.table = table
		}
	}
}

// Insert appends samples. Duplicate unit/variable/instant rows are
// tolerated and kept as-is.
func (s *SampleStore) Insert(ctx context.Context, samples []telemetry.Sample) error {
	if s == nil || s.db == nil {
		return errors.New("sample store: nil db")
	}
	if len(samples) == 0 {
		return nil
	}
	for _, sample := range samples {
		if err := sample.Validate(); err != nil {
			return err
		}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	unit_id,
	variable,
	collected_at,
	value
) VALUES (
	$1, $2, $3, $4
)
ON CONFLICT (unit_id, variable, collected_at)
DO NOTHING`, s.table)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, sample := range samples {
		if _, err := stmt.ExecContext(
			ctx,
			sample.UnitID,
			sample.Variable,
			sample.CollectedAt,
			sample.Value,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Query returns samples of one unit variable in [from, to) ordered by
// collection time ascending.
func (s *SampleStore) Query(ctx context.Context, unitID, variable string, fromInclusive, toExclusive time.Time) ([]telemetry.Sample, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sample store: nil db")
	}
	if unitID == "" || variable == "" {
		return nil, errors.New("sample store: empty key")
	}

	query := fmt.Sprintf(`
SELECT unit_id, variable, collected_at, value
FROM %s
WHERE unit_id = $1
	AND variable = $2
	AND collected_at >= $3
	AND collected_at < $4
ORDER BY collected_at ASC`, s.table)

	rows, err := s.db.QueryContext(ctx, query, unitID, variable, fromInclusive, toExclusive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []telemetry.Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// Latest returns the most recent sample of a unit variable, or nil.
func (s *SampleStore) Latest(ctx context.Context, unitID, variable string) (*telemetry.Sample, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sample store: nil db")
	}

	query := fmt.Sprintf(`
SELECT unit_id, variable, collected_at, value
FROM %s
WHERE unit_id = $1 AND variable = $2
ORDER BY collected_at DESC
LIMIT 1`, s.table)

	row := s.db.QueryRowContext(ctx, query, unitID, variable)
	sample, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

// Earliest returns the oldest collection time across the given units.
func (s *SampleStore) Earliest(ctx context.Context, unitIDs []string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, errors.New("sample store: nil db")
	}
	if len(unitIDs) == 0 {
		return time.Time{}, false, nil
	}

	query := fmt.Sprintf(`
SELECT MIN(collected_at)
FROM %s
WHERE unit_id = ANY($1)`, s.table)

	var earliest sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, unitIDs).Scan(&earliest); err != nil {
		return time.Time{}, false, err
	}
	if !earliest.Valid {
		return time.Time{}, false, nil
	}
	return earliest.Time, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSample(row scanner) (telemetry.Sample, error) {
	var sample telemetry.Sample
	if err := row.Scan(&sample.UnitID, &sample.Variable, &sample.CollectedAt, &sample.Value); err != nil {
		return telemetry.Sample{}, err
	}
	return sample, nil
}
