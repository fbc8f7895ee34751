package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"telemetry-cloud/internal/analytics/domain/statistic"
)

const defaultStatisticTable = "statistic_records"

// StatisticRepository is a Postgres implementation of the statistic
// record repository. SaveTier commits the five records of a computed
// hour in one transaction.
type StatisticRepository struct {
	db    *sql.DB
	table string
}

// NewStatisticRepository creates a repository using the default table name.
func NewStatisticRepository(db *sql.DB, opts ...StatisticRepositoryOption) *StatisticRepository {
	repo := &StatisticRepository{db: db, table: defaultStatisticTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// StatisticRepositoryOption configures the repository.
type StatisticRepositoryOption func(*StatisticRepository)

// WithStatisticTable overrides the default table name.
func WithStatisticTable(table string) StatisticRepositoryOption {
	return func(repo *StatisticRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const statisticColumns = `
	unit_id,
	variable,
	year,
	period_kind,
	period_index,
	sample_count,
	min_value,
	max_value,
	mean_value,
	stddev_value`

// Get loads one record; (nil, nil) on a miss.
func (r *StatisticRepository) Get(ctx context.Context, unitID, variable string, key statistic.PeriodKey) (*statistic.Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE unit_id = $1
	AND variable = $2
	AND year = $3
	AND period_kind = $4
	AND period_index = $5
LIMIT 1`, statisticColumns, r.table)

	row := r.db.QueryRowContext(ctx, query, unitID, variable, key.Year, string(key.Kind), key.Index)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// LatestHour returns the most recent hourly record; (nil, nil) when
// the series has none.
func (r *StatisticRepository) LatestHour(ctx context.Context, unitID, variable string) (*statistic.Record, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE unit_id = $1
	AND variable = $2
	AND period_kind = $3
ORDER BY year DESC, period_index DESC
LIMIT 1`, statisticColumns, r.table)

	row := r.db.QueryRowContext(ctx, query, unitID, variable, string(statistic.KindHour))
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// List returns the records of one kind and year ordered by index.
func (r *StatisticRepository) List(ctx context.Context, unitID, variable string, kind statistic.PeriodKind, year int) ([]*statistic.Record, error) {
	if !kind.IsValid() {
		return nil, statistic.ErrInvalidKind
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE unit_id = $1
	AND variable = $2
	AND period_kind = $3
	AND year = $4
ORDER BY period_index ASC`, statisticColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, unitID, variable, string(kind), year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*statistic.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SaveTier upserts the records of one computed hour atomically.
func (r *StatisticRepository) SaveTier(ctx context.Context, records []*statistic.Record) error {
	if len(records) == 0 {
		return errors.New("statistic repo: empty tier")
	}
	for _, record := range records {
		if record == nil {
			return errors.New("statistic repo: nil record")
		}
		if err := record.Validate(); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (unit_id, variable, year, period_kind, period_index)
DO UPDATE SET
	sample_count = EXCLUDED.sample_count,
	min_value = EXCLUDED.min_value,
	max_value = EXCLUDED.max_value,
	mean_value = EXCLUDED.mean_value,
	stddev_value = EXCLUDED.stddev_value,
	updated_at = NOW()`, r.table, statisticColumns)

	for _, record := range records {
		if _, err := tx.ExecContext(
			ctx,
			query,
			record.UnitID,
			record.Variable,
			record.Key.Year,
			string(record.Key.Kind),
			record.Key.Index,
			record.Stats.Count,
			record.Stats.Min,
			record.Stats.Max,
			record.Stats.Mean,
			record.Stats.StdDev,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteSeries removes every record of a unit variable.
func (r *StatisticRepository) DeleteSeries(ctx context.Context, unitID, variable string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE unit_id = $1 AND variable = $2`, r.table)
	_, err := r.db.ExecContext(ctx, query, unitID, variable)
	return err
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*statistic.Record, error) {
	var (
		unitID      string
		variable    string
		year        int
		periodKind  string
		periodIndex int
		count       int64
		minValue    float64
		maxValue    float64
		meanValue   float64
		stddevValue float64
	)
	if err := scanner.Scan(
		&unitID,
		&variable,
		&year,
		&periodKind,
		&periodIndex,
		&count,
		&minValue,
		&maxValue,
		&meanValue,
		&stddevValue,
	); err != nil {
		return nil, err
	}

	kind := statistic.PeriodKind(periodKind)
	if !kind.IsValid() {
		return nil, statistic.ErrInvalidKind
	}
	return &statistic.Record{
		UnitID:   unitID,
		Variable: variable,
		Key:      statistic.PeriodKey{Year: year, Kind: kind, Index: periodIndex},
		Stats: statistic.Statistics{
			Count:  count,
			Min:    minValue,
			Max:    maxValue,
			Mean:   meanValue,
			StdDev: stddevValue,
		},
	}, nil
}
