package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"telemetry-cloud/internal/analytics/domain/statistic"
	consumption "telemetry-cloud/internal/consumption/domain"
)

const defaultConsumptionTable = "consumption_records"

// ConsumptionRepository is a Postgres implementation of the
// consumption record repository. SaveBatch and RemoveHour each act in
// one transaction so a computed hour is committed or rolled back as a
// whole.
type ConsumptionRepository struct {
	db    *sql.DB
	table string
}

// NewConsumptionRepository creates a repository using the default table name.
func NewConsumptionRepository(db *sql.DB, opts ...ConsumptionRepositoryOption) *ConsumptionRepository {
	repo := &ConsumptionRepository{db: db, table: defaultConsumptionTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ConsumptionRepositoryOption configures the repository.
type ConsumptionRepositoryOption func(*ConsumptionRepository)

// WithConsumptionTable overrides the default table name.
func WithConsumptionTable(table string) ConsumptionRepositoryOption {
	return func(repo *ConsumptionRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const consumptionColumns = `
	resource,
	item_id,
	year,
	period_kind,
	period_index,
	consumption`

// Get loads one record; (nil, nil) on a miss.
func (r *ConsumptionRepository) Get(ctx context.Context, resource int, itemID string, key statistic.PeriodKey) (*consumption.Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE resource = $1
	AND item_id = $2
	AND year = $3
	AND period_kind = $4
	AND period_index = $5
LIMIT 1`, consumptionColumns, r.table)

	row := r.db.QueryRowContext(ctx, query, resource, itemID, key.Year, string(key.Kind), key.Index)
	record, err := scanConsumption(row)
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
func (r *ConsumptionRepository) LatestHour(ctx context.Context, resource int, itemID string) (*consumption.Record, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE resource = $1
	AND item_id = $2
	AND period_kind = $3
ORDER BY year DESC, period_index DESC
LIMIT 1`, consumptionColumns, r.table)

	row := r.db.QueryRowContext(ctx, query, resource, itemID, string(statistic.KindHour))
	record, err := scanConsumption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// List returns the records of one kind and year ordered by index.
func (r *ConsumptionRepository) List(ctx context.Context, resource int, itemID string, kind statistic.PeriodKind, year int) ([]*consumption.Record, error) {
	if !kind.IsValid() {
		return nil, statistic.ErrInvalidKind
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE resource = $1
	AND item_id = $2
	AND period_kind = $3
	AND year = $4
ORDER BY period_index ASC`, consumptionColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, resource, itemID, string(kind), year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*consumption.Record
	for rows.Next() {
		record, err := scanConsumption(rows)
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

// SaveBatch upserts the records touched by one computed hour atomically.
func (r *ConsumptionRepository) SaveBatch(ctx context.Context, records []*consumption.Record) error {
	if len(records) == 0 {
		return errors.New("consumption repo: empty batch")
	}
	for _, record := range records {
		if record == nil {
			return errors.New("consumption repo: nil record")
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

	if err := upsertAll(ctx, tx, r.table, records); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveHour deletes one hourly record and applies the corrected
// coarser records in the same transaction.
func (r *ConsumptionRepository) RemoveHour(ctx context.Context, resource int, itemID string, key statistic.PeriodKey, updates []*consumption.Record) error {
	if key.Kind != statistic.KindHour {
		return statistic.ErrInvalidKind
	}
	for _, record := range updates {
		if record == nil {
			return errors.New("consumption repo: nil record")
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

	deleteQuery := fmt.Sprintf(`
DELETE FROM %s
WHERE resource = $1
	AND item_id = $2
	AND year = $3
	AND period_kind = $4
	AND period_index = $5`, r.table)
	if _, err := tx.ExecContext(ctx, deleteQuery, resource, itemID, key.Year, string(key.Kind), key.Index); err != nil {
		return err
	}
	if err := upsertAll(ctx, tx, r.table, updates); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteSeries removes every record of an item for a resource.
func (r *ConsumptionRepository) DeleteSeries(ctx context.Context, resource int, itemID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE resource = $1 AND item_id = $2`, r.table)
	_, err := r.db.ExecContext(ctx, query, resource, itemID)
	return err
}

func upsertAll(ctx context.Context, tx *sql.Tx, table string, records []*consumption.Record) error {
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (resource, item_id, year, period_kind, period_index)
DO UPDATE SET
	consumption = EXCLUDED.consumption,
	updated_at = NOW()`, table, consumptionColumns)

	for _, record := range records {
		if _, err := tx.ExecContext(
			ctx,
			query,
			record.Resource,
			record.ItemID,
			record.Key.Year,
			string(record.Key.Kind),
			record.Key.Index,
			record.Consumption,
		); err != nil {
			return err
		}
	}
	return nil
}

func scanConsumption(scanner interface{ Scan(dest ...any) error }) (*consumption.Record, error) {
	var (
		resource    int
		itemID      string
		year        int
		periodKind  string
		periodIndex int
		value       float64
	)
	if err := scanner.Scan(
		&resource,
		&itemID,
		&year,
		&periodKind,
		&periodIndex,
		&value,
	); err != nil {
		return nil, err
	}

	kind := statistic.PeriodKind(periodKind)
	if !kind.IsValid() {
		return nil, statistic.ErrInvalidKind
	}
	return &consumption.Record{
		Resource:    resource,
		ItemID:      itemID,
		Key:         statistic.PeriodKey{Year: year, Kind: kind, Index: periodIndex},
		Consumption: value,
	}, nil
}
