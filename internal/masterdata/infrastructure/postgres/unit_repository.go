package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	masterdata "telemetry-cloud/internal/masterdata/domain"
)

const (
	defaultUnitsTable     = "units"
	defaultUnitItemsTable = "unit_items"
)

// UnitRepository is a Postgres implementation for units and sub-items.
type UnitRepository struct {
	db         DBTX
	table      string
	itemsTable string
}

// NewUnitRepository constructs a repository.
func NewUnitRepository(db DBTX, opts ...UnitOption) *UnitRepository {
	repo := &UnitRepository{db: db, table: defaultUnitsTable, itemsTable: defaultUnitItemsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// UnitOption configures the repository.
type UnitOption func(*UnitRepository)

// WithUnitTable overrides the default unit table name.
func WithUnitTable(table string) UnitOption {
	return func(repo *UnitRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithUnitItemsTable overrides the default sub-item table name.
func WithUnitItemsTable(table string) UnitOption {
	return func(repo *UnitRepository) {
		if table != "" {
			repo.itemsTable = table
		}
	}
}

const unitColumns = "id, block_id, name, class_code, ordinality, layout_style, active, aggregator, created_at, updated_at"

// Get loads a unit by id.
func (r *UnitRepository) Get(ctx context.Context, id string) (*masterdata.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	if id == "" {
		return nil, errors.New("unit repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1
LIMIT 1`, unitColumns, r.table)

	unit, err := scanUnit(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// ListByBlock returns units of a block ordered by ordinality then name.
func (r *UnitRepository) ListByBlock(ctx context.Context, blockID string) ([]*masterdata.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	if blockID == "" {
		return nil, errors.New("unit repo: empty block id")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE block_id = $1
ORDER BY ordinality ASC, name ASC`, unitColumns, r.table)

	return r.queryUnits(ctx, query, blockID)
}

// ListActive returns all active units.
func (r *UnitRepository) ListActive(ctx context.Context) ([]*masterdata.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE active = TRUE
ORDER BY block_id ASC, ordinality ASC, name ASC`, unitColumns, r.table)

	return r.queryUnits(ctx, query)
}

// ListItems returns the sub-items of a unit.
func (r *UnitRepository) ListItems(ctx context.Context, unitID string) ([]*masterdata.UnitItem, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	if unitID == "" {
		return nil, errors.New("unit repo: empty unit id")
	}

	query := fmt.Sprintf(`
SELECT id, unit_id, name, independent
FROM %s
WHERE unit_id = $1
ORDER BY name ASC`, r.itemsTable)

	rows, err := r.db.QueryContext(ctx, query, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*masterdata.UnitItem
	for rows.Next() {
		var item masterdata.UnitItem
		if err := rows.Scan(&item.ID, &item.UnitID, &item.Name, &item.Independent); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Save upserts a unit.
func (r *UnitRepository) Save(ctx context.Context, unit *masterdata.Unit) error {
	if r == nil || r.db == nil {
		return errors.New("unit repo: nil db")
	}
	if unit == nil {
		return errors.New("unit repo: nil unit")
	}
	if err := unit.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	block_id,
	name,
	class_code,
	ordinality,
	layout_style,
	active,
	aggregator
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (id)
DO UPDATE SET
	block_id = EXCLUDED.block_id,
	name = EXCLUDED.name,
	class_code = EXCLUDED.class_code,
	ordinality = EXCLUDED.ordinality,
	layout_style = EXCLUDED.layout_style,
	active = EXCLUDED.active,
	aggregator = EXCLUDED.aggregator,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		unit.ID,
		unit.BlockID,
		unit.Name,
		unit.ClassCode,
		unit.Ordinality,
		unit.LayoutStyle,
		unit.Active,
		unit.Aggregator,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = now
	}
	unit.UpdatedAt = now
	return nil
}

// SaveItem upserts a sub-item.
func (r *UnitRepository) SaveItem(ctx context.Context, item *masterdata.UnitItem) error {
	if r == nil || r.db == nil {
		return errors.New("unit repo: nil db")
	}
	if item == nil {
		return errors.New("unit repo: nil item")
	}
	if err := item.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	unit_id,
	name,
	independent
) VALUES (
	$1, $2, $3, $4
)
ON CONFLICT (id)
DO UPDATE SET
	unit_id = EXCLUDED.unit_id,
	name = EXCLUDED.name,
	independent = EXCLUDED.independent`, r.itemsTable)

	_, err := r.db.ExecContext(ctx, query, item.ID, item.UnitID, item.Name, item.Independent)
	return err
}

func (r *UnitRepository) queryUnits(ctx context.Context, query string, args ...any) ([]*masterdata.Unit, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []*masterdata.Unit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return units, nil
}

func scanUnit(row scanner) (*masterdata.Unit, error) {
	var unit masterdata.Unit
	if err := row.Scan(
		&unit.ID,
		&unit.BlockID,
		&unit.Name,
		&unit.ClassCode,
		&unit.Ordinality,
		&unit.LayoutStyle,
		&unit.Active,
		&unit.Aggregator,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	); err != nil {
		return nil, err
	}
	unit.CreatedAt = unit.CreatedAt.UTC()
	unit.UpdatedAt = unit.UpdatedAt.UTC()
	return &unit, nil
}
