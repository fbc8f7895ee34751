package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	masterdata "telemetry-cloud/internal/masterdata/domain"
)

const defaultResourcesTable = "resources"

// ResourceRepository is a Postgres implementation for resources.
type ResourceRepository struct {
	db    DBTX
	table string
}

// NewResourceRepository constructs a repository.
func NewResourceRepository(db DBTX, opts ...ResourceOption) *ResourceRepository {
	repo := &ResourceRepository{db: db, table: defaultResourcesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ResourceOption configures the repository.
type ResourceOption func(*ResourceRepository)

// WithResourceTable overrides the default table name.
func WithResourceTable(table string) ResourceOption {
	return func(repo *ResourceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a resource by code.
func (r *ResourceRepository) Get(ctx context.Context, code int) (*masterdata.Resource, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("resource repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT code, name, measurement_unit
FROM %s
WHERE code = $1
LIMIT 1`, r.table)

	var resource masterdata.Resource
	if err := r.db.QueryRowContext(ctx, query, code).Scan(
		&resource.Code,
		&resource.Name,
		&resource.MeasurementUnit,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &resource, nil
}

// List returns all resources ordered by code.
func (r *ResourceRepository) List(ctx context.Context) ([]*masterdata.Resource, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("resource repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT code, name, measurement_unit
FROM %s
ORDER BY code ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resources []*masterdata.Resource
	for rows.Next() {
		var resource masterdata.Resource
		if err := rows.Scan(&resource.Code, &resource.Name, &resource.MeasurementUnit); err != nil {
			return nil, err
		}
		resources = append(resources, &resource)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return resources, nil
}

// Save upserts a resource.
func (r *ResourceRepository) Save(ctx context.Context, resource *masterdata.Resource) error {
	if r == nil || r.db == nil {
		return errors.New("resource repo: nil db")
	}
	if resource == nil {
		return errors.New("resource repo: nil resource")
	}
	if err := resource.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	code,
	name,
	measurement_unit
) VALUES (
	$1, $2, $3
)
ON CONFLICT (code)
DO UPDATE SET
	name = EXCLUDED.name,
	measurement_unit = EXCLUDED.measurement_unit`, r.table)

	_, err := r.db.ExecContext(ctx, query, resource.Code, resource.Name, resource.MeasurementUnit)
	return err
}
