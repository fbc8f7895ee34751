package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	masterdata "telemetry-cloud/internal/masterdata/domain"
)

const defaultBlocksTable = "blocks"

// BlockRepository is a Postgres implementation for blocks.
type BlockRepository struct {
	db    DBTX
	table string
}

// NewBlockRepository constructs a repository.
func NewBlockRepository(db DBTX, opts ...BlockOption) *BlockRepository {
	repo := &BlockRepository{db: db, table: defaultBlocksTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// BlockOption configures the repository.
type BlockOption func(*BlockRepository)

// WithBlockTable overrides the default table name.
func WithBlockTable(table string) BlockOption {
	return func(repo *BlockRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a block by id.
func (r *BlockRepository) Get(ctx context.Context, id string) (*masterdata.Block, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("block repo: nil db")
	}
	if id == "" {
		return nil, errors.New("block repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT id, site_id, name, message_group_id, active, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	block, err := scanBlock(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return block, nil
}

// ListBySite returns blocks of a site ordered by name.
func (r *BlockRepository) ListBySite(ctx context.Context, siteID string) ([]*masterdata.Block, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("block repo: nil db")
	}
	if siteID == "" {
		return nil, errors.New("block repo: empty site id")
	}

	query := fmt.Sprintf(`
SELECT id, site_id, name, message_group_id, active, created_at, updated_at
FROM %s
WHERE site_id = $1
ORDER BY name ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []*masterdata.Block
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// Save upserts a block.
func (r *BlockRepository) Save(ctx context.Context, block *masterdata.Block) error {
	if r == nil || r.db == nil {
		return errors.New("block repo: nil db")
	}
	if block == nil {
		return errors.New("block repo: nil block")
	}
	if err := block.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	site_id,
	name,
	message_group_id,
	active
) VALUES (
	$1, $2, $3, $4, $5
)
ON CONFLICT (id)
DO UPDATE SET
	site_id = EXCLUDED.site_id,
	name = EXCLUDED.name,
	message_group_id = EXCLUDED.message_group_id,
	active = EXCLUDED.active,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		block.ID,
		block.SiteID,
		block.Name,
		block.MessageGroupID,
		block.Active,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if block.CreatedAt.IsZero() {
		block.CreatedAt = now
	}
	block.UpdatedAt = now
	return nil
}

func scanBlock(row scanner) (*masterdata.Block, error) {
	var block masterdata.Block
	if err := row.Scan(
		&block.ID,
		&block.SiteID,
		&block.Name,
		&block.MessageGroupID,
		&block.Active,
		&block.CreatedAt,
		&block.UpdatedAt,
	); err != nil {
		return nil, err
	}
	block.CreatedAt = block.CreatedAt.UTC()
	block.UpdatedAt = block.UpdatedAt.UTC()
	return &block, nil
}
