package masterdata

import (
	"context"
	"errors"
	"time"
)

// Block groups units within a site and acts as the aggregation root
// for consumption. A block never reports raw readings of its own.
type Block struct {
	ID             string
	SiteID         string
	Name           string
	MessageGroupID string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks block invariants.
func (b Block) Validate() error {
	if b.ID == "" {
		return errors.New("block: empty id")
	}
	if b.SiteID == "" {
		return errors.New("block: empty site id")
	}
	if b.Name == "" {
		return errors.New("block: empty name")
	}
	return nil
}

// BlockRepository manages block persistence. Get returns (nil, nil)
// when the id is unknown.
type BlockRepository interface {
	Get(ctx context.Context, id string) (*Block, error)
	ListBySite(ctx context.Context, siteID string) ([]*Block, error)
	Save(ctx context.Context, block *Block) error
}
