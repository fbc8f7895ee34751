package masterdata

import (
	"context"
	"errors"
	"time"
)

// Unit is a monitored physical entity (equipment, meter, sensor pack)
// belonging to exactly one block. Ordinality and layout style only feed
// label templating, never computation.
type Unit struct {
	ID          string
	BlockID     string
	Name        string
	ClassCode   string
	Ordinality  int
	LayoutStyle string
	Active      bool
	// Aggregator marks a unit whose readings already cover other units;
	// block consumption folding skips aggregators to avoid double counting.
	Aggregator bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks unit invariants.
func (u Unit) Validate() error {
	if u.ID == "" {
		return errors.New("unit: empty id")
	}
	if u.BlockID == "" {
		return errors.New("unit: empty block id")
	}
	if u.Name == "" {
		return errors.New("unit: empty name")
	}
	if u.ClassCode == "" {
		return errors.New("unit: empty class code")
	}
	return nil
}

// UnitItem is a sub-item of a unit (a meter channel, an auxiliary
// feed). Dependent items fold into the parent unit's consumption;
// independent items are tracked on their own.
type UnitItem struct {
	ID          string
	UnitID      string
	Name        string
	Independent bool
}

// Validate checks sub-item invariants.
func (i UnitItem) Validate() error {
	if i.ID == "" {
		return errors.New("unit item: empty id")
	}
	if i.UnitID == "" {
		return errors.New("unit item: empty unit id")
	}
	return nil
}

// UnitRepository manages unit persistence. Get returns (nil, nil)
// when the id is unknown.
type UnitRepository interface {
	Get(ctx context.Context, id string) (*Unit, error)
	ListByBlock(ctx context.Context, blockID string) ([]*Unit, error)
	ListActive(ctx context.Context) ([]*Unit, error)
	ListItems(ctx context.Context, unitID string) ([]*UnitItem, error)
	Save(ctx context.Context, unit *Unit) error
	SaveItem(ctx context.Context, item *UnitItem) error
}
