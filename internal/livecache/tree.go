package livecache

import (
	"context"
	"sort"
	"sync"

	masterdata "telemetry-cloud/internal/masterdata/domain"
	"telemetry-cloud/internal/variables"
)

// UnitNode is a leaf of the live tree: one DataStatus per applicable
// variable, evaluated lazily and memoized until the next invalidation.
type UnitNode struct {
	Unit masterdata.Unit
	defs []variables.Definition

	mu    sync.Mutex
	memo  []DataStatus
	dirty bool
}

func newUnitNode(unit masterdata.Unit, defs []variables.Definition) *UnitNode {
	return &UnitNode{Unit: unit, defs: orderDefinitions(defs), dirty: true}
}

// MarkDirty invalidates the memoized statuses.
func (n *UnitNode) MarkDirty() {
	n.mu.Lock()
	n.dirty = true
	n.mu.Unlock()
}

// Statuses returns the unit's statuses, recomputing when dirty.
func (n *UnitNode) Statuses(ctx context.Context, source ValueSource) ([]DataStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.dirty && n.memo != nil {
		return n.memo, nil
	}

	statuses := make([]DataStatus, 0, len(n.defs))
	for _, def := range n.defs {
		value, known, err := source.Current(ctx, n.Unit.ID, def.Name)
		if err != nil {
			return nil, err
		}
		status := DataStatus{
			UnitID:     n.Unit.ID,
			Variable:   def.Name,
			Definition: def,
			Display:    def.ShortName(n.Unit.Ordinality),
			Value:      value,
			Known:      known,
		}
		if known {
			status.Level = def.AlarmLevel(value)
		}
		statuses = append(statuses, status)
	}
	n.memo = statuses
	n.dirty = false
	return statuses, nil
}

// ClassNode groups a site's units of one class.
type ClassNode struct {
	ClassCode    string
	Significance int
	Units        []*UnitNode
}

// Statuses returns the class's top-k statuses.
func (c *ClassNode) Statuses(ctx context.Context, source ValueSource, k int) ([]DataStatus, error) {
	var all []DataStatus
	for _, unit := range c.Units {
		statuses, err := unit.Statuses(ctx, source)
		if err != nil {
			return nil, err
		}
		all = append(all, statuses...)
	}
	return TopStatuses(all, k), nil
}

// SiteNode roots one site's live tree.
type SiteNode struct {
	Site    masterdata.Site
	Classes []*ClassNode
}

// Statuses returns the site's top-k statuses.
func (s *SiteNode) Statuses(ctx context.Context, source ValueSource, k int) ([]DataStatus, error) {
	var all []DataStatus
	for _, class := range s.Classes {
		for _, unit := range class.Units {
			statuses, err := unit.Statuses(ctx, source)
			if err != nil {
				return nil, err
			}
			all = append(all, statuses...)
		}
	}
	return TopStatuses(all, k), nil
}

// Units lists every leaf under the site.
func (s *SiteNode) Units() []*UnitNode {
	var units []*UnitNode
	for _, class := range s.Classes {
		units = append(units, class.Units...)
	}
	return units
}

// TopStatuses surfaces the k most abnormal statuses, ordered by
// absolute alarm level descending. Ties keep the input order, which
// encodes significance.
func TopStatuses(statuses []DataStatus, k int) []DataStatus {
	out := make([]DataStatus, len(statuses))
	copy(out, statuses)
	sort.SliceStable(out, func(i, j int) bool {
		return absLevel(out[i].Level) > absLevel(out[j].Level)
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func absLevel(level int) int {
	if level < 0 {
		return -level
	}
	return level
}
