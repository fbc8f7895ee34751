package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	masterdata "telemetry-cloud/internal/masterdata/domain"
)

// SiteRepository is an in-memory site store for demo/testing.
type SiteRepository struct {
	mu    sync.RWMutex
	sites map[string]*masterdata.Site
}

// NewSiteRepository constructs a repository.
func NewSiteRepository() *SiteRepository {
	return &SiteRepository{sites: make(map[string]*masterdata.Site)}
}

// Get loads a site by id, (nil, nil) on a miss.
func (r *SiteRepository) Get(ctx context.Context, id string) (*masterdata.Site, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sites[id], nil
}

// ListActive returns active sites ordered by id.
func (r *SiteRepository) ListActive(ctx context.Context) ([]*masterdata.Site, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*masterdata.Site, 0, len(r.sites))
	for _, site := range r.sites {
		if site.Active {
			result = append(result, site)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Save persists a site.
func (r *SiteRepository) Save(ctx context.Context, site *masterdata.Site) error {
	_ = ctx
	if site == nil {
		return errors.New("masterdata memory repo: nil site")
	}
	if err := site.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites[site.ID] = site
	return nil
}

// BlockRepository is an in-memory block store for demo/testing.
type BlockRepository struct {
	mu     sync.RWMutex
	blocks map[string]*masterdata.Block
}

// NewBlockRepository constructs a repository.
func NewBlockRepository() *BlockRepository {
	return &BlockRepository{blocks: make(map[string]*masterdata.Block)}
}

// Get loads a block by id, (nil, nil) on a miss.
func (r *BlockRepository) Get(ctx context.Context, id string) (*masterdata.Block, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.blocks[id], nil
}

// ListBySite returns blocks of a site ordered by id.
func (r *BlockRepository) ListBySite(ctx context.Context, siteID string) ([]*masterdata.Block, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*masterdata.Block
	for _, block := range r.blocks {
		if block.SiteID == siteID {
			result = append(result, block)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Save persists a block.
func (r *BlockRepository) Save(ctx context.Context, block *masterdata.Block) error {
	_ = ctx
	if block == nil {
		return errors.New("masterdata memory repo: nil block")
	}
	if err := block.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[block.ID] = block
	return nil
}

// UnitRepository is an in-memory unit store for demo/testing.
type UnitRepository struct {
	mu    sync.RWMutex
	units map[string]*masterdata.Unit
	items map[string][]*masterdata.UnitItem
}

// NewUnitRepository constructs a repository.
func NewUnitRepository() *UnitRepository {
	return &UnitRepository{
		units: make(map[string]*masterdata.Unit),
		items: make(map[string][]*masterdata.UnitItem),
	}
}

// Get loads a unit by id, (nil, nil) on a miss.
func (r *UnitRepository) Get(ctx context.Context, id string) (*masterdata.Unit, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.units[id], nil
}

// ListByBlock returns units of a block ordered by id.
func (r *UnitRepository) ListByBlock(ctx context.Context, blockID string) ([]*masterdata.Unit, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*masterdata.Unit
	for _, unit := range r.units {
		if unit.BlockID == blockID {
			result = append(result, unit)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ListActive returns all active units ordered by id.
func (r *UnitRepository) ListActive(ctx context.Context) ([]*masterdata.Unit, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*masterdata.Unit
	for _, unit := range r.units {
		if unit.Active {
			result = append(result, unit)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ListItems returns sub-items of a unit ordered by id.
func (r *UnitRepository) ListItems(ctx context.Context, unitID string) ([]*masterdata.UnitItem, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := r.items[unitID]
	result := make([]*masterdata.UnitItem, len(items))
	copy(result, items)
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Save persists a unit.
func (r *UnitRepository) Save(ctx context.Context, unit *masterdata.Unit) error {
	_ = ctx
	if unit == nil {
		return errors.New("masterdata memory repo: nil unit")
	}
	if err := unit.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[unit.ID] = unit
	return nil
}

// SaveItem persists a sub-item.
func (r *UnitRepository) SaveItem(ctx context.Context, item *masterdata.UnitItem) error {
	_ = ctx
	if item == nil {
		return errors.New("masterdata memory repo: nil unit item")
	}
	if err := item.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.items[item.UnitID] {
		if existing.ID == item.ID {
			r.items[item.UnitID][i] = item
			return nil
		}
	}
	r.items[item.UnitID] = append(r.items[item.UnitID], item)
	return nil
}

// ResourceRepository is an in-memory resource store for demo/testing.
type ResourceRepository struct {
	mu        sync.RWMutex
	resources map[int]*masterdata.Resource
}

// NewResourceRepository constructs a repository.
func NewResourceRepository() *ResourceRepository {
	return &ResourceRepository{resources: make(map[int]*masterdata.Resource)}
}

// Get loads a resource by code, (nil, nil) on a miss.
func (r *ResourceRepository) Get(ctx context.Context, code int) (*masterdata.Resource, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resources[code], nil
}

// List returns resources ordered by code.
func (r *ResourceRepository) List(ctx context.Context) ([]*masterdata.Resource, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*masterdata.Resource, 0, len(r.resources))
	for _, resource := range r.resources {
		result = append(result, resource)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

// Save persists a resource.
func (r *ResourceRepository) Save(ctx context.Context, resource *masterdata.Resource) error {
	_ = ctx
	if resource == nil {
		return errors.New("masterdata memory repo: nil resource")
	}
	if err := resource.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[resource.Code] = resource
	return nil
}
