package livecache

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"telemetry-cloud/internal/analytics/domain/statistic"
	masterdata "telemetry-cloud/internal/masterdata/domain"
	"telemetry-cloud/internal/observability/metrics"
	"telemetry-cloud/internal/variables"
)

const (
	// DefaultTopK is how many statuses a tree node surfaces.
	DefaultTopK = 6
	// DefaultTickInterval paces dirty-marking and subscriber pushes.
	DefaultTickInterval = 5 * time.Second
)

// Subscriber receives the block ids touched since the previous tick.
// A subscriber that returns an error is unregistered.
type Subscriber interface {
	Notify(blockIDs []string) error
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(blockIDs []string) error

// Notify implements Subscriber.
func (f SubscriberFunc) Notify(blockIDs []string) error { return f(blockIDs) }

// Cache is the live status tree of every active site. Ingestion
// touches it with the block ids of new samples; a periodic tick
// invalidates the touched leaves and pushes the ids to subscribers.
// Status evaluation stays lazy: nothing is recomputed until read.
type Cache struct {
	sites    masterdata.SiteRepository
	blocks   masterdata.BlockRepository
	units    masterdata.UnitRepository
	registry *variables.Registry
	source   ValueSource
	clock    statistic.Clock
	logger   *log.Logger
	topK     int
	hooks    []func()

	treeMu  sync.RWMutex
	tree    []*SiteNode
	byBlock map[string][]*UnitNode

	stateMu       sync.Mutex
	lastUpdate    time.Time
	lastProcessed time.Time
	touched       map[string]struct{}

	subMu   sync.Mutex
	subs    map[int]Subscriber
	nextSub int
}

// CacheOption configures the cache.
type CacheOption func(*Cache)

// WithCacheClock overrides the clock.
func WithCacheClock(clock statistic.Clock) CacheOption {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *log.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

// WithTopK overrides how many statuses a node surfaces.
func WithTopK(k int) CacheOption {
	return func(c *Cache) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithRefreshHook registers a callback run on every full refresh.
// The alert engine hooks in here to drop its suppression history.
func WithRefreshHook(hook func()) CacheOption {
	return func(c *Cache) {
		if hook != nil {
			c.hooks = append(c.hooks, hook)
		}
	}
}

// NewCache constructs an empty cache; call Refresh to build the tree.
func NewCache(
	sites masterdata.SiteRepository,
	blocks masterdata.BlockRepository,
	units masterdata.UnitRepository,
	registry *variables.Registry,
	source ValueSource,
	opts ...CacheOption,
) (*Cache, error) {
	if sites == nil {
		return nil, errors.New("livecache: nil site repository")
	}
	if blocks == nil {
		return nil, errors.New("livecache: nil block repository")
	}
	if units == nil {
		return nil, errors.New("livecache: nil unit repository")
	}
	if registry == nil {
		return nil, errors.New("livecache: nil variable registry")
	}
	if source == nil {
		return nil, errors.New("livecache: nil value source")
	}

	c := &Cache{
		sites:    sites,
		blocks:   blocks,
		units:    units,
		registry: registry,
		source:   source,
		clock:    statistic.SystemClock{},
		topK:     DefaultTopK,
		byBlock:  make(map[string][]*UnitNode),
		touched:  make(map[string]struct{}),
		subs:     make(map[int]Subscriber),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Refresh rebuilds the whole tree from masterdata, drops every
// memoized status, runs the refresh hooks and notifies subscribers
// with all block ids.
func (c *Cache) Refresh(ctx context.Context) error {
	tree, byBlock, err := c.build(ctx)
	if err != nil {
		return err
	}

	c.treeMu.Lock()
	c.tree = tree
	c.byBlock = byBlock
	c.treeMu.Unlock()

	c.stateMu.Lock()
	c.lastProcessed = c.lastUpdate
	c.touched = make(map[string]struct{})
	c.stateMu.Unlock()

	for _, hook := range c.hooks {
		hook()
	}
	metrics.IncLiveCacheRefresh()

	all := make([]string, 0, len(byBlock))
	for blockID := range byBlock {
		all = append(all, blockID)
	}
	sort.Strings(all)
	c.notify(all)
	return nil
}

func (c *Cache) build(ctx context.Context) ([]*SiteNode, map[string][]*UnitNode, error) {
	activeSites, err := c.sites.ListActive(ctx)
	if err != nil {
		return nil, nil, err
	}

	var tree []*SiteNode
	byBlock := make(map[string][]*UnitNode)
	for _, site := range activeSites {
		node := &SiteNode{Site: *site}
		siteBlocks, err := c.blocks.ListBySite(ctx, site.ID)
		if err != nil {
			return nil, nil, err
		}

		classes := make(map[string]*ClassNode)
		for _, block := range siteBlocks {
			if !block.Active {
				continue
			}
			blockUnits, err := c.units.ListByBlock(ctx, block.ID)
			if err != nil {
				return nil, nil, err
			}
			for _, unit := range blockUnits {
				if !unit.Active {
					continue
				}
				defs := c.registry.ForClass(unit.ClassCode)
				if len(defs) == 0 {
					continue
				}
				leaf := newUnitNode(*unit, defs)
				byBlock[block.ID] = append(byBlock[block.ID], leaf)

				class, ok := classes[unit.ClassCode]
				if !ok {
					class = &ClassNode{ClassCode: unit.ClassCode, Significance: defs[0].Significance}
					classes[unit.ClassCode] = class
					node.Classes = append(node.Classes, class)
				}
				class.Units = append(class.Units, leaf)
			}
		}

		sort.SliceStable(node.Classes, func(i, j int) bool {
			if node.Classes[i].Significance != node.Classes[j].Significance {
				return node.Classes[i].Significance > node.Classes[j].Significance
			}
			return node.Classes[i].ClassCode < node.Classes[j].ClassCode
		})
		for _, class := range node.Classes {
			sort.SliceStable(class.Units, func(i, j int) bool {
				if class.Units[i].Unit.Ordinality != class.Units[j].Unit.Ordinality {
					return class.Units[i].Unit.Ordinality < class.Units[j].Unit.Ordinality
				}
				return class.Units[i].Unit.Name < class.Units[j].Unit.Name
			})
		}
		tree = append(tree, node)
	}
	return tree, byBlock, nil
}

// Touch records that new samples arrived for the given blocks and
// bumps the global last-update timestamp.
func (c *Cache) Touch(blockIDs ...string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.lastUpdate = c.clock.Now()
	for _, id := range blockIDs {
		if id != "" {
			c.touched[id] = struct{}{}
		}
	}
}

// LastUpdate returns when samples last arrived. Zero until the first
// touch; the comms watchdog reads this.
func (c *Cache) LastUpdate() time.Time {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.lastUpdate
}

// Tick invalidates the leaves of blocks touched since the previous
// tick and pushes their ids to subscribers. A tick with nothing new
// is a no-op.
func (c *Cache) Tick() {
	c.stateMu.Lock()
	if !c.lastUpdate.After(c.lastProcessed) {
		c.stateMu.Unlock()
		return
	}
	c.lastProcessed = c.lastUpdate
	touched := make([]string, 0, len(c.touched))
	for id := range c.touched {
		touched = append(touched, id)
	}
	c.touched = make(map[string]struct{})
	c.stateMu.Unlock()

	sort.Strings(touched)
	c.treeMu.RLock()
	for _, blockID := range touched {
		for _, leaf := range c.byBlock[blockID] {
			leaf.MarkDirty()
		}
	}
	c.treeMu.RUnlock()

	c.notify(touched)
}

// Subscribe registers a subscriber and returns its handle.
func (c *Cache) Subscribe(sub Subscriber) int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = sub
	metrics.SetLiveCacheSubscribers(len(c.subs))
	return id
}

// Unsubscribe removes a subscriber.
func (c *Cache) Unsubscribe(id int) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subs, id)
	metrics.SetLiveCacheSubscribers(len(c.subs))
}

func (c *Cache) notify(blockIDs []string) {
	if len(blockIDs) == 0 {
		return
	}
	c.subMu.Lock()
	entries := make(map[int]Subscriber, len(c.subs))
	for id, sub := range c.subs {
		entries[id] = sub
	}
	c.subMu.Unlock()

	delivered := 0
	for id, sub := range entries {
		if err := sub.Notify(blockIDs); err != nil {
			c.logf("livecache: subscriber %d dropped: %v", id, err)
			c.Unsubscribe(id)
			continue
		}
		delivered++
	}
	metrics.AddLiveCacheNotifications(delivered)
}

// Sites returns the current site nodes. The alert engine walks these.
func (c *Cache) Sites() []*SiteNode {
	c.treeMu.RLock()
	defer c.treeMu.RUnlock()
	out := make([]*SiteNode, len(c.tree))
	copy(out, c.tree)
	return out
}

// UnitsOfBlock returns the leaves of one block.
func (c *Cache) UnitsOfBlock(blockID string) []*UnitNode {
	c.treeMu.RLock()
	defer c.treeMu.RUnlock()
	leaves := c.byBlock[blockID]
	out := make([]*UnitNode, len(leaves))
	copy(out, leaves)
	return out
}

// Snapshot types carry a serializable view of the tree for the API.
type Snapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Sites       []SiteSnapshot `json:"sites"`
}

type SiteSnapshot struct {
	SiteID   string          `json:"site_id"`
	Name     string          `json:"name"`
	Statuses []StatusView    `json:"statuses"`
	Classes  []ClassSnapshot `json:"classes"`
}

type ClassSnapshot struct {
	ClassCode string         `json:"class_code"`
	Statuses  []StatusView   `json:"statuses"`
	Units     []UnitSnapshot `json:"units"`
}

type UnitSnapshot struct {
	UnitID   string       `json:"unit_id"`
	Name     string       `json:"name"`
	Statuses []StatusView `json:"statuses"`
}

// StatusView is the wire form of one status.
type StatusView struct {
	UnitID   string  `json:"unit_id"`
	Variable string  `json:"variable"`
	Display  string  `json:"display"`
	Value    float64 `json:"value"`
	Known    bool    `json:"known"`
	Level    int     `json:"level"`
}

func statusViews(statuses []DataStatus) []StatusView {
	views := make([]StatusView, len(statuses))
	for i, status := range statuses {
		views[i] = StatusView{
			UnitID:   status.UnitID,
			Variable: status.Variable,
			Display:  status.Display,
			Value:    status.Value,
			Known:    status.Known,
			Level:    status.Level,
		}
	}
	return views
}

// Snapshot evaluates the tree top-down, each node truncated to the
// configured top-K.
func (c *Cache) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{GeneratedAt: c.clock.Now().UTC()}
	for _, site := range c.Sites() {
		siteStatuses, err := site.Statuses(ctx, c.source, c.topK)
		if err != nil {
			return Snapshot{}, err
		}
		siteSnap := SiteSnapshot{
			SiteID:   site.Site.ID,
			Name:     site.Site.Name,
			Statuses: statusViews(siteStatuses),
		}
		for _, class := range site.Classes {
			classStatuses, err := class.Statuses(ctx, c.source, c.topK)
			if err != nil {
				return Snapshot{}, err
			}
			classSnap := ClassSnapshot{
				ClassCode: class.ClassCode,
				Statuses:  statusViews(classStatuses),
			}
			for _, unit := range class.Units {
				unitStatuses, err := unit.Statuses(ctx, c.source)
				if err != nil {
					return Snapshot{}, err
				}
				classSnap.Units = append(classSnap.Units, UnitSnapshot{
					UnitID:   unit.Unit.ID,
					Name:     unit.Unit.Name,
					Statuses: statusViews(TopStatuses(unitStatuses, c.topK)),
				})
			}
			siteSnap.Classes = append(siteSnap.Classes, classSnap)
		}
		snap.Sites = append(snap.Sites, siteSnap)
	}
	return snap, nil
}

// Source exposes the value lookup chain for tree readers.
func (c *Cache) Source() ValueSource { return c.source }

func (c *Cache) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
