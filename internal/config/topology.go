package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	consumption "telemetry-cloud/internal/consumption/domain"
	masterdata "telemetry-cloud/internal/masterdata/domain"
	"telemetry-cloud/internal/schedule"
	telemetry "telemetry-cloud/internal/telemetry/domain"
	"telemetry-cloud/internal/variables"
)

// Topology describes the monitored estate: sites, blocks, units and
// their sub-items, the resources they consume, the variable definitions
// per unit class, and control schedules.
type Topology struct {
	Sites     []SiteConfig                      `yaml:"sites"`
	Resources []ResourceConfig                  `yaml:"resources"`
	Classes   map[string][]variables.Definition `yaml:"classes"`
	Schedules []schedule.ControlSchedule        `yaml:"schedules"`
}

// SiteConfig declares one site and its blocks.
type SiteConfig struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	OffsetMinutes  int           `yaml:"offset_minutes"`
	MessageGroupID string        `yaml:"message_group"`
	Active         *bool         `yaml:"active"`
	Blocks         []BlockConfig `yaml:"blocks"`
}

// BlockConfig declares one block and its units.
type BlockConfig struct {
	ID             string       `yaml:"id"`
	Name           string       `yaml:"name"`
	MessageGroupID string       `yaml:"message_group"`
	Active         *bool        `yaml:"active"`
	Units          []UnitConfig `yaml:"units"`
}

// UnitConfig declares one unit and its sub-items.
type UnitConfig struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	ClassCode   string       `yaml:"class"`
	Ordinality  int          `yaml:"ordinality"`
	LayoutStyle string       `yaml:"layout_style"`
	Aggregator  bool         `yaml:"aggregator"`
	Active      *bool        `yaml:"active"`
	Items       []ItemConfig `yaml:"items"`
}

// ItemConfig declares one unit sub-item.
type ItemConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Independent bool   `yaml:"independent"`
}

// ResourceConfig declares one consumable resource and how its hourly
// consumption is derived from raw samples.
type ResourceConfig struct {
	Code            int    `yaml:"code"`
	Name            string `yaml:"name"`
	MeasurementUnit string `yaml:"unit"`

	Variable   string  `yaml:"variable"`
	Calculator string  `yaml:"calculator"`
	Multiplier float64 `yaml:"multiplier"`
	ResetValue float64 `yaml:"reset_value"`
	ToState    bool    `yaml:"to_state"`
}

// Load reads a topology file.
func Load(path string) (Topology, error) {
	if path == "" {
		return Topology{}, errors.New("config: empty path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, err
	}
	var topology Topology
	if err := yaml.Unmarshal(data, &topology); err != nil {
		return Topology{}, err
	}
	if err := topology.Validate(); err != nil {
		return Topology{}, err
	}
	return topology, nil
}

// Validate checks topology invariants.
func (t Topology) Validate() error {
	if len(t.Sites) == 0 {
		return errors.New("config: no sites")
	}
	seen := make(map[string]struct{})
	for _, site := range t.Sites {
		if site.ID == "" {
			return errors.New("config: site without id")
		}
		if _, dup := seen[site.ID]; dup {
			return fmt.Errorf("config: duplicate site %s", site.ID)
		}
		seen[site.ID] = struct{}{}
		for _, block := range site.Blocks {
			if block.ID == "" {
				return fmt.Errorf("config: site %s block without id", site.ID)
			}
			if _, dup := seen[block.ID]; dup {
				return fmt.Errorf("config: duplicate block %s", block.ID)
			}
			seen[block.ID] = struct{}{}
			for _, unit := range block.Units {
				if unit.ID == "" {
					return fmt.Errorf("config: block %s unit without id", block.ID)
				}
				if unit.ClassCode == "" {
					return fmt.Errorf("config: unit %s without class", unit.ID)
				}
				if _, dup := seen[unit.ID]; dup {
					return fmt.Errorf("config: duplicate unit %s", unit.ID)
				}
				seen[unit.ID] = struct{}{}
			}
		}
	}
	for _, sched := range t.Schedules {
		if err := sched.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// BuildCalculators builds the per-resource consumption calculators.
func (t Topology) BuildCalculators(store telemetry.SampleStore) (map[int]consumption.Calculator, error) {
	calculators := make(map[int]consumption.Calculator, len(t.Resources))
	for _, resource := range t.Resources {
		if resource.Variable == "" {
			continue
		}
		var (
			calc consumption.Calculator
			err  error
		)
		switch resource.Calculator {
		case "", "difference":
			calc, err = consumption.NewDifference(store, resource.Code, resource.Variable)
		case "scaled":
			calc, err = consumption.NewScaledDifference(store, resource.Code, resource.Variable, resource.Multiplier)
		case "meter":
			calc, err = consumption.NewMeterDifference(store, resource.Code, resource.Variable, resource.ResetValue)
		case "state_change":
			calc, err = consumption.NewStateChangeCount(store, resource.Code, resource.Variable, resource.ToState, resource.Multiplier)
		default:
			return nil, fmt.Errorf("config: resource %d: unknown calculator %q", resource.Code, resource.Calculator)
		}
		if err != nil {
			return nil, fmt.Errorf("config: resource %d: %w", resource.Code, err)
		}
		calculators[resource.Code] = calc
	}
	return calculators, nil
}

// BuildRegistry builds the variable definition registry from the
// per-class definitions.
func (t Topology) BuildRegistry() (*variables.Registry, error) {
	registry := variables.NewRegistry()
	for classCode, defs := range t.Classes {
		if err := registry.Register(classCode, defs); err != nil {
			return nil, fmt.Errorf("config: class %s: %w", classCode, err)
		}
	}
	return registry, nil
}

// Apply seeds the masterdata repositories from the topology.
func (t Topology) Apply(ctx context.Context, sites masterdata.SiteRepository, blocks masterdata.BlockRepository, units masterdata.UnitRepository, resources masterdata.ResourceRepository) error {
	for _, resource := range t.Resources {
		record := masterdata.Resource{Code: resource.Code, Name: resource.Name, MeasurementUnit: resource.MeasurementUnit}
		if err := resources.Save(ctx, &record); err != nil {
			return err
		}
	}
	for _, siteCfg := range t.Sites {
		site := masterdata.Site{
			ID:             siteCfg.ID,
			Name:           siteCfg.Name,
			OffsetMinutes:  siteCfg.OffsetMinutes,
			MessageGroupID: siteCfg.MessageGroupID,
			Active:         activeOrDefault(siteCfg.Active),
		}
		if err := sites.Save(ctx, &site); err != nil {
			return err
		}
		for _, blockCfg := range siteCfg.Blocks {
			block := masterdata.Block{
				ID:             blockCfg.ID,
				SiteID:         siteCfg.ID,
				Name:           blockCfg.Name,
				MessageGroupID: blockCfg.MessageGroupID,
				Active:         activeOrDefault(blockCfg.Active),
			}
			if err := blocks.Save(ctx, &block); err != nil {
				return err
			}
			for _, unitCfg := range blockCfg.Units {
				unit := masterdata.Unit{
					ID:          unitCfg.ID,
					BlockID:     blockCfg.ID,
					Name:        unitCfg.Name,
					ClassCode:   unitCfg.ClassCode,
					Ordinality:  unitCfg.Ordinality,
					LayoutStyle: unitCfg.LayoutStyle,
					Active:      activeOrDefault(unitCfg.Active),
					Aggregator:  unitCfg.Aggregator,
				}
				if err := units.Save(ctx, &unit); err != nil {
					return err
				}
				for _, itemCfg := range unitCfg.Items {
					item := masterdata.UnitItem{
						ID:          itemCfg.ID,
						UnitID:      unitCfg.ID,
						Name:        itemCfg.Name,
						Independent: itemCfg.Independent,
					}
					if err := units.SaveItem(ctx, &item); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func activeOrDefault(value *bool) bool {
	if value == nil {
		return true
	}
	return *value
}
