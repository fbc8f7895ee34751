package masterdata

import (
	"context"
	"errors"
	"time"
)

// Site is a physical location hosting monitored blocks and units.
// Period boundaries for all rollups are site-local: the stored UTC
// offset is fixed (not DST-aware).
type Site struct {
	ID             string
	Name           string
	OffsetMinutes  int
	MessageGroupID string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks site invariants.
func (s Site) Validate() error {
	if s.ID == "" {
		return errors.New("site: empty id")
	}
	if s.Name == "" {
		return errors.New("site: empty name")
	}
	if s.OffsetMinutes < -14*60 || s.OffsetMinutes > 14*60 {
		return errors.New("site: offset out of range")
	}
	return nil
}

// LocalTime converts a GMT instant to site-local wall time.
func (s Site) LocalTime(gmt time.Time) time.Time {
	return gmt.Add(time.Duration(s.OffsetMinutes) * time.Minute)
}

// ToGMT converts a site-local wall time back to GMT.
func (s Site) ToGMT(local time.Time) time.Time {
	return local.Add(-time.Duration(s.OffsetMinutes) * time.Minute)
}

// SiteRepository manages site persistence. Get returns (nil, nil)
// when the id is unknown.
type SiteRepository interface {
	Get(ctx context.Context, id string) (*Site, error)
	ListActive(ctx context.Context) ([]*Site, error)
	Save(ctx context.Context, site *Site) error
}
