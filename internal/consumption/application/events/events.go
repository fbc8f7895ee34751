package events

import "time"

// ConsumptionRollupCompleted is published after a block rollup run
// that produced at least one new hourly tier.
type ConsumptionRollupCompleted struct {
	Resource      int       `json:"resource"`
	BlockID       string    `json:"block_id"`
	SiteID        string    `json:"site_id"`
	HoursComputed int       `json:"hours_computed"`
	GapsSkipped   int       `json:"gaps_skipped"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ConsumptionHourRemoved is published after an hourly record was
// administratively removed and the coarser tiers corrected.
type ConsumptionHourRemoved struct {
	Resource   int       `json:"resource"`
	ItemID     string    `json:"item_id"`
	BlockID    string    `json:"block_id"`
	Year       int       `json:"year"`
	HourIndex  int       `json:"hour_index"`
	OccurredAt time.Time `json:"occurred_at"`
}
