package events

import "time"

// StatisticRollupCompleted is emitted after a rollup run committed at
// least one hour for a unit variable.
type StatisticRollupCompleted struct {
	UnitID        string
	Variable      string
	HoursComputed int
	GapsSkipped   int
	OccurredAt    time.Time
}

// StatisticSeriesRecomputed is emitted after an administrative
// delete-and-recompute of a unit variable's records.
type StatisticSeriesRecomputed struct {
	UnitID     string
	Variable   string
	OccurredAt time.Time
}
