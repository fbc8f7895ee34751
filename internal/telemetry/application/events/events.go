package events

import "time"

// SampleBatchReceived is raised after an ingest batch is persisted.
// BlockIDs carries the blocks whose units were touched so live-cache
// consumers can mark them dirty without re-deriving ownership.
type SampleBatchReceived struct {
	SiteID     string
	BlockIDs   []string
	UnitIDs    []string
	OccurredAt time.Time
}
