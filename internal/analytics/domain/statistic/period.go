package statistic

import "time"

// PeriodKind is the granularity of a rollup record.
type PeriodKind string

const (
	KindHour  PeriodKind = "hour"
	KindDay   PeriodKind = "day"
	KindWeek  PeriodKind = "week"
	KindMonth PeriodKind = "month"
	KindYear  PeriodKind = "year"
)

// IsValid reports whether the kind is supported.
func (k PeriodKind) IsValid() bool {
	switch k {
	case KindHour, KindDay, KindWeek, KindMonth, KindYear:
		return true
	default:
		return false
	}
}

// Kinds lists the tiers fine to coarse.
func Kinds() []PeriodKind {
	return []PeriodKind{KindHour, KindDay, KindWeek, KindMonth, KindYear}
}

// PeriodKey scopes one record to a period. Index is the kind-specific
// ordinal: hour-of-year (0-based), day-of-year (1-based), ISO week,
// month (1-12), or 0 for a yearly record. Weekly keys carry the ISO
// week-year so a week spanning new year lands in one record.
type PeriodKey struct {
	Year  int
	Kind  PeriodKind
	Index int
}

// Validate checks key invariants.
func (k PeriodKey) Validate() error {
	if !k.Kind.IsValid() {
		return ErrInvalidKind
	}
	if k.Year < 1970 || k.Year > 9999 {
		return ErrInvalidPeriod
	}
	switch k.Kind {
	case KindHour:
		if k.Index < 0 || k.Index >= 366*24 {
			return ErrInvalidPeriod
		}
	case KindDay:
		if k.Index < 1 || k.Index > 366 {
			return ErrInvalidPeriod
		}
	case KindWeek:
		if k.Index < 1 || k.Index > 53 {
			return ErrInvalidPeriod
		}
	case KindMonth:
		if k.Index < 1 || k.Index > 12 {
			return ErrInvalidPeriod
		}
	case KindYear:
		if k.Index != 0 {
			return ErrInvalidPeriod
		}
	}
	return nil
}

// KeyFor derives the period key of a kind from a site-local instant.
func KeyFor(kind PeriodKind, local time.Time) PeriodKey {
	switch kind {
	case KindHour:
		return PeriodKey{Year: local.Year(), Kind: kind, Index: (local.YearDay()-1)*24 + local.Hour()}
	case KindDay:
		return PeriodKey{Year: local.Year(), Kind: kind, Index: local.YearDay()}
	case KindWeek:
		isoYear, isoWeek := local.ISOWeek()
		return PeriodKey{Year: isoYear, Kind: kind, Index: isoWeek}
	case KindMonth:
		return PeriodKey{Year: local.Year(), Kind: kind, Index: int(local.Month())}
	default:
		return PeriodKey{Year: local.Year(), Kind: KindYear, Index: 0}
	}
}

// Keys derives all five tier keys from a site-local instant.
func Keys(local time.Time) []PeriodKey {
	kinds := Kinds()
	keys := make([]PeriodKey, len(kinds))
	for i, kind := range kinds {
		keys[i] = KeyFor(kind, local)
	}
	return keys
}

// HourStart returns the site-local start of an hour-of-year.
func HourStart(year, hourIndex int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).
		Add(time.Duration(hourIndex) * time.Hour)
}

// NextHour advances an hour key, rolling into the next year.
func NextHour(year, hourIndex int) (int, int) {
	start := HourStart(year, hourIndex).Add(time.Hour)
	if start.Year() != year {
		return start.Year(), 0
	}
	return year, hourIndex + 1
}

// TruncateToHour floors an instant to its hour boundary.
func TruncateToHour(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}
