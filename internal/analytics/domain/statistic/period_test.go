package statistic_test

import (
	"testing"
	"time"

	"telemetry-cloud/internal/analytics/domain/statistic"
)

func TestKeyForHour(t *testing.T) {
	cases := []struct {
		local     time.Time
		wantYear  int
		wantIndex int
	}{
		{time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), 2024, 0},
		{time.Date(2024, time.January, 1, 23, 0, 0, 0, time.UTC), 2024, 23},
		{time.Date(2024, time.February, 1, 5, 0, 0, 0, time.UTC), 2024, 31*24 + 5},
		// Leap year: Dec 31 is day 366.
		{time.Date(2024, time.December, 31, 23, 0, 0, 0, time.UTC), 2024, 365*24 + 23},
		{time.Date(2023, time.December, 31, 23, 0, 0, 0, time.UTC), 2023, 364*24 + 23},
	}
	for _, tc := range cases {
		key := statistic.KeyFor(statistic.KindHour, tc.local)
		if key.Year != tc.wantYear || key.Index != tc.wantIndex {
			t.Errorf("KeyFor(hour, %v) = %d/%d, want %d/%d", tc.local, key.Year, key.Index, tc.wantYear, tc.wantIndex)
		}
		if got := statistic.HourStart(key.Year, key.Index); !got.Equal(tc.local) {
			t.Errorf("HourStart(%d, %d) = %v, want %v", key.Year, key.Index, got, tc.local)
		}
	}
}

func TestKeyForWeekUsesISOWeekYear(t *testing.T) {
	// 2024-12-30 falls in ISO week 1 of 2025.
	key := statistic.KeyFor(statistic.KindWeek, time.Date(2024, time.December, 30, 10, 0, 0, 0, time.UTC))
	if key.Year != 2025 || key.Index != 1 {
		t.Fatalf("week key = %d/%d, want 2025/1", key.Year, key.Index)
	}
	// 2027-01-01 falls in ISO week 53 of 2026.
	key = statistic.KeyFor(statistic.KindWeek, time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC))
	if key.Year != 2026 || key.Index != 53 {
		t.Fatalf("week key = %d/%d, want 2026/53", key.Year, key.Index)
	}
}

func TestKeysCoverAllTiers(t *testing.T) {
	local := time.Date(2024, time.March, 15, 14, 0, 0, 0, time.UTC)
	keys := statistic.Keys(local)
	if len(keys) != 5 {
		t.Fatalf("got %d keys, want 5", len(keys))
	}
	want := map[statistic.PeriodKind]int{
		statistic.KindHour:  (75-1)*24 + 14,
		statistic.KindDay:   75,
		statistic.KindWeek:  11,
		statistic.KindMonth: 3,
		statistic.KindYear:  0,
	}
	for _, key := range keys {
		if err := key.Validate(); err != nil {
			t.Fatalf("key %v invalid: %v", key, err)
		}
		if key.Index != want[key.Kind] {
			t.Errorf("%s index = %d, want %d", key.Kind, key.Index, want[key.Kind])
		}
	}
}

func TestNextHourRollsIntoNextYear(t *testing.T) {
	year, hour := statistic.NextHour(2023, 364*24+23)
	if year != 2024 || hour != 0 {
		t.Fatalf("after last hour of 2023: got %d/%d, want 2024/0", year, hour)
	}
	year, hour = statistic.NextHour(2024, 41)
	if year != 2024 || hour != 42 {
		t.Fatalf("mid-year advance: got %d/%d, want 2024/42", year, hour)
	}
}

func TestPeriodKeyValidate(t *testing.T) {
	bad := []statistic.PeriodKey{
		{Year: 2024, Kind: "century", Index: 0},
		{Year: 1700, Kind: statistic.KindHour, Index: 0},
		{Year: 2024, Kind: statistic.KindHour, Index: 366 * 24},
		{Year: 2024, Kind: statistic.KindDay, Index: 0},
		{Year: 2024, Kind: statistic.KindWeek, Index: 54},
		{Year: 2024, Kind: statistic.KindMonth, Index: 13},
		{Year: 2024, Kind: statistic.KindYear, Index: 1},
	}
	for _, key := range bad {
		if err := key.Validate(); err == nil {
			t.Errorf("key %v validated", key)
		}
	}
	good := statistic.PeriodKey{Year: 2024, Kind: statistic.KindDay, Index: 366}
	if err := good.Validate(); err != nil {
		t.Errorf("key %v rejected: %v", good, err)
	}
}
