package statistic

import "math"

// Statistics is a mergeable summary of a set of readings. The zero
// value is the empty summary. Merging is commutative and associative
// within floating-point tolerance, so hourly summaries can be folded
// into daily, weekly, monthly and yearly summaries incrementally
// without revisiting raw samples.
type Statistics struct {
	Count  int64
	Mean   float64
	Min    float64
	Max    float64
	StdDev float64
}

// Singleton builds the summary of one reading.
func Singleton(value float64) Statistics {
	return Statistics{Count: 1, Mean: value, Min: value, Max: value}
}

// Empty reports whether the summary covers no readings.
func (s Statistics) Empty() bool { return s.Count == 0 }

// Add folds one reading into the summary.
func (s Statistics) Add(value float64) Statistics {
	return s.Merge(Singleton(value))
}

// Merge combines two summaries using the parallel-variance formula:
// ss = sd1²·n1 + sd2²·n2 + (mean1−mean2)²·n1·n2/(n1+n2).
func (s Statistics) Merge(other Statistics) Statistics {
	if other.Count == 0 {
		return s
	}
	if s.Count == 0 {
		return other
	}
	n1 := float64(s.Count)
	n2 := float64(other.Count)
	n := n1 + n2

	mean := (s.Mean*n1 + other.Mean*n2) / n
	diff := s.Mean - other.Mean
	ss := s.StdDev*s.StdDev*n1 + other.StdDev*other.StdDev*n2 + diff*diff*n1*n2/n

	return Statistics{
		Count:  s.Count + other.Count,
		Mean:   mean,
		Min:    math.Min(s.Min, other.Min),
		Max:    math.Max(s.Max, other.Max),
		StdDev: math.Sqrt(ss / n),
	}
}
