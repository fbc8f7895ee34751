package statistic

import "errors"

var (
	// ErrInvalidKind is returned when a period kind is unsupported.
	ErrInvalidKind = errors.New("statistic: invalid period kind")
	// ErrInvalidPeriod is returned when a period key is malformed.
	ErrInvalidPeriod = errors.New("statistic: invalid period")
)
