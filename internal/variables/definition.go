package variables

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// Kind discriminates the closed set of variable definitions.
type Kind string

const (
	// KindLimit is a numeric variable checked against six ordered thresholds.
	KindLimit Kind = "limit"
	// KindSwitch is a boolean variable with a configured alarm polarity.
	KindSwitch Kind = "switch"
)

// IsValid reports whether the kind is known.
func (k Kind) IsValid() bool {
	switch k {
	case KindLimit, KindSwitch:
		return true
	default:
		return false
	}
}

// Limit holds the ordered thresholds of a numeric variable.
// Levels: value ≥ Highest → 3, ≥ Higher → 2, ≥ High → 1,
// ≤ Lowest → −3, ≤ Lower → −2, ≤ Low → −1, otherwise 0.
// Unlimited short-circuits every comparison to level 0.
type Limit struct {
	Lowest    float64 `yaml:"lowest"`
	Lower     float64 `yaml:"lower"`
	Low       float64 `yaml:"low"`
	High      float64 `yaml:"high"`
	Higher    float64 `yaml:"higher"`
	Highest   float64 `yaml:"highest"`
	Decimals  int     `yaml:"decimals"`
	Unlimited bool    `yaml:"unlimited"`
}

// AlarmLevel grades a reading against the thresholds.
func (l Limit) AlarmLevel(value float64) int {
	if l.Unlimited {
		return 0
	}
	switch {
	case value >= l.Highest:
		return 3
	case value >= l.Higher:
		return 2
	case value >= l.High:
		return 1
	case value <= l.Lowest:
		return -3
	case value <= l.Lower:
		return -2
	case value <= l.Low:
		return -1
	default:
		return 0
	}
}

// Format renders a limit reading with the configured decimals.
func (l Limit) Format(value float64) string {
	return strconv.FormatFloat(value, 'f', l.Decimals, 64)
}

// Switch holds the alarm polarity of a boolean variable.
// AlarmWhenOn maps true to level 3; otherwise false maps to level −3.
type Switch struct {
	AlarmWhenOn bool `yaml:"alarm_when_on"`
}

// AlarmLevel grades a boolean state against the polarity.
func (s Switch) AlarmLevel(on bool) int {
	if s.AlarmWhenOn {
		if on {
			return 3
		}
		return 0
	}
	if on {
		return 0
	}
	return -3
}

// Definition is the static metadata of one monitored variable of a
// unit class. Caption, label and tooltip may contain the {#} marker,
// replaced by the owning unit's ordinality + 1 at display time.
type Definition struct {
	Name         string `yaml:"name"`
	Caption      string `yaml:"caption"`
	Label        string `yaml:"label"`
	Tooltip      string `yaml:"tooltip"`
	Significance int    `yaml:"significance"`
	AlertEnabled bool   `yaml:"alert"`
	Kind         Kind   `yaml:"kind"`

	Limit  *Limit  `yaml:"limit,omitempty"`
	Switch *Switch `yaml:"switch,omitempty"`
}

// Validate checks definition invariants.
func (d Definition) Validate() error {
	if d.Name == "" {
		return errors.New("variables: empty name")
	}
	if !d.Kind.IsValid() {
		return errors.New("variables: unknown kind")
	}
	if d.Kind == KindLimit && d.Limit == nil {
		return errors.New("variables: limit definition without thresholds")
	}
	if d.Kind == KindSwitch && d.Switch == nil {
		return errors.New("variables: switch definition without polarity")
	}
	if d.Kind == KindLimit && !d.Limit.Unlimited {
		l := d.Limit
		if !(l.Lowest <= l.Lower && l.Lower <= l.Low && l.Low <= l.High && l.High <= l.Higher && l.Higher <= l.Highest) {
			return errors.New("variables: thresholds out of order")
		}
	}
	return nil
}

// AlarmLevel grades a raw reading. Boolean variables are carried as
// 0/1 samples; any non-zero value counts as on.
func (d Definition) AlarmLevel(value float64) int {
	switch d.Kind {
	case KindLimit:
		if d.Limit == nil {
			return 0
		}
		return d.Limit.AlarmLevel(value)
	case KindSwitch:
		if d.Switch == nil {
			return 0
		}
		return d.Switch.AlarmLevel(value != 0)
	default:
		return 0
	}
}

// ShortName resolves the display name: label, then caption, then a
// label derived from the variable name.
func (d Definition) ShortName(ordinality int) string {
	if d.Label != "" {
		return Expand(d.Label, ordinality)
	}
	if d.Caption != "" {
		return Expand(d.Caption, ordinality)
	}
	return MakeLabel(d.Name)
}

// Expand substitutes the {#} marker with ordinality + 1.
func Expand(template string, ordinality int) string {
	if !strings.Contains(template, "{#}") {
		return template
	}
	return strings.ReplaceAll(template, "{#}", strconv.Itoa(ordinality+1))
}

// MakeLabel turns a camelCase variable name into a spaced label.
func MakeLabel(name string) string {
	var b strings.Builder
	for i, r := range name {
		if i == 0 {
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		if unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
