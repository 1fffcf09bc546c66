package policy

import (
	"fmt"
	"slices"
	"strings"
)

// Level is the severity a policy assigns to a constraint.
type Level int

const (
	// LevelIgnore records the check as information without evaluating it.
	LevelIgnore Level = iota
	// LevelInform reports a failure as information.
	LevelInform
	// LevelWarn reports a failure as a warning and continues.
	LevelWarn
	// LevelFail reports a failure and stops the chain.
	LevelFail
)

var levelNames = map[Level]string{
	LevelIgnore: "IGNORE",
	LevelInform: "INFORM",
	LevelWarn:   "WARN",
	LevelFail:   "FAIL",
}

// ParseLevel parses a level name. Names are case-insensitive and
// "INFORMATION" is accepted for INFORM.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "INFORMATION" {
		return LevelInform, nil
	}
	for level, n := range levelNames {
		if n == name {
			return level, nil
		}
	}
	return LevelFail, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

// String returns the level name.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Known reports whether l is one of the defined levels.
func (l Level) Known() bool {
	_, ok := levelNames[l]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Known() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLevel, int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	level, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// LevelConstraint is a constraint carrying only a level.
type LevelConstraint struct {
	Level Level `yaml:"level" json:"level"`
}

// NewLevelConstraint returns a constraint at level.
func NewLevelConstraint(level Level) *LevelConstraint {
	return &LevelConstraint{Level: level}
}

// AnyValue is the multi-value wildcard.
const AnyValue = "*"

// MultiValuesConstraint is a constraint accepting a set of values.
type MultiValuesConstraint struct {
	Level  Level    `yaml:"level" json:"level"`
	Values []string `yaml:"values,omitempty" json:"values,omitempty"`
}

// NewMultiValuesConstraint returns a constraint at level accepting values.
func NewMultiValuesConstraint(level Level, values ...string) *MultiValuesConstraint {
	return &MultiValuesConstraint{Level: level, Values: values}
}

// LevelConstraint returns the level part of the constraint, nil when c is nil.
func (c *MultiValuesConstraint) LevelConstraint() *LevelConstraint {
	if c == nil {
		return nil
	}
	return &LevelConstraint{Level: c.Level}
}

// AcceptsAny reports whether the wildcard is among the accepted values.
func (c *MultiValuesConstraint) AcceptsAny() bool {
	return c != nil && slices.Contains(c.Values, AnyValue)
}

// Contains reports whether value is accepted, either listed or via the wildcard.
func (c *MultiValuesConstraint) Contains(value string) bool {
	if c == nil {
		return false
	}
	return c.AcceptsAny() || slices.Contains(c.Values, value)
}

// ContainsAny reports whether one of values is accepted.
func (c *MultiValuesConstraint) ContainsAny(values []string) bool {
	for _, v := range values {
		if c.Contains(v) {
			return true
		}
	}
	return false
}
