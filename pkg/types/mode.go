package types

import (
	"fmt"
	"strings"
)

// Mode is the plan cache decision for a fingerprint.
type Mode int32

const (
	// ModeAuto lets the engine alternate between generic and custom plans.
	ModeAuto Mode = 0
	// ModeForceGeneric always reuses one generic plan.
	ModeForceGeneric Mode = 1
	// ModeForceCustom re-plans each invocation with the actual parameters.
	ModeForceCustom Mode = 2

	// ModeAny is a filter value matching every mode. It is never stored.
	ModeAny Mode = -1
)

// Valid reports whether m is one of the three storable modes.
func (m Mode) Valid() bool {
	return m == ModeAuto || m == ModeForceGeneric || m == ModeForceCustom
}

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeForceGeneric:
		return "force_generic_plan"
	case ModeForceCustom:
		return "force_custom_plan"
	case ModeAny:
		return "any"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// Matches reports whether m passes the filter f.
func (m Mode) Matches(f Mode) bool {
	return f == ModeAny || f == m
}

// ParseMode accepts the names printed by String, the short forms
// "generic"/"custom", and the numeric codes 0, 1, 2 (and -1 for any).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "0":
		return ModeAuto, nil
	case "force_generic_plan", "generic", "1":
		return ModeForceGeneric, nil
	case "force_custom_plan", "custom", "2":
		return ModeForceCustom, nil
	case "any", "", "-1":
		return ModeAny, nil
	default:
		return ModeAny, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
