package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"auto", ModeAuto, true},
		{"0", ModeAuto, true},
		{"generic", ModeForceGeneric, true},
		{"FORCE_GENERIC_PLAN", ModeForceGeneric, true},
		{"2", ModeForceCustom, true},
		{"custom", ModeForceCustom, true},
		{"", ModeAny, true},
		{"any", ModeAny, true},
		{"3", ModeAny, false},
		{"sometimes", ModeAny, false},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrInvalidMode, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestModeValidAndMatches(t *testing.T) {
	assert.True(t, ModeAuto.Valid())
	assert.True(t, ModeForceCustom.Valid())
	assert.False(t, ModeAny.Valid())
	assert.False(t, Mode(7).Valid())

	assert.True(t, ModeForceGeneric.Matches(ModeAny))
	assert.True(t, ModeForceGeneric.Matches(ModeForceGeneric))
	assert.False(t, ModeForceGeneric.Matches(ModeAuto))
}

func TestModeTextRoundTrip(t *testing.T) {
	var m Mode
	assert.NoError(t, m.UnmarshalText([]byte("force_custom_plan")))
	assert.Equal(t, ModeForceCustom, m)

	text, err := ModeForceGeneric.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "force_generic_plan", string(text))
}
