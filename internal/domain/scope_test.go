package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScope(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected Scope
	}{
		{"Empty string", "", Scope{}},
		{"Read only", "r", Scope{Read: true}},
		{"Push and read", "pr", Scope{Read: true, Push: true}},
		{"Order independent", "rp", Scope{Read: true, Push: true}},
		{"All letters", "wrp", Scope{Read: true, Write: true, Push: true}},
		{"Duplicates", "rrw", Scope{Read: true, Write: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseScope(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, s)
		})
	}
}

func TestParseScope_InvalidLetters(t *testing.T) {
	for _, raw := range []string{"x", "rx", "R", "r w", "read", "prw!"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseScope(raw)
			assert.ErrorIs(t, err, ErrInvalidScope)
		})
	}
}

func TestScope_Intersect(t *testing.T) {
	requested := Scope{Read: true, Write: true, Push: true}
	allowed := Scope{Read: true, Push: false, Write: true}

	assert.Equal(t, Scope{Read: true, Write: true}, requested.Intersect(allowed))
	assert.True(t, Scope{Push: true}.Intersect(Scope{Read: true}).IsEmpty())
}

func TestScope_String(t *testing.T) {
	tests := []struct {
		scope    Scope
		expected string
	}{
		{Scope{}, ""},
		{Scope{Read: true}, "r"},
		{Scope{Read: true, Push: true}, "pr"},
		{Scope{Read: true, Write: true, Push: true}, "prw"},
		{Scope{Write: true}, "w"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.scope.String())

			parsed, err := ParseScope(tt.scope.String())
			require.NoError(t, err)
			assert.Equal(t, tt.scope, parsed)
		})
	}
}

func TestScope_Has(t *testing.T) {
	s := Scope{Read: true, Push: true}
	assert.True(t, s.Has('r'))
	assert.True(t, s.Has('p'))
	assert.False(t, s.Has('w'))
	assert.False(t, s.Has('x'))
}
