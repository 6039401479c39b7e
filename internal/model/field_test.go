package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeVintage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"2019", "2019"},
		{" 1982 ", "1982"},
		{"2019.0", "2019"},
		{"NV", NonVintage},
		{"n.v.", NonVintage},
		{"Non-Vintage", NonVintage},
		{"1700", ""},
		{"2200", ""},
		{"nineteen", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeVintage(tt.in), "input %q", tt.in)
	}
}

func TestVintageFromNumber(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2015", VintageFromNumber(2015))
	assert.Empty(t, VintageFromNumber(2015.5))
	assert.Empty(t, VintageFromNumber(15))
}

func TestParseField(t *testing.T) {
	t.Parallel()

	f, ok := ParseField("wine_name")
	assert.True(t, ok)
	assert.Equal(t, FieldWineName, f)

	f, ok = ParseField("Grape")
	assert.True(t, ok)
	assert.Equal(t, FieldGrapes, f)

	_, ok = ParseField("price")
	assert.False(t, ok)
}

func TestParseActionKind(t *testing.T) {
	t.Parallel()

	k, ok := ParseActionKind("escalate")
	assert.True(t, ok)
	assert.Equal(t, ActionEscalate, k)

	k, ok = ParseActionKind("try_harder")
	assert.True(t, ok)
	assert.Equal(t, ActionEscalate, k)

	k, ok = ParseActionKind(" Add_Wine ")
	assert.True(t, ok)
	assert.Equal(t, ActionAddToCellar, k)

	_, ok = ParseActionKind("launch_rockets")
	assert.False(t, ok)
}

func TestActionAliasesTargetCanonicalKinds(t *testing.T) {
	t.Parallel()

	for alias, kind := range actionAliases {
		assert.Contains(t, ActionKinds, kind, "alias %q", alias)
	}
}
