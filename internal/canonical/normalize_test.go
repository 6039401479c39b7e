package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Château Margaux", "chateau margaux"},
		{"  CHATEAU   MARGAUX ", "chateau margaux"},
		{"Domaine de la Romanée-Conti", "domaine de la romanee conti"},
		{"Moët & Chandon", "moet and chandon"},
		{"L'Ermita", "lermita"},
		{"Cœur de Terroir", "coeur de terroir"},
		{"Weingut Müller-Catoir", "weingut muller catoir"},
		{"Ch. Margaux", "ch margaux"},
		{"", ""},
		{"  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestKey_ExpandsAbbreviations(t *testing.T) {
	assert.Equal(t, "chateau margaux", Key("Ch. Margaux"))
	assert.Equal(t, Key("Château Margaux"), Key("Ch. Margaux"))
	assert.Equal(t, "domaine leflaive", Key("Dom. Leflaive"))
	assert.Equal(t, "saint emilion", Key("St-Émilion"))
	assert.Equal(t, "ridge vineyards monte bello", Key("Ridge Vyds Monte Bello"))
}

func TestKey_AmbiguousAbbreviationsNeedPeriod(t *testing.T) {
	assert.Equal(t, "ten minutes by tractor", Key("Ten Minutes by Tractor"))
	assert.Equal(t, "cast iron cellars", Key("Cast Iron Cellars"))
	assert.Equal(t, "dom perignon", Key("Dom Pérignon"))
	assert.Equal(t, "cant mayer", Key("Cant Mayer"))

	assert.Equal(t, "tenuta san guido", Key("Ten. San Guido"))
	assert.Equal(t, "castello banfi", Key("Cast. Banfi"))
	assert.Equal(t, "bodegas muga", Key("Bod. Muga"))
}

func TestExpand_OnlyWholeTokens(t *testing.T) {
	// "chapel" starts with "ch" but is not an abbreviation.
	assert.Equal(t, "chapel down", Expand("chapel down"))
}
