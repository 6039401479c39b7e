package model

import (
	"regexp"
	"strconv"
	"strings"
)

// Field names a single attribute of an identified wine.
type Field string

// Wine fields. The JSON spelling matches the client payload.
const (
	FieldProducer   Field = "producer"
	FieldWineName   Field = "wineName"
	FieldVintage    Field = "vintage"
	FieldRegion     Field = "region"
	FieldCountry    Field = "country"
	FieldGrapes     Field = "grapes"
	FieldType       Field = "type"
	FieldConfidence Field = "confidence"
)

// WineFields lists the substantive wine fields in emission order.
var WineFields = []Field{
	FieldProducer,
	FieldWineName,
	FieldVintage,
	FieldRegion,
	FieldCountry,
	FieldGrapes,
	FieldType,
}

// ParseField resolves a field name, accepting snake_case spellings.
func ParseField(s string) (Field, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "producer":
		return FieldProducer, true
	case "winename", "wine_name", "name":
		return FieldWineName, true
	case "vintage":
		return FieldVintage, true
	case "region":
		return FieldRegion, true
	case "country":
		return FieldCountry, true
	case "grapes", "grape", "grape_variety":
		return FieldGrapes, true
	case "type", "wine_type":
		return FieldType, true
	}
	return "", false
}

// NonVintage marks a wine deliberately bottled without a vintage year.
const NonVintage = "NV"

var yearRe = regexp.MustCompile(`^(1[89]\d{2}|20\d{2}|2100)$`)

// NormalizeVintage canonicalizes a vintage value. It returns "NV" for the
// non-vintage spellings, a four digit year for plausible years, and "" for
// anything else.
func NormalizeVintage(s string) string {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimSuffix(v, ".0")
	switch v {
	case "":
		return ""
	case "nv", "n.v.", "n/v", "non-vintage", "non vintage", "nonvintage", "sans annee", "sans année":
		return NonVintage
	}
	if yearRe.MatchString(v) {
		return v
	}
	return ""
}

// VintageFromNumber formats a numeric vintage, rejecting out-of-range years.
func VintageFromNumber(n float64) string {
	if n != float64(int(n)) {
		return ""
	}
	return NormalizeVintage(strconv.Itoa(int(n)))
}

// Corrections maps a field to a user-supplied value. Grapes are comma separated.
type Corrections map[Field]string

// Clone returns an independent copy.
func (c Corrections) Clone() Corrections {
	if c == nil {
		return nil
	}
	out := make(Corrections, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
