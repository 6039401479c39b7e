package model

import (
	"slices"
	"strings"
	"time"
)

// WineType values accepted from providers.
var WineTypes = []string{"red", "white", "rose", "sparkling", "dessert", "fortified", "orange"}

// IdentificationResult is the structured outcome of a single identification.
// Values are treated as immutable; mutators return a new copy.
type IdentificationResult struct {
	Producer   string   `json:"producer,omitempty"`
	WineName   string   `json:"wineName,omitempty"`
	Vintage    string   `json:"vintage,omitempty"`
	Region     string   `json:"region,omitempty"`
	Country    string   `json:"country,omitempty"`
	Grapes     []string `json:"grapes,omitempty"`
	Type       string   `json:"type,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Clone returns a deep copy of the result.
func (r IdentificationResult) Clone() IdentificationResult {
	r.Grapes = slices.Clone(r.Grapes)
	return r
}

// Has reports whether the given field carries a value.
func (r IdentificationResult) Has(f Field) bool {
	switch f {
	case FieldProducer:
		return strings.TrimSpace(r.Producer) != ""
	case FieldWineName:
		return strings.TrimSpace(r.WineName) != ""
	case FieldVintage:
		return r.Vintage != ""
	case FieldRegion:
		return strings.TrimSpace(r.Region) != ""
	case FieldCountry:
		return strings.TrimSpace(r.Country) != ""
	case FieldGrapes:
		return len(r.Grapes) > 0
	case FieldType:
		return r.Type != ""
	case FieldConfidence:
		return true
	}
	return false
}

// Value returns the field value as emitted to clients.
func (r IdentificationResult) Value(f Field) any {
	switch f {
	case FieldProducer:
		return r.Producer
	case FieldWineName:
		return r.WineName
	case FieldVintage:
		return r.Vintage
	case FieldRegion:
		return r.Region
	case FieldCountry:
		return r.Country
	case FieldGrapes:
		return slices.Clone(r.Grapes)
	case FieldType:
		return r.Type
	case FieldConfidence:
		return r.Confidence
	}
	return nil
}

// HasCoreFields reports whether producer and wine name are both present.
func (r IdentificationResult) HasCoreFields() bool {
	return r.Has(FieldProducer) && r.Has(FieldWineName)
}

// With returns a copy with one field replaced. Unknown fields are ignored.
func (r IdentificationResult) With(f Field, value string) IdentificationResult {
	out := r.Clone()
	value = strings.TrimSpace(value)
	switch f {
	case FieldProducer:
		out.Producer = value
	case FieldWineName:
		out.WineName = value
	case FieldVintage:
		out.Vintage = NormalizeVintage(value)
	case FieldRegion:
		out.Region = value
	case FieldCountry:
		out.Country = value
	case FieldGrapes:
		out.Grapes = SplitGrapes(value)
	case FieldType:
		out.Type = NormalizeType(value)
	}
	return out
}

// WithCorrections layers user corrections over the result. Empty correction
// values are skipped so a correction never erases a known field.
func (r IdentificationResult) WithCorrections(c Corrections) IdentificationResult {
	out := r.Clone()
	for _, f := range WineFields {
		v, ok := c[f]
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		out = out.With(f, v)
	}
	return out
}

// MergeMissing fills fields absent from r with values from prior.
func (r IdentificationResult) MergeMissing(prior IdentificationResult) IdentificationResult {
	out := r.Clone()
	for _, f := range WineFields {
		if out.Has(f) || !prior.Has(f) {
			continue
		}
		switch f {
		case FieldGrapes:
			out.Grapes = slices.Clone(prior.Grapes)
		default:
			v, _ := prior.Value(f).(string)
			out = out.With(f, v)
		}
	}
	return out
}

// SplitGrapes parses a comma or slash separated grape list.
func SplitGrapes(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '/' || r == ';' })
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeType maps provider wine type spellings onto WineTypes, or "".
func NormalizeType(s string) string {
	t := strings.ToLower(strings.TrimSpace(s))
	switch t {
	case "rosé", "rosado", "rosato":
		t = "rose"
	case "champagne", "sparkling wine", "cava", "prosecco":
		t = "sparkling"
	case "sweet", "dessert wine":
		t = "dessert"
	case "port", "sherry", "fortified wine":
		t = "fortified"
	}
	if slices.Contains(WineTypes, t) {
		return t
	}
	return ""
}

// WineRecord is an identified wine persisted by the add flow.
type WineRecord struct {
	ID                string               `json:"id"`
	RequestID         string               `json:"requestId"`
	Result            IdentificationResult `json:"result"`
	CanonicalProducer string               `json:"canonicalProducer,omitempty"`
	CreatedAt         time.Time            `json:"createdAt"`
}
