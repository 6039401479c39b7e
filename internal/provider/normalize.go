package provider

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/resilience"
	"github.com/sells-group/wine-identify/internal/scorer"
)

// ExtractJSON returns the outermost JSON object in text, tolerating code
// fences and surrounding prose.
func ExtractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", resilience.Errorf(resilience.KindServerError, "provider: no JSON object in response")
	}
	return s[start : end+1], nil
}

// DecodeJSON extracts and unmarshals a JSON object from a completion.
func DecodeJSON[T any](text string) (T, error) {
	var out T
	raw, err := ExtractJSON(text)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, resilience.NewError(resilience.KindServerError, eris.Wrap(err, "provider: decode response"))
	}
	return out, nil
}

// Decoded is a normalized identification response.
type Decoded struct {
	Result model.IdentificationResult
	// Reported is the raw model confidence, nil when absent.
	Reported *float64
	// Scale is the scale the response declared, if any.
	Scale scorer.Scale
}

// rawIdentification accepts the spellings providers drift between.
type rawIdentification struct {
	Producer        string          `json:"producer"`
	WineName        string          `json:"wineName"`
	WineNameSnake   string          `json:"wine_name"`
	Vintage         json.RawMessage `json:"vintage"`
	Region          string          `json:"region"`
	Country         string          `json:"country"`
	Grapes          json.RawMessage `json:"grapes"`
	Type            string          `json:"type"`
	WineType        string          `json:"wineType"`
	Confidence      json.RawMessage `json:"confidence"`
	ConfidenceScale string          `json:"confidenceScale"`
}

// DecodeIdentification parses a provider's identification JSON.
func DecodeIdentification(text string) (*Decoded, error) {
	raw, err := DecodeJSON[rawIdentification](text)
	if err != nil {
		return nil, err
	}

	r := model.IdentificationResult{
		Producer: strings.TrimSpace(raw.Producer),
		WineName: strings.TrimSpace(firstNonEmpty(raw.WineName, raw.WineNameSnake)),
		Vintage:  decodeVintage(raw.Vintage),
		Region:   strings.TrimSpace(raw.Region),
		Country:  strings.TrimSpace(raw.Country),
		Grapes:   decodeGrapes(raw.Grapes),
		Type:     model.NormalizeType(firstNonEmpty(raw.Type, raw.WineType)),
	}
	out := &Decoded{Result: r}

	if scale, err := scorer.ParseScale(raw.ConfidenceScale); err == nil {
		out.Scale = scale
	}
	if v, percent, ok := decodeConfidence(raw.Confidence); ok {
		out.Reported = &v
		if percent {
			out.Scale = scorer.ScalePercent
		}
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func decodeVintage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return model.VintageFromNumber(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return model.NormalizeVintage(s)
	}
	return ""
}

func decodeGrapes(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		var out []string
		for _, g := range list {
			if g = strings.TrimSpace(g); g != "" {
				out = append(out, g)
			}
		}
		return out
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return model.SplitGrapes(s)
	}
	return nil
}

// decodeConfidence reads a number, a numeric string, or "85%".
func decodeConfidence(raw json.RawMessage) (v float64, percent, ok bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false, false
	}
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, false, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false, false
	}
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		percent = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, false
	}
	return v, percent, true
}
