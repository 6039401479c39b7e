package identify

import (
	"fmt"
	"strings"

	"github.com/sells-group/wine-identify/internal/model"
)

const systemPrompt = `You identify wines for a cellar app. Read the user's text or label photo and
answer with exactly one JSON object and nothing else:

{"producer": "", "wineName": "", "vintage": "", "region": "", "country": "",
 "grapes": [], "type": "", "confidence": 0.0, "confidenceScale": "unit"}

Rules:
- vintage is a four digit year, or "NV" for non-vintage wines.
- type is one of red, white, rose, sparkling, dessert, fortified, orange.
- wineName is the cuvee or bottling name; leave it empty rather than repeating the producer.
- confidence is your certainty that the whole identification is right, from 0 to 1.
- Leave any field you cannot determine empty. Never invent a producer.`

const imageInstruction = "Identify the wine on this label."

// buildPrompt renders the user turn: the query, then any prior result and
// user corrections the model should respect.
func buildPrompt(req model.IdentificationRequest) string {
	var b strings.Builder
	switch {
	case req.Kind() == model.InputImage && req.Text() != "":
		fmt.Fprintf(&b, "%s\nThe user adds: %s\n", imageInstruction, req.Text())
	case req.Kind() == model.InputImage:
		b.WriteString(imageInstruction + "\n")
	default:
		fmt.Fprintf(&b, "Identify this wine: %s\n", req.Text())
	}

	if prior := req.Prior(); prior != nil {
		b.WriteString("\nA previous attempt produced:\n")
		writeFields(&b, *prior)
	}
	if c := req.Corrections(); len(c) > 0 {
		b.WriteString("\nThe user confirmed these values; keep them exactly:\n")
		for _, f := range model.WineFields {
			if v, ok := c[f]; ok && strings.TrimSpace(v) != "" {
				fmt.Fprintf(&b, "- %s: %s\n", f, v)
			}
		}
	}
	return b.String()
}

func writeFields(b *strings.Builder, r model.IdentificationResult) {
	for _, f := range model.WineFields {
		if !r.Has(f) {
			continue
		}
		v := r.Value(f)
		if gs, ok := v.([]string); ok {
			v = strings.Join(gs, ", ")
		}
		fmt.Fprintf(b, "- %s: %v\n", f, v)
	}
}
