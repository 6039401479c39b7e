package identify

import (
	"strings"

	"github.com/sells-group/wine-identify/internal/canonical"
	"github.com/sells-group/wine-identify/internal/model"
)

// Inference names reported in inferencesApplied.
const (
	InferCountryFromRegion = "country_from_region"
	InferCorrections       = "user_corrections"
)

// regionCountries maps well-known regions (normalized) to their country.
var regionCountries = map[string]string{
	"bordeaux": "France", "burgundy": "France", "bourgogne": "France", "champagne": "France",
	"rhone": "France", "loire": "France", "alsace": "France", "beaujolais": "France",
	"margaux": "France", "pauillac": "France", "saint emilion": "France", "chablis": "France",
	"napa valley": "USA", "sonoma": "USA", "willamette valley": "USA", "paso robles": "USA",
	"santa cruz mountains": "USA", "california": "USA", "oregon": "USA", "washington": "USA",
	"tuscany": "Italy", "toscana": "Italy", "piedmont": "Italy", "piemonte": "Italy",
	"barolo": "Italy", "barbaresco": "Italy", "chianti": "Italy", "veneto": "Italy",
	"brunello di montalcino": "Italy", "etna": "Italy",
	"rioja": "Spain", "ribera del duero": "Spain", "priorat": "Spain", "rias baixas": "Spain",
	"mosel": "Germany", "rheingau": "Germany", "pfalz": "Germany", "nahe": "Germany",
	"barossa valley": "Australia", "mclaren vale": "Australia", "margaret river": "Australia",
	"hunter valley": "Australia", "coonawarra": "Australia",
	"marlborough": "New Zealand", "central otago": "New Zealand", "hawkes bay": "New Zealand",
	"mendoza": "Argentina", "salta": "Argentina",
	"douro": "Portugal", "dao": "Portugal", "alentejo": "Portugal",
	"stellenbosch": "South Africa", "swartland": "South Africa",
}

// countryForRegion looks the region up whole, then by its leading
// comma-separated part ("Pauillac, Bordeaux").
func countryForRegion(region string) (string, bool) {
	key := canonical.Normalize(region)
	if c, ok := regionCountries[key]; ok {
		return c, true
	}
	for _, part := range strings.Split(region, ",") {
		if c, ok := regionCountries[canonical.Normalize(part)]; ok {
			return c, true
		}
	}
	return "", false
}

// infer fills fields the model left empty from what is already known and
// reports which inferences applied.
func infer(r model.IdentificationResult) (model.IdentificationResult, []string) {
	var applied []string
	if !r.Has(model.FieldCountry) && r.Has(model.FieldRegion) {
		if c, ok := countryForRegion(r.Region); ok {
			r = r.With(model.FieldCountry, c)
			applied = append(applied, InferCountryFromRegion)
		}
	}
	return r, applied
}
