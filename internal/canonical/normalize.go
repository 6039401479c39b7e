// Package canonical resolves producer name variants to a single canonical
// identity.
package canonical

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ligatures are folded before diacritic removal since NFD does not split them.
var ligatures = strings.NewReplacer(
	"œ", "oe", "Œ", "oe",
	"æ", "ae", "Æ", "ae",
	"ß", "ss",
	"&", " and ",
)

// Normalize folds a name for matching:
//  1. Folding ligatures and diacritics (Château → chateau)
//  2. Lowercasing
//  3. Dropping apostrophes and turning other punctuation into spaces
//  4. Collapsing whitespace
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	name = ligatures.Replace(name)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, name); err == nil {
		name = folded
	}
	name = strings.ToLower(name)

	name = strings.Map(func(r rune) rune {
		switch {
		case r == '\'' || r == '’' || r == '`':
			return -1
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return r
		default:
			return ' '
		}
	}, name)

	return strings.Join(strings.Fields(name), " ")
}

// abbreviations maps normalized tokens to their expansion. Every entry is a
// token that never stands alone as a word in a producer name.
var abbreviations = map[string]string{
	"ch":   "chateau",
	"chat": "chateau",
	"cht":  "chateau",
	"chx":  "chateaux",
	"dne":  "domaine",
	"st":   "saint",
	"ste":  "sainte",
	"mt":   "mount",
	"mtn":  "mountain",
	"wy":   "winery",
	"wnry": "winery",
	"vyd":  "vineyard",
	"vyds": "vineyards",
	"wg":   "weingut",
	"cie":  "compagnie",
	"bros": "brothers",
}

// dottedAbbreviations are also real words ("Dom Pérignon", "Ten Minutes by
// Tractor"), so they expand only when written with a trailing period.
var dottedAbbreviations = map[string]string{
	"dom":  "domaine",
	"bod":  "bodegas",
	"cant": "cantina",
	"cast": "castello",
	"ten":  "tenuta",
	"fam":  "famille",
}

// Expand replaces abbreviated tokens in a normalized name.
func Expand(normalized string) string {
	tokens := strings.Fields(normalized)
	for i, tok := range tokens {
		if full, ok := abbreviations[tok]; ok {
			tokens[i] = full
		}
	}
	return strings.Join(tokens, " ")
}

// Key returns the normalized, abbreviation-expanded form of name. Words
// ending in a period may also expand through dottedAbbreviations.
func Key(name string) string {
	var tokens []string
	for _, word := range strings.Fields(name) {
		toks := strings.Fields(Normalize(word))
		if len(toks) == 0 {
			continue
		}
		if strings.HasSuffix(word, ".") {
			last := len(toks) - 1
			if full, ok := dottedAbbreviations[toks[last]]; ok {
				toks[last] = full
			}
		}
		tokens = append(tokens, toks...)
	}
	return Expand(strings.Join(tokens, " "))
}
