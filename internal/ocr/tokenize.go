package ocr

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	ingredientsHeader = regexp.MustCompile(`(?i)\bingredients?\s*:`)
	sectionEnd        = regexp.MustCompile(`(?i)\b(guaranteed analysis|calorie content|feeding (guidelines|instructions)|nutritional information)\b`)
	delimiters        = regexp.MustCompile(`[,;\r\n]+`)
)

// IngredientSection returns the part of raw between an "Ingredients:" header
// and the next nutrition or feeding header. Text without a header is
// returned unchanged.
func IngredientSection(raw string) string {
	loc := ingredientsHeader.FindStringIndex(raw)
	if loc == nil {
		return raw
	}
	rest := raw[loc[1]:]
	if end := sectionEnd.FindStringIndex(rest); end != nil {
		rest = rest[:end[0]]
	}
	return rest
}

// Tokenize splits label text on commas, semicolons and newlines, then
// trims, strips edge punctuation, folds case and diacritics, drops empties
// and de-duplicates keeping the first occurrence.
func Tokenize(raw string) []string {
	// Casers and transform chains are stateful, so build them per call.
	lower := cases.Lower(language.Und)
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	parts := delimiters.Split(IngredientSection(raw), -1)
	seen := make(map[string]struct{}, len(parts))
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		tok := normalizeToken(p, lower, fold)
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}
	return tokens
}

func normalizeToken(s string, lower cases.Caser, fold transform.Transformer) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}
	s = lower.String(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
	})
	// Re-close a parenthetical whose ")" was trimmed as edge punctuation.
	if strings.Count(s, "(") > strings.Count(s, ")") {
		s += ")"
	}
	return s
}
