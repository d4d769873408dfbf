package nutrition

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/petscan/internal/model"
)

// number matches "26", "26.5", "4,5" and "3,620". A comma followed by one
// or two digits is a decimal comma; groups of three are thousands.
const number = `(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+|,\d{1,2}\b)?)`

var (
	percentFields = []struct {
		re  *regexp.Regexp
		set func(f *model.NutrientFacts, v float64)
	}{
		{regexp.MustCompile(`(?i)crude\s+protein[^0-9\n]*` + number + `\s*%`), func(f *model.NutrientFacts, v float64) { f.ProteinPercent = model.Float(v) }},
		{regexp.MustCompile(`(?i)crude\s+fat[^0-9\n]*` + number + `\s*%`), func(f *model.NutrientFacts, v float64) { f.FatPercent = model.Float(v) }},
		{regexp.MustCompile(`(?i)crude\s+fib(?:er|re)[^0-9\n]*` + number + `\s*%`), func(f *model.NutrientFacts, v float64) { f.FiberPercent = model.Float(v) }},
		{regexp.MustCompile(`(?i)moisture[^0-9\n]*` + number + `\s*%`), func(f *model.NutrientFacts, v float64) { f.MoisturePercent = model.Float(v) }},
		{regexp.MustCompile(`(?i)\bash[^0-9\n]*` + number + `\s*%`), func(f *model.NutrientFacts, v float64) { f.AshPercent = model.Float(v) }},
		{regexp.MustCompile(`(?i)calcium[^0-9\n]*` + number + `\s*%`), func(f *model.NutrientFacts, v float64) { f.CalciumPercent = model.Float(v) }},
		{regexp.MustCompile(`(?i)phosphorus[^0-9\n]*` + number + `\s*%`), func(f *model.NutrientFacts, v float64) { f.PhosphorusPercent = model.Float(v) }},
	}

	kcalPerServing = regexp.MustCompile(`(?i)` + number + `\s*kcal\s*(?:/|per)\s*(?:serving|cup|can)`)
	kcalPerKg      = regexp.MustCompile(`(?i)` + number + `\s*kcal\s*(?:/|per)\s*kg\b`)
	servingSize    = regexp.MustCompile(`(?i)serving\s+size[^\n]*?` + number + `\s*g\b`)
)

// ParseLabel reads guaranteed-analysis values from raw label text. Fields
// the label does not state are left nil.
func ParseLabel(raw string) model.NutrientFacts {
	var f model.NutrientFacts
	for _, pf := range percentFields {
		if v, ok := findNumber(pf.re, raw); ok {
			pf.set(&f, v)
		}
	}
	if v, ok := findNumber(kcalPerServing, raw); ok {
		f.CaloriesPerServing = model.Float(v)
	}
	if v, ok := findNumber(kcalPerKg, raw); ok {
		f.CaloriesPerKg = model.Float(v)
	}
	if v, ok := findNumber(servingSize, raw); ok {
		f.ServingSizeG = model.Float(v)
	}
	return f
}

func findNumber(re *regexp.Regexp, s string) (float64, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(normalizeNumber(m[1]), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// normalizeNumber rewrites a matched number in ParseFloat syntax.
func normalizeNumber(s string) string {
	i := strings.LastIndexByte(s, ',')
	if i < 0 {
		return s
	}
	if frac := s[i+1:]; len(frac) <= 2 {
		return s[:i] + "." + frac
	}
	return strings.ReplaceAll(s, ",", "")
}
