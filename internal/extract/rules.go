package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ppiankov/claimgate/internal/model"
)

// Rule is one predicate/handler pair. Rules are evaluated in registration
// order and the first rule whose Match returns true decides the claim type.
type Rule struct {
	Name string
	Type model.ClaimType

	// Match inspects a lower-cased sentence that mentions outcome and fills
	// the rule-specific claim fields. It must not touch ID, span or text.
	Match func(s sentenceView, c *model.Claim) bool
}

// sentenceView is what a rule sees of a sentence
type sentenceView struct {
	Text    string // Original text
	Lower   string // Lower-cased text
	Outcome string // Lower-cased outcome name found in the sentence
	Before  string // Lower-cased text preceding the outcome mention
	After   string // Lower-cased text following the outcome mention
}

var (
	negatedSignificancePhrases = []string{
		"not statistically significant", "not significant", "non-significant", "nonsignificant",
		"insignificant", "no significant", "no statistically significant", "did not differ",
		"did not significantly", "was not significantly", "were not significantly",
		"failed to reach significance", "did not reach significance", "not reach statistical significance",
	}

	significancePhrases = []string{
		"statistically significant", "significantly", "significant",
	}

	changeVerbs = []string{
		"reduced", "reduction", "increased", "increase", "improved", "improvement",
		"decreased", "decrease", "declined", "differed", "changed", "rose", "fell",
		"was higher", "was lower", "were higher", "were lower",
	}

	pValuePattern     = regexp.MustCompile(`\bp\s*(<=|>=|=|<|>|≤|≥)\s*(0?\.\d+|[01](?:\.\d+)?)`)
	sampleSizePattern = regexp.MustCompile(`\bn\s*=\s*\d+`)
	citationPattern   = regexp.MustCompile(`\[([^\[\]]+)\]`)
	intervalPattern   = regexp.MustCompile(`\b(?:95%\s*)?ci\b[^;)]*`)

	// A reported value is tied to the outcome by a comparator word, an
	// equals sign, or by following the outcome name directly
	comparatorPattern = regexp.MustCompile(
		`(?:\b(?:by|of|was|were|to|reached|averaged)\s+(?:(?:a|an|approximately|about|around|roughly|nearly)\s+)?|=\s*|^[\s,:]*)` +
			`(-?\d+(?:\.\d+)?)\s*(%|[a-z]+)?`)

	// Units that make a number a count or a time point, not an effect
	countUnits = map[string]bool{
		"second": true, "seconds": true, "minute": true, "minutes": true, "hour": true, "hours": true,
		"day": true, "days": true, "week": true, "weeks": true, "month": true, "months": true,
		"year": true, "years": true, "mg": true, "g": true, "kg": true, "ml": true, "mcg": true,
		"patient": true, "patients": true, "participant": true, "participants": true,
		"subject": true, "subjects": true, "site": true, "sites": true, "centre": true, "centres": true,
		"center": true, "centers": true, "visit": true, "visits": true, "dose": true, "doses": true,
		"cycle": true, "cycles": true, "session": true, "sessions": true,
	}
)

// maxComparatorGap is how many words may sit between the outcome name and
// the comparator introducing its value
const maxComparatorGap = 4

// DefaultRules returns the built-in ordered rule set
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "negated-significance",
			Type: model.ClaimTypeSignificance,
			Match: func(s sentenceView, c *model.Claim) bool {
				if !containsAny(s.Lower, negatedSignificancePhrases) {
					return false
				}
				c.AssertsSignificance = false
				return true
			},
		},
		{
			Name: "significance",
			Type: model.ClaimTypeSignificance,
			Match: func(s sentenceView, c *model.Claim) bool {
				if !containsAny(s.Lower, significancePhrases) {
					return false
				}
				c.AssertsSignificance = true
				return true
			},
		},
		{
			Name: "reported-p-value",
			Type: model.ClaimTypeSignificance,
			Match: func(s sentenceView, c *model.Claim) bool {
				m := pValuePattern.FindStringSubmatch(s.Lower)
				if m == nil {
					return false
				}
				p, err := strconv.ParseFloat(m[2], 64)
				if err != nil {
					return false
				}
				// "p < 0.05" and "p = 0.01" assert significance; "p > 0.05" and "p = 0.2" do not
				switch m[1] {
				case ">", ">=", "≥":
					c.AssertsSignificance = false
				default:
					c.AssertsSignificance = p < 0.05 || (p == 0.05 && (m[1] == "<" || m[1] == "≤"))
				}
				c.Value = &p
				return true
			},
		},
		{
			Name: "numeric-comparator",
			Type: model.ClaimTypeMagnitude,
			Match: func(s sentenceView, c *model.Claim) bool {
				v, ok := comparatorValue(s.After)
				if !ok {
					return false
				}
				c.Value = &v
				return true
			},
		},
		{
			Name: "outcome-mention",
			Type: model.ClaimTypeOutcomeDescription,
			Match: func(s sentenceView, c *model.Claim) bool {
				return containsAny(s.Before+" "+s.After, changeVerbs)
			},
		},
	}
}

// comparatorValue returns the value a comparator ties to the outcome
// mention at the start of text. P-values, sample sizes, confidence
// intervals and citation markers never count, and neither do numbers
// carrying a count or time unit.
func comparatorValue(text string) (float64, bool) {
	cleaned := citationPattern.ReplaceAllString(text, " ")
	cleaned = pValuePattern.ReplaceAllString(cleaned, " ")
	cleaned = sampleSizePattern.ReplaceAllString(cleaned, " ")
	cleaned = intervalPattern.ReplaceAllString(cleaned, " ")

	for _, m := range comparatorPattern.FindAllStringSubmatchIndex(cleaned, -1) {
		if len(strings.Fields(cleaned[:m[0]])) > maxComparatorGap {
			break
		}
		if m[4] >= 0 && countUnits[cleaned[m[4]:m[5]]] {
			continue
		}
		v, err := strconv.ParseFloat(cleaned[m[2]:m[3]], 64)
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}

// citationKeys returns the keys of all [key] markers in text, in order
func citationKeys(text string) []string {
	var keys []string
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.FieldsFunc(m[1], func(r rune) bool { return r == ',' || r == ';' }) {
			if key := strings.TrimSpace(part); key != "" {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
