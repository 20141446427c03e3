package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/ppiankov/claimgate/internal/model"
)

// ClaimExtractor extracts claims about known outcomes from section text
type ClaimExtractor struct {
	rules    []Rule
	outcomes []string // lower-cased, longest first
	display  map[string]string
}

// NewClaimExtractor creates an extractor for the given outcome vocabulary
// using the default rule set
func NewClaimExtractor(outcomes []string) *ClaimExtractor {
	return NewClaimExtractorWithRules(outcomes, DefaultRules())
}

// NewClaimExtractorWithRules creates an extractor with a custom ordered rule set
func NewClaimExtractorWithRules(outcomes []string, rules []Rule) *ClaimExtractor {
	e := &ClaimExtractor{
		rules:   rules,
		display: make(map[string]string, len(outcomes)),
	}
	for _, o := range outcomes {
		key := strings.ToLower(strings.TrimSpace(o))
		if key == "" {
			continue
		}
		if _, dup := e.display[key]; dup {
			continue
		}
		e.display[key] = strings.TrimSpace(o)
		e.outcomes = append(e.outcomes, key)
	}
	// Longest name first so "tumor size reduction" wins over "tumor size"
	slices.SortStableFunc(e.outcomes, func(a, b string) int { return len(b) - len(a) })
	return e
}

// Rules returns the rule names in evaluation order
func (e *ClaimExtractor) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name
	}
	return names
}

// Claims lazily yields the claims found in one section. Sentences that
// match no rule or mention no known outcome yield nothing.
func (e *ClaimExtractor) Claims(section, text string) iter.Seq[model.Claim] {
	return func(yield func(model.Claim) bool) {
		for span := range sentences(text) {
			claim, ok := e.classify(section, text[span.Start:span.End], span)
			if !ok {
				continue
			}
			if !yield(claim) {
				return
			}
		}
	}
}

// Extract collects all claims in one section
func (e *ClaimExtractor) Extract(section, text string) []model.Claim {
	return slices.Collect(e.Claims(section, text))
}

// ManuscriptClaims lazily yields claims across all sections in document order
func (e *ClaimExtractor) ManuscriptClaims(m *model.Manuscript) iter.Seq[model.Claim] {
	return func(yield func(model.Claim) bool) {
		for _, name := range m.SectionNames() {
			for c := range e.Claims(name, m.Sections[name]) {
				if !yield(c) {
					return
				}
			}
		}
	}
}

func (e *ClaimExtractor) classify(section, sentence string, span model.TextSpan) (model.Claim, bool) {
	lower := strings.ToLower(sentence)
	outcome, at := e.findOutcome(lower)
	if outcome == "" {
		return model.Claim{}, false
	}

	view := sentenceView{
		Text:    sentence,
		Lower:   lower,
		Outcome: outcome,
		Before:  lower[:at],
		After:   lower[at+len(outcome):],
	}

	for _, rule := range e.rules {
		claim := model.Claim{}
		if !rule.Match(view, &claim) {
			continue
		}
		claim.ID = ClaimID(section, span, sentence)
		claim.Section = section
		claim.Span = span
		claim.Text = sentence
		claim.Type = rule.Type
		claim.Rule = rule.Name
		claim.ReferencedOutcomeName = e.display[outcome]
		claim.CitationKeys = citationKeys(sentence)
		return claim, true
	}
	return model.Claim{}, false
}

// findOutcome returns the longest vocabulary entry present as a whole
// phrase in lower, and its byte offset
func (e *ClaimExtractor) findOutcome(lower string) (string, int) {
	for _, o := range e.outcomes {
		from := 0
		for {
			idx := strings.Index(lower[from:], o)
			if idx < 0 {
				break
			}
			idx += from
			if isBoundary(lower, idx-1) && isBoundary(lower, idx+len(o)) {
				return o, idx
			}
			from = idx + 1
		}
	}
	return "", -1
}

func isBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_')
}

// ClaimID derives a stable claim identifier from its location and text
func ClaimID(section string, span model.TextSpan, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%s", section, span.Start, span.End, text)))
	return "clm-" + hex.EncodeToString(sum[:])[:16]
}
