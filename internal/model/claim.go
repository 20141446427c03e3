package model

// Claim represents a sentence-level assertion about a statistical outcome
type Claim struct {
	ID                    string    `json:"id"`
	Section               string    `json:"section"`
	Span                  TextSpan  `json:"text_span"`
	Text                  string    `json:"claim_text"`
	Type                  ClaimType `json:"claim_type"`
	ReferencedOutcomeName string    `json:"referenced_outcome_name"`
	Rule                  string    `json:"rule,omitempty"` // Which extraction rule matched (e.g., "negated-significance")

	// AssertsSignificance is set for significance claims only
	AssertsSignificance bool `json:"asserts_significance,omitempty"`

	// Value is the number the claim states, if any (magnitude claims)
	Value *float64 `json:"value,omitempty"`

	// CitationKeys are the [key] markers found in the sentence
	CitationKeys []string `json:"citation_keys,omitempty"`
}

// TextSpan is a half-open byte range [Start, End) into the section text
type TextSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ClaimType categorizes the nature of the claim
type ClaimType string

const (
	ClaimTypeSignificance       ClaimType = "significance"        // Asserts (non-)significance of an outcome
	ClaimTypeMagnitude          ClaimType = "magnitude"           // States a numeric value for an outcome
	ClaimTypeOutcomeDescription ClaimType = "outcome-description" // Describes a change in an outcome
)

// Valid reports whether t is a known claim type
func (t ClaimType) Valid() bool {
	switch t {
	case ClaimTypeSignificance, ClaimTypeMagnitude, ClaimTypeOutcomeDescription:
		return true
	}
	return false
}
