package similarity

import (
	"context"
	"math"
	"strings"
	"unicode"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true, "in": true,
	"on": true, "to": true, "for": true, "with": true, "by": true, "at": true, "from": true,
	"was": true, "were": true, "is": true, "are": true, "be": true, "been": true, "this": true,
	"that": true, "these": true, "those": true, "as": true, "it": true, "its": true, "we": true,
	"our": true, "their": true, "which": true, "than": true, "between": true,
}

// TokenCosine is cosine similarity over term-frequency vectors of
// lower-cased, stop-word-filtered tokens
type TokenCosine struct{}

// NewTokenCosine creates a token cosine scorer
func NewTokenCosine() *TokenCosine {
	return &TokenCosine{}
}

// Name returns the method name
func (TokenCosine) Name() string {
	return "token-cosine"
}

// Score never fails
func (TokenCosine) Score(_ context.Context, a, b string) (float64, error) {
	return CosineTokens(a, b), nil
}

// CosineTokens returns the token cosine similarity of a and b
func CosineTokens(a, b string) float64 {
	va, vb := termFrequencies(a), termFrequencies(b)
	if len(va) == 0 || len(vb) == 0 {
		return 0
	}

	var dot, na, nb float64
	for term, x := range va {
		na += x * x
		if y, ok := vb[term]; ok {
			dot += x * y
		}
	}
	for _, y := range vb {
		nb += y * y
	}

	return clamp01(round9(dot / (math.Sqrt(na) * math.Sqrt(nb))))
}

// round9 drops floating point noise so identical texts score exactly 1
func round9(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

func termFrequencies(text string) map[string]float64 {
	tf := make(map[string]float64)
	for _, tok := range Tokenize(text) {
		tf[tok]++
	}
	return tf
}

// Tokenize splits text into lower-cased word tokens without stop words.
// Decimal numbers such as 0.03 stay whole.
func Tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder

	flush := func() {
		tok := strings.Trim(cur.String(), ".")
		cur.Reset()
		if tok == "" || stopWords[tok] {
			return
		}
		tokens = append(tokens, tok)
	}

	runes := []rune(strings.ToLower(text))
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		case r == '.' && cur.Len() > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i+1]):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
