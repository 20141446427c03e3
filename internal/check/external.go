package check

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/score"
	"github.com/ppiankov/claimgate/internal/similarity"
)

const maxSnippetRunes = 280

// ExternalVerifier scores a claim against its candidate excerpts
type ExternalVerifier struct {
	scorer similarity.Scorer
}

// NewExternalVerifier creates a verifier; nil scorer uses token cosine
func NewExternalVerifier(scorer similarity.Scorer) *ExternalVerifier {
	if scorer == nil {
		scorer = similarity.NewTokenCosine()
	}
	return &ExternalVerifier{scorer: scorer}
}

// Method names the scoring method
func (v *ExternalVerifier) Method() string {
	return v.scorer.Name()
}

// Check keeps the highest-scoring excerpt; the earliest wins ties. With no
// candidates the score is 0 and the snippet empty.
func (v *ExternalVerifier) Check(ctx context.Context, claim model.Claim, excerpts []model.Excerpt) (model.ExternalCheck, error) {
	result := model.ExternalCheck{
		Method:         v.scorer.Name(),
		CandidateCount: len(excerpts),
	}

	best := -1
	bestScore := 0.0
	for i, ex := range excerpts {
		if err := ctx.Err(); err != nil {
			return model.ExternalCheck{}, err
		}
		s, err := v.scorer.Score(ctx, claim.Text, ex.Text)
		if err != nil {
			return model.ExternalCheck{}, fmt.Errorf("score excerpt %q: %w", ex.Identifier, err)
		}
		if best < 0 || s > bestScore {
			best, bestScore = i, s
		}
	}

	if best >= 0 {
		ex := excerpts[best]
		result.SimilarityScore = bestScore
		result.SourceSnippet = Snippet(ex.Text)
		result.SourceTitle = ex.Title
		result.SourceIdentifier = ex.Identifier
		if ex.Authority != model.TierUnknown {
			result.SourceAuthority = ex.Authority.String()
		}
	}
	result.Band = score.Band(result.SimilarityScore)
	return result, nil
}

// Snippet collapses whitespace and truncates to a display length
func Snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxSnippetRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxSnippetRunes])) + "…"
}
