package score

import "github.com/ppiankov/claimgate/internal/model"

// Band thresholds are closed lower bounds
const (
	VerifiedThreshold = 0.85
	WarningThreshold  = 0.60
)

// Band classifies a similarity score
func Band(score float64) model.Band {
	switch {
	case score >= VerifiedThreshold:
		return model.BandVerified
	case score >= WarningThreshold:
		return model.BandWarning
	default:
		return model.BandMismatch
	}
}

// OverallStatus merges the two checks. It depends only on the internal
// status and the similarity score.
func OverallStatus(internal model.InternalCheck, external model.ExternalCheck) model.OverallStatus {
	if internal.Status == model.InternalConflict {
		return model.StatusConflict
	}
	switch Band(external.SimilarityScore) {
	case model.BandMismatch:
		return model.StatusConflict
	case model.BandWarning:
		return model.StatusPartial
	default:
		return model.StatusVerified
	}
}
