// Package check compares extracted claims with the statistical manifest
// and with cited source excerpts. Neither checker returns an error for a
// claim it cannot match; that is reported on the result.
package check

import (
	"math"
	"strconv"

	"github.com/ppiankov/claimgate/internal/model"
)

// SignificanceLevel is the p-value below which a result is significant
const SignificanceLevel = 0.05

// DefaultTolerancePercent bounds magnitude deviation before a conflict
const DefaultTolerancePercent = 10.0

// InternalChecker compares claims against manifest entries
type InternalChecker struct {
	tolerance float64
}

// NewInternalChecker creates a checker; tolerance <= 0 uses the default
func NewInternalChecker(tolerancePercent float64) *InternalChecker {
	if tolerancePercent <= 0 {
		tolerancePercent = DefaultTolerancePercent
	}
	return &InternalChecker{tolerance: tolerancePercent}
}

// Tolerance returns the magnitude tolerance in percent
func (c *InternalChecker) Tolerance() float64 {
	return c.tolerance
}

// Check finds the entry for the claim's outcome and applies the rule for
// the claim type
func (c *InternalChecker) Check(claim model.Claim, entries []model.ManifestEntry) model.InternalCheck {
	entry, ok := model.LookupOutcome(entries, claim.ReferencedOutcomeName)
	if !ok {
		err := &model.MalformedClaimError{ClaimID: claim.ID, Outcome: claim.ReferencedOutcomeName}
		return model.InternalCheck{Status: model.InternalNotApplicable, Reason: err.Error()}
	}

	switch claim.Type {
	case model.ClaimTypeSignificance:
		return c.checkSignificance(claim, entry)
	case model.ClaimTypeMagnitude:
		return c.checkMagnitude(claim, entry)
	default:
		return model.InternalCheck{
			Status:           model.InternalVerified,
			ManifestVariable: entry.OutcomeName,
			Reason:           "outcome present in manifest",
		}
	}
}

func (c *InternalChecker) checkSignificance(claim model.Claim, entry model.ManifestEntry) model.InternalCheck {
	result := model.InternalCheck{
		ManifestVariable: entry.OutcomeName,
		ValueInClaim:     assertion(claim.AssertsSignificance),
	}

	p, ok := entry.PValue.Get()
	if !ok {
		result.Status = model.InternalNotApplicable
		result.Reason = "manifest has no p-value for this outcome"
		return result
	}
	result.ValueInManifest = "p=" + formatFloat(p)

	if claim.AssertsSignificance == (p < SignificanceLevel) {
		result.Status = model.InternalVerified
		result.DeviationPercent = percent(0)
		return result
	}

	result.Status = model.InternalConflict
	result.DeviationPercent = percent(100)
	if claim.AssertsSignificance {
		result.Reason = "claim asserts significance but manifest p >= 0.05"
	} else {
		result.Reason = "claim asserts no significance but manifest p < 0.05"
	}
	return result
}

func (c *InternalChecker) checkMagnitude(claim model.Claim, entry model.ManifestEntry) model.InternalCheck {
	result := model.InternalCheck{ManifestVariable: entry.OutcomeName}

	expected, ok := entry.EffectSize.Get()
	if !ok {
		result.Status = model.InternalNotApplicable
		result.Reason = "manifest has no effect size for this outcome"
		return result
	}
	result.ValueInManifest = formatFloat(expected)

	if claim.Value == nil {
		result.Status = model.InternalNotApplicable
		result.Reason = "claim states no numeric value"
		return result
	}
	result.ValueInClaim = formatFloat(*claim.Value)

	dev := Deviation(*claim.Value, expected)
	result.DeviationPercent = percent(dev)
	if dev > c.tolerance {
		result.Status = model.InternalConflict
		result.Reason = "deviation " + formatFloat(dev) + "% exceeds tolerance " + formatFloat(c.tolerance) + "%"
		return result
	}
	result.Status = model.InternalVerified
	return result
}

// Deviation returns |claimed - expected| / |expected| * 100. A zero
// expected value gives 0 when equal and 100 otherwise.
func Deviation(claimed, expected float64) float64 {
	if expected == 0 {
		if claimed == 0 {
			return 0
		}
		return 100
	}
	return math.Round(math.Abs(claimed-expected)/math.Abs(expected)*100*1e6) / 1e6
}

func assertion(significant bool) string {
	if significant {
		return "significant"
	}
	return "not significant"
}

func percent(v float64) *float64 {
	return &v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
