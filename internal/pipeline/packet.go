package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/claimgate/internal/check"
	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/score"
	"github.com/ppiankov/claimgate/internal/sources"
)

// ExcerptSource resolves the candidate excerpts for a set of citations
type ExcerptSource interface {
	Resolve(ctx context.Context, citations []model.Citation) ([]model.Excerpt, error)
}

// Subject is what a batch of claims is checked against
type Subject struct {
	Manuscript *model.Manuscript
	Manifest   *model.Manifest
	Actor      model.Actor
}

// PacketAssembler runs both checks for one claim and merges them into a
// packet. Failures inside the checks never escape: they produce a packet
// with overall status error.
type PacketAssembler struct {
	internal *check.InternalChecker
	external *check.ExternalVerifier
	excerpts ExcerptSource
	now      func() time.Time
	newID    func() string
}

// NewPacketAssembler creates an assembler; excerpts may be nil when
// citations always carry their excerpt text
func NewPacketAssembler(internal *check.InternalChecker, external *check.ExternalVerifier, excerpts ExcerptSource) *PacketAssembler {
	if excerpts == nil {
		excerpts = sources.NewExcerptResolver(nil, nil, nil)
	}
	return &PacketAssembler{
		internal: internal,
		external: external,
		excerpts: excerpts,
		now:      time.Now,
		newID:    func() string { return "pkt-" + uuid.NewString() },
	}
}

// Assemble builds the packet for claim
func (a *PacketAssembler) Assemble(ctx context.Context, subj Subject, claim model.Claim) model.VerificationPacket {
	p := model.VerificationPacket{
		ID:           a.newID(),
		ManuscriptID: subj.Manuscript.ID,
		StudyID:      subj.Manuscript.StudyID,
		ManifestID:   subj.Manifest.ID,
		ManifestVer:  subj.Manifest.Version,
		ClaimID:      claim.ID,
		ClaimType:    claim.Type,
		Section:      claim.Section,
		Span:         claim.Span,
		ClaimText:    claim.Text,
		VerifiedAt:   a.now().UTC().Truncate(time.Microsecond),
		VerifiedBy:   a.verifiedBy(),
		ActorID:      subj.Actor.ID,
	}

	p.InternalCheck = a.internal.Check(claim, subj.Manifest.Entries)

	excerpts, err := a.excerpts.Resolve(ctx, sources.CitationsFor(claim, subj.Manuscript.Citations))
	if err != nil {
		return degrade(p, fmt.Errorf("resolve excerpts: %w", err))
	}
	ext, err := a.external.Check(ctx, claim, excerpts)
	if err != nil {
		return degrade(p, fmt.Errorf("external check: %w", err))
	}
	p.ExternalCheck = ext
	p.OverallStatus = score.OverallStatus(p.InternalCheck, p.ExternalCheck)
	return p
}

func (a *PacketAssembler) verifiedBy() model.VerifiedBy {
	if strings.HasPrefix(a.external.Method(), "embedding") {
		return model.VerifiedByAI
	}
	return model.VerifiedBySystem
}

// degrade marks a packet whose checks could not complete
func degrade(p model.VerificationPacket, err error) model.VerificationPacket {
	p.ExternalCheck = model.ExternalCheck{}
	p.OverallStatus = model.StatusError
	p.Error = err.Error()
	return p
}
