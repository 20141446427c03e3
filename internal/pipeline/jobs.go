package pipeline

import (
	"context"
	"errors"

	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/worker"
)

// claimJob verifies and logs one claim
type claimJob struct {
	index   int
	claim   model.Claim
	subject Subject
	engine  *Engine
	abort   context.CancelCauseFunc
}

type claimResult struct {
	index  int
	packet model.VerificationPacket
	err    error
}

func (r *claimResult) GetError() error {
	return r.err
}

func (j *claimJob) Execute(ctx context.Context) worker.Result {
	res := &claimResult{index: j.index}

	p := j.engine.packets.Assemble(ctx, j.subject, j.claim)
	if p.Degraded() && ctx.Err() != nil {
		// Interrupted, not broken: leave the claim for a later run
		res.err = ctx.Err()
		return res
	}

	if err := j.engine.record(ctx, j.subject.Actor, p); err != nil {
		var awe *model.AuditWriteError
		if errors.As(err, &awe) && !cancelled(ctx, awe) {
			j.abort(err)
		}
		res.err = err
		return res
	}
	res.packet = p
	return res
}
