package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/knhk/internal/beat"
	"github.com/roach88/knhk/internal/ir"
)

// drain takes every committed assertion of every domain, in domain then
// tick order, and turns them into tick records.
func (e *Engine) drain() []ir.TickRecord {
	var ticks []ir.TickRecord
	for d, pair := range e.pairs {
		for t := uint8(0); t < beat.TicksPerEpoch; t++ {
			a, cycle, ok := pair.Assertion.Dequeue(t)
			if !ok {
				continue
			}
			ticks = append(ticks, ir.TickRecord{
				Domain:  d,
				Tick:    t,
				CycleID: cycle,
				Delta:   a.Delta,
				Actions: a.Actions,
				Receipt: a.Receipt,
			})
		}
	}
	return ticks
}

// epochSpanContext is the remote parent every span of an epoch hangs off,
// so the trace ID in receipts and the one exported by otel agree.
func epochSpanContext(epoch uint64) trace.SpanContext {
	var sid trace.SpanID
	v := epoch | 1<<63
	for i := range sid {
		sid[i] = byte(v >> (56 - 8*i))
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    ir.TraceIDForEpoch(epoch).OTel(),
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
}

// commit drains the assertion rings and commits the closed epoch: append
// to the provenance log, then emit. Epochs with no reconciled ticks are
// not committed and return a nil record.
func (e *Engine) commit(ctx context.Context, epoch uint64) (*ir.CycleRecord, error) {
	ticks := e.drain()
	if len(ticks) == 0 {
		return nil, nil
	}

	start := time.Now()
	ctx = trace.ContextWithRemoteSpanContext(ctx, epochSpanContext(epoch))
	ctx, span := tracer.Start(ctx, "knhk.commit",
		trace.WithAttributes(
			attribute.Int64("knhk.epoch", int64(epoch)),
			attribute.Int("knhk.ticks", len(ticks)),
			attribute.String("knhk.run_id", e.runID),
		))
	defer span.End()

	fail := func(stage CommitStage, err error) (*ir.CycleRecord, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(stage))
		e.logger.Error("commit failed",
			"epoch", epoch,
			"stage", string(stage),
			"error", err)
		return nil, &CommitError{Epoch: epoch, Stage: stage, Err: err}
	}

	rec, err := ir.NewCycleRecord(e.runID, epoch, len(e.pairs), ticks)
	if err != nil {
		return fail(StageSeal, err)
	}
	span.SetAttributes(attribute.String("knhk.digest", rec.Digest.String()))

	if e.provenance != nil {
		if err := e.provenance.Append(ctx, rec); err != nil {
			return fail(StageAppend, err)
		}
	}
	if e.emitter != nil {
		if err := e.emitter.Emit(ctx, rec); err != nil {
			return fail(StageEmit, err)
		}
	}

	cyclesCommittedTotal.Inc()
	commitDuration.Observe(time.Since(start).Seconds())
	e.logger.Info("epoch committed",
		"epoch", epoch,
		"cycle", rec.CycleID,
		"ticks", len(ticks),
		"digest", rec.Digest.Short())
	return rec, nil
}
