package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nova-runtime/llmcore/internal/chatmsg"
	"github.com/nova-runtime/llmcore/internal/faults"
	"github.com/nova-runtime/llmcore/internal/fsm"
	"github.com/nova-runtime/llmcore/internal/observability"
	"github.com/nova-runtime/llmcore/internal/protocol"
	"github.com/nova-runtime/llmcore/internal/provider"
	"github.com/nova-runtime/llmcore/internal/retry"
)

// OnToken is invoked once per token emitted during Generate, after
// stale-epoch filtering. index is the token's position within the
// current attempt, not the cumulative request.
type OnToken func(token string, index int)

// Generate implements CMD_GENERATE: flattens the chat history, runs the
// provider's decoding loop with the configured retry budget, and returns
// once the generation completes, is aborted, or exhausts its retries.
//
// The epoch captured at entry is compared against the envelope factory's
// current epoch inside onToken before any side effect runs, so a token
// delivered after a concurrent Abort/Rehydrate bumped the epoch is
// silently dropped rather than recorded or forwarded (spec §5's stale-
// token law).
func (o *Orchestrator) Generate(ctx context.Context, messages []chatmsg.Message, maxTokens int, temperature float64, onToken OnToken) (provider.GenerateResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fsm.Current().State != fsm.Ready {
		return provider.GenerateResult{}, faults.New(faults.CodeInvalidState, "generate requires READY").
			WithState(string(o.fsm.Current().State))
	}

	prepared, err := chatmsg.PrepareForProvider(messages, o.lastSpec)
	if err != nil {
		return provider.GenerateResult{}, err.(*faults.Fault)
	}

	epoch0 := o.envelopes.CurrentEpoch()
	requestID := uuid.NewString()

	if _, err := o.fsm.Transition(fsm.Generating, func(r *fsm.Record) {
		r.Epoch = epoch0
		r.RequestSeq = 0
	}); err != nil {
		return provider.GenerateResult{}, err.(*faults.Fault)
	}

	opCtx, done := o.beginCancelable(ctx)
	defer done()

	opCtx, span := observability.StartSpan(opCtx, "orchestrator.generate",
		observability.AttrRequestID.String(requestID))
	defer span.End()

	o.hooks.BeforeGenerate(opCtx)

	budget := retry.New(retry.Config{
		MaxRetries:      o.cfg.Retry.MaxRetries,
		ReductionFactor: o.cfg.Retry.ReductionFactor,
		MinTokens:       o.cfg.Retry.MinTokens,
	}, maxTokens)

	msgs := toProviderMessages(prepared)
	result, genErr := o.generateWithRetry(opCtx, requestID, msgs, temperature, budget, epoch0, onToken)

	o.hooks.AfterGenerate(opCtx)

	// A watchdog-detected stall takes priority over whatever the
	// provider's Generate call happened to return once its context was
	// cancelled — ctx.Canceled isn't the real story, the stall is.
	if sf := o.takeStallFault(); sf != nil {
		observability.SetSpanError(span, sf)
		o.routeError(ctx, sf)
		return result, sf
	}

	if genErr != nil {
		observability.SetSpanError(span, genErr)
		f := genErr.(*faults.Fault).WithState(string(fsm.Generating))
		o.routeError(ctx, f)
		return result, f
	}

	observability.SetSpanOK(span)
	o.fsm.Transition(fsm.Ready, nil)
	o.emit(protocol.EventGenerationComplete, protocol.GenerationCompletePayload{
		RequestID: requestID, Text: result.Text, Tokens: result.Tokens,
	})
	return result, nil
}

// generateWithRetry runs the provider's Generate call, retrying with a
// reduced token budget on a recoverable failure until the budget is
// exhausted (spec §4.8's retry loop).
func (o *Orchestrator) generateWithRetry(ctx context.Context, requestID string, msgs []provider.Message, temperature float64, budget *retry.Budget, epoch0 uint32, onToken OnToken) (provider.GenerateResult, error) {
	started := time.Now()
	for {
		params := provider.GenerateParams{
			RequestID: requestID, Messages: msgs,
			MaxTokens: budget.RemainingTokens(), Temperature: temperature,
		}

		result, err := o.activeProvider.Generate(ctx, params, func(token string, index int) {
			if o.envelopes.CurrentEpoch() != epoch0 {
				return
			}
			o.fsm.RecordToken()
			if o.metrics != nil {
				o.metrics.RecordToken()
			}
			o.hooks.Token(token, index)
			o.emit(protocol.EventToken, protocol.TokenPayload{RequestID: requestID, Token: token, Index: index})
			if onToken != nil {
				onToken(token, index)
			}
		})

		if err == nil {
			if o.metrics != nil {
				o.metrics.RecordGeneration(float64(time.Since(started).Milliseconds()), "ok")
			}
			return result, nil
		}

		f, ok := err.(*faults.Fault)
		if !ok {
			f = faults.Wrap(faults.CodeUnknown, "provider generate failed", err)
		}
		if f.Code == faults.CodeAborted || !f.IsRecoverable() {
			return result, f
		}

		if _, retryErr := budget.PrepareRetry(f); retryErr != nil {
			return result, retryErr
		}
		if o.metrics != nil {
			o.metrics.RecordRetryAttempt("reduced")
		}
		o.fsm.ResetGeneratingTiming()
	}
}

func toProviderMessages(msgs []chatmsg.Message) []provider.Message {
	out := make([]provider.Message, len(msgs))
	for i, m := range msgs {
		out[i] = provider.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// Abort implements CMD_ABORT. Unlike every other command it is callable
// concurrently with an in-flight Generate from a separate goroutine: it
// bumps the envelope epoch (so any in-flight onToken calls silently
// drop), marks the FSM record aborting, and forwards the abort request
// to the active provider, all without taking o.mu — each of those calls
// is already safe under concurrent use on its own.
func (o *Orchestrator) Abort(requestID string) {
	if !fsm.CanAbort(o.fsm.Current().State) {
		return
	}
	o.fsm.MarkAborting()
	o.envelopes.IncrementEpoch()
	if p := o.activeProvider; p != nil {
		p.Abort()
	}
}
