package orchestrator

import (
	"context"

	"github.com/nova-runtime/llmcore/internal/chatmsg"
	"github.com/nova-runtime/llmcore/internal/faults"
	"github.com/nova-runtime/llmcore/internal/fsm"
	"github.com/nova-runtime/llmcore/internal/observability"
	"github.com/nova-runtime/llmcore/internal/protocol"
	"github.com/nova-runtime/llmcore/internal/provider"
	"github.com/nova-runtime/llmcore/internal/quota"
)

// Boot drives the IDLE -> ... -> READY pipeline described in spec §4's
// command table: select a provider, preflight quota, check the cache,
// download and warm up if needed, land in READY. Any failing step
// transitions to ERROR and the fault is returned unwrapped so the
// caller's retry/abort decision is explicit.
func (o *Orchestrator) Boot(ctx context.Context, spec chatmsg.ModelSpec) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bootLocked(ctx, spec)
}

// bootLocked is Boot's body, callable from routeError's REHYDRATING path,
// which already holds o.mu by the time it needs to re-boot.
func (o *Orchestrator) bootLocked(ctx context.Context, spec chatmsg.ModelSpec) error {
	opCtx, done := o.beginCancelable(ctx)
	defer done()

	opCtx, span := observability.StartSpan(opCtx, "orchestrator.boot",
		observability.AttrModelID.String(spec.ID))
	defer span.End()

	// REHYDRATING re-enters the pipeline at SELECTING_PROVIDER.
	if o.fsm.Current().State != fsm.Rehydrating {
		if _, err := o.fsm.Transition(fsm.Booting, nil); err != nil {
			return o.fail(err.(*faults.Fault))
		}
	}

	if err := chatmsg.ValidateTemplate(spec); err != nil {
		return o.fail(err.(*faults.Fault).WithState(string(o.State())))
	}

	sel, err := o.selectProvider(opCtx, spec)
	if err != nil {
		observability.SetSpanError(span, err)
		if sf, routed := o.routeStall(ctx); routed {
			return sf
		}
		return o.fail(err.(*faults.Fault))
	}
	o.fieldsMu.Lock()
	o.lastSelection = sel
	o.fieldsMu.Unlock()
	o.activeProvider = sel.Selected
	o.lastSpec = spec

	if err := o.preflightQuota(spec); err != nil {
		observability.SetSpanError(span, err)
		if sf, routed := o.routeStall(ctx); routed {
			return sf
		}
		return o.fail(err.(*faults.Fault))
	}

	if err := o.checkCacheAndLoad(opCtx, spec); err != nil {
		observability.SetSpanError(span, err)
		if sf, routed := o.routeStall(ctx); routed {
			return sf
		}
		return o.fail(err.(*faults.Fault))
	}

	if _, err := o.fsm.Transition(fsm.Ready, nil); err != nil {
		observability.SetSpanError(span, err)
		return o.fail(err.(*faults.Fault))
	}
	observability.SetSpanOK(span)
	return nil
}

// routeStall consumes a fault handed off by handleWatchdogEvent, if any,
// and routes it through routeError using parent — the caller's original,
// uncancelled context, not the (possibly just-cancelled) one the
// interrupted step was running under. Returns routed=true if a stall
// preempted the step that just failed, so the caller should surface this
// fault instead of whatever error the interrupted call happened to
// return.
func (o *Orchestrator) routeStall(parent context.Context) (error, bool) {
	sf := o.takeStallFault()
	if sf == nil {
		return nil, false
	}
	o.routeError(parent, sf)
	return sf, true
}

// selectProvider implements SELECTING_PROVIDER: runs the configured
// selection chain (parallel or sequential per cfg.ProviderPolicy) and
// emits EVENT_PROVIDER_SELECTED with the full candidate report.
func (o *Orchestrator) selectProvider(ctx context.Context, spec chatmsg.ModelSpec) (provider.SelectionResult, error) {
	if _, err := o.fsm.Transition(fsm.SelectingProvider, nil); err != nil {
		return provider.SelectionResult{}, err
	}

	detectCfg := provider.DetectConfig{PrivacyMode: o.cfg.PrivacyMode, ModelID: spec.ID}
	var sel provider.SelectionResult
	var err error
	if o.cfg.ProviderPolicy.ParallelDetect {
		sel, err = provider.SelectParallel(ctx, o.registry, o.cfg.ProviderPolicy.Order, detectCfg)
	} else {
		sel, err = provider.Select(ctx, o.registry, o.cfg.ProviderPolicy.Order, detectCfg)
	}

	candidates := make([]protocol.CandidateReport, len(sel.Candidates))
	for i, c := range sel.Candidates {
		candidates[i] = protocol.CandidateReport{ID: c.ID, Available: c.Available, Reason: c.Reason}
	}
	o.emit(protocol.EventProviderSelected, protocol.ProviderSelectedPayload{
		SelectedID: sel.SelectedID, Candidates: candidates,
	})

	if err != nil {
		return sel, err
	}
	return sel, nil
}

// preflightQuota implements PREFLIGHT_QUOTA: estimate the platform
// storage margin and fail fast with ERROR_QUOTA_INSUFFICIENT rather than
// starting a download that cannot complete.
func (o *Orchestrator) preflightQuota(spec chatmsg.ModelSpec) error {
	if _, err := o.fsm.Transition(fsm.PreflightQuota, nil); err != nil {
		return err
	}

	res, err := quota.Check(o.storage, spec.SizeBytes)
	if err != nil {
		return faults.Wrap(faults.CodeQuotaInsufficient, "storage estimate failed", err).WithState(string(fsm.PreflightQuota))
	}
	o.fieldsMu.Lock()
	o.lastQuota = res
	o.fieldsMu.Unlock()
	o.emit(protocol.EventQuotaResult, protocol.QuotaResultPayload{
		OK: res.OK, RequiredBytes: res.RequiredBytes, AvailableBytes: res.AvailableBytes, Unsupported: res.Unsupported,
	})
	if !res.OK {
		return faults.New(faults.CodeQuotaInsufficient, "insufficient storage quota for model download").
			WithState(string(fsm.PreflightQuota))
	}
	return nil
}

// checkCacheAndLoad implements CHECKING_CACHE plus the conditional
// DOWNLOADING/WARMING_UP steps: if the model is already resident, skip
// straight to warm-up; otherwise download via the provider, tracking
// progress on the FSM record, then warm up.
func (o *Orchestrator) checkCacheAndLoad(ctx context.Context, spec chatmsg.ModelSpec) error {
	if _, err := o.fsm.Transition(fsm.CheckingCache, nil); err != nil {
		return err
	}
	cached := o.cache.HasModel(spec.ID)
	o.emit(protocol.EventCacheResult, protocol.CacheResultPayload{Cached: cached})

	initParams := provider.InitParams{
		ModelID: spec.ID, HFRepo: spec.HFRepo, SizeBytes: spec.SizeBytes,
		OnProgress: func(p provider.DownloadProgress) {
			variant := fsm.DownloadDeterminate
			if p.Variant == string(fsm.DownloadIndeterminate) {
				variant = fsm.DownloadIndeterminate
			}
			o.fsm.UpdateDownloadProgress(variant, p.DownloadedBytes, p.TotalBytes)
			o.emit(protocol.EventDownloadProgress, protocol.DownloadProgressPayload{
				Variant: p.Variant, DownloadedBytes: p.DownloadedBytes, TotalBytes: p.TotalBytes,
			})
		},
	}

	if !cached {
		if _, err := o.fsm.Transition(fsm.Downloading, func(r *fsm.Record) {
			r.Variant = fsm.DownloadIndeterminate
		}); err != nil {
			return err
		}
	}

	o.hooks.BeforeInit(ctx)
	if err := o.models.LoadModel(ctx, initParams, o.activeProvider); err != nil {
		return err
	}
	o.hooks.AfterInit(ctx)

	if _, err := o.fsm.Transition(fsm.WarmingUp, nil); err != nil {
		return err
	}
	o.emit(protocol.EventWarmupComplete, protocol.WarmupCompletePayload{})
	return nil
}

// fail drives ERROR on a failed pipeline step and returns the fault
// unwrapped. Per spec §7 every fault is surfaced once via emitError.
func (o *Orchestrator) fail(f *faults.Fault) error {
	o.fsm.Transition(fsm.Error, nil)
	o.emitError(f)
	return f
}

// routeError implements spec §7's propagation rule: recoverable faults
// drive ERROR -> REHYDRATING -> (re-selection, reusing lastSpec);
// non-recoverable faults drive ERROR -> TEARDOWN -> IDLE.
func (o *Orchestrator) routeError(ctx context.Context, f *faults.Fault) {
	if o.fsm.Current().State != fsm.Error {
		o.fsm.Transition(fsm.Error, nil)
	}
	o.emitError(f)

	if !f.IsRecoverable() {
		o.teardownLocked(ctx)
		return
	}

	if _, err := o.fsm.Transition(fsm.Rehydrating, nil); err != nil {
		o.teardownLocked(ctx)
		return
	}

	if o.activeProvider != nil {
		opCtx, done := o.beginCancelable(ctx)
		o.activeProvider.Teardown(opCtx)
		done()
	}
	spec := o.lastSpec
	if err := o.bootLocked(ctx, spec); err != nil {
		// bootLocked already drove its own failure path (ERROR, emitError);
		// a repeated rehydrate is left to the caller/watchdog's next tick.
		return
	}
}

// Teardown implements spec's CMD_TEARDOWN: releases the active provider
// and returns the machine to IDLE. Safe to call from READY or ERROR.
func (o *Orchestrator) Teardown(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.teardownLocked(ctx)
}

func (o *Orchestrator) teardownLocked(ctx context.Context) error {
	state := o.fsm.Current().State
	if state != fsm.Ready && state != fsm.Error {
		return faults.New(faults.CodeInvalidState, "teardown requires READY or ERROR").
			WithState(string(state))
	}
	if _, err := o.fsm.Transition(fsm.Teardown, nil); err != nil {
		return err
	}
	o.envelopes.IncrementEpoch()

	o.hooks.BeforeTeardown(ctx)
	if o.activeProvider != nil {
		if o.lastSpec.ID != "" {
			o.models.UnloadModel(ctx, o.lastSpec.ID, o.activeProvider)
		} else {
			o.activeProvider.Teardown(ctx)
		}
		o.activeProvider = nil
	}
	o.hooks.AfterTeardown(ctx)
	o.emit(protocol.EventTeardownComplete, protocol.TeardownCompletePayload{})

	_, err := o.fsm.Transition(fsm.Idle, nil)
	return err
}
