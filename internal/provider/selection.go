package provider

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nova-runtime/llmcore/internal/faults"
)

// CandidateReport records one candidate's outcome during selection, for
// attachment to EVENT_PROVIDER_SELECTED and the diagnostics snapshot
// (spec §4.3's "selection report").
type CandidateReport struct {
	ID        string
	Available bool
	Reason    string
}

// SelectionResult is returned by Select.
type SelectionResult struct {
	SelectedID string
	Selected   Provider
	Candidates []CandidateReport
}

// Registry resolves provider ids to implementations, grounded on
// roelfdiedericks-goclaw's llm.Registry (other_examples) generalized
// from named LLM API providers to this spec's capability interface.
type Registry struct {
	byID map[string]Provider
}

// NewRegistry builds a Registry from a set of providers, keyed by their
// own ID().
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{byID: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.byID[p.ID()] = p
	}
	return r
}

// Get resolves an id to its Provider, or false if unregistered.
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Select walks policyOrder strictly in order, calling Detect on each
// candidate found in reg; the first available==true candidate wins
// (spec §4.3). detect() panics or errors are treated as available=false
// with the failure captured as Reason — selection must never itself
// crash the orchestrator over one misbehaving provider.
func Select(ctx context.Context, reg *Registry, policyOrder []string, cfg DetectConfig) (SelectionResult, error) {
	result := SelectionResult{}

	for _, id := range policyOrder {
		p, ok := reg.Get(id)
		if !ok {
			result.Candidates = append(result.Candidates, CandidateReport{
				ID: id, Available: false, Reason: "provider not registered",
			})
			continue
		}

		report := detectSafely(ctx, p, cfg)
		result.Candidates = append(result.Candidates, report)

		if report.Available && result.Selected == nil {
			result.Selected = p
			result.SelectedID = p.ID()
		}
	}

	if result.Selected == nil {
		return result, faults.New(faults.CodeNoProviderAvailable,
			"no configured provider reported available=true")
	}
	return result, nil
}

// SelectParallel behaves like Select but runs every candidate's Detect
// concurrently (spec §9's providerPolicy.parallelDetect option, wired
// onto golang.org/x/sync/errgroup the way the teacher's executor.Invoke
// fans out parallel backend pre-fetches). Tie-breaking is still strictly
// by policyOrder once all detections complete — concurrency only shrinks
// wall-clock latency, it never changes which candidate wins.
func SelectParallel(ctx context.Context, reg *Registry, policyOrder []string, cfg DetectConfig) (SelectionResult, error) {
	reports := make([]CandidateReport, len(policyOrder))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range policyOrder {
		i, id := i, id
		g.Go(func() error {
			p, ok := reg.Get(id)
			if !ok {
				reports[i] = CandidateReport{ID: id, Available: false, Reason: "provider not registered"}
				return nil
			}
			reports[i] = detectSafely(gctx, p, cfg)
			return nil
		})
	}
	// errgroup.Go bodies here never return an error; Wait only propagates
	// ctx cancellation, which detectSafely already tolerates per-candidate.
	_ = g.Wait()

	result := SelectionResult{Candidates: reports}
	for i, id := range policyOrder {
		if reports[i].Available {
			p, _ := reg.Get(id)
			result.Selected = p
			result.SelectedID = id
			break
		}
	}

	if result.Selected == nil {
		return result, faults.New(faults.CodeNoProviderAvailable,
			"no configured provider reported available=true")
	}
	return result, nil
}

// detectSafely calls p.Detect, converting a panic into an
// available=false candidate report rather than propagating it — a
// single misconfigured provider must never abort selection for the
// whole chain.
func detectSafely(ctx context.Context, p Provider, cfg DetectConfig) CandidateReport {
	report := CandidateReport{ID: p.ID()}

	defer func() {
		if r := recover(); r != nil {
			report.Available = false
			report.Reason = fmt.Sprintf("panic during detect: %v", r)
		}
	}()

	res, err := p.Detect(ctx, cfg)
	if err != nil {
		report.Available = false
		report.Reason = err.Error()
		return report
	}

	report.Available = res.Available
	report.Reason = res.Reason
	return report
}
