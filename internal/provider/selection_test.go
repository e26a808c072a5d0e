package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/nova-runtime/llmcore/internal/faults"
)

type stubProvider struct {
	id      string
	res     DetectResult
	err     error
	panicky bool
}

func (s *stubProvider) ID() string { return s.id }
func (s *stubProvider) Detect(ctx context.Context, cfg DetectConfig) (DetectResult, error) {
	if s.panicky {
		panic("boom")
	}
	return s.res, s.err
}
func (s *stubProvider) Init(ctx context.Context, params InitParams) error { return nil }
func (s *stubProvider) Generate(ctx context.Context, params GenerateParams, onToken OnToken) (GenerateResult, error) {
	return GenerateResult{}, nil
}
func (s *stubProvider) Abort()                                  {}
func (s *stubProvider) Teardown(ctx context.Context) error      { return nil }
func (s *stubProvider) DownloadProgress() (DownloadProgress, bool) { return DownloadProgress{}, false }
func (s *stubProvider) Ping(ctx context.Context) error          { return nil }

func TestSelectPicksFirstAvailableInOrder(t *testing.T) {
	a := &stubProvider{id: "a", res: DetectResult{Available: false, Reason: "no gpu"}}
	b := &stubProvider{id: "b", res: DetectResult{Available: true}}
	c := &stubProvider{id: "c", res: DetectResult{Available: true}}
	reg := NewRegistry(a, b, c)

	res, err := Select(context.Background(), reg, []string{"a", "b", "c"}, DetectConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SelectedID != "b" {
		t.Fatalf("expected b selected (first available in policy order), got %s", res.SelectedID)
	}
	if len(res.Candidates) != 3 {
		t.Fatalf("expected all 3 candidates reported, got %d", len(res.Candidates))
	}
}

func TestSelectNoneAvailableReturnsNoProviderFault(t *testing.T) {
	a := &stubProvider{id: "a", res: DetectResult{Available: false, Reason: "unsupported"}}
	reg := NewRegistry(a)

	_, err := Select(context.Background(), reg, []string{"a"}, DetectConfig{})
	if !errors.Is(err, faults.ErrNoProviderAvailable) {
		t.Fatalf("expected ErrNoProviderAvailable, got %v", err)
	}
}

func TestSelectTreatsDetectErrorAsUnavailable(t *testing.T) {
	a := &stubProvider{id: "a", err: errors.New("detect failed")}
	b := &stubProvider{id: "b", res: DetectResult{Available: true}}
	reg := NewRegistry(a, b)

	res, err := Select(context.Background(), reg, []string{"a", "b"}, DetectConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SelectedID != "b" {
		t.Fatalf("expected fallback to b, got %s", res.SelectedID)
	}
	if res.Candidates[0].Available || res.Candidates[0].Reason != "detect failed" {
		t.Fatalf("expected candidate a reported unavailable with error reason, got %+v", res.Candidates[0])
	}
}

func TestSelectRecoversFromPanickingDetect(t *testing.T) {
	a := &stubProvider{id: "a", panicky: true}
	b := &stubProvider{id: "b", res: DetectResult{Available: true}}
	reg := NewRegistry(a, b)

	res, err := Select(context.Background(), reg, []string{"a", "b"}, DetectConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SelectedID != "b" {
		t.Fatalf("expected selection to survive panicking candidate and fall back to b, got %s", res.SelectedID)
	}
}

func TestSelectParallelTieBreaksByPolicyOrderNotCompletionOrder(t *testing.T) {
	a := &stubProvider{id: "a", res: DetectResult{Available: true}}
	b := &stubProvider{id: "b", res: DetectResult{Available: true}}
	reg := NewRegistry(a, b)

	res, err := SelectParallel(context.Background(), reg, []string{"a", "b"}, DetectConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SelectedID != "a" {
		t.Fatalf("expected tie-break to favor policy order (a), got %s", res.SelectedID)
	}
}

func TestSelectUnregisteredIDReportedUnavailable(t *testing.T) {
	reg := NewRegistry()
	res, err := Select(context.Background(), reg, []string{"ghost"}, DetectConfig{})
	if err == nil {
		t.Fatalf("expected error when no candidates registered")
	}
	if res.Candidates[0].Reason != "provider not registered" {
		t.Fatalf("unexpected reason: %s", res.Candidates[0].Reason)
	}
}
