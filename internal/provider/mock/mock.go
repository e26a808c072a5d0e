// Package mock implements a deterministic provider.Provider used by
// tests and the demo CLI, grounded on the teacher's general test-double
// style (no external process or hardware dependency, fully synchronous
// except where the spec requires a cancellable goroutine).
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nova-runtime/llmcore/internal/provider"
)

// Provider is a deterministic, always-available provider.Provider. It
// "generates" by echoing a fixed response token-by-token, with a
// configurable per-token delay so tests can exercise abort-during-
// generate and watchdog-stall scenarios.
type Provider struct {
	TokenDelay time.Duration // delay between emitted tokens; 0 = no delay
	Response   string        // tokens to emit, split on whitespace; defaults below if empty

	mu        sync.Mutex
	aborted   bool
	abortChan chan struct{}
}

// New constructs a mock provider. A zero-value TokenDelay makes Generate
// synchronous and instant, useful for the happy-path boundary scenario.
func New() *Provider {
	return &Provider{Response: "hello there, this is a mock response"}
}

func (p *Provider) ID() string { return "mock" }

func (p *Provider) Detect(ctx context.Context, cfg provider.DetectConfig) (provider.DetectResult, error) {
	return provider.DetectResult{
		Available:    true,
		Reason:       "mock provider is always available",
		PrivacyClaim: provider.PrivacyClaimOnDevice,
		Supports: provider.Supports{
			Streaming:        true,
			Abort:            true,
			SystemRole:       false,
			DownloadProgress: true,
		},
	}, nil
}

func (p *Provider) Init(ctx context.Context, params provider.InitParams) error {
	if params.OnProgress != nil {
		total := params.SizeBytes
		params.OnProgress(provider.DownloadProgress{Variant: "determinate", DownloadedBytes: total, TotalBytes: &total})
	}
	return nil
}

func (p *Provider) Generate(ctx context.Context, params provider.GenerateParams, onToken provider.OnToken) (provider.GenerateResult, error) {
	p.mu.Lock()
	p.aborted = false
	p.abortChan = make(chan struct{})
	abortChan := p.abortChan
	p.mu.Unlock()

	tokens := strings.Fields(p.Response)
	var b strings.Builder

	for i, tok := range tokens {
		select {
		case <-ctx.Done():
			return provider.GenerateResult{Text: b.String(), Tokens: i}, ctx.Err()
		case <-abortChan:
			return provider.GenerateResult{Text: b.String(), Tokens: i}, nil
		default:
		}

		if p.TokenDelay > 0 {
			select {
			case <-time.After(p.TokenDelay):
			case <-ctx.Done():
				return provider.GenerateResult{Text: b.String(), Tokens: i}, ctx.Err()
			case <-abortChan:
				return provider.GenerateResult{Text: b.String(), Tokens: i}, nil
			}
		}

		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
		if onToken != nil {
			onToken(tok, i)
		}
	}

	return provider.GenerateResult{Text: b.String(), Tokens: len(tokens)}, nil
}

func (p *Provider) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.aborted || p.abortChan == nil {
		return
	}
	p.aborted = true
	close(p.abortChan)
}

func (p *Provider) Teardown(ctx context.Context) error { return nil }

func (p *Provider) DownloadProgress() (provider.DownloadProgress, bool) {
	return provider.DownloadProgress{}, false
}

func (p *Provider) Ping(ctx context.Context) error { return nil }
