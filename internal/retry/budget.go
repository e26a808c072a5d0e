// Package retry implements the per-request retry ledger that reduces
// decoding budget deterministically on recoverable generation failures
// (spec component C4).
package retry

import (
	"math"

	"github.com/nova-runtime/llmcore/internal/faults"
)

// Config controls the retry ledger's behavior (spec §6 retry.* defaults).
type Config struct {
	MaxRetries      int
	ReductionFactor float64
	MinTokens       int
}

// DefaultConfig returns the spec's documented defaults:
// maxRetries=2, reductionFactor=0.8, minTokens=50.
func DefaultConfig() Config {
	return Config{MaxRetries: 2, ReductionFactor: 0.8, MinTokens: 50}
}

// Budget is the per-request retry ledger (data model §3). The zero value
// is not usable; construct via New.
type Budget struct {
	cfg              Config
	currentAttempt   int
	originalMaxTokens int
	remainingTokens  int
	lastError        error
}

// New creates a Budget for a generation request with the given original
// max-tokens target.
func New(cfg Config, originalMaxTokens int) *Budget {
	return &Budget{
		cfg:               cfg,
		originalMaxTokens: originalMaxTokens,
		remainingTokens:   originalMaxTokens,
	}
}

// CurrentAttempt returns the number of retries already prepared (0 on
// the initial attempt, before any failure).
func (b *Budget) CurrentAttempt() int { return b.currentAttempt }

// RemainingTokens returns the max-tokens budget for the current attempt.
func (b *Budget) RemainingTokens() int { return b.remainingTokens }

// LastError returns the most recent recoverable error passed to
// PrepareRetry, or nil if no retry has happened yet.
func (b *Budget) LastError() error { return b.lastError }

// PrepareRetry increments currentAttempt and reduces remainingTokens by
// cfg.ReductionFactor, floored at cfg.MinTokens. Deterministic for a
// given originalMaxTokens (spec §8's token-reduction determinism law):
// 1000 -> 800 -> 640; 100 -> 80 -> 64.
//
// Returns ERROR_PROMPT_TOO_LARGE_AFTER_RETRIES once currentAttempt would
// exceed cfg.MaxRetries, or ERROR_PROMPT_BUDGET_OVERFLOW if remainingTokens
// is already at or below cfg.MinTokens and the reduction would fall below it.
func (b *Budget) PrepareRetry(recoverableErr error) (int, error) {
	b.lastError = recoverableErr
	if b.currentAttempt > b.cfg.MaxRetries {
		return 0, faults.New(faults.CodePromptTooLargeAfterRetries,
			"exhausted retry budget after reducing decoding budget")
	}
	b.currentAttempt++

	if b.currentAttempt > b.cfg.MaxRetries {
		return 0, faults.New(faults.CodePromptTooLargeAfterRetries,
			"exhausted retry budget after reducing decoding budget")
	}

	reduced := int(math.Floor(float64(b.remainingTokens) * b.cfg.ReductionFactor))
	if reduced < b.cfg.MinTokens {
		if b.remainingTokens <= b.cfg.MinTokens {
			return 0, faults.New(faults.CodePromptBudgetOverflow,
				"reducing decoding budget would fall below the configured minimum")
		}
		reduced = b.cfg.MinTokens
	}

	b.remainingTokens = reduced
	return b.remainingTokens, nil
}

// Exhausted reports whether the ledger has used up its retry budget.
func (b *Budget) Exhausted() bool {
	return b.currentAttempt >= b.cfg.MaxRetries
}
