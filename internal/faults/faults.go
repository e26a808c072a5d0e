// Package faults defines the typed error taxonomy shared by every
// component of the orchestration core (spec component C2).
//
// A Fault always carries a stable Code so callers can branch with
// errors.Is/errors.As instead of string matching, plus enough context
// (Recoverability, AtState, UserAction, DevAction) for a host UI to
// decide what to show a user and what to log for a developer.
package faults

import "fmt"

// Code identifies a specific error condition. Codes are stable strings,
// not enum ints, so they survive renumbering and serialize cleanly into
// EVENT_ERROR payloads.
type Code string

const (
	// Input
	CodeInvalidInputEmptyMessages Code = "ERROR_INVALID_INPUT_EMPTY_MESSAGES"
	CodeTemplateFormatUnsupported Code = "ERROR_TEMPLATE_FORMAT_UNSUPPORTED"

	// State
	CodeInvalidState      Code = "ERROR_INVALID_STATE"
	CodeInvalidTransition Code = "ERROR_INVALID_TRANSITION"

	// Selection
	CodeNoProviderAvailable Code = "ERROR_NO_PROVIDER_AVAILABLE"

	// Storage
	CodeQuotaInsufficient Code = "ERROR_QUOTA_INSUFFICIENT"
	CodeCacheCorrupt      Code = "ERROR_CACHE_CORRUPT"

	// Timing
	CodeTimeout                            Code = "ERROR_TIMEOUT"
	CodeGenerationStalled                   Code = "ERROR_GENERATION_STALLED"
	CodeHealthcheckTimeoutDuringGeneration Code = "ERROR_HEALTHCHECK_TIMEOUT_DURING_GENERATION"
	CodeNativeDownloadStuck                Code = "ERROR_NATIVE_DOWNLOAD_STUCK"

	// Budget
	CodePromptTooLargeAfterRetries Code = "ERROR_PROMPT_TOO_LARGE_AFTER_RETRIES"
	CodePromptBudgetOverflow       Code = "ERROR_PROMPT_BUDGET_OVERFLOW"

	// Provider
	CodeModelLoad Code = "ERROR_MODEL_LOAD"
	CodeOOM       Code = "ERROR_OOM"
	CodeAborted   Code = "ERROR_ABORTED"
	CodeUnknown   Code = "ERROR_UNKNOWN"
)

// Recoverability classifies whether the orchestrator may retry/rehydrate
// after this fault or must tear the whole session down.
type Recoverability string

const (
	Recoverable    Recoverability = "recoverable"
	NonRecoverable Recoverability = "non-recoverable"
)

// recoverabilityByCode is the default classification used when a Fault is
// constructed via New without an explicit override. Timing faults
// (timeouts, stalls, stuck downloads) and ERROR_ABORTED are recoverable
// and route through REHYDRATING; input, state, selection, quota, budget
// and load faults are not.
var recoverabilityByCode = map[Code]Recoverability{
	CodeInvalidInputEmptyMessages:          NonRecoverable,
	CodeTemplateFormatUnsupported:          NonRecoverable,
	CodeInvalidState:                       NonRecoverable,
	CodeInvalidTransition:                  NonRecoverable,
	CodeNoProviderAvailable:                NonRecoverable,
	CodeQuotaInsufficient:                  NonRecoverable,
	CodeCacheCorrupt:                       NonRecoverable,
	CodeTimeout:                            Recoverable,
	CodeGenerationStalled:                  Recoverable,
	CodeHealthcheckTimeoutDuringGeneration: Recoverable,
	CodeNativeDownloadStuck:                Recoverable,
	CodePromptTooLargeAfterRetries:         NonRecoverable,
	CodePromptBudgetOverflow:                NonRecoverable,
	CodeModelLoad:                          NonRecoverable,
	CodeOOM:                                NonRecoverable,
	CodeAborted:                            Recoverable,
	CodeUnknown:                            NonRecoverable,
}

// Fault is the single error type surfaced by this module. It implements
// the error interface so it composes with errors.Is/errors.As/fmt.Errorf's
// %w, while retaining the structured fields the spec's EVENT_ERROR and
// onError hook require.
type Fault struct {
	Code           Code
	Message        string
	Recoverability Recoverability
	AtState        string // optional: FSM state name active when the fault occurred
	UserAction     string // optional: human-readable suggestion for the end user
	DevAction      string // optional: human-readable suggestion for the integrator
	Cause          error  // optional: wrapped underlying error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.Cause }

// Is allows errors.Is(err, faults.New(CodeX, "")) to match on Code alone,
// ignoring Message/Cause — the idiomatic way callers check fault kind.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return t.Code == f.Code
}

// New constructs a Fault with the default recoverability for code.
func New(code Code, message string) *Fault {
	return &Fault{
		Code:           code,
		Message:        message,
		Recoverability: recoverabilityByCode[code],
	}
}

// Wrap constructs a Fault that preserves an underlying error via Cause.
func Wrap(code Code, message string, cause error) *Fault {
	f := New(code, message)
	f.Cause = cause
	return f
}

// WithState returns a copy of f annotated with the FSM state active when
// the fault occurred.
func (f *Fault) WithState(state string) *Fault {
	cp := *f
	cp.AtState = state
	return &cp
}

// WithActions returns a copy of f annotated with user/dev guidance.
func (f *Fault) WithActions(user, dev string) *Fault {
	cp := *f
	cp.UserAction = user
	cp.DevAction = dev
	return &cp
}

// IsRecoverable reports whether the orchestrator should attempt
// REHYDRATING rather than a full TEARDOWN for this fault.
func (f *Fault) IsRecoverable() bool {
	return f.Recoverability == Recoverable
}

// Sentinel, ready-to-compare faults for the common codes that never carry
// per-instance context. Components that need a message should use New.
var (
	ErrNoProviderAvailable = New(CodeNoProviderAvailable, "no provider available")
	ErrAborted             = New(CodeAborted, "generation aborted")
)
