package protocol

import "time"

// Payload types for each command. Grouping them here (rather than as an
// interface hierarchy) mirrors spec §9's guidance: implement the
// "dynamic typing of envelopes" idea as a discriminator (Envelope.Type)
// plus a concrete per-type payload struct, the natural Go rendition of a
// tagged variant.

// InitPayload carries the provider-agnostic boot configuration.
type InitPayload struct {
	TimeoutMultiplier float64 `json:"timeoutMultiplier,omitempty"`
}

// SelectProviderPayload carries the caller's policy order override, if
// any; an empty Order means "use the configured default policy".
type SelectProviderPayload struct {
	Order []string `json:"order,omitempty"`
}

// GeneratePayload carries decoding parameters for CMD_GENERATE.
type GeneratePayload struct {
	RequestID string  `json:"requestId"`
	MaxTokens int      `json:"maxTokens"`
	Temperature float64 `json:"temperature,omitempty"`
}

// AbortPayload carries the request being aborted, for idempotency
// checks on the receiving side.
type AbortPayload struct {
	RequestID string `json:"requestId"`
}

// BytePayload wraps a raw byte buffer sub-object. Implementations must
// identify BytePayload-typed fields in a payload tree and hand them off
// by reference rather than copying — Go slices already share backing
// arrays by default, so "ownership transfer" here means: never
// append/copy into Data after handing a BytePayload to the channel, only
// ever replace it wholesale. No payload in this package currently
// carries a BytePayload field.
type BytePayload struct {
	Data []byte `json:"-"`
}

// Event payloads.

type StateChangePayload struct {
	State      string    `json:"state"`
	SinceMs    int64     `json:"sinceMs"`
	DeadlineMs int64     `json:"deadlineMs,omitempty"`
	At         time.Time `json:"-"`
}

type CandidateReport struct {
	ID        string `json:"id"`
	Available bool   `json:"available"`
	Reason    string `json:"reason"`
}

type ProviderSelectedPayload struct {
	SelectedID string             `json:"selectedId"`
	Candidates []CandidateReport `json:"candidates"`
}

type QuotaResultPayload struct {
	OK             bool  `json:"ok"`
	RequiredBytes  int64 `json:"requiredBytes"`
	AvailableBytes int64 `json:"availableBytes"`
	Unsupported    bool  `json:"unsupported"`
}

type CacheResultPayload struct {
	Cached bool `json:"cached"`
}

type DownloadProgressPayload struct {
	Variant         string `json:"variant"` // "determinate" | "indeterminate"
	DownloadedBytes int64  `json:"downloadedBytes"`
	TotalBytes      *int64 `json:"totalBytes,omitempty"`
}

type WarmupCompletePayload struct{}

type TokenPayload struct {
	RequestID string `json:"requestId"`
	Token     string `json:"token"`
	Index     int    `json:"index"`
}

type GenerationCompletePayload struct {
	RequestID string `json:"requestId"`
	Text      string `json:"text"`
	Tokens    int    `json:"tokens"`
}

type ErrorPayload struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	Recoverability string `json:"recoverability"`
	AtState        string `json:"atState,omitempty"`
}

type HealthcheckResponsePayload struct {
	Outcome string `json:"outcome"` // "healthy" | "stalled" | "timeout"
}

type TeardownCompletePayload struct{}
