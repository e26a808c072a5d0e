// Package quota implements the storage preflight check performed before
// a costly model download (spec component C5).
package quota

const (
	minMarginBytes = 200 * 1024 * 1024 // 200 MiB
	maxMarginBytes = 500 * 1024 * 1024 // 500 MiB
)

// StorageEstimate is what the platform storage API reports, mirroring
// the Storage Manager-style quota/usage pair exposed by most host
// platforms. Supported=false means the platform could not answer the
// query (spec's open question: treated as optimistic "ok").
type StorageEstimate struct {
	Supported bool
	QuotaBytes int64
	UsageBytes int64
}

// Result is the outcome of a preflight check (maps to EVENT_QUOTA_RESULT).
type Result struct {
	OK             bool
	RequiredBytes  int64
	AvailableBytes int64
	Unsupported    bool
}

// Margin computes QUOTA_MARGIN_BYTES = min(500MiB, max(200MiB, floor(modelSizeBytes*0.10))).
func Margin(modelSizeBytes int64) int64 {
	margin := modelSizeBytes / 10
	if margin < minMarginBytes {
		margin = minMarginBytes
	}
	if margin > maxMarginBytes {
		margin = maxMarginBytes
	}
	return margin
}

// RequiredBytes computes modelSizeBytes + Margin(modelSizeBytes).
func RequiredBytes(modelSizeBytes int64) int64 {
	return modelSizeBytes + Margin(modelSizeBytes)
}

// StorageSource queries the platform's storage API. Implementations wrap
// whatever host mechanism is available (browser StorageManager.estimate,
// a native OS syscall, or — for the mock provider — a fixed value).
type StorageSource interface {
	Estimate() (StorageEstimate, error)
}

// Check performs the preflight described in spec §4.7: if the platform
// storage API is unsupported, the check is optimistically ok=true (and
// Unsupported=true, so callers can surface a diagnostics warning per
// spec §9's open question, rather than silently succeeding with no
// trace at all). Otherwise ok = (quota - usage) >= requiredBytes.
func Check(src StorageSource, modelSizeBytes int64) (Result, error) {
	required := RequiredBytes(modelSizeBytes)

	est, err := src.Estimate()
	if err != nil {
		return Result{}, err
	}

	if !est.Supported {
		return Result{OK: true, RequiredBytes: required, Unsupported: true}, nil
	}

	available := est.QuotaBytes - est.UsageBytes
	return Result{
		OK:             available >= required,
		RequiredBytes:  required,
		AvailableBytes: available,
	}, nil
}
