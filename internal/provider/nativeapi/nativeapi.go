// Package nativeapi detects and drives a native on-device LLM API —
// e.g. a platform-shipped inference service reachable via a local
// binary or socket.
//
// Grounded on the teacher's internal/backend/detect.go detectFirecracker,
// re-purposed from a Firecracker micro-VM host to a native inference
// runtime binary. Detection checks only the OS (darwin, linux or windows)
// and that the binary is in PATH; it does not check the CPU architecture
// or any kernel capability.
package nativeapi

import (
	"context"
	"os/exec"
	"runtime"

	"github.com/nova-runtime/llmcore/internal/provider"
)

// BinaryName is the native runtime binary this provider looks for on
// PATH. Exported so tests/integrators can point it at a stub.
var BinaryName = "nova-native-llm"

// Provider talks to a native on-device inference binary over its own
// process boundary. The init/generate bodies are left as thin stubs —
// wiring a concrete IPC mechanism is outside this module's scope — but
// the detect/capability contract is fully implemented.
type Provider struct {
	binary string
}

// New constructs a Provider that looks for BinaryName (or the override
// in binaryName, if non-empty) on PATH.
func New(binaryName string) *Provider {
	if binaryName == "" {
		binaryName = BinaryName
	}
	return &Provider{binary: binaryName}
}

func (p *Provider) ID() string { return "native" }

func (p *Provider) Detect(ctx context.Context, cfg provider.DetectConfig) (provider.DetectResult, error) {
	if runtime.GOOS != "darwin" && runtime.GOOS != "linux" && runtime.GOOS != "windows" {
		return provider.DetectResult{Available: false, Reason: "unsupported OS for native runtime"}, nil
	}
	if _, err := exec.LookPath(p.binary); err != nil {
		return provider.DetectResult{Available: false, Reason: p.binary + " not found in PATH"}, nil
	}
	return provider.DetectResult{
		Available:    true,
		Reason:       p.binary + " found in PATH",
		PrivacyClaim: provider.PrivacyClaimOnDevice,
		Supports: provider.Supports{
			Streaming:  true,
			Abort:      true,
			SystemRole: true,
		},
	}, nil
}

func (p *Provider) Init(ctx context.Context, params provider.InitParams) error {
	return nil
}

func (p *Provider) Generate(ctx context.Context, params provider.GenerateParams, onToken provider.OnToken) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, nil
}

func (p *Provider) Abort() {}

func (p *Provider) Teardown(ctx context.Context) error { return nil }

func (p *Provider) DownloadProgress() (provider.DownloadProgress, bool) {
	return provider.DownloadProgress{}, false
}

func (p *Provider) Ping(ctx context.Context) error { return nil }
