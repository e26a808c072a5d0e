package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nova-runtime/llmcore/internal/chatmsg"
	"github.com/nova-runtime/llmcore/internal/config"
	"github.com/nova-runtime/llmcore/internal/logging"
	"github.com/nova-runtime/llmcore/internal/metrics"
	"github.com/nova-runtime/llmcore/internal/observability"
	"github.com/nova-runtime/llmcore/internal/orchestrator"
	"github.com/nova-runtime/llmcore/internal/protocol"
	"github.com/nova-runtime/llmcore/internal/provider"
	"github.com/nova-runtime/llmcore/internal/provider/gpuaccel"
	"github.com/nova-runtime/llmcore/internal/provider/mock"
	"github.com/nova-runtime/llmcore/internal/provider/nativeapi"
	"github.com/nova-runtime/llmcore/internal/provider/wasmrt"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "llmcored",
		Short: "llmcore - in-process on-device LLM orchestration core",
		Long:  "A demo host binary that drives the llmcore orchestrator through its full lifecycle against a configurable provider chain.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file (optional, defaults + env vars otherwise)")

	rootCmd.AddCommand(runCmd(), diagnosticsCmd(), configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
	} else {
		cfg = config.DefaultConfig()
	}
	if err != nil {
		return nil, err
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func buildRegistry() *provider.Registry {
	return provider.NewRegistry(
		nativeapi.New("llama-server"),
		gpuaccel.New("llama-server-cuda"),
		wasmrt.New("wasmtime"),
		mock.New(),
	)
}

func runCmd() *cobra.Command {
	var modelID string
	var prompt string
	var maxTokens int
	var temperature float64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot the orchestrator against the configured provider chain and run one generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(ctx)

			var m *metrics.Metrics
			if cfg.Observability.Metrics.Enabled {
				m = metrics.New(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			o := orchestrator.New(cfg, buildRegistry(),
				orchestrator.WithMetrics(m),
				orchestrator.WithEventSink(func(env protocol.Envelope) {
					logging.Op().Debug("envelope", "type", env.Type, "epoch", env.Epoch, "seq", env.Seq)
				}),
			)

			watchdogCtx, stopWatchdog := context.WithCancel(ctx)
			defer stopWatchdog()
			go o.RunWatchdog(watchdogCtx)

			spec := chatmsg.ModelSpec{
				ID: modelID, HFRepo: modelID, SizeBytes: 512 * 1024 * 1024,
				ContextWindow: 4096, AcceptsSystem: true,
			}

			if err := o.Boot(ctx, spec); err != nil {
				return fmt.Errorf("boot: %w", err)
			}
			fmt.Printf("provider selected: %s\n", o.Diagnostics().Selection.SelectedID)

			_, err = o.Generate(ctx, []chatmsg.Message{{Role: chatmsg.RoleUser, Content: prompt}}, maxTokens, temperature,
				func(token string, index int) { fmt.Print(token, " ") })
			fmt.Println()
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}

			return o.Teardown(ctx)
		},
	}

	cmd.Flags().StringVar(&modelID, "model", "tiny-demo-model", "Model id to boot")
	cmd.Flags().StringVar(&prompt, "prompt", "Say hello in one sentence.", "Prompt to generate against")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 256, "Maximum decoding budget")
	cmd.Flags().Float64Var(&temperature, "temperature", 0.7, "Sampling temperature")
	return cmd
}

func diagnosticsCmd() *cobra.Command {
	var modelID string

	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Boot the orchestrator and print a diagnostics snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			o := orchestrator.New(cfg, buildRegistry())

			spec := chatmsg.ModelSpec{ID: modelID, SizeBytes: 512 * 1024 * 1024, ContextWindow: 4096, AcceptsSystem: true}
			bootErr := o.Boot(ctx, spec)

			snap := o.Diagnostics()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "state\t%s\n", snap.State.State)
			fmt.Fprintf(w, "since_ms\t%d\n", snap.State.SinceMs)
			fmt.Fprintf(w, "selected_provider\t%s\n", snap.Selection.SelectedID)
			fmt.Fprintf(w, "quota_ok\t%v\n", snap.Quota.OK)
			fmt.Fprintf(w, "cache_entries\t%d\n", snap.CacheStats.Count)
			fmt.Fprintf(w, "loaded_models\t%d\n", len(snap.LoadedModels))
			w.Flush()

			fmt.Println("\ncandidates:")
			w2 := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w2, "  ID\tAVAILABLE\tREASON")
			for _, c := range snap.Selection.Candidates {
				fmt.Fprintf(w2, "  %s\t%v\t%s\n", c.ID, c.Available, c.Reason)
			}
			w2.Flush()

			return bootErr
		},
	}
	cmd.Flags().StringVar(&modelID, "model", "tiny-demo-model", "Model id to boot")
	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration (defaults + env + file overrides)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("provider_policy.order: %s\n", strings.Join(cfg.ProviderPolicy.Order, ","))
			fmt.Printf("privacy_mode: %s\n", cfg.PrivacyMode)
			fmt.Printf("max_loaded_models: %d\n", cfg.MaxLoadedModels)
			fmt.Printf("auto_unload: %v\n", cfg.AutoUnload)
			fmt.Printf("timeout_multiplier: %.2f\n", cfg.TimeoutMultiplier)
			fmt.Printf("watchdog.check_interval: %s\n", cfg.CheckInterval())
			return nil
		},
	}
}
