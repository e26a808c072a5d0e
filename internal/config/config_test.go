package config

import "testing"

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PrivacyMode != "any" {
		t.Errorf("PrivacyMode default = %s, want any", cfg.PrivacyMode)
	}
	if cfg.MaxLoadedModels != 2 {
		t.Errorf("MaxLoadedModels default = %d, want 2", cfg.MaxLoadedModels)
	}
	if !cfg.AutoUnload {
		t.Errorf("AutoUnload default = false, want true")
	}
	if cfg.Retry.MaxRetries != 2 || cfg.Retry.ReductionFactor != 0.8 || cfg.Retry.MinTokens != 50 {
		t.Errorf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Cache.MaxUsageRatio != 0.8 || cfg.Cache.MinFreeBytes != 200*1024*1024 {
		t.Errorf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Healthcheck.StalledThresholdMs != 30_000 || cfg.Healthcheck.StalledTimeoutMultiplier != 3 {
		t.Errorf("unexpected healthcheck defaults: %+v", cfg.Healthcheck)
	}
	if cfg.Watchdog.CheckIntervalMs != 1_000 {
		t.Errorf("unexpected watchdog default: %+v", cfg.Watchdog)
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("LLMCORE_MAX_LOADED_MODELS", "4")
	t.Setenv("LLMCORE_AUTO_UNLOAD", "false")
	t.Setenv("LLMCORE_PROVIDER_ORDER", "mock,native")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.MaxLoadedModels != 4 {
		t.Errorf("expected env override to set MaxLoadedModels=4, got %d", cfg.MaxLoadedModels)
	}
	if cfg.AutoUnload {
		t.Errorf("expected env override to disable AutoUnload")
	}
	if len(cfg.ProviderPolicy.Order) != 2 || cfg.ProviderPolicy.Order[0] != "mock" {
		t.Errorf("expected provider order override, got %v", cfg.ProviderPolicy.Order)
	}
}

func TestWatchdogDeadlineMsFallsBackWhenUnset(t *testing.T) {
	cfg := DefaultConfig()
	if _, ok := cfg.WatchdogDeadlineMs("GENERATING"); ok {
		t.Fatalf("expected no override by default")
	}
	cfg.Watchdog.DeadlineOverrides = map[string]int64{"GENERATING": 99_000}
	ms, ok := cfg.WatchdogDeadlineMs("GENERATING")
	if !ok || ms != 99_000 {
		t.Fatalf("expected override 99000, got %d ok=%v", ms, ok)
	}
}
