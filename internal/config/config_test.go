package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/feedrank/internal/decision"
	"github.com/TobiSchelling/feedrank/internal/reward"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Auth.Skew != 300*time.Second {
		t.Errorf("expected skew 300s, got %v", cfg.Auth.Skew)
	}

	th, issues := cfg.Thresholds()
	if len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}
	if th != decision.DefaultThresholds() {
		t.Errorf("expected default thresholds, got %+v", th)
	}

	w, issues := cfg.RewardWeights(func(string) string { return "" })
	if len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}
	for name, want := range reward.DefaultWeights() {
		if w[name] != want {
			t.Errorf("weight %s = %v, want %v", name, w[name], want)
		}
	}

	if got := cfg.Sanitize(); len(got) != 0 {
		t.Errorf("default config should be clean, got %v", got)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
server:
  port: 9000
decision:
  adaptive: true
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if !cfg.Decision.Adaptive {
		t.Error("expected adaptive mode on")
	}
	// Defaults should still be set for unspecified fields
	if cfg.Decision.History != 200 {
		t.Errorf("expected default history 200, got %d", cfg.Decision.History)
	}
	if cfg.Auth.SecretEnv != "FEEDRANK_API_SECRET" {
		t.Errorf("expected default secret_env, got %q", cfg.Auth.SecretEnv)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Trend.Window != 6 {
		t.Errorf("expected trend window 6, got %d", cfg.Trend.Window)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestResolveConfigPathExplicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveConfigPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != path {
		t.Errorf("expected %s, got %s", path, got)
	}

	if _, err := ResolveConfigPath(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit path")
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	if cfg.GetDataDir() != DataDir() {
		t.Errorf("expected XDG data dir, got %s", cfg.GetDataDir())
	}

	cfg.Storage.DataDir = "/tmp/custom"
	if cfg.GetDataDir() != "/tmp/custom" {
		t.Errorf("expected /tmp/custom, got %s", cfg.GetDataDir())
	}
	if cfg.DBPath() != filepath.Join("/tmp/custom", "feedrank.db") {
		t.Errorf("unexpected db path %s", cfg.DBPath())
	}
	if cfg.GetExportDir() != filepath.Join("/tmp/custom", "exports") {
		t.Errorf("unexpected export dir %s", cfg.GetExportDir())
	}
}

func TestMalformedThresholdsKeepDefaults(t *testing.T) {
	data := []byte(`
decision:
  thresholds:
    base_priority: high
    base_reward: 0.35
    positive_queue: .nan
    bogus: 1
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("malformed entries must not fail the load: %v", err)
	}

	th, issues := cfg.Thresholds()
	def := decision.DefaultThresholds()
	if th.BasePriority != def.BasePriority {
		t.Errorf("base_priority should fall back, got %v", th.BasePriority)
	}
	if th.PositiveQueue != def.PositiveQueue {
		t.Errorf("positive_queue should fall back, got %v", th.PositiveQueue)
	}
	if th.BaseReward != 0.35 {
		t.Errorf("base_reward should be 0.35, got %v", th.BaseReward)
	}
	if len(issues) != 3 {
		t.Errorf("expected 3 issues, got %v", issues)
	}
}

func TestThresholdsNotAMapping(t *testing.T) {
	cfg, err := parse([]byte("decision:\n  thresholds: 5\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	th, issues := cfg.Thresholds()
	if th != decision.DefaultThresholds() {
		t.Errorf("expected defaults, got %+v", th)
	}
	if len(issues) != 1 {
		t.Errorf("expected 1 issue, got %v", issues)
	}
}

func TestRewardWeightsReplaceTable(t *testing.T) {
	cfg, err := parse([]byte("rewards:\n  weights:\n    editor_approve: 0.9\n    fact_check: 0.3\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w, issues := cfg.RewardWeights(func(string) string { return "" })
	if len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}
	if len(w) != 2 || w["editor_approve"] != 0.9 || w["fact_check"] != 0.3 {
		t.Errorf("unexpected weights %v", w)
	}
}

func TestRewardWeightsEnvOverride(t *testing.T) {
	cfg := Defaults()
	env := map[string]string{
		"RL_WEIGHTS_JSON": `{"user_like": 0.5, "user_skip": "-0.2", "made_up": 1, "editor_approve": "lots"}`,
	}
	w, issues := cfg.RewardWeights(func(k string) string { return env[k] })

	if w["user_like"] != 0.5 {
		t.Errorf("user_like = %v, want 0.5", w["user_like"])
	}
	if w["user_skip"] != -0.2 {
		t.Errorf("user_skip = %v, want -0.2", w["user_skip"])
	}
	if w["editor_approve"] != 1.0 {
		t.Errorf("editor_approve should keep default, got %v", w["editor_approve"])
	}
	if _, ok := w["made_up"]; ok {
		t.Error("unknown signals must not be added")
	}
	if len(issues) != 2 {
		t.Errorf("expected 2 issues, got %v", issues)
	}
}

func TestRewardWeightsEnvNotJSON(t *testing.T) {
	cfg := Defaults()
	w, issues := cfg.RewardWeights(func(string) string { return "user_like=1" })
	if len(issues) != 1 {
		t.Errorf("expected 1 issue, got %v", issues)
	}
	if w["user_like"] != 0.6 {
		t.Errorf("expected default weight, got %v", w["user_like"])
	}
}

func TestSanitize(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	cfg.Trend.Alpha = 1.5
	cfg.Decision.DemotePenalty = -0.3
	cfg.RateLimit.Quota = 0
	cfg.Server.RankInterval = -time.Minute

	issues := cfg.Sanitize()
	if len(issues) != 5 {
		t.Fatalf("expected 5 issues, got %v", issues)
	}
	if cfg.Server.RankInterval != 0 {
		t.Errorf("expected rank interval disabled, got %v", cfg.Server.RankInterval)
	}
	def := Defaults()
	if cfg.Server.Port != def.Server.Port || cfg.Trend.Alpha != def.Trend.Alpha ||
		cfg.Decision.DemotePenalty != def.Decision.DemotePenalty || cfg.RateLimit.Quota != def.RateLimit.Quota {
		t.Errorf("sanitize did not restore defaults: %+v", cfg)
	}
}

func TestTrendConfig(t *testing.T) {
	tc := Defaults().TrendConfig()
	if tc.BinWidth != 2*time.Hour || tc.Window != 6 || tc.Alpha != 0.8 {
		t.Errorf("unexpected trend config %+v", tc)
	}
}

func TestSecret(t *testing.T) {
	cfg := Defaults()
	env := map[string]string{"FEEDRANK_API_SECRET": "s3cret"}
	if got := cfg.Secret(func(k string) string { return env[k] }); got != "s3cret" {
		t.Errorf("expected secret, got %q", got)
	}
	cfg.Auth.SecretEnv = ""
	if got := cfg.Secret(func(k string) string { return env[k] }); got != "" {
		t.Errorf("expected signing disabled, got %q", got)
	}
}

func TestTrustedProxies(t *testing.T) {
	cfg := Defaults()
	nets, issues := cfg.TrustedProxies()
	if len(nets) != 0 || len(issues) != 0 {
		t.Fatalf("expected no proxies by default, got %v %v", nets, issues)
	}

	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.7", "::1", "proxy.local"}
	nets, issues = cfg.TrustedProxies()
	if len(nets) != 3 {
		t.Fatalf("expected 3 ranges, got %d", len(nets))
	}
	if !nets[1].Contains(net.ParseIP("192.0.2.7")) || nets[1].Contains(net.ParseIP("192.0.2.8")) {
		t.Errorf("single address should be a /32, got %v", nets[1])
	}
	if !nets[2].Contains(net.ParseIP("::1")) {
		t.Errorf("expected ::1 range, got %v", nets[2])
	}
	if len(issues) != 1 || issues[0].Field != "server.trusted_proxies" {
		t.Errorf("expected one issue for proxy.local, got %v", issues)
	}
}
