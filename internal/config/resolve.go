package config

import (
	"fmt"
	"math"
	"net"
	"os"
	"sort"
	"time"

	"github.com/TobiSchelling/feedrank/internal/decision"
	"github.com/TobiSchelling/feedrank/internal/ratelimit"
	"github.com/TobiSchelling/feedrank/internal/reward"
	"github.com/TobiSchelling/feedrank/internal/trend"
)

// Thresholds overlays decision.thresholds on the built-in values. Unknown
// names are reported and ignored.
func (c *Config) Thresholds() (decision.Thresholds, []Issue) {
	t := decision.DefaultThresholds()
	issues := append([]Issue(nil), prefixed("decision.thresholds", c.Decision.Thresholds.Issues)...)

	fields := map[string]*float64{
		"base_priority":       &t.BasePriority,
		"base_reward":         &t.BaseReward,
		"escalation_priority": &t.EscalationPriority,
		"escalation_reward":   &t.EscalationReward,
		"positive_queue":      &t.PositiveQueue,
		"negative_skip":       &t.NegativeSkip,
		"demote":              &t.Demote,
	}
	for _, name := range c.Decision.Thresholds.Keys() {
		dst, ok := fields[name]
		if !ok {
			issues = append(issues, Issue{Field: "decision.thresholds." + name, Problem: "unknown threshold"})
			continue
		}
		*dst = c.Decision.Thresholds.Values[name]
	}
	return t, issues
}

// RewardWeights resolves the signal weight table. A non-empty rewards.weights
// replaces the defaults; the JSON object in the rewards.weights_env variable
// then overrides individual known signals.
func (c *Config) RewardWeights(getenv func(string) string) (reward.Weights, []Issue) {
	if getenv == nil {
		getenv = os.Getenv
	}

	w := reward.DefaultWeights()
	issues := append([]Issue(nil), prefixed("rewards.weights", c.Rewards.Weights.Issues)...)
	if c.Rewards.Weights.Len() > 0 {
		w = make(reward.Weights, c.Rewards.Weights.Len())
		for k, v := range c.Rewards.Weights.Values {
			w[k] = v
		}
	}

	if c.Rewards.WeightsEnv == "" {
		return w, issues
	}
	raw := getenv(c.Rewards.WeightsEnv)
	if raw == "" {
		return w, issues
	}

	overrides, envIssues := parseJSONNumbers(c.Rewards.WeightsEnv, raw)
	issues = append(issues, envIssues...)
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, known := w[k]; !known {
			issues = append(issues, Issue{Field: c.Rewards.WeightsEnv + "." + k, Problem: "unknown signal"})
			continue
		}
		w[k] = overrides[k]
	}
	return w, issues
}

// TrendConfig converts the trend section.
func (c *Config) TrendConfig() trend.Config {
	return trend.Config{
		BinWidth: time.Duration(c.Trend.BinMinutes * float64(time.Minute)),
		Window:   c.Trend.Window,
		Alpha:    c.Trend.Alpha,
	}
}

// TrustedProxies parses server.trusted_proxies as CIDR ranges or single
// addresses. Unparseable entries are skipped and reported.
func (c *Config) TrustedProxies() ([]*net.IPNet, []Issue) {
	var (
		nets   []*net.IPNet
		issues []Issue
	)
	for _, raw := range c.Server.TrustedProxies {
		_, n, err := net.ParseCIDR(raw)
		if err != nil {
			ip := net.ParseIP(raw)
			if ip == nil {
				issues = append(issues, Issue{Field: "server.trusted_proxies", Problem: fmt.Sprintf("not an address or CIDR: %q", raw)})
				continue
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			n = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
		}
		nets = append(nets, n)
	}
	return nets, issues
}

// Sanitize replaces out-of-range scalar settings with their defaults and
// reports what it changed.
func (c *Config) Sanitize() []Issue {
	def := Defaults()
	var issues []Issue
	fix := func(field string, bad bool, reset func(), value any) {
		if bad {
			issues = append(issues, Issue{Field: field, Problem: fmt.Sprintf("invalid value %v, using default", value)})
			reset()
		}
	}

	fix("server.port", c.Server.Port <= 0 || c.Server.Port > 65535,
		func() { c.Server.Port = def.Server.Port }, c.Server.Port)
	fix("storage.timeout", c.Storage.Timeout <= 0,
		func() { c.Storage.Timeout = def.Storage.Timeout }, c.Storage.Timeout)
	fix("server.rank_interval", c.Server.RankInterval < 0,
		func() { c.Server.RankInterval = 0 }, c.Server.RankInterval)
	fix("trend.bin_minutes", !(c.Trend.BinMinutes > 0),
		func() { c.Trend.BinMinutes = def.Trend.BinMinutes }, c.Trend.BinMinutes)
	fix("trend.window", c.Trend.Window <= 1,
		func() { c.Trend.Window = def.Trend.Window }, c.Trend.Window)
	fix("trend.alpha", !(c.Trend.Alpha > 0 && c.Trend.Alpha < 1),
		func() { c.Trend.Alpha = def.Trend.Alpha }, c.Trend.Alpha)
	fix("decision.demote_penalty", c.Decision.DemotePenalty < 0 || math.IsNaN(c.Decision.DemotePenalty),
		func() { c.Decision.DemotePenalty = def.Decision.DemotePenalty }, c.Decision.DemotePenalty)
	fix("decision.escalate_penalty", c.Decision.EscalatePenalty < 0 || math.IsNaN(c.Decision.EscalatePenalty),
		func() { c.Decision.EscalatePenalty = def.Decision.EscalatePenalty }, c.Decision.EscalatePenalty)
	fix("decision.history", c.Decision.History <= 0,
		func() { c.Decision.History = def.Decision.History }, c.Decision.History)
	fix("decision.history_timeout", c.Decision.HistoryTimeout <= 0,
		func() { c.Decision.HistoryTimeout = def.Decision.HistoryTimeout }, c.Decision.HistoryTimeout)
	fix("rate_limit.window", c.RateLimit.Window <= 0,
		func() { c.RateLimit.Window = ratelimit.DefaultWindow }, c.RateLimit.Window)
	fix("rate_limit.quota", c.RateLimit.Quota <= 0,
		func() { c.RateLimit.Quota = ratelimit.DefaultQuota }, c.RateLimit.Quota)
	fix("auth.skew", c.Auth.Skew <= 0,
		func() { c.Auth.Skew = def.Auth.Skew }, c.Auth.Skew)
	fix("auth.nonce_cache_size", c.Auth.NonceCacheSize <= 0,
		func() { c.Auth.NonceCacheSize = def.Auth.NonceCacheSize }, c.Auth.NonceCacheSize)
	fix("export.top_per_category", c.Export.TopPerCategory <= 0,
		func() { c.Export.TopPerCategory = def.Export.TopPerCategory }, c.Export.TopPerCategory)
	return issues
}

// Secret returns the HMAC secret from the configured environment variable.
// An empty result disables request signing.
func (c *Config) Secret(getenv func(string) string) string {
	if getenv == nil {
		getenv = os.Getenv
	}
	if c.Auth.SecretEnv == "" {
		return ""
	}
	return getenv(c.Auth.SecretEnv)
}

func prefixed(prefix string, issues []Issue) []Issue {
	out := make([]Issue, len(issues))
	for i, is := range issues {
		is.Field = prefix + "." + is.Field
		out[i] = is
	}
	return out
}
