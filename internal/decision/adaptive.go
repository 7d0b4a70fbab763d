package decision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/feedrank/internal/score"
)

const (
	DefaultHistory        = 200
	DefaultHistoryTimeout = 2 * time.Second

	priorityGain = 0.1
	rewardGain   = 0.2
)

// RewardHistory returns up to n of the most recent recorded rewards.
type RewardHistory interface {
	RecentRewards(ctx context.Context, n int) ([]float64, error)
}

// Adapt shifts the base thresholds against the mean recent reward.
// Only BasePriority and BaseReward move; both stay bounded.
func Adapt(base Thresholds, meanReward float64) Thresholds {
	t := base
	t.BasePriority = score.Clamp(base.BasePriority-priorityGain*meanReward, 0.1, 0.9)
	t.BaseReward = score.Clamp(base.BaseReward-rewardGain*meanReward, -1, 1)
	return t
}

// Policy yields the thresholds in effect for a decision.
type Policy struct {
	Base     Thresholds
	Adaptive bool
	History  RewardHistory
	Window   int
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Effective is the result of resolving a Policy.
type Effective struct {
	Thresholds Thresholds `json:"thresholds"`
	Adapted    bool       `json:"adapted"`
	MeanReward float64    `json:"mean_reward,omitempty"`
	Samples    int        `json:"samples,omitempty"`
}

// Resolve returns the static thresholds, or the adapted ones when adaptive
// mode is on and history is readable. It never fails; any problem reading
// history falls back to the static thresholds.
func (p *Policy) Resolve(ctx context.Context) Effective {
	static := Effective{Thresholds: p.Base}
	if !p.Adaptive || p.History == nil {
		return static
	}

	mean, n, err := p.meanReward(ctx)
	if err != nil {
		p.logger().Warn("adaptive thresholds unavailable, using static", zap.Error(err))
		return static
	}
	if n == 0 {
		return static
	}

	return Effective{
		Thresholds: Adapt(p.Base, mean),
		Adapted:    true,
		MeanReward: score.Round4(mean),
		Samples:    n,
	}
}

func (p *Policy) meanReward(ctx context.Context) (float64, int, error) {
	window := p.Window
	if window <= 0 {
		window = DefaultHistory
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultHistoryTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rewards, err := p.History.RecentRewards(ctx, window)
	if err != nil {
		return 0, 0, fmt.Errorf("reading reward history: %w", err)
	}
	if len(rewards) == 0 {
		return 0, 0, nil
	}

	sum := 0.0
	for _, r := range rewards {
		sum += r
	}
	return sum / float64(len(rewards)), len(rewards), nil
}

func (p *Policy) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}
