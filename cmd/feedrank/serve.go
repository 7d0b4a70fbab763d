package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/feedrank/internal/auth"
	"github.com/TobiSchelling/feedrank/internal/config"
	"github.com/TobiSchelling/feedrank/internal/database"
	"github.com/TobiSchelling/feedrank/internal/decision"
	"github.com/TobiSchelling/feedrank/internal/feedback"
	"github.com/TobiSchelling/feedrank/internal/metrics"
	"github.com/TobiSchelling/feedrank/internal/pipeline"
	"github.com/TobiSchelling/feedrank/internal/ratelimit"
	"github.com/TobiSchelling/feedrank/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the feedback API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}

		clock := clockwork.NewRealClock()
		reg := metrics.NewRegistry()
		fm := metrics.NewFeedbackMetrics(reg)

		proxies, issues := cfg.TrustedProxies()
		logIssues(issues)

		svc := newFeedbackService(db, clock, fm)
		deps := server.Deps{
			Store:          db,
			Feedback:       svc,
			Registry:       reg,
			Metrics:        fm,
			Logger:         logger,
			Clock:          clock,
			Version:        version,
			StorageTimeout: cfg.Storage.Timeout,
			TrustedProxies: proxies,
		}
		if cfg.RateLimit.Enabled {
			deps.Limiter = ratelimit.NewStore(cfg.RateLimit.Window, cfg.RateLimit.Quota, clock)
		}
		if secret := cfg.Secret(nil); secret != "" {
			deps.Verifier = auth.NewVerifier(secret, auth.Config{
				Skew:         cfg.Auth.Skew,
				CacheSize:    cfg.Auth.NonceCacheSize,
				RequireNonce: cfg.Auth.RequireNonce,
			}, clock)
			logger.Info("request signing enabled", zap.String("secret_env", cfg.Auth.SecretEnv))
		} else {
			logger.Warn("request signing disabled, no secret configured", zap.String("secret_env", cfg.Auth.SecretEnv))
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		if cfg.Server.RankInterval > 0 {
			pipe := pipeline.New(cfg, db,
				pipeline.WithLogger(logger),
				pipeline.WithClock(clock),
				pipeline.WithMetrics(metrics.NewRankMetrics(reg)))
			logger.Info("scheduled ranking enabled", zap.Duration("interval", cfg.Server.RankInterval))
			g.Go(func() error {
				return pipe.Schedule(ctx, cfg.Server.RankInterval, pipeline.Options{Export: cfg.Server.RankExport})
			})
		}

		fmt.Printf("Starting server at http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Println("Press Ctrl+C to stop")
		g.Go(func() error {
			err := server.New(deps).ListenAndServe(ctx,
				cfg.Server.Host, cfg.Server.Port,
				cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout)
			stop()
			return err
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// newFeedbackService wires thresholds, weights, and penalties from config.
func newFeedbackService(db *database.DB, clock clockwork.Clock, fm *metrics.FeedbackMetrics) *feedback.Service {
	thresholds, issues := cfg.Thresholds()
	weights, weightIssues := cfg.RewardWeights(nil)
	logIssues(append(issues, weightIssues...))

	policy := &decision.Policy{
		Base:     thresholds,
		Adaptive: cfg.Decision.Adaptive,
		History:  db,
		Window:   cfg.Decision.History,
		Timeout:  cfg.Decision.HistoryTimeout,
		Logger:   logger,
	}
	opts := []feedback.Option{
		feedback.WithWeights(weights),
		feedback.WithPenalties(feedback.Penalties{
			Demote:   cfg.Decision.DemotePenalty,
			Escalate: cfg.Decision.EscalatePenalty,
		}),
		feedback.WithClock(clock),
		feedback.WithLogger(logger),
	}
	if fm != nil {
		opts = append(opts, feedback.WithMetrics(fm))
	}
	return feedback.NewService(db, policy, opts...)
}

func logIssues(issues []config.Issue) {
	for _, issue := range issues {
		logger.Warn("config value ignored, using default", zap.String("field", issue.Field), zap.String("problem", issue.Problem))
	}
}
