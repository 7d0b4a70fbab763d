// Package pipeline runs a ranking pass over one partition of stored items.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/TobiSchelling/feedrank/internal/config"
	"github.com/TobiSchelling/feedrank/internal/database"
	"github.com/TobiSchelling/feedrank/internal/export"
	"github.com/TobiSchelling/feedrank/internal/metrics"
	"github.com/TobiSchelling/feedrank/internal/rank"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a ranking pass.
type Result struct {
	Partition  string
	Steps      []StepResult
	Feed       []database.Item
	Trends     map[string]float64
	Top        []export.CategoryTop
	SnapshotID int64
	Export     *export.Paths
}

// Err returns the first failed step's error.
func (r *Result) Err() error {
	for _, s := range r.Steps {
		if s.Err != nil {
			return fmt.Errorf("%s: %w", s.Name, s.Err)
		}
	}
	return nil
}

// ErrNoItems is reported when no partition holds any items.
var ErrNoItems = errors.New("no items stored")

// Options controls a single run.
type Options struct {
	// Export writes the CSV/JSON report after the snapshot is stored.
	Export bool
}

// Pipeline orchestrates the load, rank, persist, snapshot, export steps.
type Pipeline struct {
	cfg     *config.Config
	db      *database.DB
	ranker  *rank.Ranker
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *metrics.RankMetrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option { return func(p *Pipeline) { p.logger = l } }

func WithMetrics(m *metrics.RankMetrics) Option { return func(p *Pipeline) { p.metrics = m } }

func WithClock(c clockwork.Clock) Option { return func(p *Pipeline) { p.clock = c } }

// New creates a new pipeline.
func New(cfg *config.Config, db *database.DB, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		db:     db,
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ranker = rank.New(cfg.TrendConfig(), p.clock)
	p.ranker.Workers = cfg.Trend.Workers
	return p
}

// Run executes a ranking pass. An empty partition means the newest one.
func (p *Pipeline) Run(ctx context.Context, partition string, opts Options) *Result {
	start := p.clock.Now()
	r := &Result{}

	// Step 1: Load
	items, step := p.runLoad(ctx, partition, r)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 2: Rank
	step = p.runRank(ctx, items, r)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 3: Persist scores
	step = p.runPersist(ctx, r)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 4: Snapshot
	step = p.runSnapshot(ctx, r)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 5: Export
	if opts.Export {
		r.Steps = append(r.Steps, p.runExport(r))
	}

	r.Top = export.TopPerCategory(r.Feed, p.cfg.Export.TopPerCategory)
	if p.metrics != nil {
		p.metrics.PassDuration.Observe(p.clock.Since(start).Seconds())
		p.metrics.ItemsRanked.Set(float64(len(r.Feed)))
		for cat, ts := range r.Trends {
			p.metrics.TrendScore.WithLabelValues(cat).Set(ts)
		}
	}
	return r
}

// DryRun shows what would be done without executing.
func (p *Pipeline) DryRun(ctx context.Context, partition string) *Result {
	r := &Result{}
	items, step := p.runLoad(ctx, partition, r)
	step.Summary = "[dry-run] " + step.Summary
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	requeued := 0
	for _, it := range items {
		if it.RequeueRequested {
			requeued++
		}
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Rank",
		Summary: fmt.Sprintf("[dry-run] Would rank %d items (%d requeue requested)", len(items), requeued),
	})
	return r
}

func (p *Pipeline) runLoad(ctx context.Context, partition string, r *Result) ([]database.Item, StepResult) {
	p.logger.Info("step 1/5: loading items", zap.String("partition", partition))
	if partition == "" {
		latest, err := p.db.LatestPartition(ctx)
		if err != nil {
			return nil, StepResult{Name: "Load", Err: err}
		}
		if latest == "" {
			return nil, StepResult{Name: "Load", Err: ErrNoItems}
		}
		partition = latest
	}
	r.Partition = partition

	all, err := p.db.ItemsForPartition(ctx, partition)
	if err != nil {
		return nil, StepResult{Name: "Load", Err: err}
	}

	items := make([]database.Item, 0, len(all))
	for _, it := range all {
		if it.Skip {
			continue
		}
		items = append(items, it)
	}
	return items, StepResult{
		Name:    "Load",
		Summary: fmt.Sprintf("Loaded %d items for %s (%d skipped)", len(items), partition, len(all)-len(items)),
	}
}

func (p *Pipeline) runRank(ctx context.Context, items []database.Item, r *Result) StepResult {
	p.logger.Info("step 2/5: ranking", zap.Int("items", len(items)))
	res, err := p.ranker.Rank(ctx, items)
	if err != nil {
		return StepResult{Name: "Rank", Err: err}
	}
	r.Feed = res.Items
	r.Trends = res.Trends
	return StepResult{
		Name:    "Rank",
		Summary: fmt.Sprintf("Ranked %d items across %d categories", len(res.Items), len(res.Trends)),
	}
}

func (p *Pipeline) runPersist(ctx context.Context, r *Result) StepResult {
	p.logger.Info("step 3/5: persisting scores")
	updates := make([]database.ScoreUpdate, len(r.Feed))
	for i, it := range r.Feed {
		updates[i] = database.ScoreUpdate{ID: it.ID, PriorityScore: it.PriorityScore, TrendScore: it.TrendScore}
	}
	if err := p.db.UpdateScores(ctx, updates); err != nil {
		return StepResult{Name: "Persist", Err: err}
	}
	return StepResult{
		Name:    "Persist",
		Summary: fmt.Sprintf("Updated scores for %d items", len(updates)),
	}
}

func (p *Pipeline) runSnapshot(ctx context.Context, r *Result) StepResult {
	p.logger.Info("step 4/5: storing feed snapshot")
	id, err := p.db.SaveSnapshot(ctx, r.Partition, r.Feed)
	if err != nil {
		return StepResult{Name: "Snapshot", Err: err}
	}
	r.SnapshotID = id
	return StepResult{
		Name:    "Snapshot",
		Summary: fmt.Sprintf("Stored snapshot %d", id),
	}
}

func (p *Pipeline) runExport(r *Result) StepResult {
	p.logger.Info("step 5/5: exporting report")
	week, err := database.WeekEnding(r.Partition)
	if err != nil {
		return StepResult{Name: "Export", Err: err}
	}
	period := database.MakePeriodID(week[0], week[len(week)-1])
	paths, err := export.Write(p.cfg.GetExportDir(), export.Report{
		GeneratedAt: p.clock.Now(),
		Partition:   r.Partition,
		Period:      period,
		PeriodLabel: database.FormatPeriodDisplay(period),
		Items:       r.Feed,
	})
	if err != nil {
		return StepResult{Name: "Export", Err: err}
	}
	r.Export = paths
	return StepResult{
		Name:    "Export",
		Summary: fmt.Sprintf("Wrote report for %s: %s, %s", database.FormatPeriodDisplay(period), paths.CSV, paths.JSON),
	}
}
