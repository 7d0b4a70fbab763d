// Package feedback turns feedback signals into decisions and applies them to
// stored items, recording every applied action in the provenance ledger.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/TobiSchelling/feedrank/internal/database"
	"github.com/TobiSchelling/feedrank/internal/decision"
	"github.com/TobiSchelling/feedrank/internal/metrics"
	"github.com/TobiSchelling/feedrank/internal/provenance"
	"github.com/TobiSchelling/feedrank/internal/reward"
)

// Ledger stage names.
const (
	StageFeedback = "feedback"
	StageRequeue  = "requeue"
)

// staleRetries bounds how often a write is retried after another process
// changed the item between read and write.
const staleRetries = 3

// ErrMissingID is returned for requests without an item id.
var ErrMissingID = errors.New("missing item id")

// Store is the item persistence the service needs.
type Store interface {
	GetItem(ctx context.Context, id string) (*database.Item, error)
	SaveItem(ctx context.Context, it *database.Item, rec *provenance.Record) error
}

// Request is one feedback submission.
type Request struct {
	ID      string          `json:"id"`
	Item    RequestItem     `json:"item"`
	Signals map[string]bool `json:"signals"`
}

// RequestItem carries the caller's view of the item. Its priority is only
// used when the item is not stored.
type RequestItem struct {
	ID            string   `json:"id,omitempty"`
	PriorityScore *float64 `json:"priority_score,omitempty"`
}

// ItemID returns the request id, falling back to item.id.
func (r Request) ItemID() string {
	if id := strings.TrimSpace(r.ID); id != "" {
		return id
	}
	return strings.TrimSpace(r.Item.ID)
}

// Outcome reports what a feedback request did. Flags are true only for an
// effect that was persisted.
type Outcome struct {
	ID        string          `json:"id"`
	Reward    float64         `json:"reward"`
	Action    decision.Action `json:"action"`
	Requeued  bool            `json:"requeued"`
	Queued    bool            `json:"queued"`
	Demoted   bool            `json:"demoted"`
	Skipped   bool            `json:"skipped"`
	Escalated bool            `json:"escalated"`
	Found     bool            `json:"-"`
	Adapted   bool            `json:"-"`
}

// RequeueOutcome reports the result of a requeue request.
type RequeueOutcome struct {
	ID       string `json:"id"`
	Requeued bool   `json:"requeued"`
}

type feedbackPayload struct {
	Signals    map[string]bool     `json:"signals"`
	Reward     float64             `json:"reward"`
	Action     decision.Action     `json:"action"`
	Priority   float64             `json:"priority"`
	Thresholds decision.Thresholds `json:"thresholds"`
	Adapted    bool                `json:"adapted"`
	Revision   int64               `json:"revision"`
}

type requeuePayload struct {
	Requeued bool  `json:"requeued"`
	Revision int64 `json:"revision"`
}

// Service applies feedback to stored items.
type Service struct {
	store     Store
	policy    *decision.Policy
	weights   reward.Weights
	penalties Penalties
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *metrics.FeedbackMetrics
	locks     *keyedMutex
}

// Option configures a Service.
type Option func(*Service)

func WithWeights(w reward.Weights) Option { return func(s *Service) { s.weights = w } }

func WithPenalties(p Penalties) Option { return func(s *Service) { s.penalties = p } }

func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func WithMetrics(m *metrics.FeedbackMetrics) Option { return func(s *Service) { s.metrics = m } }

// NewService creates a Service. A nil policy uses the default static thresholds.
func NewService(store Store, policy *decision.Policy, opts ...Option) *Service {
	if policy == nil {
		policy = &decision.Policy{Base: decision.DefaultThresholds()}
	}
	s := &Service{
		store:     store,
		policy:    policy,
		weights:   reward.DefaultWeights(),
		penalties: DefaultPenalties(),
		clock:     clockwork.NewRealClock(),
		logger:    zap.NewNop(),
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Feedback computes the reward and action for req and, if the item exists,
// persists the action's effect together with a ledger record.
func (s *Service) Feedback(ctx context.Context, req Request) (*Outcome, error) {
	id := req.ItemID()
	if id == "" {
		return nil, ErrMissingID
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	r := reward.Compute(req.Signals, s.weights)
	eff := s.policy.Resolve(ctx)
	out := &Outcome{ID: id, Reward: r, Adapted: eff.Adapted}

	for attempt := 0; ; attempt++ {
		it, err := s.store.GetItem(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			priority := 0.0
			if req.Item.PriorityScore != nil {
				priority = *req.Item.PriorityScore
			}
			out.Action = decision.Decide(priority, r, eff.Thresholds)
			s.observe(out, false)
			s.logger.Info("feedback for unknown item",
				zap.String("id", id),
				zap.Float64("reward", r),
				zap.String("action", string(out.Action)))
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("loading item %s: %w", id, err)
		}

		priority := it.PriorityScore
		out.Action = decision.Decide(priority, r, eff.Thresholds)

		Apply(it, out.Action, s.clock.Now(), s.penalties)
		it.RewardScore = &r

		payload, err := json.Marshal(feedbackPayload{
			Signals:    signalsOrEmpty(req.Signals),
			Reward:     r,
			Action:     out.Action,
			Priority:   priority,
			Thresholds: eff.Thresholds,
			Adapted:    eff.Adapted,
			Revision:   it.Revision + 1,
		})
		if err != nil {
			return nil, fmt.Errorf("encoding ledger payload: %w", err)
		}
		rec := &provenance.Record{RecordedAt: s.clock.Now(), Stage: StageFeedback, ItemID: id, Payload: payload, Reward: &r}

		err = s.store.SaveItem(ctx, it, rec)
		if errors.Is(err, database.ErrStaleRevision) && attempt < staleRetries {
			s.logger.Debug("item changed during feedback, retrying", zap.String("id", id), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("saving feedback for %s: %w", id, err)
		}

		out.Found = true
		out.Queued = out.Action == decision.ActionQueue
		out.Skipped = out.Action == decision.ActionSkip
		out.Escalated = out.Action == decision.ActionEscalate
		out.Demoted = out.Action == decision.ActionDemote
		out.Requeued = out.Action == decision.ActionRequeue
		s.observe(out, true)
		s.logger.Info("feedback applied",
			zap.String("id", id),
			zap.Float64("reward", r),
			zap.String("action", string(out.Action)),
			zap.Bool("adapted", eff.Adapted),
			zap.Int64("seq", rec.Seq))
		return out, nil
	}
}

// Requeue flags an item for re-scoring on the next ranking pass. An unknown
// id reports Requeued=false and writes nothing.
func (s *Service) Requeue(ctx context.Context, id string) (*RequeueOutcome, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrMissingID
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	out := &RequeueOutcome{ID: id}
	for attempt := 0; ; attempt++ {
		it, err := s.store.GetItem(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			s.logger.Info("requeue for unknown item", zap.String("id", id))
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("loading item %s: %w", id, err)
		}

		it.RequeueRequested = true
		payload, err := json.Marshal(requeuePayload{Requeued: true, Revision: it.Revision + 1})
		if err != nil {
			return nil, fmt.Errorf("encoding ledger payload: %w", err)
		}
		rec := &provenance.Record{RecordedAt: s.clock.Now(), Stage: StageRequeue, ItemID: id, Payload: payload}

		err = s.store.SaveItem(ctx, it, rec)
		if errors.Is(err, database.ErrStaleRevision) && attempt < staleRetries {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("requeueing %s: %w", id, err)
		}

		out.Requeued = true
		if s.metrics != nil {
			s.metrics.LedgerAppends.WithLabelValues(StageRequeue).Inc()
		}
		s.logger.Info("item requeued", zap.String("id", id), zap.Int64("seq", rec.Seq))
		return out, nil
	}
}

func (s *Service) observe(out *Outcome, applied bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.ActionsTotal.WithLabelValues(string(out.Action), fmt.Sprint(applied)).Inc()
	s.metrics.Rewards.Observe(out.Reward)
	if applied {
		s.metrics.LedgerAppends.WithLabelValues(StageFeedback).Inc()
	}
	if out.Adapted {
		s.metrics.AdaptiveApplied.Inc()
	}
}

func signalsOrEmpty(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}
