package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TobiSchelling/feedrank/internal/database"
	"github.com/TobiSchelling/feedrank/internal/decision"
	"github.com/TobiSchelling/feedrank/internal/metrics"
	"github.com/TobiSchelling/feedrank/internal/provenance"
	"github.com/TobiSchelling/feedrank/internal/reward"
)

var now = time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seed stores an item with the given priority score.
func seed(t *testing.T, db *database.DB, id string, priority float64) {
	t.Helper()
	ctx := context.Background()
	_, err := db.UpsertItems(ctx, []database.Item{{
		ID: id, Partition: "2026-02-06", Category: "general", Polarity: "neutral",
		Confidence: 0.5, Timestamp: now,
	}})
	require.NoError(t, err)
	require.NoError(t, db.UpdateScores(ctx, []database.ScoreUpdate{{ID: id, PriorityScore: priority, TrendScore: 0.5}}))
}

func newService(t *testing.T, db *database.DB, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{
		WithClock(clockwork.NewFakeClockAt(now)),
		WithLogger(zaptest.NewLogger(t)),
	}, opts...)
	return NewService(db, nil, opts...)
}

func ledgerLen(t *testing.T, db *database.DB) int64 {
	t.Helper()
	_, seq, err := db.LedgerHead(context.Background())
	require.NoError(t, err)
	return seq
}

func signals(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func TestFeedbackQueue(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, "a", 0.7)
	svc := newService(t, db)

	out, err := svc.Feedback(context.Background(), Request{ID: "a", Signals: signals(reward.EditorApprove, reward.UserLike)})
	require.NoError(t, err)

	assert.Equal(t, 1.0, out.Reward)
	assert.Equal(t, decision.ActionQueue, out.Action)
	assert.True(t, out.Found)
	assert.True(t, out.Queued)
	assert.False(t, out.Requeued)
	assert.False(t, out.Demoted)

	it, err := db.GetItem(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, it.QueueRequested)
	require.NotNil(t, it.QueuedAt)
	assert.True(t, it.QueuedAt.Equal(now))
	require.NotNil(t, it.RewardScore)
	assert.Equal(t, 1.0, *it.RewardScore)
	assert.Equal(t, 0.7, it.PriorityScore)

	recs, err := db.LedgerForItem(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, StageFeedback, recs[0].Stage)
	assert.Equal(t, provenance.Genesis, recs[0].PrevChainHash)

	var payload feedbackPayload
	require.NoError(t, json.Unmarshal(recs[0].Payload, &payload))
	assert.Equal(t, decision.ActionQueue, payload.Action)
	assert.Equal(t, 0.7, payload.Priority)
	assert.Equal(t, decision.DefaultThresholds(), payload.Thresholds)
	assert.True(t, payload.Signals[reward.EditorApprove])
}

func TestFeedbackEffects(t *testing.T) {
	tests := []struct {
		name     string
		priority float64
		signals  map[string]bool
		action   decision.Action
		check    func(t *testing.T, it *database.Item, out *Outcome)
	}{
		{
			name: "skip", priority: 0.7, signals: signals(reward.ManualOverride), action: decision.ActionSkip,
			check: func(t *testing.T, it *database.Item, out *Outcome) {
				assert.True(t, out.Skipped)
				assert.True(t, it.Skip)
				assert.NotNil(t, it.SkippedAt)
			},
		},
		{
			name: "demote", priority: 0.5, signals: signals(reward.UserSkip), action: decision.ActionDemote,
			check: func(t *testing.T, it *database.Item, out *Outcome) {
				assert.True(t, out.Demoted)
				assert.True(t, it.Demoted)
				assert.NotNil(t, it.DemotedAt)
				assert.Equal(t, 0.4, it.PriorityScore)
			},
		},
		{
			name: "escalate floors priority", priority: 0.05, signals: signals(reward.UserSkip), action: decision.ActionEscalate,
			check: func(t *testing.T, it *database.Item, out *Outcome) {
				assert.True(t, out.Escalated)
				assert.True(t, it.Escalated)
				assert.NotNil(t, it.EscalatedAt)
				assert.Equal(t, 0.0, it.PriorityScore)
			},
		},
		{
			name: "requeue", priority: 0.7, signals: nil, action: decision.ActionRequeue,
			check: func(t *testing.T, it *database.Item, out *Outcome) {
				assert.True(t, out.Requeued)
				assert.True(t, it.RequeueRequested)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db := openTestDB(t)
			seed(t, db, "x", tc.priority)
			svc := newService(t, db)

			out, err := svc.Feedback(context.Background(), Request{ID: "x", Signals: tc.signals})
			require.NoError(t, err)
			assert.Equal(t, tc.action, out.Action)

			it, err := db.GetItem(context.Background(), "x")
			require.NoError(t, err)
			tc.check(t, it, out)
			assert.Equal(t, int64(1), ledgerLen(t, db))
		})
	}
}

func TestFeedbackNoneStillRecordsReward(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, "a", 0.7)
	svc := newService(t, db, WithWeights(reward.Weights{reward.UserLike: 0.3}))

	out, err := svc.Feedback(context.Background(), Request{ID: "a", Signals: signals(reward.UserLike)})
	require.NoError(t, err)
	assert.Equal(t, decision.ActionNone, out.Action)
	assert.False(t, out.Queued || out.Requeued || out.Demoted || out.Skipped || out.Escalated)

	it, err := db.GetItem(context.Background(), "a")
	require.NoError(t, err)
	require.NotNil(t, it.RewardScore)
	assert.Equal(t, 0.3, *it.RewardScore)
	assert.Equal(t, int64(1), ledgerLen(t, db))
}

func TestFeedbackUnknownItem(t *testing.T) {
	db := openTestDB(t)
	svc := newService(t, db)

	p := 0.05
	out, err := svc.Feedback(context.Background(), Request{
		ID:      "ghost",
		Item:    RequestItem{PriorityScore: &p},
		Signals: signals(reward.UserSkip),
	})
	require.NoError(t, err)
	assert.False(t, out.Found)
	assert.Equal(t, decision.ActionEscalate, out.Action)
	assert.False(t, out.Escalated)
	assert.False(t, out.Requeued || out.Queued || out.Demoted || out.Skipped)
	assert.Equal(t, int64(0), ledgerLen(t, db))
}

func TestFeedbackIDFallsBackToItemID(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, "a", 0.7)
	svc := newService(t, db)

	out, err := svc.Feedback(context.Background(), Request{Item: RequestItem{ID: "a"}, Signals: signals(reward.EditorApprove)})
	require.NoError(t, err)
	assert.Equal(t, "a", out.ID)
	assert.True(t, out.Found)
}

func TestFeedbackMissingID(t *testing.T) {
	svc := newService(t, openTestDB(t))
	_, err := svc.Feedback(context.Background(), Request{Signals: signals(reward.UserLike)})
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestFeedbackAdaptive(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, "a", 0.7)
	seed(t, db, "b", 0.7)

	policy := &decision.Policy{Base: decision.DefaultThresholds(), Adaptive: true, History: db}
	svc := NewService(db, policy, WithClock(clockwork.NewFakeClockAt(now)), WithLogger(zaptest.NewLogger(t)))

	// No history yet: static thresholds.
	out, err := svc.Feedback(context.Background(), Request{ID: "a", Signals: signals(reward.EditorApprove)})
	require.NoError(t, err)
	assert.False(t, out.Adapted)

	out, err = svc.Feedback(context.Background(), Request{ID: "b", Signals: signals(reward.EditorApprove)})
	require.NoError(t, err)
	assert.True(t, out.Adapted)

	recs, err := db.LedgerForItem(context.Background(), "b")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	var payload feedbackPayload
	require.NoError(t, json.Unmarshal(recs[0].Payload, &payload))
	assert.True(t, payload.Adapted)
	assert.Equal(t, decision.Adapt(decision.DefaultThresholds(), 1.0), payload.Thresholds)
}

func TestFeedbackConcurrentSameItem(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, "hot", 0.7)
	svc := newService(t, db)

	before, err := db.GetItem(context.Background(), "hot")
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Feedback(context.Background(), Request{ID: "hot", Signals: signals(reward.UserLike)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	after, err := db.GetItem(context.Background(), "hot")
	require.NoError(t, err)
	assert.Equal(t, before.Revision+n, after.Revision)

	recs, err := db.LedgerRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, n)
	assert.True(t, provenance.Verify(recs).Valid)
	assert.Equal(t, 0, svc.locks.size())
}

func TestFeedbackMetrics(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, "a", 0.7)
	m := metrics.NewFeedbackMetrics(prometheus.NewRegistry())
	svc := newService(t, db, WithMetrics(m))

	_, err := svc.Feedback(context.Background(), Request{ID: "a", Signals: signals(reward.EditorApprove)})
	require.NoError(t, err)
	_, err = svc.Feedback(context.Background(), Request{ID: "missing", Signals: signals(reward.EditorApprove)})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("queue", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("queue", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerAppends.WithLabelValues(StageFeedback)))
}

// stubStore fails writes in a controlled way.
type stubStore struct {
	item    database.Item
	saveErr error
	saves   int
}

func (s *stubStore) GetItem(_ context.Context, id string) (*database.Item, error) {
	if id != s.item.ID {
		return nil, database.ErrNotFound
	}
	it := s.item
	return &it, nil
}

func (s *stubStore) SaveItem(context.Context, *database.Item, *provenance.Record) error {
	s.saves++
	return s.saveErr
}

func TestFeedbackSurfacesWriteFailure(t *testing.T) {
	store := &stubStore{item: database.Item{ID: "a", PriorityScore: 0.7}, saveErr: errors.New("disk full")}
	svc := NewService(store, nil)

	out, err := svc.Feedback(context.Background(), Request{ID: "a", Signals: signals(reward.EditorApprove)})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "disk full")
}

func TestFeedbackRetriesStaleRevision(t *testing.T) {
	store := &stubStore{item: database.Item{ID: "a", PriorityScore: 0.7}, saveErr: database.ErrStaleRevision}
	svc := NewService(store, nil)

	_, err := svc.Feedback(context.Background(), Request{ID: "a"})
	assert.ErrorIs(t, err, database.ErrStaleRevision)
	assert.Equal(t, staleRetries+1, store.saves)
}

func TestRequeue(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, "a", 0.7)
	svc := newService(t, db)

	out, err := svc.Requeue(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, &RequeueOutcome{ID: "a", Requeued: true}, out)

	it, err := db.GetItem(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, it.RequeueRequested)

	recs, err := db.LedgerForItem(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, StageRequeue, recs[0].Stage)
	assert.Nil(t, recs[0].Reward)
}

func TestRequeueUnknownItem(t *testing.T) {
	db := openTestDB(t)
	svc := newService(t, db)

	out, err := svc.Requeue(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, out.Requeued)
	assert.Equal(t, int64(0), ledgerLen(t, db))

	_, err = svc.Requeue(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		running = map[string]int{}
		maxSeen = map[string]int{}
	)
	for i := 0; i < 40; i++ {
		key := fmt.Sprintf("k%d", i%4)
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(key)
			mu.Lock()
			running[key]++
			if running[key] > maxSeen[key] {
				maxSeen[key] = running[key]
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running[key]--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	for key, n := range maxSeen {
		assert.Equal(t, 1, n, key)
	}
	assert.Equal(t, 0, k.size())
}
