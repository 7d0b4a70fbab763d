package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/TobiSchelling/feedrank/internal/apperrors"
	"github.com/TobiSchelling/feedrank/internal/database"
	"github.com/TobiSchelling/feedrank/internal/feedback"
	"github.com/TobiSchelling/feedrank/internal/rank"
)

const healthTimeout = 2 * time.Second

type requeueRequest struct {
	ID string `json:"id"`
}

// feedResponse is the latest stored ranked feed.
type feedResponse struct {
	SnapshotID int64           `json:"snapshot_id"`
	Partition  string          `json:"partition"`
	CreatedAt  *time.Time      `json:"created_at,omitempty"`
	Items      []database.Item `json:"items"`
}

// sampleItem is the narration-facing view of one ranked item.
type sampleItem struct {
	ID              string  `json:"id"`
	Script          string  `json:"script"`
	Tone            string  `json:"tone"`
	ConfidenceScore float64 `json:"confidence_score"`
	AudioPath       string  `json:"audio_path"`
	PriorityScore   float64 `json:"priority_score"`
	TrendScore      float64 `json:"trend_score"`
	RewardScore     float64 `json:"rl_reward_score"`
}

func defaultSample() sampleItem {
	return sampleItem{
		ID:              "sample-id",
		Script:          "Sample medium summary for narration.",
		Tone:            "calm",
		ConfidenceScore: 0.5,
		AudioPath:       "data/audio/20250101/dev/item_1_dev.wav",
	}
}

func (s *Server) handleFeedback(c echo.Context) error {
	var req feedback.Request
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if req.ItemID() == "" {
		return apperrors.ValidationError("missing id")
	}

	ctx, cancel := s.storageContext(c)
	defer cancel()

	out, err := s.feedback.Feedback(ctx, req)
	if err != nil {
		return storageError(err, req.ItemID())
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleRequeue(c echo.Context) error {
	var req requeueRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.ID) == "" {
		return apperrors.ValidationError("missing id")
	}

	ctx, cancel := s.storageContext(c)
	defer cancel()

	out, err := s.feedback.Requeue(ctx, req.ID)
	if err != nil {
		return storageError(err, req.ID)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleFeed(c echo.Context) error {
	ctx, cancel := s.storageContext(c)
	defer cancel()

	snap, err := s.store.LatestSnapshot(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return c.JSON(http.StatusOK, feedResponse{Items: []database.Item{}})
	}
	if err != nil {
		return apperrors.InternalError("failed to load feed", err)
	}

	created := snap.CreatedAt
	items := snap.Items
	if items == nil {
		items = []database.Item{}
	}
	return c.JSON(http.StatusOK, feedResponse{
		SnapshotID: snap.ID,
		Partition:  snap.Partition,
		CreatedAt:  &created,
		Items:      items,
	})
}

func (s *Server) handleSample(c echo.Context) error {
	ctx, cancel := s.storageContext(c)
	defer cancel()

	sample := defaultSample()
	snap, err := s.store.LatestSnapshot(ctx)
	if err == nil && len(snap.Items) > 0 {
		sample = toSample(snap.Items[0])
	}
	return c.JSON(http.StatusOK, sample)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	status, dbStatus, code := "ok", "ok", http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		status, dbStatus, code = "degraded", err.Error(), http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]any{
		"status":   status,
		"database": dbStatus,
		"uptime":   s.clock.Since(s.startTime).Round(time.Second).String(),
	})
}

func toSample(it database.Item) sampleItem {
	script := it.Summary
	if script == "" {
		script = it.Title
	}
	reward := 0.0
	if it.RewardScore != nil {
		reward = *it.RewardScore
	}
	return sampleItem{
		ID:              it.ID,
		Script:          script,
		Tone:            it.Tone,
		ConfidenceScore: it.Confidence,
		AudioPath:       rank.NormalizePath(it.AudioPath),
		PriorityScore:   it.PriorityScore,
		TrendScore:      it.TrendScore,
		RewardScore:     reward,
	}
}

// decodeBody parses a JSON request body, rejecting anything unparseable.
func decodeBody(c echo.Context, v any) error {
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		return apperrors.ValidationError("invalid json")
	}
	return nil
}

func storageError(err error, id string) error {
	switch {
	case errors.Is(err, feedback.ErrMissingID):
		return apperrors.ValidationError("missing id")
	case errors.Is(err, database.ErrStaleRevision):
		return apperrors.ConflictError("item changed concurrently, retry", err).WithContext("id", id)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.UnavailableError("storage timed out, retry", err).WithContext("id", id)
	default:
		return apperrors.InternalError("failed to apply feedback", err).WithContext("id", id)
	}
}
