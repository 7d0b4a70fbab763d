package database

import "time"

// Item is a ranked content item.
type Item struct {
	ID         string    `json:"id"`
	Partition  string    `json:"partition"`
	Title      string    `json:"title,omitempty"`
	Category   string    `json:"category"`
	Language   string    `json:"language,omitempty"`
	Polarity   string    `json:"polarity"`
	Tone       string    `json:"tone,omitempty"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Summary    string    `json:"summary,omitempty"`
	AudioPath  string    `json:"audio_path,omitempty"`

	PriorityScore float64  `json:"priority_score"`
	TrendScore    float64  `json:"trend_score"`
	RewardScore   *float64 `json:"reward_score,omitempty"`

	RequeueRequested bool       `json:"requeue_requested"`
	QueueRequested   bool       `json:"queue_requested"`
	QueuedAt         *time.Time `json:"queued_at,omitempty"`
	Demoted          bool       `json:"demoted"`
	DemotedAt        *time.Time `json:"demoted_at,omitempty"`
	Skip             bool       `json:"skip"`
	SkippedAt        *time.Time `json:"skipped_at,omitempty"`
	Escalated        bool       `json:"escalated"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`

	// Revision increases by one on every write.
	Revision   int64     `json:"revision"`
	IngestedAt time.Time `json:"ingested_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ScoreUpdate carries the ranker's output for one item.
type ScoreUpdate struct {
	ID            string
	PriorityScore float64
	TrendScore    float64
}

// Snapshot is a stored ranked feed.
type Snapshot struct {
	ID        int64
	Partition string
	CreatedAt time.Time
	Items     []Item
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalItems       int
	Partitions       int
	Queued           int
	Skipped          int
	Demoted          int
	Escalated        int
	RequeueRequested int
	LedgerRecords    int64
	LedgerHead       string
	LastSnapshot     *time.Time
}
