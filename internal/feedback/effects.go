package feedback

import (
	"time"

	"github.com/TobiSchelling/feedrank/internal/database"
	"github.com/TobiSchelling/feedrank/internal/decision"
	"github.com/TobiSchelling/feedrank/internal/score"
)

const (
	DefaultDemotePenalty   = 0.1
	DefaultEscalatePenalty = 0.1
)

// Penalties are the priority reductions applied by demote and escalate.
type Penalties struct {
	Demote   float64
	Escalate float64
}

// DefaultPenalties returns 0.1 for both actions.
func DefaultPenalties() Penalties {
	return Penalties{Demote: DefaultDemotePenalty, Escalate: DefaultEscalatePenalty}
}

// Apply mutates it according to action. It reports whether anything changed;
// ActionNone never changes the item.
func Apply(it *database.Item, action decision.Action, now time.Time, p Penalties) bool {
	stamp := now.UTC()
	switch action {
	case decision.ActionQueue:
		it.QueueRequested = true
		it.QueuedAt = &stamp
	case decision.ActionSkip:
		it.Skip = true
		it.SkippedAt = &stamp
	case decision.ActionEscalate:
		it.Escalated = true
		it.EscalatedAt = &stamp
		it.PriorityScore = lower(it.PriorityScore, p.Escalate)
	case decision.ActionDemote:
		it.Demoted = true
		it.DemotedAt = &stamp
		it.PriorityScore = lower(it.PriorityScore, p.Demote)
	case decision.ActionRequeue:
		it.RequeueRequested = true
	default:
		return false
	}
	return true
}

func lower(priority, penalty float64) float64 {
	if penalty < 0 {
		penalty = 0
	}
	return score.Round4(max(0, priority-penalty))
}
