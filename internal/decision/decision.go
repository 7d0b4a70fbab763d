// Package decision maps a (priority, reward) pair to a feedback action.
package decision

// Action is the outcome of a decision.
type Action string

const (
	ActionQueue    Action = "queue"
	ActionSkip     Action = "skip"
	ActionEscalate Action = "escalate"
	ActionDemote   Action = "demote"
	ActionRequeue  Action = "requeue"
	ActionNone     Action = "none"
)

// Actions lists every action in precedence order.
var Actions = []Action{ActionQueue, ActionSkip, ActionEscalate, ActionDemote, ActionRequeue, ActionNone}

// Thresholds are the cutoffs evaluated by Decide.
type Thresholds struct {
	BasePriority       float64 `json:"base_priority"`
	BaseReward         float64 `json:"base_reward"`
	EscalationPriority float64 `json:"escalation_priority"`
	EscalationReward   float64 `json:"escalation_reward"`
	PositiveQueue      float64 `json:"positive_queue"`
	NegativeSkip       float64 `json:"negative_skip"`
	Demote             float64 `json:"demote"`
}

// DefaultThresholds keeps queue and skip outside the requeue band and
// restricts escalation to low-priority items with no positive feedback.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BasePriority:       0.5,
		BaseReward:         0.2,
		EscalationPriority: 0.1,
		EscalationReward:   0.0,
		PositiveQueue:      0.6,
		NegativeSkip:       -0.8,
		Demote:             -0.4,
	}
}

// Decide evaluates the thresholds in fixed precedence order:
// queue, skip, escalate, demote, requeue, none.
// Escalate is checked before demote, so a low-priority item with a
// demote-level reward goes to review rather than being silently demoted.
func Decide(priority, reward float64, t Thresholds) Action {
	switch {
	case reward >= t.PositiveQueue:
		return ActionQueue
	case reward <= t.NegativeSkip:
		return ActionSkip
	case priority <= t.EscalationPriority && reward <= t.EscalationReward:
		return ActionEscalate
	case reward <= t.Demote:
		return ActionDemote
	case priority < t.BasePriority || reward < t.BaseReward:
		return ActionRequeue
	default:
		return ActionNone
	}
}
