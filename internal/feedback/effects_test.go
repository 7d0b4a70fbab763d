package feedback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TobiSchelling/feedrank/internal/database"
	"github.com/TobiSchelling/feedrank/internal/decision"
)

func TestApplyNoneLeavesItemAlone(t *testing.T) {
	it := database.Item{ID: "a", PriorityScore: 0.5}
	before := it
	assert.False(t, Apply(&it, decision.ActionNone, now, DefaultPenalties()))
	assert.Equal(t, before, it)
}

func TestApplyPenalties(t *testing.T) {
	p := Penalties{Demote: 0.25, Escalate: 0.05}

	it := database.Item{PriorityScore: 0.5}
	Apply(&it, decision.ActionDemote, now, p)
	assert.Equal(t, 0.25, it.PriorityScore)

	it = database.Item{PriorityScore: 0.5}
	Apply(&it, decision.ActionEscalate, now, p)
	assert.Equal(t, 0.45, it.PriorityScore)

	it = database.Item{PriorityScore: 0.1}
	Apply(&it, decision.ActionDemote, now, p)
	assert.Equal(t, 0.0, it.PriorityScore)
}

func TestApplyNegativePenaltyIgnored(t *testing.T) {
	it := database.Item{PriorityScore: 0.5}
	Apply(&it, decision.ActionDemote, now, Penalties{Demote: -1})
	assert.Equal(t, 0.5, it.PriorityScore)
	assert.True(t, it.Demoted)
}

func TestApplyStampsUTC(t *testing.T) {
	it := database.Item{}
	Apply(&it, decision.ActionQueue, now.In(time.FixedZone("X", 3600)), DefaultPenalties())
	assert.Equal(t, time.UTC, it.QueuedAt.Location())
}
