package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-marks-engine/internal/models"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
)

var allStates = []models.WorkflowState{
	models.StateDraft, models.StateSubmitted, models.StateApproved,
	models.StateRejected, models.StateFrozen, models.StatePublished,
}

func TestTransitionTableCoversEveryState(t *testing.T) {
	for _, state := range allStates {
		_, ok := transitionTable[state]
		assert.True(t, ok, "state %s missing from table", state)
	}
	for from, rules := range transitionTable {
		for event, rule := range rules {
			assert.Equal(t, event, rule.Event)
			assert.NotEqual(t, from, rule.To, "self loop on %s/%s", from, event)
			_, ok := transitionTable[rule.To]
			assert.True(t, ok, "target %s unknown", rule.To)
		}
	}
}

func TestPublishedOnlyReachableThroughApproved(t *testing.T) {
	type node struct {
		state    models.WorkflowState
		approved bool
	}
	seen := map[node]bool{}
	queue := []node{{state: models.StateDraft}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if cur.state == models.StatePublished {
			require.True(t, cur.approved, "published reached without approval")
		}
		for _, rule := range transitionTable[cur.state] {
			queue = append(queue, node{state: rule.To, approved: cur.approved || rule.To == models.StateApproved})
		}
	}
	assert.True(t, seen[node{state: models.StatePublished, approved: true}])
}

func TestOnlyRejectedMovesBackward(t *testing.T) {
	rank := map[models.WorkflowState]int{
		models.StateDraft: 0, models.StateSubmitted: 1, models.StateRejected: 2,
		models.StateApproved: 2, models.StateFrozen: 3, models.StatePublished: 4,
	}
	for from, rules := range transitionTable {
		for _, rule := range rules {
			if rank[rule.To] < rank[from] {
				assert.Equal(t, models.StateRejected, from)
				assert.Equal(t, models.StateSubmitted, rule.To)
			}
		}
	}
}

func TestLookupTransition(t *testing.T) {
	rule, err := LookupTransition(models.StateSubmitted, models.EventReject)
	require.NoError(t, err)
	assert.True(t, rule.ReasonRequired)
	assert.Equal(t, models.StateRejected, rule.To)
	assert.Equal(t, models.StateSubmitted, rule.From)

	rule, err = LookupTransition(models.StateApproved, models.EventFreeze)
	require.NoError(t, err)
	assert.Equal(t, ActorApproverOrScheduler, rule.Actor)

	_, err = LookupTransition(models.StateDraft, models.EventPublish)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	_, err = LookupTransition(models.StateApproved, models.EventApprove)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	_, err = LookupTransition(models.StatePublished, models.EventFreeze)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
}

func TestOverrideReopensAnyNonDraftState(t *testing.T) {
	for _, state := range allStates[1:] {
		rule, err := LookupTransition(state, models.EventOverride)
		require.NoError(t, err, state)
		assert.Equal(t, models.StateDraft, rule.To)
		assert.True(t, rule.JustificationRequired)
		assert.Equal(t, ActorOriginatorOrApprover, rule.Actor)
	}
	_, err := LookupTransition(models.StateDraft, models.EventOverride)
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
}

func TestAllowedEvents(t *testing.T) {
	assert.Equal(t, []models.WorkflowEvent{models.EventFreeze, models.EventPublish}, AllowedEvents(models.StateApproved))
	assert.Empty(t, AllowedEvents(models.StatePublished))
}
