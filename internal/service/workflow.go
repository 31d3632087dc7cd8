package service

import (
	"sort"

	"github.com/noah-isme/sma-marks-engine/internal/models"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
)

// ActorConstraint names who may fire a workflow event.
type ActorConstraint string

const (
	ActorOriginator           ActorConstraint = "ORIGINATOR"
	ActorApprover             ActorConstraint = "APPROVER"
	ActorApproverOrScheduler  ActorConstraint = "APPROVER_OR_SCHEDULER"
	ActorOriginatorOrApprover ActorConstraint = "ORIGINATOR_OR_APPROVER"
)

// TransitionRule is one row of the workflow table.
type TransitionRule struct {
	From                  models.WorkflowState
	Event                 models.WorkflowEvent
	To                    models.WorkflowState
	Actor                 ActorConstraint
	ReasonRequired        bool
	JustificationRequired bool
}

var overrideRule = TransitionRule{
	Event:                 models.EventOverride,
	To:                    models.StateDraft,
	Actor:                 ActorOriginatorOrApprover,
	JustificationRequired: true,
}

var transitionTable = map[models.WorkflowState]map[models.WorkflowEvent]TransitionRule{
	models.StateDraft: {
		models.EventSubmit: {Event: models.EventSubmit, To: models.StateSubmitted, Actor: ActorOriginator},
	},
	models.StateSubmitted: {
		models.EventApprove: {Event: models.EventApprove, To: models.StateApproved, Actor: ActorApprover},
		models.EventReject:  {Event: models.EventReject, To: models.StateRejected, Actor: ActorApprover, ReasonRequired: true},
	},
	models.StateRejected: {
		models.EventResubmit: {Event: models.EventResubmit, To: models.StateSubmitted, Actor: ActorOriginator},
	},
	models.StateApproved: {
		models.EventFreeze:  {Event: models.EventFreeze, To: models.StateFrozen, Actor: ActorApproverOrScheduler},
		models.EventPublish: {Event: models.EventPublish, To: models.StatePublished, Actor: ActorApprover},
	},
	models.StateFrozen: {
		models.EventPublish: {Event: models.EventPublish, To: models.StatePublished, Actor: ActorApprover},
	},
	models.StatePublished: {},
}

// LookupTransition returns the rule for firing event from state.
func LookupTransition(from models.WorkflowState, event models.WorkflowEvent) (TransitionRule, error) {
	rules, known := transitionTable[from]
	if !known {
		return TransitionRule{}, appErrors.Clone(appErrors.ErrInvalidTransition, "unknown workflow state").
			WithDetail("state", string(from))
	}
	if event == models.EventOverride {
		if from == models.StateDraft {
			return TransitionRule{}, appErrors.Clone(appErrors.ErrInvalidTransition, "record is already open for editing").
				WithDetail("state", string(from))
		}
		rule := overrideRule
		rule.From = from
		return rule, nil
	}
	rule, ok := rules[event]
	if !ok {
		return TransitionRule{}, appErrors.ErrInvalidTransition.
			WithDetail("state", string(from)).
			WithDetail("event", string(event))
	}
	rule.From = from
	return rule, nil
}

// AllowedEvents lists the ordinary events that may fire from state, sorted by name.
func AllowedEvents(from models.WorkflowState) []models.WorkflowEvent {
	events := make([]models.WorkflowEvent, 0, len(transitionTable[from]))
	for event := range transitionTable[from] {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}
