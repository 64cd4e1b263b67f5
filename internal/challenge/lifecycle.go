package challenge

import (
	"time"

	"github.com/prepbolt/apiserver/types"
)

// Event is a lifecycle trigger applied to a challenge.
type Event string

// Supported lifecycle events.
const (
	EventPublish  Event = "publish"
	EventStart    Event = "start"
	EventComplete Event = "complete"
	EventCancel   Event = "cancel"
)

type edge struct {
	from []types.ChallengeStatus
	to   types.ChallengeStatus
}

var transitions = map[Event]edge{
	EventPublish:  {from: []types.ChallengeStatus{types.StatusDraft}, to: types.StatusOpen},
	EventStart:    {from: []types.ChallengeStatus{types.StatusOpen}, to: types.StatusActive},
	EventComplete: {from: []types.ChallengeStatus{types.StatusActive}, to: types.StatusCompleted},
	EventCancel:   {from: []types.ChallengeStatus{types.StatusDraft, types.StatusOpen}, to: types.StatusCancelled},
}

// Events lists every lifecycle event.
func Events() []Event {
	return []Event{EventPublish, EventStart, EventComplete, EventCancel}
}

// ParseEvent converts an action name into an Event.
func ParseEvent(raw string) (Event, bool) {
	e := Event(raw)
	_, ok := transitions[e]
	return e, ok
}

// Target returns the status an event leads to.
func (e Event) Target() (types.ChallengeStatus, bool) {
	t, ok := transitions[e]
	return t.to, ok
}

// EventType returns the audit event recorded for e.
func (e Event) EventType() types.ChallengeEventType {
	switch e {
	case EventPublish:
		return types.EventPublished
	case EventStart:
		return types.EventStarted
	case EventComplete:
		return types.EventCompleted
	default:
		return types.EventCancelled
	}
}

// CanApply reports whether e is allowed from status s.
func CanApply(s types.ChallengeStatus, e Event) bool {
	t, ok := transitions[e]
	if !ok {
		return false
	}
	for _, from := range t.from {
		if from == s {
			return true
		}
	}
	return false
}

// Apply performs the lifecycle event on c in place. On failure c is left
// untouched and a *TransitionError is returned.
func Apply(c *types.Challenge, e Event, now time.Time) error {
	if !CanApply(c.Status, e) {
		return &TransitionError{From: c.Status, Event: e}
	}
	t := transitions[e]
	at := now
	switch e {
	case EventStart:
		c.StartedAt = &at
	case EventComplete:
		c.CompletedAt = &at
	case EventCancel:
		c.CancelledAt = &at
	}
	c.Status = t.to
	return nil
}

// Authorize checks that actor may manage c: the creator or an operator.
func Authorize(c types.Challenge, actor types.Actor) error {
	if actor.IsOperator() {
		return nil
	}
	if actor.ID > 0 && actor.ID == c.CreatorID {
		return nil
	}
	return ErrForbidden
}

// SoftDelete hides c from listings. Draft and open challenges are
// cancelled on the way; an active challenge must run to completion.
func SoftDelete(c *types.Challenge, now time.Time) error {
	if !c.IsActive {
		return ErrNotFound
	}
	switch c.Status {
	case types.StatusActive:
		return ErrLocked
	case types.StatusDraft, types.StatusOpen:
		if err := Apply(c, EventCancel, now); err != nil {
			return err
		}
	}
	c.IsActive = false
	return nil
}
