package types

import (
	"time"

	"github.com/google/uuid"
)

// ChallengeEventType names an accepted mutation of a challenge.
type ChallengeEventType string

// Supported event types.
const (
	EventCreated         ChallengeEventType = "challenge.created"
	EventUpdated         ChallengeEventType = "challenge.updated"
	EventPublished       ChallengeEventType = "challenge.published"
	EventStarted         ChallengeEventType = "challenge.started"
	EventCompleted       ChallengeEventType = "challenge.completed"
	EventCancelled       ChallengeEventType = "challenge.cancelled"
	EventDeleted         ChallengeEventType = "challenge.deleted"
	EventJoined          ChallengeEventType = "participant.joined"
	EventLeft            ChallengeEventType = "participant.left"
	EventResultSubmitted ChallengeEventType = "result.submitted"
)

// ChallengeEvent is an immutable audit record of an accepted mutation.
// Events are stored alongside the challenge and fanned out to the
// message broker and live subscribers.
type ChallengeEvent struct {
	// ID uniquely identifies the event.
	ID uuid.UUID `json:"id" db:"id"`

	// Type is the kind of mutation.
	Type ChallengeEventType `json:"type" db:"type"`

	// ChallengeID identifies the affected challenge.
	ChallengeID int `json:"challenge_id" db:"challenge_id"`

	// ActorID is the user who triggered the mutation; 0 for the system.
	ActorID int `json:"actor_id" db:"actor_id"`

	// UserID is the participant affected, when relevant.
	UserID int `json:"user_id,omitempty" db:"user_id"`

	// Status is the challenge status after the mutation.
	Status ChallengeStatus `json:"status" db:"status"`

	// Version is the challenge version produced by the mutation.
	Version int64 `json:"version" db:"version"`

	// OccurredAt is when the mutation was committed.
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
}

// NewChallengeEvent builds an event describing c after a mutation.
func NewChallengeEvent(kind ChallengeEventType, c Challenge, actorID, userID int, at time.Time) ChallengeEvent {
	return ChallengeEvent{
		ID:          uuid.New(),
		Type:        kind,
		ChallengeID: c.ID,
		ActorID:     actorID,
		UserID:      userID,
		Status:      c.Status,
		Version:     c.Version,
		OccurredAt:  at,
	}
}
