package challenge

import (
	"errors"
	"fmt"

	"github.com/prepbolt/apiserver/types"
)

// Sentinel errors returned by the challenge core. Callers match them with
// errors.Is; typed errors below wrap or alias them.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("challenge not found")
	ErrForbidden           = errors.New("operation not allowed for this user")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrAlreadyApplied      = errors.New("transition already applied")
	ErrNotJoinable         = errors.New("challenge is not open for joining")
	ErrRegistrationClosed  = errors.New("registration deadline has passed")
	ErrAlreadyJoined       = errors.New("user already joined the challenge")
	ErrFull                = errors.New("challenge is full")
	ErrNotAParticipant     = errors.New("user is not a participant")
	ErrLocked              = errors.New("challenge is locked")
	ErrNotActive           = errors.New("challenge is not active")
	ErrDuplicateSubmission = errors.New("result already submitted")
	ErrConflict            = errors.New("concurrent modification, try again")
	ErrUnavailable         = errors.New("challenge store unavailable")
)

// ValidationError names the offending field of a rejected configuration.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ScheduleError is a ValidationError raised by the scheduling validator.
type ScheduleError struct {
	Field  string
	Reason string
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule: %s %s", e.Field, e.Reason)
}

func (e *ScheduleError) Is(target error) bool {
	return target == ErrValidation
}

// TransitionError reports a lifecycle event whose guard failed.
type TransitionError struct {
	From  types.ChallengeStatus
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a challenge in status %s", e.Event, e.From)
}

func (e *TransitionError) Is(target error) bool {
	switch target {
	case ErrInvalidTransition:
		return true
	case ErrLocked:
		return e.Event == EventCancel && e.From == types.StatusActive
	case ErrAlreadyApplied:
		to, ok := e.Event.Target()
		return ok && e.From == to
	default:
		return false
	}
}

// Code returns a stable machine-readable identifier for err, used in API
// responses. Unknown errors map to "internal".
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrLocked):
		return "locked"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotJoinable):
		return "not_joinable"
	case errors.Is(err, ErrRegistrationClosed):
		return "registration_closed"
	case errors.Is(err, ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, ErrFull):
		return "full"
	case errors.Is(err, ErrNotAParticipant):
		return "not_a_participant"
	case errors.Is(err, ErrNotActive):
		return "not_active"
	case errors.Is(err, ErrDuplicateSubmission):
		return "duplicate_submission"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}
