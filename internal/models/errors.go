package models

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidTransition         = errors.New("invalid transition")
	ErrMissingCallbackParameters = errors.New("missing callback parameters")
	ErrUnrecognizedCallback      = errors.New("unrecognized callback")
	ErrNoMatchingAttempt         = errors.New("no matching payment attempt")
	ErrDuplicatePendingAttempt   = errors.New("a payment attempt is already pending for this target")
	ErrGatewayUnavailable        = errors.New("payment gateway unavailable")
	ErrBusy                      = errors.New("target is busy, retry later")

	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("caller is not allowed to perform this action")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrUnknownGateway = errors.New("unknown gateway")
	ErrReasonRequired = errors.New("a rejection reason is required")
)

// TransitionError describes a state guard that failed
type TransitionError struct {
	DesignID string
	From     DesignStatus
	Event    string
	Reason   string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s set design %s in state %s", e.Event, e.DesignID, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is lets errors.Is match ErrInvalidTransition
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
