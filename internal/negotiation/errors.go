package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrSessionActive     = errors.New("a call session is already active")
	ErrNoSession         = errors.New("no active call session")
	ErrNoVideoSender     = errors.New("call has no outgoing video track")
	ErrControllerStopped = errors.New("negotiation controller stopped")
)

// MediaAcquisitionError reports that local capture was denied or failed.
type MediaAcquisitionError struct {
	Op  string
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("%s: media acquisition failed: %v", e.Op, e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error {
	return e.Err
}

// NegotiationError reports a failed offer, answer or description step.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func negotiationError(op string, err error) error {
	return &NegotiationError{Op: op, Err: err}
}
