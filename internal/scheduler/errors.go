package scheduler

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/nan-scheduler/model"
)

var (
	ErrQueueFull      = errors.New("scheduler: transaction queue full")
	ErrWrongState     = errors.New("scheduler: operation not valid in the current negotiation state")
	ErrNoBand         = errors.New("scheduler: no band usable with peer")
	ErrNoRecord       = errors.New("scheduler: no schedule record for peer")
	ErrCustomFull     = errors.New("scheduler: too many custom FAW entries staged")
	ErrInvalidChannel = errors.New("scheduler: channel not usable")
)

// NegotiationError ends a negotiation. Reason is what goes into the
// rejection attribute.
type NegotiationError struct {
	Reason model.ReasonCode
	Err    error
}

func (e *NegotiationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("negotiation rejected: %s", e.Reason)
	}
	return fmt.Sprintf("negotiation rejected (%s): %v", e.Reason, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

func reject(reason model.ReasonCode, err error) *NegotiationError {
	return &NegotiationError{Reason: reason, Err: err}
}

// ReasonOf extracts the rejection reason carried by err. Errors that are not
// negotiation failures map to ReasonUnspecified, nil to ReasonNone.
func ReasonOf(err error) model.ReasonCode {
	if err == nil {
		return model.ReasonNone
	}
	var ne *NegotiationError
	if errors.As(err, &ne) {
		return ne.Reason
	}
	return model.ReasonUnspecified
}
