package transport

import (
	"context"
	"errors"
)

// Reason classifies a failed delivery.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUnknown
	ReasonTransient
	// ReasonUnreachable means the recipient blocked the bot or no longer exists.
	ReasonUnreachable
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonTransient:
		return "transient"
	case ReasonUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// DeliveryError carries the adapter's classification of a send failure.
type DeliveryError struct {
	Reason Reason
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return "delivery failed: " + e.Reason.String()
	}
	return "delivery failed (" + e.Reason.String() + "): " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Classify returns the delivery failure reason for err. Errors that were not
// classified by an adapter are Unknown, except context deadlines which are
// Transient.
func Classify(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTransient
	}
	return ReasonUnknown
}
