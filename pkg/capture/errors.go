package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrCaptureFailed wraps failures of the underlying capture mechanism,
	// either when opening it or when it dies mid-run.
	ErrCaptureFailed = errors.New("capture failed")
	// ErrSessionStopped is returned for operations on a stopped session.
	ErrSessionStopped = errors.New("capture session stopped")
	// ErrReadTimeout is returned by a Source when no frame arrived within
	// its read timeout. The capture loop treats it as a poll tick.
	ErrReadTimeout = errors.New("capture read timeout")
	// ErrSourceClosed is returned by a Source read after Close.
	ErrSourceClosed = errors.New("capture source closed")
)

// DropReason classifies why a frame was not recorded.
type DropReason string

const (
	ReasonNoNetworkLayer     DropReason = "no_network_layer"
	ReasonUnsupportedNetwork DropReason = "unsupported_network"
	ReasonMalformed          DropReason = "malformed"
	ReasonPanic              DropReason = "panic"
)

// DropReasons lists every reason in a stable order.
var DropReasons = []DropReason{
	ReasonNoNetworkLayer,
	ReasonUnsupportedNetwork,
	ReasonMalformed,
	ReasonPanic,
}

// FrameError describes a frame dropped during extraction.
type FrameError struct {
	Reason DropReason
	Detail string
	Err    error
}

func (e *FrameError) Error() string {
	msg := fmt.Sprintf("frame dropped (%s)", e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// DropReasonOf returns the drop reason carried by err, if any.
func DropReasonOf(err error) (DropReason, bool) {
	var fe *FrameError
	if errors.As(err, &fe) {
		return fe.Reason, true
	}
	return "", false
}
