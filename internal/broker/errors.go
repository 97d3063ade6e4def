package broker

import "fmt"

// CommunicationError wraps a transport, auth, or rate-limit failure that
// survived the client's retry policy. The live engine recovers from these
// locally by skipping the tick.
type CommunicationError struct {
	Op  string
	Err error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("broker communication failed: %s: %v", e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// RejectedError reports that the broker declined an order. Rejections are
// never retried at this layer.
type RejectedError struct {
	Op     string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("broker rejected %s: %s", e.Op, e.Reason)
}
