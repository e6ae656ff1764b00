package callstate

import "time"

// Status is the application-level state of the softphone line.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
	StatusCalling Status = "calling"
	StatusRinging Status = "ringing"
	StatusActive  Status = "active"
)

// Change is emitted by the Machine when the status moves.
type Change struct {
	From      Status    `json:"previous"`
	To        Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Err       string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// transitions lists the allowed targets for each status. A move to ready is
// always allowed and is not repeated here.
var transitions = map[Status][]Status{
	StatusIdle:    {StatusLoading},
	StatusLoading: {StatusError},
	StatusReady:   {StatusLoading, StatusCalling, StatusRinging},
	StatusError:   {StatusLoading},
	StatusCalling: {StatusRinging, StatusActive},
	StatusRinging: {StatusActive},
	StatusActive:  {},
}

// Allowed reports whether the transition table permits from -> to.
func Allowed(from, to Status) bool {
	if from == to {
		return false
	}
	if to == StatusReady {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Descriptions is published alongside each status.
var Descriptions = map[Status]string{
	StatusIdle:    "The softphone has not been initialized",
	StatusLoading: "The softphone widget is loading",
	StatusReady:   "The line is registered and can place or receive calls",
	StatusError:   "The softphone is unavailable",
	StatusCalling: "An outbound call is being placed",
	StatusRinging: "An inbound call is ringing",
	StatusActive:  "A call is connected",
}
