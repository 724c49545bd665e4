package service

import "errors"

// ErrUnknownEvent is returned when an event payload doesn't decode to any
// event this service recognizes. It is never proposed to Raft.
var ErrUnknownEvent = errors.New("service: unknown event")

// Status is the result code a service execution reports.
type Status int

const (
	// StatusOK is the normal success result.
	StatusOK Status = 200
	// StatusNotFound means a replicated value this read depends on has
	// not been set yet.
	StatusNotFound Status = 404
	// StatusConflict means a replicated-state conflict: the write would
	// violate a once-only or compare-and-swap invariant.
	StatusConflict Status = 409
	// StatusPrecondition means a required replicated value (e.g. ring
	// size) is missing, so the operation cannot proceed at all.
	StatusPrecondition Status = 412
)

// Service is a pluggable replicated state-machine handler keyed by a
// ServiceId in the raft driver's dispatch table.
type Service interface {
	// Execute applies a decoded event and returns a result status plus
	// an opaque, typically JSON, response payload.
	Execute(event []byte) (Status, []byte, error)

	// IsLocal reports whether event can be served from local storage
	// without going through Raft.
	IsLocal(event []byte) bool
}
