// Package ringsvc is the replicated state machine entry point for managed
// ring operations: it decodes GetSize/SetSize/GetNodes/AddNode/RemoveNode
// events, reads and writes the ring's size and node layout through the
// raft storage engine, delegates placement transitions to pkg/placement,
// and publishes the resulting membership change on the "mring" pub/sub
// topic. It holds no state of its own beyond what it reads from storage
// for the duration of one event.
package ringsvc
