package raftnode

import "github.com/ringcluster/mring/pkg/ids"

// entryEnvelope is the payload of every normal raft log entry this
// platform proposes: it tags the event with the service it targets and a
// correlation id so the proposing node can match the applied result back
// to the caller waiting on it.
type entryEnvelope struct {
	ID        string        `json:"id"`
	ServiceID ids.ServiceId `json:"service_id"`
	Event     []byte        `json:"event"`
}
