package ringsvc

import "github.com/ringcluster/mring/pkg/ids"

type eventType string

const (
	eventGetSize    eventType = "GetSize"
	eventSetSize    eventType = "SetSize"
	eventGetNodes   eventType = "GetNodes"
	eventAddNode    eventType = "AddNode"
	eventRemoveNode eventType = "RemoveNode"
)

type envelope struct {
	Type eventType `json:"type"`
}

type setSizeEvent struct {
	Type eventType `json:"type"`
	Size uint64    `json:"size"`
}

type addNodeEvent struct {
	Type eventType `json:"type"`
	Node string    `json:"node"`
}

type removeNodeEvent struct {
	Type eventType `json:"type"`
	Node string    `json:"node"`
}

// SetSizeMsg is published on MRingTopic when the ring size is first set.
type SetSizeMsg struct {
	Size     uint64 `json:"size"`
	Strategy string `json:"strategy"`
}

// NodeAddedMsg is published on MRingTopic after AddNode commits. Consumers
// outside this package (the vnode migration bridge) use Relocations and
// Next to derive the tasks this node's vnode manager must run.
type NodeAddedMsg struct {
	Node        string          `json:"node"`
	Strategy    string          `json:"strategy"`
	Next        ids.MRingNodes  `json:"next"`
	Relocations ids.Relocations `json:"relocations"`
}

// NodeRemovedMsg is published on MRingTopic after RemoveNode commits.
type NodeRemovedMsg struct {
	Node        string          `json:"node"`
	Strategy    string          `json:"strategy"`
	Next        ids.MRingNodes  `json:"next"`
	Relocations ids.Relocations `json:"relocations"`
}
