package placement

import "github.com/ringcluster/mring/pkg/ids"

// Strategy computes ring membership transitions. Implementations must be
// pure functions of their arguments: identical inputs always produce
// identical (nodes, relocations) outputs, since every raft replica
// computes a placement transition independently from the same committed
// event.
type Strategy interface {
	// Name identifies the strategy, reported alongside the ring for
	// diagnostics.
	Name() string

	// New lays out a fresh ring of size vnodes, all owned by firstNode.
	New(size uint64, firstNode string) ids.MRingNodes

	// AddNode folds newNode into current, cutting vnodes from existing
	// owners so every owner's share differs by at most one vnode.
	AddNode(size uint64, current ids.MRingNodes, newNode string) (ids.MRingNodes, ids.Relocations)

	// RemoveNode redistributes leavingNode's vnodes among the remaining
	// owners, again keeping shares within one vnode of each other.
	RemoveNode(size uint64, current ids.MRingNodes, leavingNode string) (ids.MRingNodes, ids.Relocations)
}
