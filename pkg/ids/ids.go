package ids

import "sort"

// NodeId identifies a raft cluster member.
type NodeId uint64

// ServiceId selects a state-machine handler registered on the raft node.
type ServiceId uint16

const (
	// KVServiceID is the ServiceId of the replicated key-value service.
	KVServiceID ServiceId = 0
	// MRingServiceID is the ServiceId of the replicated ring-placement service.
	MRingServiceID ServiceId = 1
)

// Scope is a 16-bit namespace within a service's data keyspace.
type Scope uint16

// NodePlacement is one entry of a ring layout: the vnodes owned by node.
type NodePlacement struct {
	Node   string   `json:"node"`
	VNodes []uint64 `json:"vnodes"`
}

// MRingNodes is the ordered ring membership: every vnode id in [0, RingSize)
// appears in exactly one NodePlacement.
type MRingNodes []NodePlacement

// Clone returns a deep copy so callers can mutate without aliasing storage.
func (m MRingNodes) Clone() MRingNodes {
	out := make(MRingNodes, len(m))
	for i, np := range m {
		vnodes := make([]uint64, len(np.VNodes))
		copy(vnodes, np.VNodes)
		out[i] = NodePlacement{Node: np.Node, VNodes: vnodes}
	}
	return out
}

// Relocations maps source node -> destination node -> set of vnode ids
// moved from source to destination by one placement transition.
type Relocations map[string]map[string][]uint64

// NewRelocations returns an empty relocation set.
func NewRelocations() Relocations {
	return Relocations{}
}

// Add records that vnode moved from src to dst.
func (r Relocations) Add(src, dst string, vnode uint64) {
	byDst, ok := r[src]
	if !ok {
		byDst = map[string][]uint64{}
		r[src] = byDst
	}
	byDst[dst] = append(byDst[dst], vnode)
}

// Count returns the total number of vnodes the relocation set moves.
func (r Relocations) Count() int {
	n := 0
	for _, byDst := range r {
		for _, vnodes := range byDst {
			n += len(vnodes)
		}
	}
	return n
}

// Sorted returns a copy with every vnode slice sorted ascending, so
// relocations compare equal byte-for-byte across replicas computing the
// same transition independently.
func (r Relocations) Sorted() Relocations {
	out := make(Relocations, len(r))
	for src, byDst := range r {
		outDst := make(map[string][]uint64, len(byDst))
		for dst, vnodes := range byDst {
			cp := make([]uint64, len(vnodes))
			copy(cp, vnodes)
			sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
			outDst[dst] = cp
		}
		out[src] = outDst
	}
	return out
}

// Direction distinguishes which side of a migration a vnode is on.
type Direction int

const (
	// Outbound means this node is the source, handing the vnode off.
	Outbound Direction = iota
	// Inbound means this node is the destination, receiving the vnode.
	Inbound
)

// Migration describes an in-flight vnode transfer. At most one exists
// per vnode at a time.
type Migration struct {
	Partner   string
	Chunk     uint64
	Direction Direction
}

// VNode is the runtime state of a virtual partition owned by this node.
type VNode struct {
	ID        uint64
	Data      []string
	Migration *Migration
}
