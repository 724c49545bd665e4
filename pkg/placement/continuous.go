package placement

import (
	"sort"

	"github.com/ringcluster/mring/pkg/ids"
)

// Continuous is the default Strategy: membership changes cut or receive a
// contiguous run of vnode ids per donor/recipient pair rather than
// scattering individual ids, so relocations read as a small number of
// ranges instead of an arbitrary set.
type Continuous struct{}

// NewContinuous returns the continuous placement strategy.
func NewContinuous() Continuous { return Continuous{} }

// Name implements Strategy.
func (Continuous) Name() string { return "continuous" }

// New implements Strategy.
func (Continuous) New(size uint64, firstNode string) ids.MRingNodes {
	return ids.MRingNodes{{Node: firstNode, VNodes: vnodeRange(0, size)}}
}

// AddNode implements Strategy.
func (Continuous) AddNode(size uint64, current ids.MRingNodes, newNode string) (ids.MRingNodes, ids.Relocations) {
	owners := current.Clone()
	order := append(nodeOrder(owners), newNode)
	targets := targetSizes(size, len(order))

	byNode := map[string][]uint64{}
	for _, np := range owners {
		byNode[np.Node] = append([]uint64(nil), np.VNodes...)
	}
	byNode[newNode] = nil

	relocations := ids.NewRelocations()
	needed := targets[len(order)-1]
	for _, donor := range order[:len(order)-1] {
		if needed == 0 {
			break
		}
		vnodes := byNode[donor]
		target := targets[indexOf(order, donor)]
		surplus := len(vnodes) - target
		if surplus <= 0 {
			continue
		}
		take := surplus
		if take > needed {
			take = needed
		}
		cut := vnodes[len(vnodes)-take:]
		byNode[donor] = vnodes[:len(vnodes)-take]
		byNode[newNode] = append(byNode[newNode], cut...)
		for _, v := range cut {
			relocations.Add(donor, newNode, v)
		}
		needed -= take
	}

	sort.Slice(byNode[newNode], func(i, j int) bool { return byNode[newNode][i] < byNode[newNode][j] })
	return rebuild(order, byNode), relocations.Sorted()
}

// RemoveNode implements Strategy.
func (Continuous) RemoveNode(size uint64, current ids.MRingNodes, leavingNode string) (ids.MRingNodes, ids.Relocations) {
	owners := current.Clone()
	var order []string
	var leavingVNodes []uint64
	for _, np := range owners {
		if np.Node == leavingNode {
			leavingVNodes = append([]uint64(nil), np.VNodes...)
			continue
		}
		order = append(order, np.Node)
	}
	sort.Slice(leavingVNodes, func(i, j int) bool { return leavingVNodes[i] < leavingVNodes[j] })

	targets := targetSizes(size, len(order))
	byNode := map[string][]uint64{}
	for _, np := range owners {
		if np.Node == leavingNode {
			continue
		}
		byNode[np.Node] = append([]uint64(nil), np.VNodes...)
	}

	relocations := ids.NewRelocations()
	cursor := 0
	for i, recipient := range order {
		target := targets[i]
		deficit := target - len(byNode[recipient])
		if deficit <= 0 {
			continue
		}
		if cursor+deficit > len(leavingVNodes) {
			deficit = len(leavingVNodes) - cursor
		}
		if deficit <= 0 {
			continue
		}
		got := leavingVNodes[cursor : cursor+deficit]
		cursor += deficit
		byNode[recipient] = append(byNode[recipient], got...)
		for _, v := range got {
			relocations.Add(leavingNode, recipient, v)
		}
	}

	for _, node := range order {
		sort.Slice(byNode[node], func(i, j int) bool { return byNode[node][i] < byNode[node][j] })
	}
	return rebuild(order, byNode), relocations.Sorted()
}

// vnodeRange returns [lo, hi) as a slice, used to seed a fresh ring.
func vnodeRange(lo, hi uint64) []uint64 {
	out := make([]uint64, 0, hi-lo)
	for v := lo; v < hi; v++ {
		out = append(out, v)
	}
	return out
}

// targetSizes splits size vnodes across k owners so each gets floor(size/k)
// or ceil(size/k), with the remainder going to the first owners in order —
// the "difference <= 1 across owners" sizing rule.
func targetSizes(size uint64, k int) []int {
	if k == 0 {
		return nil
	}
	base := int(size) / k
	rem := int(size) % k
	out := make([]int, k)
	for i := range out {
		out[i] = base
		if i < rem {
			out[i]++
		}
	}
	return out
}

func nodeOrder(m ids.MRingNodes) []string {
	out := make([]string, len(m))
	for i, np := range m {
		out[i] = np.Node
	}
	return out
}

func indexOf(order []string, node string) int {
	for i, n := range order {
		if n == node {
			return i
		}
	}
	return -1
}

func rebuild(order []string, byNode map[string][]uint64) ids.MRingNodes {
	out := make(ids.MRingNodes, len(order))
	for i, node := range order {
		out[i] = ids.NodePlacement{Node: node, VNodes: byNode[node]}
	}
	return out
}
