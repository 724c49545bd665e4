package placement

import (
	"testing"

	"github.com/ringcluster/mring/pkg/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sizesByNode(m ids.MRingNodes) map[string]int {
	out := map[string]int{}
	for _, np := range m {
		out[np.Node] = len(np.VNodes)
	}
	return out
}

func allVNodesDistinct(t *testing.T, m ids.MRingNodes, size uint64) {
	t.Helper()
	seen := map[uint64]string{}
	for _, np := range m {
		for _, v := range np.VNodes {
			if owner, ok := seen[v]; ok {
				t.Fatalf("vnode %d owned by both %s and %s", v, owner, np.Node)
			}
			seen[v] = np.Node
		}
	}
	assert.Len(t, seen, int(size))
}

func TestNewOwnsEveryVNode(t *testing.T) {
	s := NewContinuous()
	ring := s.New(8, "a")
	require.Len(t, ring, 1)
	assert.Equal(t, "a", ring[0].Node)
	assert.Len(t, ring[0].VNodes, 8)
	allVNodesDistinct(t, ring, 8)
}

func TestAddNodeKeepsSizesWithinOne(t *testing.T) {
	s := NewContinuous()
	ring := s.New(10, "a")
	ring, relocations := s.AddNode(10, ring, "b")

	allVNodesDistinct(t, ring, 10)
	sizes := sizesByNode(ring)
	assert.Equal(t, 5, sizes["a"])
	assert.Equal(t, 5, sizes["b"])

	moved := relocations["a"]["b"]
	assert.Len(t, moved, 5)
}

func TestAddNodeUnevenSplitDiffersByAtMostOne(t *testing.T) {
	s := NewContinuous()
	ring := s.New(10, "a")
	ring, _ = s.AddNode(10, ring, "b")
	ring, _ = s.AddNode(10, ring, "c")

	sizes := sizesByNode(ring)
	min, max := size0(sizes), size0(sizes)
	for _, v := range sizes {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	assert.LessOrEqual(t, max-min, 1)
	allVNodesDistinct(t, ring, 10)
}

func size0(sizes map[string]int) int {
	for _, v := range sizes {
		return v
	}
	return 0
}

func TestAddNodeRelocationInvariant(t *testing.T) {
	s := NewContinuous()
	ring := s.New(6, "a")
	next, relocations := s.AddNode(6, ring, "b")

	for src, byDst := range relocations {
		for dst, vnodes := range byDst {
			for _, v := range vnodes {
				assertNodeHasVNode(t, next, dst, v)
				assertNodeLacksVNode(t, next, src, v)
			}
		}
	}
}

func TestRemoveNodeRedistributesToRemaining(t *testing.T) {
	s := NewContinuous()
	ring := s.New(9, "a")
	ring, _ = s.AddNode(9, ring, "b")
	ring, _ = s.AddNode(9, ring, "c")

	ring, relocations := s.RemoveNode(9, ring, "b")
	allVNodesDistinct(t, ring, 9)

	for dst, vnodes := range relocations["b"] {
		for _, v := range vnodes {
			assertNodeHasVNode(t, ring, dst, v)
		}
	}
	for _, np := range ring {
		assert.NotEqual(t, "b", np.Node)
	}
}

func TestDeterministicGivenSameInputs(t *testing.T) {
	s := NewContinuous()
	base := s.New(12, "a")

	r1, loc1 := s.AddNode(12, base, "b")
	r2, loc2 := s.AddNode(12, base, "b")

	assert.Equal(t, r1, r2)
	assert.Equal(t, loc1, loc2)
}

func assertNodeHasVNode(t *testing.T, m ids.MRingNodes, node string, vnode uint64) {
	t.Helper()
	for _, np := range m {
		if np.Node != node {
			continue
		}
		for _, v := range np.VNodes {
			if v == vnode {
				return
			}
		}
	}
	t.Fatalf("node %s does not own vnode %d", node, vnode)
}

func assertNodeLacksVNode(t *testing.T, m ids.MRingNodes, node string, vnode uint64) {
	t.Helper()
	for _, np := range m {
		if np.Node != node {
			continue
		}
		for _, v := range np.VNodes {
			if v == vnode {
				t.Fatalf("node %s still owns vnode %d after relocation", node, vnode)
			}
		}
	}
}
