// Package placement computes the managed ring's vnode-to-node assignment:
// a consistent-hash-like "continuous" strategy that, given a membership
// change, redistributes vnodes from existing owners to keep ownership
// sizes within one vnode of each other, and reports exactly which vnode
// ids moved from which node to which. The computation is pure and
// deterministic so every raft replica reaches the same placement by
// applying the same inputs independently.
package placement
