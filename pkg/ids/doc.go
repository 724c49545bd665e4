// Package ids defines the shared identifiers and replicated data shapes
// used across storage, placement, and the ring/kv services: node and
// service identifiers, the ring membership layout, and the relocation
// deltas a placement transition produces.
package ids
