// Package service defines the contract the raft driver's dispatch table
// holds services behind: a closed, object-safe interface rather than
// reflection, per the platform's dynamic-dispatch design. The ring and KV
// services (pkg/ringsvc, pkg/kvsvc) are its only implementations.
package service
