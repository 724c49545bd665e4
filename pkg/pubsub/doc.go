// Package pubsub is the fan-out side channel the ring and KV services
// publish onto after a committed event mutates replicated state. Delivery
// is per named topic ("kv", "mring") and, unlike a best-effort broadcast,
// never silently drops a message: a full subscriber buffer applies
// backpressure to the publishing goroutine instead of discarding it.
package pubsub
