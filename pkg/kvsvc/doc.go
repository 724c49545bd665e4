// Package kvsvc is the replicated key-value state machine entry point: it
// decodes Get/Put/Cas/Delete events over (scope, key, value) triples, only
// Get is served locally, and every mutation publishes its effect on the
// "kv" pub/sub topic.
package kvsvc
