// Package service is the write entry point used by every transport.
//
// It resolves persistent objects through the manager, funnels mutations
// through their log-then-apply path and records lifecycle events in the
// outbox for the broadcaster to relay.
package service
