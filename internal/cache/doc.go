// Package cache defines the generation-scoped response store. Each generation
// is an isolated key space of immutable entry snapshots keyed by request
// identity (method + URL). Drivers (filesystem, LevelDB, in-memory) share the
// same contract: Get on a missing key yields ErrNotFound, Put replaces an entry
// atomically with respect to readers, and a deleted generation never comes back
// through a late Put. The interceptor and lifecycle manager depend on this
// package instead of touching storage directly.
package cache
