// Package lifecycle drives cache generations through install and activate.
//
// Transition is a pure function over State; Manager serializes events, performs
// the resulting effects (precache, discard, purge, claim) against the cache store
// and exposes the current generation to the request path.
package lifecycle
