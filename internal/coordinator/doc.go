// Package coordinator is the decision core of the gateway: it classifies every
// intercepted GET request, runs the matching caching strategy (navigation,
// network-first, cache-first, stale-while-revalidate) against the versioned
// bucket store, and folds every failure into a synthesized fallback response
// so callers never see an error. It also owns deploy lifecycle: staged build
// identifiers, explicit activation, and the bucket sweep that deletes caches
// belonging to older deploys under a bounded-wait lock.
package coordinator
