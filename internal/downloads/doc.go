// Package downloads maintains per-app all-time download totals derived from
// the GitHub Releases API. Totals are cached at two time scales (an in-memory
// fast layer and a LevelDB-backed cross-session snapshot), shared between
// counter instances over a broadcast bus, bumped optimistically on every
// user download and reconciled against authoritative reads afterwards. All
// merges take the per-key maximum, so convergence never depends on message
// ordering and a higher count is never rolled back.
package downloads
