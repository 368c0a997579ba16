// Package cache implements the disk-backed bucket store behind the gateway.
// Buckets are named key/value stores of HTTP responses; shell and data buckets
// embed the deploy build identifier in their name so a new release invalidates
// them, while the image bucket keeps a stable name across deploys. Every bucket
// carries an explicit FIFO insertion-order index so bounded buckets can be
// trimmed deterministically. Entries are JSON envelopes written atomically
// (temp file + rename); only GET responses are ever stored.
package cache
