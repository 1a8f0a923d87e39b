// Package hashaddr derives the two digests the cache is addressed by: the
// lookup key computed from a request descriptor (index primary key) and the
// content identifier computed from response bytes (blob filename). Both are
// sha256 digests rendered through go-digest so callers can validate and parse
// them consistently.
package hashaddr
