// Package cache defines the content-addressed blob store that backs the fetch
// cache. Every blob lives at <BlobPath>/<sha256 hex> and is written once via
// temp file + rename; rewriting identical bytes is a no-op. VerifyAndRepair
// rehashes stored files and deletes any whose name no longer matches their
// content, so the fetch engine falls back to a re-fetch instead of serving
// corrupted bytes.
package cache
