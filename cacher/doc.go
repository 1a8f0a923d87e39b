// Package cacher is the public entry point of fetchcache: a content-addressed
// cache for network-fetched resources.
//
// A request URL is hashed into a lookup key; the fetched bytes are hashed into
// a content id and stored once under <root>/blob/<content id>. The mapping
// from lookup key to content id lives in <root>/cacher/mapping.yaml and is
// persisted by Commit (or Close). Two URLs that serve identical bytes share
// one blob.
//
//	c, err := cacher.New(cacher.WithRoot("/var/cache/fetchcache"))
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	data, err := c.Get(ctx, "https://example.test/a")
//
// Get and Download block for the whole retry budget. GetAsync and
// DownloadAsync run the same state machine but return as soon as ctx is
// cancelled.
package cacher
