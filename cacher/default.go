package cacher

import "sync"

var (
	defaultMu     sync.Mutex
	defaultCacher *Cacher
)

// Register builds the process-wide default Cacher with an optional proxy,
// replacing (and committing) any previously registered one. Prefer holding an
// explicit *Cacher; the default exists for scripts that want one call.
func Register(proxy string, opts ...Option) (*Cacher, error) {
	c, err := New(append([]Option{WithProxy(proxy)}, opts...)...)
	if err != nil {
		return nil, err
	}

	defaultMu.Lock()
	prev := defaultCacher
	defaultCacher = c
	defaultMu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			prev.logger.WithError(err).Warn("commit previous default cacher failed")
		}
	}
	return c, nil
}

// Default returns the registered Cacher, registering one without a proxy on
// first use.
func Default() (*Cacher, error) {
	defaultMu.Lock()
	c := defaultCacher
	defaultMu.Unlock()
	if c != nil {
		return c, nil
	}
	return Register("")
}
