package cacher

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/fetchcache/internal/config"
	"github.com/any-hub/fetchcache/internal/fetch"
	"github.com/any-hub/fetchcache/internal/hashaddr"
)

// Option configures a Cacher.
type Option func(*settings)

type settings struct {
	root          string
	proxy         string
	userAgent     string
	timeout       time.Duration
	transport     fetch.Transport
	logger        logrus.FieldLogger
	keyPolicy     hashaddr.KeyPolicy
	retryPolicy   fetch.RetryPolicy
	maxAttempts   int
	retryDelay    time.Duration
	commitOnWrite bool
}

func defaultSettings() settings {
	return settings{
		root:        config.DefaultStoragePath(),
		keyPolicy:   hashaddr.KeyURL,
		retryPolicy: fetch.RetryAll,
		maxAttempts: fetch.DefaultMaxAttempts,
		retryDelay:  fetch.DefaultRetryDelay,
	}
}

// WithRoot sets the cache root directory. Blobs live under <root>/blob and
// the index under <root>/cacher/mapping.yaml.
func WithRoot(dir string) Option {
	return func(s *settings) {
		s.root = dir
	}
}

// WithProxy routes every fetch through the given forward proxy.
func WithProxy(proxy string) Option {
	return func(s *settings) {
		s.proxy = proxy
	}
}

// WithUserAgent overrides the User-Agent header sent upstream.
func WithUserAgent(ua string) Option {
	return func(s *settings) {
		s.userAgent = ua
	}
}

// WithTimeout bounds a single transport call.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}

// WithTransport replaces the HTTP client, mainly for tests.
func WithTransport(t fetch.Transport) Option {
	return func(s *settings) {
		s.transport = t
	}
}

// WithLogger sets the structured logger. Defaults to a discard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithKeyPolicy chooses whether params participate in the lookup key.
func WithKeyPolicy(p hashaddr.KeyPolicy) Option {
	return func(s *settings) {
		s.keyPolicy = p
	}
}

// WithRetryPolicy plugs in a failure classifier. Defaults to retrying everything.
func WithRetryPolicy(p fetch.RetryPolicy) Option {
	return func(s *settings) {
		s.retryPolicy = p
	}
}

// WithRetry sets the total attempt budget and the fixed delay between attempts.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(s *settings) {
		s.maxAttempts = maxAttempts
		s.retryDelay = delay
	}
}

// WithCommitOnWrite persists the index after every successful fetch.
func WithCommitOnWrite(enabled bool) Option {
	return func(s *settings) {
		s.commitOnWrite = enabled
	}
}

// FromConfig translates a loaded configuration into options.
func FromConfig(cfg *config.Config) ([]Option, error) {
	keyPolicy, err := hashaddr.ParseKeyPolicy(cfg.Fetch.KeyPolicy)
	if err != nil {
		return nil, err
	}
	retryPolicy, err := fetch.ParseRetryPolicy(cfg.Fetch.RetryPolicy)
	if err != nil {
		return nil, err
	}
	return []Option{
		WithRoot(cfg.Global.StoragePath),
		WithProxy(cfg.Fetch.Proxy),
		WithUserAgent(cfg.Fetch.UserAgent),
		WithTimeout(cfg.Fetch.UpstreamTimeout.DurationValue()),
		WithKeyPolicy(keyPolicy),
		WithRetryPolicy(retryPolicy),
		WithRetry(cfg.Fetch.MaxAttempts, cfg.Fetch.RetryDelay.DurationValue()),
		WithCommitOnWrite(cfg.Fetch.CommitOnWrite),
	}, nil
}
