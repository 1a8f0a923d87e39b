package cacher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/fetchcache/internal/cache"
	"github.com/any-hub/fetchcache/internal/fetch"
	"github.com/any-hub/fetchcache/internal/hashaddr"
	"github.com/any-hub/fetchcache/internal/index"
	"github.com/any-hub/fetchcache/internal/logging"
	"github.com/any-hub/fetchcache/internal/metrics"
	"github.com/any-hub/fetchcache/internal/transport"
)

type (
	// Request describes a fetch: URL plus ordered params.
	Request = hashaddr.Request
	// Param is one ordered request parameter.
	Param = hashaddr.Param
	// Record is an index entry.
	Record = index.Record
	// VerifyReport summarizes an integrity scan.
	VerifyReport = cache.VerifyReport
)

// Header builds a request header param.
func Header(name, value string) Param {
	return hashaddr.Header(name, value)
}

// Query builds a query string param.
func Query(name, value string) Param {
	return hashaddr.Query(name, value)
}

// Cacher owns one cache root: its blob directory, its index, and the fetch
// engine that keeps the two consistent. All methods are safe for concurrent use.
type Cacher struct {
	root    string
	blobs   cache.Store
	index   *index.Store
	engine  *fetch.Engine
	metrics *metrics.Recorder
	logger  logrus.FieldLogger

	// link 默认是 os.Link，测试中替换以覆盖复制回退路径
	link func(oldname, newname string) error

	closeOnce sync.Once
	closeErr  error
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Root          string `json:"root"`
	Entries       int    `json:"entries"`
	Blobs         int    `json:"blobs"`
	PendingCommit bool   `json:"pending_commit"`
	metrics.Snapshot
}

// New opens (or creates) the cache root and loads its index. A malformed
// index file fails with ErrCorruptIndex instead of being reset.
func New(opts ...Option) (*Cacher, error) {
	s := defaultSettings()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&s)
	}
	if s.root == "" {
		return nil, errors.New("cache root required")
	}
	root, err := filepath.Abs(s.root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	logger := logging.OrDiscard(s.logger)

	blobs, err := cache.NewStore(filepath.Join(root, "blob"), logger)
	if err != nil {
		return nil, err
	}
	idx, err := index.Open(filepath.Join(root, "cacher"))
	if err != nil {
		return nil, err
	}

	t := s.transport
	if t == nil {
		client, err := transport.New(transport.Options{
			Proxy:     s.proxy,
			Timeout:   s.timeout,
			UserAgent: s.userAgent,
		})
		if err != nil {
			return nil, err
		}
		t = client
	}

	recorder := metrics.New()
	engine, err := fetch.NewEngine(fetch.Options{
		Transport:     t,
		Blobs:         blobs,
		Index:         idx,
		Logger:        logger,
		Metrics:       recorder,
		KeyPolicy:     s.keyPolicy,
		RetryPolicy:   s.retryPolicy,
		MaxAttempts:   s.maxAttempts,
		RetryDelay:    s.retryDelay,
		CommitOnWrite: s.commitOnWrite,
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"action":  "register",
		"root":    root,
		"entries": idx.Len(),
		"proxy":   s.proxy != "",
	}).Info("cacher registered")

	return &Cacher{
		root:    root,
		blobs:   blobs,
		index:   idx,
		engine:  engine,
		metrics: recorder,
		logger:  logger,
		link:    os.Link,
	}, nil
}

// Root returns the absolute cache root.
func (c *Cacher) Root() string {
	return c.root
}

// Get returns the bytes for url, fetching and caching them on a miss.
func (c *Cacher) Get(ctx context.Context, url string, params ...Param) ([]byte, error) {
	return c.get(ctx, hashaddr.NewRequest(url, params...), fetch.Blocking)
}

// Download materializes the bytes for url at dest, replacing any existing file.
//
// dest is a hard link to the cached blob whenever the filesystem allows it,
// so writing through dest also rewrites the cached bytes; the next integrity
// scan then deletes that blob and a later request re-fetches it. Callers that
// intend to modify the file should copy it first.
func (c *Cacher) Download(ctx context.Context, url, dest string, params ...Param) error {
	return c.download(ctx, hashaddr.NewRequest(url, params...), dest, fetch.Blocking)
}

// GetResult carries the outcome of GetAsync.
type GetResult struct {
	Data []byte
	Err  error
}

// GetAsync is the cooperative form of Get: the retry delay and the wait on a
// shared in-flight fetch both return early when ctx is cancelled. The channel
// receives exactly one value.
func (c *Cacher) GetAsync(ctx context.Context, url string, params ...Param) <-chan GetResult {
	out := make(chan GetResult, 1)
	req := hashaddr.NewRequest(url, params...)
	go func() {
		data, err := c.get(ctx, req, fetch.Cooperative)
		out <- GetResult{Data: data, Err: err}
	}()
	return out
}

// DownloadAsync is the cooperative form of Download. The channel receives
// exactly one value, nil on success.
func (c *Cacher) DownloadAsync(ctx context.Context, url, dest string, params ...Param) <-chan error {
	out := make(chan error, 1)
	req := hashaddr.NewRequest(url, params...)
	go func() {
		out <- c.download(ctx, req, dest, fetch.Cooperative)
	}()
	return out
}

func (c *Cacher) get(ctx context.Context, req hashaddr.Request, mode fetch.Mode) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		res, err := c.engine.Resolve(ctx, req, mode)
		if err != nil {
			return nil, err
		}
		data, err := c.blobs.Read(ctx, res.ContentID)
		// 解析与读取之间 blob 可能被完整性扫描删除，重新解析一次即可
		if errors.Is(err, cache.ErrNotFound) && attempt == 0 {
			continue
		}
		return data, err
	}
}

func (c *Cacher) download(ctx context.Context, req hashaddr.Request, dest string, mode fetch.Mode) error {
	res, err := c.engine.Resolve(ctx, req, mode)
	if err != nil {
		return err
	}
	return c.materialize(res, req.URL, dest)
}

func (c *Cacher) materialize(res fetch.Result, url, dest string) error {
	logger := c.logger.WithFields(logging.MaterializeFields(url, res.ContentID.Encoded(), dest))

	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.WithError(err).Warn("cannot remove destination")
	}

	linkErr := c.link(res.Path, dest)
	if linkErr == nil {
		return nil
	}
	logger.WithError(linkErr).Warn("cannot create hard link, copy file")

	if err := copyFile(res.Path, dest); err != nil {
		return &MaterializeError{Dest: dest, LinkErr: linkErr, Err: err}
	}
	return nil
}

// VerifyAndRepair rehashes every blob and deletes the ones whose content no
// longer matches their name. Index records pointing at removed blobs are kept;
// the next request for them re-fetches.
func (c *Cacher) VerifyAndRepair(ctx context.Context) (VerifyReport, error) {
	report, err := c.blobs.VerifyAndRepair(ctx)
	c.metrics.Repaired(len(report.Removed))
	c.logger.WithFields(logrus.Fields{
		"action":  "fix_blob",
		"scanned": report.Scanned,
		"removed": len(report.Removed),
	}).Info("blob verify finished")
	return report, err
}

// Commit persists the index atomically.
func (c *Cacher) Commit() error {
	if err := c.index.Commit(); err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{
		"action":  "commit",
		"path":    c.index.Path(),
		"entries": c.index.Len(),
	}).Info("dump index")
	return nil
}

// Close commits the index. It is safe to call more than once.
func (c *Cacher) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Commit()
	})
	return c.closeErr
}

// Lookup returns the index record stored under a hex lookup key.
func (c *Cacher) Lookup(key string) (Record, bool) {
	return c.index.Lookup(key)
}

// KeyFor returns the hex lookup key url (and params) map to under the
// configured key policy.
func (c *Cacher) KeyFor(url string, params ...Param) string {
	return c.engine.KeyFor(hashaddr.NewRequest(url, params...)).Encoded()
}

// Stats reports index size, blob count, and fetch counters.
func (c *Cacher) Stats() Stats {
	blobs, err := c.blobs.Count()
	if err != nil {
		c.logger.WithError(err).Warn("blob_count_failed")
	}
	return Stats{
		Root:          c.root,
		Entries:       c.index.Len(),
		Blobs:         blobs,
		PendingCommit: c.index.Dirty(),
		Snapshot:      c.metrics.Snapshot(),
	}
}

// Gatherer exposes the cache's Prometheus metrics.
func (c *Cacher) Gatherer() prometheus.Gatherer {
	return c.metrics.Gatherer()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst)
	}
	return err
}
