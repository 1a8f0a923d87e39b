// Package fetch implements the cache-check → fetch-with-retry → store →
// index-update state machine. A single implementation serves both the
// blocking and the cooperative (context-driven) call styles; the Mode only
// changes how the caller waits on the shared flight and whether the retry
// delay can be interrupted by cancellation.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/fetchcache/internal/hashaddr"
	"github.com/any-hub/fetchcache/internal/index"
	"github.com/any-hub/fetchcache/internal/logging"
	"github.com/any-hub/fetchcache/internal/metrics"
)

const (
	// DefaultMaxAttempts 是包含首次请求在内的总尝试次数。
	DefaultMaxAttempts = 5
	// DefaultRetryDelay 是两次尝试之间的固定等待，不做指数退避也不加抖动。
	DefaultRetryDelay = 3 * time.Second
)

// Mode 决定调用方如何挂起等待。
type Mode int

const (
	// Blocking 在当前 goroutine 上同步等待，重试间隔不可被取消。
	Blocking Mode = iota
	// Cooperative 在 transport 调用与重试间隔处响应 ctx 取消。
	Cooperative
)

func (m Mode) String() string {
	if m == Cooperative {
		return "cooperative"
	}
	return "blocking"
}

// Transport 执行一次 GET，非 2xx 应以 *StatusError 返回。
type Transport interface {
	Fetch(ctx context.Context, req hashaddr.Request) ([]byte, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req hashaddr.Request) ([]byte, error)

// Fetch makes TransportFunc satisfy Transport.
func (f TransportFunc) Fetch(ctx context.Context, req hashaddr.Request) ([]byte, error) {
	return f(ctx, req)
}

// BlobStore 是引擎依赖的 blob 存储能力子集。
type BlobStore interface {
	Has(id digest.Digest) bool
	Write(ctx context.Context, data []byte) (digest.Digest, error)
	Path(id digest.Digest) (string, error)
}

// Index 是引擎依赖的索引能力子集。
type Index interface {
	Lookup(key string) (index.Record, bool)
	Upsert(key string, record index.Record)
	Commit() error
}

// Options 汇总构造 Engine 所需的依赖与重试参数，零值字段使用默认值。
type Options struct {
	Transport     Transport
	Blobs         BlobStore
	Index         Index
	Logger        logrus.FieldLogger
	Metrics       *metrics.Recorder
	KeyPolicy     hashaddr.KeyPolicy
	RetryPolicy   RetryPolicy
	MaxAttempts   int
	RetryDelay    time.Duration
	CommitOnWrite bool
}

// Result 描述一次解析得到的 blob。
type Result struct {
	Key       digest.Digest
	ContentID digest.Digest
	Path      string
	Hit       bool
	Shared    bool
}

// Engine 串联索引、blob 存储与 transport，并保证同一 lookup key 同时最多只有一次回源。
type Engine struct {
	transport     Transport
	blobs         BlobStore
	index         Index
	logger        logrus.FieldLogger
	metrics       *metrics.Recorder
	keyPolicy     hashaddr.KeyPolicy
	retryPolicy   RetryPolicy
	maxAttempts   int
	retryDelay    time.Duration
	commitOnWrite bool

	flights singleflight.Group
}

// NewEngine 校验依赖并填充默认值。
func NewEngine(opts Options) (*Engine, error) {
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if opts.Index == nil {
		return nil, errors.New("index is required")
	}
	if opts.MaxAttempts < 0 {
		return nil, fmt.Errorf("invalid max attempts: %d", opts.MaxAttempts)
	}

	e := &Engine{
		transport:     opts.Transport,
		blobs:         opts.Blobs,
		index:         opts.Index,
		logger:        logging.OrDiscard(opts.Logger),
		metrics:       opts.Metrics,
		keyPolicy:     opts.KeyPolicy,
		retryPolicy:   opts.RetryPolicy,
		maxAttempts:   opts.MaxAttempts,
		retryDelay:    opts.RetryDelay,
		commitOnWrite: opts.CommitOnWrite,
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	if e.retryPolicy == nil {
		e.retryPolicy = RetryAll
	}
	if e.maxAttempts == 0 {
		e.maxAttempts = DefaultMaxAttempts
	}
	if e.retryDelay <= 0 {
		e.retryDelay = DefaultRetryDelay
	}
	return e, nil
}

// KeyFor 返回请求在当前 key 策略下的 lookup key。
func (e *Engine) KeyFor(req hashaddr.Request) digest.Digest {
	return e.keyPolicy.LookupKey(req)
}

// Resolve 返回请求对应的 blob：命中直接返回，否则回源、落盘并更新索引。
func (e *Engine) Resolve(ctx context.Context, req hashaddr.Request, mode Mode) (Result, error) {
	key := e.keyPolicy.LookupKey(req)
	logger := e.logger.WithFields(logging.FetchFields(req.URL, key.Encoded(), mode.String()))

	if res, ok := e.lookup(key, logger); ok {
		e.metrics.Hit()
		logger.Debug("cache_hit")
		return res, nil
	}
	e.metrics.Miss()

	for {
		res, err := e.await(ctx, key, req, mode, logger)
		var aborted *abortedError
		if errors.As(err, &aborted) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, fmt.Errorf("fetch %s: %w", req.URL, ctxErr)
			}
			// 共享回源被发起方取消，本调用方 ctx 仍有效，重新发起一次
			logger.Debug("shared_fetch_cancelled")
			continue
		}
		return res, err
	}
}

// await 加入（或发起）该 key 的回源，并按 mode 等待结果。
func (e *Engine) await(
	ctx context.Context,
	key digest.Digest,
	req hashaddr.Request,
	mode Mode,
	logger logrus.FieldLogger,
) (Result, error) {
	flight := func() (any, error) {
		// 排队期间其他请求可能已写好缓存
		if res, ok := e.lookup(key, logger); ok {
			return res, nil
		}
		return e.fetchAndStore(ctx, key, req, mode, logger)
	}

	if mode == Cooperative {
		ch := e.flights.DoChan(key.Encoded(), flight)
		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("fetch %s: %w", req.URL, ctx.Err())
		case r := <-ch:
			if r.Err != nil {
				return Result{}, r.Err
			}
			res := r.Val.(Result)
			res.Shared = r.Shared
			return res, nil
		}
	}

	v, err, shared := e.flights.Do(key.Encoded(), flight)
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)
	res.Shared = shared
	return res, nil
}

// lookup 只有在索引记录存在且 blob 文件仍在时才算命中。
func (e *Engine) lookup(key digest.Digest, logger logrus.FieldLogger) (Result, bool) {
	record, ok := e.index.Lookup(key.Encoded())
	if !ok {
		return Result{}, false
	}
	id, err := hashaddr.ParseHex(record.ContentID)
	if err != nil {
		logger.WithError(err).Warn("cache_record_invalid")
		return Result{}, false
	}
	if !e.blobs.Has(id) {
		logger.WithField("content_id", id.Encoded()).Warn("cache hit, but blob file not exist")
		return Result{}, false
	}
	path, err := e.blobs.Path(id)
	if err != nil {
		return Result{}, false
	}
	return Result{Key: key, ContentID: id, Path: path, Hit: true}, true
}

func (e *Engine) fetchAndStore(
	ctx context.Context,
	key digest.Digest,
	req hashaddr.Request,
	mode Mode,
	logger logrus.FieldLogger,
) (Result, error) {
	logger = logger.WithField("fetch_id", uuid.NewString())

	var (
		attempts  int
		lastErr   error
		permanent bool
		body      []byte
	)

	var policy backoff.BackOff = backoff.WithMaxRetries(
		backoff.NewConstantBackOff(e.retryDelay),
		uint64(e.maxAttempts-1),
	)
	if mode == Cooperative {
		policy = backoff.WithContext(policy, ctx)
	}

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		e.metrics.Attempt()

		data, err := e.transport.Fetch(ctx, req)
		if err != nil {
			e.metrics.Failure()
			lastErr = err
			if ctxErr := ctx.Err(); ctxErr != nil {
				return backoff.Permanent(ctxErr)
			}
			if !e.retryPolicy.Retryable(err) {
				permanent = true
				return backoff.Permanent(err)
			}
			return err
		}
		body = data
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt":      attempts,
			"max_attempts": e.maxAttempts,
			"wait":         wait.String(),
		}).Warn("fetch_retry")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, &abortedError{URL: req.URL, Err: ctxErr}
		}
		e.metrics.Exhausted()
		logger.WithError(lastErr).WithFields(logrus.Fields{
			"attempts":  attempts,
			"permanent": permanent,
		}).Error("fetch_exhausted")
		return Result{}, &FetchExhaustedError{
			URL:       req.URL,
			Attempts:  attempts,
			Permanent: permanent,
			LastErr:   lastErr,
		}
	}

	id, err := e.blobs.Write(ctx, body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, &abortedError{URL: req.URL, Err: ctxErr}
		}
		return Result{}, fmt.Errorf("store blob for %s: %w", req.URL, err)
	}
	e.index.Upsert(key.Encoded(), index.NewRecord(id.Encoded(), req))
	if e.commitOnWrite {
		if err := e.index.Commit(); err != nil {
			logger.WithError(err).Warn("index_commit_failed")
		}
	}

	path, err := e.blobs.Path(id)
	if err != nil {
		return Result{}, err
	}

	logger.WithFields(logrus.Fields{
		"content_id": id.Encoded(),
		"attempts":   attempts,
		"bytes":      len(body),
	}).Info("fetch_stored")

	return Result{Key: key, ContentID: id, Path: path}, nil
}
