// Package metrics 汇总缓存命中、回源重试与完整性修复计数，同时暴露
// Prometheus 指标和供 /-/stats 使用的快照。
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder 每个缓存实例持有一份独立 Registry，避免多实例重复注册。
type Recorder struct {
	registry *prometheus.Registry

	hits      prometheus.Counter
	misses    prometheus.Counter
	attempts  prometheus.Counter
	failures  prometheus.Counter
	exhausted prometheus.Counter
	repaired  prometheus.Counter

	hitCount       atomic.Int64
	missCount      atomic.Int64
	attemptCount   atomic.Int64
	failureCount   atomic.Int64
	exhaustedCount atomic.Int64
	repairedCount  atomic.Int64
}

// Snapshot 是计数器的只读副本。
type Snapshot struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Attempts  int64 `json:"fetch_attempts"`
	Failures  int64 `json:"fetch_failures"`
	Exhausted int64 `json:"fetch_exhausted"`
	Repaired  int64 `json:"blobs_repaired"`
}

// New 创建并注册全部计数器。
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetchcache_hits_total",
			Help: "Total number of requests served from the cache.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetchcache_misses_total",
			Help: "Total number of requests that required a fetch.",
		}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetchcache_fetch_attempts_total",
			Help: "Total number of transport calls, including retries.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetchcache_fetch_failures_total",
			Help: "Total number of failed transport calls.",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetchcache_fetch_exhausted_total",
			Help: "Total number of fetches that gave up after the retry budget.",
		}),
		repaired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetchcache_blobs_repaired_total",
			Help: "Total number of blobs deleted by the integrity scan.",
		}),
	}
	r.registry.MustRegister(r.hits, r.misses, r.attempts, r.failures, r.exhausted, r.repaired)
	return r
}

// Gatherer 返回用于 promhttp 的指标来源。
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

func (r *Recorder) Hit() {
	r.hits.Inc()
	r.hitCount.Add(1)
}

func (r *Recorder) Miss() {
	r.misses.Inc()
	r.missCount.Add(1)
}

func (r *Recorder) Attempt() {
	r.attempts.Inc()
	r.attemptCount.Add(1)
}

func (r *Recorder) Failure() {
	r.failures.Inc()
	r.failureCount.Add(1)
}

func (r *Recorder) Exhausted() {
	r.exhausted.Inc()
	r.exhaustedCount.Add(1)
}

// Repaired 记录一次扫描删除的 blob 数量。
func (r *Recorder) Repaired(n int) {
	if n <= 0 {
		return
	}
	r.repaired.Add(float64(n))
	r.repairedCount.Add(int64(n))
}

func (r *Recorder) Snapshot() Snapshot {
	return Snapshot{
		Hits:      r.hitCount.Load(),
		Misses:    r.missCount.Load(),
		Attempts:  r.attemptCount.Load(),
		Failures:  r.failureCount.Load(),
		Exhausted: r.exhaustedCount.Load(),
		Repaired:  r.repairedCount.Load(),
	}
}
