// Package metrics exposes Prometheus counters for bundle acquisition: cache
// hits and downloads, single-file fetches, retries, and eviction. Callers
// that do not care about metrics use Noop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder 记录引擎运行指标。
type Recorder interface {
	IncDownload(status string)
	ObserveDownload(d time.Duration)
	IncFileFetch(source string)
	IncRetry(action string)
	AddEvicted(n int)
	SetCacheSizeMB(mb uint64)
}

// 下载结果标签。
const (
	StatusHit         = "hit"
	StatusDownloaded  = "downloaded"
	StatusWaited      = "waited"
	StatusFailed      = "failed"
	StatusOfflineMiss = "offline_miss"
)

// 单文件获取来源标签。
const (
	SourceLocal    = "local"
	SourceRemote   = "remote"
	SourceFallback = "fallback"
	SourceFailed   = "failed"
)

// Noop implements Recorder without emitting anything.
type Noop struct{}

func (Noop) IncDownload(string)            {}
func (Noop) ObserveDownload(time.Duration) {}
func (Noop) IncFileFetch(string)           {}
func (Noop) IncRetry(string)               {}
func (Noop) AddEvicted(int)                {}
func (Noop) SetCacheSizeMB(uint64)         {}

// Prom implements Recorder backed by Prometheus collectors.
type Prom struct {
	downloads        *prometheus.CounterVec
	downloadDuration prometheus.Histogram
	fileFetches      *prometheus.CounterVec
	retries          *prometheus.CounterVec
	evicted          prometheus.Counter
	cacheSize        prometheus.Gauge
}

// NewProm 构造并注册指标；reg 为 nil 时注册到 prometheus.DefaultRegisterer。
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prom{
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Bundle download requests by outcome",
		}, []string{"status"}),
		downloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Time spent fetching and extracting a bundle",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		fileFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_fetches_total",
			Help:      "Single-file requests by source",
		}, []string{"source"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_retries_total",
			Help:      "Retried remote calls by action",
		}, []string{"action"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Cache entries removed by the LRU policy",
		}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_size_megabytes",
			Help:      "Recorded size of all complete cache entries",
		}),
	}
	reg.MustRegister(p.downloads, p.downloadDuration, p.fileFetches, p.retries, p.evicted, p.cacheSize)
	return p
}

func (p *Prom) IncDownload(status string) {
	p.downloads.WithLabelValues(status).Inc()
}

func (p *Prom) ObserveDownload(d time.Duration) {
	p.downloadDuration.Observe(d.Seconds())
}

func (p *Prom) IncFileFetch(source string) {
	p.fileFetches.WithLabelValues(source).Inc()
}

func (p *Prom) IncRetry(action string) {
	p.retries.WithLabelValues(action).Inc()
}

func (p *Prom) AddEvicted(n int) {
	if n > 0 {
		p.evicted.Add(float64(n))
	}
}

func (p *Prom) SetCacheSizeMB(mb uint64) {
	p.cacheSize.Set(float64(mb))
}
