package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/archive"
	"github.com/any-hub/bundlehub/internal/bundle"
	"github.com/any-hub/bundlehub/internal/cache"
	"github.com/any-hub/bundlehub/internal/logging"
	"github.com/any-hub/bundlehub/internal/metrics"
)

// Remote 是引擎依赖的远端服务能力，remote.Client 为默认实现。
type Remote interface {
	DownloadBundle(ctx context.Context, ref bundle.Ref) (io.ReadCloser, error)
	DownloadFile(ctx context.Context, ref bundle.Ref, name string) (io.ReadCloser, error)
	Metadata(ctx context.Context, ref bundle.Ref) (json.RawMessage, error)
	CurrentVersion(ctx context.Context, ref bundle.Ref) (string, error)
}

// metadataInvalidator 由支持元数据缓存的 Remote 实现。
type metadataInvalidator interface {
	InvalidateMetadata(ref bundle.Ref)
}

// 默认等待参数。
const (
	DefaultWaitPoll            = 100 * time.Millisecond
	DefaultWaitTimeout         = 30 * time.Second
	DefaultPrefetchConcurrency = 4
)

// Options 配置 Engine。Store 必填；Remote 在非离线模式下必填。
type Options struct {
	Store     *cache.Store
	Remote    Remote
	Extractor *archive.Extractor
	Budget    cache.Budget

	Offline        bool
	StrictOnDemand bool

	// WaitPoll 为 0 时使用 1ms 轮询；WaitTimeout/WaitPoll 为 0 时不限等待次数。
	WaitPoll    time.Duration
	WaitTimeout time.Duration

	PrefetchConcurrency int

	Logger  *logrus.Logger
	Metrics metrics.Recorder
	Now     func() time.Time
}

// Engine 是 bundle 获取与缓存的入口，可被多个 goroutine 并发使用。
type Engine struct {
	store     *cache.Store
	remote    Remote
	extractor *archive.Extractor
	budget    cache.Budget

	offline  bool
	strict   bool
	prefetch int

	locks   *lockManager
	logger  *logrus.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// New 校验依赖并构造 Engine。
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: cache store required")
	}
	if opts.Remote == nil && !opts.Offline {
		return nil, errors.New("engine: remote client required unless offline")
	}

	extractor := opts.Extractor
	if extractor == nil {
		extractor = archive.NewExtractor(archive.DefaultLimits())
	}
	extractor = extractor.Reserve(cache.MarkerName)
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	prefetch := opts.PrefetchConcurrency
	if prefetch <= 0 {
		prefetch = DefaultPrefetchConcurrency
	}

	return &Engine{
		store:     opts.Store,
		remote:    opts.Remote,
		extractor: extractor,
		budget:    opts.Budget,
		offline:   opts.Offline,
		strict:    opts.StrictOnDemand,
		prefetch:  prefetch,
		locks:     newLockManager(opts.WaitPoll, opts.WaitTimeout),
		logger:    logger,
		metrics:   recorder,
		now:       now,
	}, nil
}

// Store 返回底层缓存存储。
func (e *Engine) Store() *cache.Store {
	return e.store
}

// Offline 表示引擎是否处于离线模式。
func (e *Engine) Offline() bool {
	return e.offline
}
