package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/cache"
	"github.com/any-hub/bundlehub/internal/config"
	"github.com/any-hub/bundlehub/internal/credentials"
	"github.com/any-hub/bundlehub/internal/logging"
	"github.com/any-hub/bundlehub/internal/metrics"
	"github.com/any-hub/bundlehub/internal/remote"
	"github.com/any-hub/bundlehub/internal/retry"
	"github.com/any-hub/bundlehub/internal/version"
)

// NewFromConfig 按配置组装缓存存储、重试执行器、凭证缓存与远端客户端。
func NewFromConfig(cfg *config.Config, logger *logrus.Logger, recorder metrics.Recorder) (*Engine, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if recorder == nil {
		recorder = metrics.Noop{}
	}

	store, err := cache.NewStore(cfg.CacheDir, cache.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	limiter := retry.NewRateLimiter(cfg.APIMinInterval.DurationValue())
	executor := retry.NewExecutor(retry.Policy{
		Attempts:     cfg.RetryAttempts,
		InitialDelay: cfg.RetryDelay.DurationValue(),
		MaxDelay:     cfg.RetryMaxDelay.DurationValue(),
	}, limiter, logger, retry.WithRetryHook(func(int, error) {
		recorder.IncRetry("remote")
	}))

	loader := credentials.Loader{
		Username: cfg.Username,
		Key:      cfg.Key,
		File:     cfg.CredentialsFile,
		Logger:   logger,
	}
	client := remote.New(remote.Options{
		BaseURL:     cfg.APIBase,
		HTTPClient:  remote.NewHTTPClient(cfg.HTTPTimeout.DurationValue()),
		UserAgent:   version.UserAgent(),
		MetadataTTL: cfg.MetadataTTL.DurationValue(),
		Credentials: credentials.NewCache(loader.Load),
		Executor:    executor,
		Logger:      logger,
	})

	budget := cache.Budget{
		LimitMB:   cfg.CacheSizeLimit.MB,
		Unlimited: cfg.CacheSizeLimit.Unlimited,
		Hard:      cfg.HardLimit(),
	}

	eng, err := New(Options{
		Store:          store,
		Remote:         client,
		Budget:         budget,
		Offline:        cfg.Offline,
		StrictOnDemand: cfg.StrictOnDemand,
		WaitPoll:       cfg.DownloadWaitPoll.DurationValue(),
		WaitTimeout:    cfg.DownloadWaitTimeout.DurationValue(),
		Logger:         logger,
		Metrics:        recorder,
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logging.EngineFields(
		store.Root(), client.BaseURL(), cfg.CacheSizeLimit.String(), cfg.CacheLimitMode,
		cfg.AuthMode(), cfg.Offline, cfg.StrictOnDemand,
	)).Debug("engine_ready")
	return eng, nil
}
