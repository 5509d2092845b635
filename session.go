package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/config"
	"github.com/any-hub/bundlehub/internal/engine"
	"github.com/any-hub/bundlehub/internal/logging"
	"github.com/any-hub/bundlehub/internal/metrics"
)

// metricsNamespace 是导出指标的统一前缀。
const metricsNamespace = "bundlehub"

// session 持有单次命令执行所需的配置、日志与引擎。
type session struct {
	cfg      *config.Config
	logger   *logrus.Logger
	engine   *engine.Engine
	registry *prometheus.Registry
}

// loadRuntime 加载配置并初始化日志，供不需要引擎的命令使用。
func loadRuntime(opts *cliOptions) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	logOpts := logging.OptionsFromConfig(cfg)
	logOpts.Console = stdErr
	logger, err := logging.New(logOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, logger, nil
}

// openSession 遵循“配置 → 日志 → 指标 → 引擎”顺序构建执行环境。
func openSession(opts *cliOptions) (*session, error) {
	cfg, logger, err := loadRuntime(opts)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewProm(metricsNamespace, registry)

	eng, err := engine.NewFromConfig(cfg, logger, recorder)
	if err != nil {
		return nil, fmt.Errorf("初始化引擎失败: %w", err)
	}
	return &session{cfg: cfg, logger: logger, engine: eng, registry: registry}, nil
}

// close 在配置了 MetricsTextfile 时导出本次执行的指标，失败只记录日志。
func (s *session) close() {
	if s.cfg.MetricsTextfile == "" {
		return
	}
	if err := prometheus.WriteToTextfile(s.cfg.MetricsTextfile, s.registry); err != nil {
		s.logger.WithFields(logrus.Fields{
			"action": "metrics_export",
			"path":   s.cfg.MetricsTextfile,
		}).WithError(err).Warn("metrics_textfile_failed")
	}
}
