package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/cache"
)

// CacheInfo 描述缓存目录占用情况。
type CacheInfo struct {
	Path         string  `json:"path"`
	SizeMB       uint64  `json:"size_mb"`
	LimitMB      *uint64 `json:"limit_mb"`
	UsagePercent uint64  `json:"usage_percent"`
	IsSoftLimit  bool    `json:"is_soft_limit"`
	Type         string  `json:"type"`
}

// CacheInfo 统计缓存根目录的实际占用；无上限时 LimitMB 为 nil、使用率为 0。
func (e *Engine) CacheInfo() (CacheInfo, error) {
	size, err := cache.DirSize(e.store.Root())
	if err != nil {
		return CacheInfo{}, err
	}
	info := CacheInfo{
		Path:        e.store.Root(),
		SizeMB:      cache.BytesToMB(size),
		IsSoftLimit: !e.budget.Hard,
		Type:        "local",
	}
	if !e.budget.Unlimited {
		limit := e.budget.LimitMB
		info.LimitMB = &limit
		if limit > 0 {
			info.UsagePercent = uint64(float64(info.SizeMB) / float64(limit) * 100)
		}
	}
	e.metrics.SetCacheSizeMB(info.SizeMB)
	return info, nil
}

// ClearCache 删除并重建整个缓存目录。
func (e *Engine) ClearCache() error {
	if err := e.store.Clear(); err != nil {
		return err
	}
	e.metrics.SetCacheSizeMB(0)
	e.logger.WithFields(logrus.Fields{"action": "clear_cache", "path": e.store.Root()}).Info("cache_cleared")
	return nil
}

// EnforceBudget 立即执行一次淘汰，不豁免任何条目。
func (e *Engine) EnforceBudget() (cache.EvictionReport, error) {
	report, err := e.store.EnforceBudget(e.budget)
	e.recordEviction(report)
	if err != nil {
		return report, err
	}
	return report, report.Err()
}
