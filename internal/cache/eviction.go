package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/apperr"
)

// Budget 描述缓存容量上限。Unlimited 时忽略 LimitMB。
type Budget struct {
	LimitMB   uint64
	Unlimited bool
	Hard      bool
}

// Entry 是一个已完成的缓存条目及其元数据。
type Entry struct {
	Dir      string
	Metadata Metadata
}

// EvictionFailure 记录淘汰过程中无法删除的条目。
type EvictionFailure struct {
	Dir string
	Err error
}

// EvictionReport 汇总一次淘汰的结果。
type EvictionReport struct {
	BeforeMB uint64
	AfterMB  uint64
	Evicted  []Entry
	Failures []EvictionFailure
}

// Err 将失败条目合并为一个错误，没有失败时返回 nil。
func (r EvictionReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, failure := range r.Failures {
		errs = append(errs, failure.Err)
	}
	return apperr.Wrap(apperr.KindIO, errors.Join(errs...), "evict %d cache entries", len(r.Failures))
}

// Enumerate 列出 datasets/<owner>/<entry> 下所有已完成的条目。
func (s *Store) Enumerate() ([]Entry, error) {
	owners, err := os.ReadDir(s.DatasetsDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindIO, err, "list cache")
	}

	var entries []Entry
	for _, owner := range owners {
		if !owner.IsDir() {
			continue
		}
		ownerDir := filepath.Join(s.DatasetsDir(), owner.Name())
		children, err := os.ReadDir(ownerDir)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindIO, err, "list cache owner %s", owner.Name())
		}
		for _, child := range children {
			if !child.IsDir() {
				continue
			}
			dir := filepath.Join(ownerDir, child.Name())
			if !IsComplete(dir) {
				continue
			}
			meta, ok, err := ReadMetadata(dir)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			entries = append(entries, Entry{Dir: dir, Metadata: meta})
		}
	}
	return entries, nil
}

// TotalSizeMB 返回所有已完成条目记录的大小之和。
func (s *Store) TotalSizeMB() (uint64, error) {
	entries, err := s.Enumerate()
	if err != nil {
		return 0, err
	}
	return sumSizeMB(entries), nil
}

// EnforceBudget 按下载时间从旧到新淘汰整条目，直到总量不超过预算。keep 中的目录不会被淘汰。
// 单个条目删除失败会被记录并跳过；只有枚举失败才会返回错误。
func (s *Store) EnforceBudget(budget Budget, keep ...string) (EvictionReport, error) {
	if budget.Unlimited {
		return EvictionReport{}, nil
	}

	entries, err := s.Enumerate()
	if err != nil {
		return EvictionReport{}, err
	}

	total := sumSizeMB(entries)
	report := EvictionReport{BeforeMB: total, AfterMB: total}
	if total <= budget.LimitMB {
		return report, nil
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Metadata.DownloadedAtSecs, entries[j].Metadata.DownloadedAtSecs
		if a != b {
			return a < b
		}
		return entries[i].Dir < entries[j].Dir
	})

	exempt := make(map[string]struct{}, len(keep))
	for _, dir := range keep {
		exempt[filepath.Clean(dir)] = struct{}{}
	}

	for _, entry := range entries {
		if total <= budget.LimitMB {
			break
		}
		if _, skip := exempt[filepath.Clean(entry.Dir)]; skip {
			continue
		}
		if err := s.Remove(entry.Dir); err != nil {
			s.logger.WithFields(logrus.Fields{
				"action":  "evict",
				"dir":     entry.Dir,
				"size_mb": entry.Metadata.SizeMB,
			}).WithError(err).Warn("cache_evict_failed")
			report.Failures = append(report.Failures, EvictionFailure{Dir: entry.Dir, Err: err})
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"action":     "evict",
			"dir":        entry.Dir,
			"dataset":    entry.Metadata.DatasetPath,
			"size_mb":    entry.Metadata.SizeMB,
			"limit_mb":   budget.LimitMB,
			"total_mb":   total,
			"hard_limit": budget.Hard,
		}).Info("cache_entry_evicted")
		total -= min(entry.Metadata.SizeMB, total)
		report.Evicted = append(report.Evicted, entry)
	}
	report.AfterMB = total

	if total > budget.LimitMB {
		s.logger.WithFields(logrus.Fields{
			"action":   "evict",
			"total_mb": total,
			"limit_mb": budget.LimitMB,
		}).Warn("cache_over_budget_after_eviction")
	}
	return report, nil
}

func sumSizeMB(entries []Entry) uint64 {
	var total uint64
	for _, entry := range entries {
		total += entry.Metadata.SizeMB
	}
	return total
}
