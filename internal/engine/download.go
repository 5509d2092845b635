package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/apperr"
	"github.com/any-hub/bundlehub/internal/bundle"
	"github.com/any-hub/bundlehub/internal/cache"
	"github.com/any-hub/bundlehub/internal/logging"
	"github.com/any-hub/bundlehub/internal/metrics"
)

// Download 返回 ref 对应的本地目录，必要时下载并解压。同一 ref 的并发调用只会触发一次下载，
// 其余调用等待其完成；等待超过配置的超时返回 Timeout 类错误。
func (e *Engine) Download(ctx context.Context, ref bundle.Ref) (string, error) {
	dir := e.store.EntryDir(ref)
	if cache.IsComplete(dir) {
		e.metrics.IncDownload(metrics.StatusHit)
		e.logger.WithFields(logging.BundleFields("download", ref.String(), true)).Debug("bundle_cache_hit")
		return dir, nil
	}

	if e.offline {
		e.metrics.IncDownload(metrics.StatusOfflineMiss)
		return "", offlineError("cannot download %s", ref)
	}

	release, done, err := e.locks.acquire(ctx, ref.Key(), func() bool { return cache.IsComplete(dir) })
	if err != nil {
		e.metrics.IncDownload(metrics.StatusFailed)
		return "", err
	}
	if done {
		e.metrics.IncDownload(metrics.StatusWaited)
		return dir, nil
	}
	defer release()

	if err := e.fetchAndExtract(ctx, ref, dir); err != nil {
		e.metrics.IncDownload(metrics.StatusFailed)
		return "", err
	}
	e.metrics.IncDownload(metrics.StatusDownloaded)

	if err := e.enforceAfterDownload(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// fetchAndExtract 将归档流式写入临时文件、解压并写入标记。失败时清理临时文件与条目目录。
func (e *Engine) fetchAndExtract(ctx context.Context, ref bundle.Ref, dir string) error {
	opID := uuid.NewString()
	started := e.now()
	logger := e.logger.WithFields(logging.BundleFields("download", ref.String(), false)).WithField("op_id", opID)

	tmpDir, err := e.store.TempDir()
	if err != nil {
		return err
	}
	archivePath := filepath.Join(tmpDir, opID+".zip")
	defer os.Remove(archivePath)

	body, err := e.remote.DownloadBundle(ctx, ref)
	if err != nil {
		logger.WithError(err).Warn("bundle_download_failed")
		return err
	}
	archiveDigest, written, err := writeArchive(archivePath, body)
	if err != nil {
		logger.WithError(err).Warn("bundle_download_failed")
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.KindIO, err, "create cache directory for %s", ref)
	}
	extracted, err := e.extractor.Extract(archivePath, dir)
	if err == nil && extracted == 0 {
		err = apperr.New(apperr.KindExtract, "archive for %s contained no files", ref)
	}
	if err != nil {
		os.RemoveAll(dir)
		logger.WithError(err).Warn("bundle_extract_failed")
		return err
	}
	os.Remove(archivePath)

	size, err := cache.DirSize(dir)
	if err != nil {
		os.RemoveAll(dir)
		return err
	}

	version := ref.Version
	if version == "" {
		if current, err := e.remote.CurrentVersion(ctx, ref); err == nil {
			version = current
		} else {
			logger.WithError(err).Debug("bundle_version_unresolved")
		}
	}

	meta := cache.NewMetadata(ref.Base(), cache.BytesToMB(size), e.now()).WithVersion(version)
	meta.ArchiveDigest = archiveDigest
	if err := e.store.WriteMetadata(dir, meta); err != nil {
		os.RemoveAll(dir)
		return err
	}

	elapsed := e.now().Sub(started)
	e.metrics.ObserveDownload(elapsed)
	logger.WithFields(logrus.Fields{
		"files":          extracted,
		"archive_bytes":  written,
		"size_mb":        meta.SizeMB,
		"version":        version,
		"archive_digest": archiveDigest.String(),
		"elapsed_ms":     elapsed.Milliseconds(),
	}).Info("bundle_downloaded")
	return nil
}

// writeArchive 将 body 写入 path 并同时计算 sha256 摘要。
func writeArchive(path string, body io.ReadCloser) (digest.Digest, int64, error) {
	defer body.Close()

	f, err := os.Create(path)
	if err != nil {
		return "", 0, apperr.Wrap(apperr.KindIO, err, "create temp archive")
	}
	digester := digest.Canonical.Digester()
	written, copyErr := io.Copy(io.MultiWriter(f, digester.Hash()), body)
	closeErr := f.Close()
	if copyErr != nil {
		return "", written, apperr.Wrap(apperr.KindNetwork, copyErr, "stream archive")
	}
	if closeErr != nil {
		return "", written, apperr.Wrap(apperr.KindIO, closeErr, "close temp archive")
	}
	return digester.Digest(), written, nil
}

// enforceAfterDownload 在下载完成后执行容量检查，刚完成的条目不参与淘汰。
// soft 模式下淘汰失败只记录日志；hard 模式下返回错误。
func (e *Engine) enforceAfterDownload(keep string) error {
	if e.budget.Unlimited {
		return nil
	}
	report, err := e.store.EnforceBudget(e.budget, keep)
	e.recordEviction(report)
	if err == nil {
		err = report.Err()
	}
	if err == nil {
		return nil
	}
	if e.budget.Hard {
		return err
	}
	e.logger.WithFields(logrus.Fields{
		"action":   "evict",
		"limit_mb": e.budget.LimitMB,
	}).WithError(err).Warn("cache_limit_enforce_failed")
	return nil
}

func (e *Engine) recordEviction(report cache.EvictionReport) {
	e.metrics.AddEvicted(len(report.Evicted))
	if report.BeforeMB > 0 || len(report.Evicted) > 0 {
		e.metrics.SetCacheSizeMB(report.AfterMB)
	}
}

// Update 删除 ref 的本地副本并重新下载。
func (e *Engine) Update(ctx context.Context, ref bundle.Ref) (string, error) {
	if e.offline {
		return "", offlineError("cannot update %s", ref)
	}

	release, _, err := e.locks.acquire(ctx, ref.Key(), nil)
	if err != nil {
		return "", err
	}
	removeErr := e.store.Remove(e.store.EntryDir(ref))
	release()
	if removeErr != nil {
		return "", removeErr
	}

	if inv, ok := e.remote.(metadataInvalidator); ok {
		inv.InvalidateMetadata(ref)
	}
	e.logger.WithFields(logging.BundleFields("update", ref.String(), false)).Info("bundle_cache_invalidated")
	return e.Download(ctx, ref)
}

func offlineError(format string, ref bundle.Ref) error {
	return apperr.New(apperr.KindNetwork,
		format+"; offline mode is enabled (unset BUNDLEHUB_OFFLINE to enable network)", ref.String())
}
