package engine

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/any-hub/bundlehub/internal/apperr"
	"github.com/any-hub/bundlehub/internal/bundle"
	"github.com/any-hub/bundlehub/internal/cache"
	"github.com/any-hub/bundlehub/internal/logging"
	"github.com/any-hub/bundlehub/internal/metrics"
)

// FileInfo 描述 bundle 内的一个文件。
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// FileResult 是预取单个文件的结果。
type FileResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PrefetchResult 汇总一次批量预取。
type PrefetchResult struct {
	Dataset string       `json:"dataset"`
	Files   []FileResult `json:"files"`
}

// 预取状态。
const (
	PrefetchOK    = "ok"
	PrefetchError = "error"
)

// GetFile 返回 bundle 内单个文件的本地路径。本地已有时直接返回；否则先尝试单文件请求，
// 失败且非严格模式、条目目录为空时回退到完整下载。文件名非法或保留时不做任何 I/O。
func (e *Engine) GetFile(ctx context.Context, ref bundle.Ref, name string) (string, error) {
	target, err := e.store.FilePath(ref, name)
	if err != nil {
		return "", err
	}
	dir := e.store.EntryDir(ref)
	if isRegularFile(target) {
		e.metrics.IncFileFetch(metrics.SourceLocal)
		return target, nil
	}

	if e.offline {
		e.metrics.IncFileFetch(metrics.SourceFailed)
		return "", apperr.New(apperr.KindNetwork,
			"file %q of %s is not cached; offline mode is enabled (unset BUNDLEHUB_OFFLINE to enable network)", name, ref.String())
	}

	logger := e.logger.WithFields(logging.BundleFields("get_file", ref.String(), false)).WithField("file", name)

	fetchErr := e.fetchSingleFile(ctx, ref, name, target)
	if fetchErr == nil {
		e.metrics.IncFileFetch(metrics.SourceRemote)
		logger.Debug("bundle_file_fetched")
		return target, nil
	}

	if e.strict {
		e.metrics.IncFileFetch(metrics.SourceFailed)
		logger.WithError(fetchErr).Warn("bundle_file_fetch_failed")
		return "", fetchErr
	}
	if !dirEmpty(dir) {
		e.metrics.IncFileFetch(metrics.SourceFailed)
		return "", fetchErr
	}

	logger.WithError(fetchErr).Info("bundle_file_fallback_full_download")
	if _, err := e.Download(ctx, ref); err != nil {
		e.metrics.IncFileFetch(metrics.SourceFailed)
		return "", err
	}
	if !isRegularFile(target) {
		e.metrics.IncFileFetch(metrics.SourceFailed)
		return "", apperr.New(apperr.KindIO, "file %q not found in bundle %s", name, ref.String())
	}
	e.metrics.IncFileFetch(metrics.SourceFallback)
	return target, nil
}

func (e *Engine) fetchSingleFile(ctx context.Context, ref bundle.Ref, name, target string) error {
	body, err := e.remote.DownloadFile(ctx, ref, name)
	if err != nil {
		return err
	}
	defer body.Close()
	_, err = e.store.PutFile(ctx, target, body)
	return err
}

// ListFiles 确保 bundle 已在本地，并列出其中所有常规文件（相对路径，使用 / 分隔），不含标记文件。
func (e *Engine) ListFiles(ctx context.Context, ref bundle.Ref) ([]FileInfo, error) {
	dir, err := e.Download(ctx, ref)
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == cache.MarkerName {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{Name: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, err, "list files of %s", ref.String())
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// PrefetchFiles 并发获取多个文件，单个失败不影响其他文件，结果顺序与 names 一致。
func (e *Engine) PrefetchFiles(ctx context.Context, ref bundle.Ref, names []string) PrefetchResult {
	results := make([]FileResult, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.prefetch)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			path, err := e.GetFile(gctx, ref, name)
			if err != nil {
				results[i] = FileResult{Name: name, Status: PrefetchError, Error: err.Error()}
				return nil
			}
			results[i] = FileResult{Name: name, Status: PrefetchOK, Path: path}
			return nil
		})
	}
	g.Wait()

	return PrefetchResult{Dataset: ref.String(), Files: results}
}

func isRegularFile(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode().IsRegular()
}

func dirEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	return len(entries) == 0
}
