package engine

import (
	"context"
	"encoding/json"

	"github.com/any-hub/bundlehub/internal/apperr"
	"github.com/any-hub/bundlehub/internal/bundle"
	"github.com/any-hub/bundlehub/internal/cache"
)

// UnknownVersion 是无法确定版本号时的占位值。
const UnknownVersion = "unknown"

// VersionInfo 对比本地缓存与远端最新版本。
type VersionInfo struct {
	CachedVersion *string `json:"cached_version"`
	LatestVersion string  `json:"latest_version"`
	IsCurrent     bool    `json:"is_current"`
	IsCached      bool    `json:"is_cached"`
}

// Metadata 返回远端元数据；离线模式下直接失败。
func (e *Engine) Metadata(ctx context.Context, ref bundle.Ref) (json.RawMessage, error) {
	if e.offline {
		return nil, offlineError("metadata fetch for %s is disabled", ref)
	}
	return e.remote.Metadata(ctx, ref)
}

// CurrentVersion 返回远端当前版本号。离线模式下读取未固定版本条目的标记，读不到时返回 "unknown"。
func (e *Engine) CurrentVersion(ctx context.Context, ref bundle.Ref) (string, error) {
	if e.offline {
		meta, ok, err := cache.ReadMetadata(e.store.EntryDir(ref.Latest()))
		if err == nil && ok && meta.Version != nil {
			return *meta.Version, nil
		}
		return UnknownVersion, nil
	}
	return e.remote.CurrentVersion(ctx, ref)
}

// IsCurrent 判断本地缓存的版本是否与远端当前版本一致；未缓存时返回 false。
func (e *Engine) IsCurrent(ctx context.Context, ref bundle.Ref) (bool, error) {
	dir := e.store.EntryDir(ref)
	if !cache.IsComplete(dir) {
		return false, nil
	}
	meta, ok, err := cache.ReadMetadata(dir)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	cached := meta.VersionString()
	if cached == "" {
		cached = UnknownVersion
	}
	latest, err := e.CurrentVersion(ctx, ref)
	if err != nil {
		return false, err
	}
	return cached == latest, nil
}

// VersionInfo 汇总缓存版本、最新版本与是否一致。
func (e *Engine) VersionInfo(ctx context.Context, ref bundle.Ref) (VersionInfo, error) {
	dir := e.store.EntryDir(ref)
	info := VersionInfo{IsCached: cache.IsComplete(dir)}
	if info.IsCached {
		meta, ok, err := cache.ReadMetadata(dir)
		if err != nil {
			return VersionInfo{}, apperr.Wrap(apperr.KindIO, err, "read cache metadata for %s", ref.String())
		}
		if ok {
			info.CachedVersion = meta.Version
		}
	}

	latest, err := e.CurrentVersion(ctx, ref)
	if err != nil {
		return VersionInfo{}, err
	}
	info.LatestVersion = latest
	info.IsCurrent = info.CachedVersion != nil && *info.CachedVersion == latest
	return info, nil
}
