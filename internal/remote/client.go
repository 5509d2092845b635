// Package remote talks to the bundle service over HTTP GET with basic auth.
// It builds download, single-file and metadata URLs from a configurable API
// base, runs every request through the retry executor, and keeps fetched
// metadata in a TTL cache so that repeated version checks stay local.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/bundlehub/internal/apperr"
	"github.com/any-hub/bundlehub/internal/bundle"
	"github.com/any-hub/bundlehub/internal/credentials"
	"github.com/any-hub/bundlehub/internal/logging"
	"github.com/any-hub/bundlehub/internal/retry"
)

const (
	// DefaultBaseURL 是远端 API 的默认地址。
	DefaultBaseURL = "https://www.kaggle.com/api/v1"
	// DefaultMetadataTTL 是元数据缓存默认有效期。
	DefaultMetadataTTL = 600 * time.Second

	maxMetadataBytes = 8 << 20
)

// StatusError 表示远端返回了非 2xx 状态码。
type StatusError struct {
	Action string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s", e.Action, e.Code, http.StatusText(e.Code))
}

// Options 配置 Client。
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	UserAgent   string
	MetadataTTL time.Duration
	Credentials credentials.Provider
	Executor    *retry.Executor
	Logger      *logrus.Logger
	Now         func() time.Time
}

// Client 是远端服务客户端，可被多个 goroutine 共享。
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	ttl       time.Duration
	creds     credentials.Provider
	exec      *retry.Executor
	logger    *logrus.Logger
	now       func() time.Time

	mu    sync.RWMutex
	meta  map[string]metaEntry
	group singleflight.Group
}

type metaEntry struct {
	raw       json.RawMessage
	fetchedAt time.Time
}

// New 构造 Client。未提供的字段使用默认值；Credentials 为空时每次请求都会失败。
func New(opts Options) *Client {
	base := NormalizeBaseURL(opts.BaseURL)
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	exec := opts.Executor
	if exec == nil {
		exec = retry.NewExecutor(retry.DefaultPolicy(), nil, logger)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL:   base,
		http:      httpClient,
		userAgent: opts.UserAgent,
		ttl:       opts.MetadataTTL,
		creds:     opts.Credentials,
		exec:      exec,
		logger:    logger,
		now:       now,
		meta:      make(map[string]metaEntry),
	}
}

// NormalizeBaseURL 去除末尾斜杠，空值回落到默认地址。
func NormalizeBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if base == "" {
		return DefaultBaseURL
	}
	return base
}

// BaseURL 返回生效的 API 地址。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// BundleURL 返回完整归档的下载地址，固定版本时追加 /versions/{v}。
func (c *Client) BundleURL(ref bundle.Ref) string {
	u := fmt.Sprintf("%s/datasets/download/%s/%s", c.baseURL, url.PathEscape(ref.Owner), url.PathEscape(ref.Name))
	if ref.Pinned() {
		u += "/versions/" + url.PathEscape(ref.Version)
	}
	return u
}

// FileURL 返回单文件下载地址，固定版本时附带 datasetVersionNumber 查询参数。
func (c *Client) FileURL(ref bundle.Ref, name string) string {
	segments := strings.Split(name, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	u := fmt.Sprintf("%s/datasets/download/%s/%s/%s", c.baseURL,
		url.PathEscape(ref.Owner), url.PathEscape(ref.Name), strings.Join(segments, "/"))
	if ref.Pinned() {
		u += "?" + url.Values{"datasetVersionNumber": {ref.Version}}.Encode()
	}
	return u
}

// MetadataURL 返回元数据地址。
func (c *Client) MetadataURL(ref bundle.Ref) string {
	return fmt.Sprintf("%s/datasets/view/%s/%s", c.baseURL, url.PathEscape(ref.Owner), url.PathEscape(ref.Name))
}

// DownloadBundle 请求完整归档，返回的 Body 由调用方关闭。
func (c *Client) DownloadBundle(ctx context.Context, ref bundle.Ref) (io.ReadCloser, error) {
	resp, err := c.get(ctx, "download bundle "+ref.String(), c.BundleURL(ref))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// DownloadFile 请求归档内的单个文件，返回的 Body 由调用方关闭。
func (c *Client) DownloadFile(ctx context.Context, ref bundle.Ref, name string) (io.ReadCloser, error) {
	resp, err := c.get(ctx, fmt.Sprintf("download file %s from %s", name, ref.String()), c.FileURL(ref, name))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Metadata 返回 bundle 元数据。TTL 内直接命中缓存；并发未命中只会发出一次请求。
// 共享请求不随任一调用方的 ctx 取消；调用方的 ctx 结束时只有它自己提前返回。
func (c *Client) Metadata(ctx context.Context, ref bundle.Ref) (json.RawMessage, error) {
	key := ref.Base()
	if raw, ok := c.cachedMetadata(key); ok {
		return raw, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if raw, ok := c.cachedMetadata(key); ok {
			return raw, nil
		}
		raw, err := c.fetchMetadata(shared, ref)
		if err != nil {
			return nil, err
		}
		if c.ttl > 0 {
			c.mu.Lock()
			c.meta[key] = metaEntry{raw: raw, fetchedAt: c.now()}
			c.mu.Unlock()
		}
		return raw, nil
	})

	select {
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.KindNetwork, ctx.Err(), "fetch metadata for "+ref.String())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(json.RawMessage), nil
	}
}

// CurrentVersion 从元数据中解析远端当前版本号。
func (c *Client) CurrentVersion(ctx context.Context, ref bundle.Ref) (string, error) {
	raw, err := c.Metadata(ctx, ref)
	if err != nil {
		return "", err
	}
	return ParseCurrentVersion(raw), nil
}

// InvalidateMetadata 丢弃 ref 的元数据缓存。
func (c *Client) InvalidateMetadata(ref bundle.Ref) {
	c.mu.Lock()
	delete(c.meta, ref.Base())
	c.mu.Unlock()
}

func (c *Client) cachedMetadata(key string) (json.RawMessage, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.meta[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.fetchedAt) >= c.ttl {
		return nil, false
	}
	return entry.raw, true
}

func (c *Client) fetchMetadata(ctx context.Context, ref bundle.Ref) (json.RawMessage, error) {
	resp, err := c.get(ctx, "fetch metadata "+ref.Base(), c.MetadataURL(ref))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataBytes)).Decode(&raw); err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, err, "decode metadata for %s", ref.Base())
	}
	return raw, nil
}

// get 发出带 basic auth 的 GET。网络错误、5xx 与 429 会重试，其余非 2xx 直接返回。
func (c *Client) get(ctx context.Context, action, target string) (*http.Response, error) {
	if c.creds == nil {
		return nil, apperr.New(apperr.KindCredentials, "no credentials provider configured")
	}
	creds, err := c.creds.Credentials()
	if err != nil {
		return nil, err
	}

	return retry.Do(ctx, c.exec, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, retry.Permanent(apperr.Wrap(apperr.KindNetwork, err, "build request for %s", action))
		}
		req.SetBasicAuth(creds.Username, creds.Key)
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		started := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindNetwork, err, "%s", action)
		}
		c.logger.WithFields(logrus.Fields{
			"action":      "remote_get",
			"url":         target,
			"status":      resp.StatusCode,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Debug("remote_response")

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()

		statusErr := apperr.Wrap(apperr.KindNetwork, &StatusError{Action: action, Code: resp.StatusCode}, "%s", action)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, statusErr
		}
		return nil, retry.Permanent(statusErr)
	})
}
