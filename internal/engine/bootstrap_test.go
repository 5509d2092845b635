package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/bundlehub/internal/cache"
	"github.com/any-hub/bundlehub/internal/config"
	"github.com/any-hub/bundlehub/internal/version"
)

func TestNewFromConfigDownloadsThroughRemote(t *testing.T) {
	archive := sampleArchive(t)
	var sawAuth, sawUA atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		sawAuth.Store(user == "alice" && pass == "secret")
		sawUA.Store(r.UserAgent() == version.UserAgent())
		switch r.URL.Path {
		case "/api/v1/datasets/download/owner/data":
			w.Header().Set("Content-Type", "application/zip")
			w.Write(archive)
		case "/api/v1/datasets/view/owner/data":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"currentVersionNumber": 12}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := &config.Config{
		CacheDir:            t.TempDir(),
		HTTPTimeout:         config.Duration(5 * time.Second),
		RetryAttempts:       1,
		RetryDelay:          config.Duration(time.Millisecond),
		RetryMaxDelay:       config.Duration(time.Millisecond),
		DownloadWaitPoll:    config.Duration(5 * time.Millisecond),
		DownloadWaitTimeout: config.Duration(time.Second),
		CacheSizeLimit:      config.SizeLimit{Unlimited: true},
		CacheLimitMode:      config.LimitModeSoft,
		APIBase:             server.URL + "/api/v1",
		MetadataTTL:         config.Duration(time.Minute),
		Username:            "alice",
		Key:                 "secret",
	}

	eng, err := NewFromConfig(cfg, nil, nil)
	require.NoError(t, err)

	dir, err := eng.Download(context.Background(), mustRef(t, "owner/data"))
	require.NoError(t, err)
	assert.True(t, sawAuth.Load(), "basic auth must be sent")
	assert.True(t, sawUA.Load(), "user agent must be sent")

	meta, ok, err := cache.ReadMetadata(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "12", meta.VersionString())

	current, err := eng.IsCurrent(context.Background(), mustRef(t, "owner/data"))
	require.NoError(t, err)
	assert.True(t, current)
}

func TestNewFromConfigOffline(t *testing.T) {
	cfg := &config.Config{
		CacheDir:       t.TempDir(),
		RetryAttempts:  1,
		CacheSizeLimit: config.SizeLimit{MB: 100},
		CacheLimitMode: config.LimitModeHard,
		APIBase:        config.DefaultAPIBase,
		Offline:        true,
	}

	eng, err := NewFromConfig(cfg, nil, nil)
	require.NoError(t, err)
	assert.True(t, eng.Offline())

	info, err := eng.CacheInfo()
	require.NoError(t, err)
	require.NotNil(t, info.LimitMB)
	assert.Equal(t, uint64(100), *info.LimitMB)
	assert.False(t, info.IsSoftLimit)
}
