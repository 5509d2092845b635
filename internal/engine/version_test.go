package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/bundlehub/internal/apperr"
	"github.com/any-hub/bundlehub/internal/cache"
)

func TestIsCurrent(t *testing.T) {
	store := newTestStore(t)
	ref := mustRef(t, "owner/data")
	seedEntry(t, store, ref, map[string]string{"a": "x"}, cache.NewMetadata("owner/data", 0, time.Now()).WithVersion("4"))

	remote := &fakeRemote{version: "4"}
	eng := newTestEngine(t, remote, Options{Store: store})

	current, err := eng.IsCurrent(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, current)

	remote.version = "5"
	current, err = eng.IsCurrent(context.Background(), ref)
	require.NoError(t, err)
	assert.False(t, current)
}

func TestIsCurrentNotCached(t *testing.T) {
	eng := newTestEngine(t, panicRemote{}, Options{})

	current, err := eng.IsCurrent(context.Background(), mustRef(t, "owner/data"))
	require.NoError(t, err)
	assert.False(t, current)
}

func TestVersionInfo(t *testing.T) {
	store := newTestStore(t)
	ref := mustRef(t, "owner/data")
	seedEntry(t, store, ref, map[string]string{"a": "x"}, cache.NewMetadata("owner/data", 0, time.Now()).WithVersion("2"))
	eng := newTestEngine(t, &fakeRemote{version: "3"}, Options{Store: store})

	info, err := eng.VersionInfo(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, info.IsCached)
	require.NotNil(t, info.CachedVersion)
	assert.Equal(t, "2", *info.CachedVersion)
	assert.Equal(t, "3", info.LatestVersion)
	assert.False(t, info.IsCurrent)

	raw, err := json.Marshal(info)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cached_version":"2","latest_version":"3","is_current":false,"is_cached":true}`, string(raw))
}

func TestVersionInfoUncached(t *testing.T) {
	eng := newTestEngine(t, &fakeRemote{version: "1"}, Options{})

	info, err := eng.VersionInfo(context.Background(), mustRef(t, "owner/data"))
	require.NoError(t, err)
	assert.False(t, info.IsCached)
	assert.Nil(t, info.CachedVersion)
	assert.False(t, info.IsCurrent)
}

func TestVersionInfoRemoteFailure(t *testing.T) {
	eng := newTestEngine(t, &fakeRemote{versionErr: errUpstreamDown}, Options{})

	_, err := eng.VersionInfo(context.Background(), mustRef(t, "owner/data"))
	require.ErrorIs(t, err, errUpstreamDown)
}

func TestOfflineCurrentVersionReadsMarker(t *testing.T) {
	store := newTestStore(t)
	seedEntry(t, store, mustRef(t, "owner/data"), map[string]string{"a": "x"},
		cache.NewMetadata("owner/data", 0, time.Now()).WithVersion("6"))
	eng := newTestEngine(t, panicRemote{}, Options{Store: store, Offline: true})

	latest, err := eng.CurrentVersion(context.Background(), mustRef(t, "owner/data@v2"))
	require.NoError(t, err)
	assert.Equal(t, "6", latest)

	latest, err = eng.CurrentVersion(context.Background(), mustRef(t, "owner/other"))
	require.NoError(t, err)
	assert.Equal(t, UnknownVersion, latest)
}

func TestOfflineIsCurrentUnknownVersion(t *testing.T) {
	store := newTestStore(t)
	ref := mustRef(t, "owner/data")
	seedEntry(t, store, ref, map[string]string{"a": "x"}, cache.NewMetadata("owner/data", 0, time.Now()))
	eng := newTestEngine(t, panicRemote{}, Options{Store: store, Offline: true})

	current, err := eng.IsCurrent(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, current, "both sides resolve to unknown")
}

func TestMetadataOffline(t *testing.T) {
	eng := newTestEngine(t, panicRemote{}, Options{Offline: true})

	_, err := eng.Metadata(context.Background(), mustRef(t, "owner/data"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNetwork))
}

func TestMetadataPassthrough(t *testing.T) {
	remote := &fakeRemote{metadata: json.RawMessage(`{"title":"Demo"}`)}
	eng := newTestEngine(t, remote, Options{})

	raw, err := eng.Metadata(context.Background(), mustRef(t, "owner/data"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Demo"}`, string(raw))
}
