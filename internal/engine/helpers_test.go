package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/any-hub/bundlehub/internal/apperr"
	"github.com/any-hub/bundlehub/internal/bundle"
	"github.com/any-hub/bundlehub/internal/cache"
)

// fakeRemote 是可编程的远端替身，记录各类调用次数。
type fakeRemote struct {
	mu       sync.Mutex
	archive  []byte
	files    map[string][]byte
	version  string
	metadata json.RawMessage

	bundleErr  error
	versionErr error
	// gate 非 nil 时 DownloadBundle 会阻塞直到 gate 关闭。
	gate chan struct{}

	bundleCalls      atomic.Int32
	fileCalls        atomic.Int32
	versionCalls     atomic.Int32
	invalidations    atomic.Int32
	lastFileRequests []string
}

func (f *fakeRemote) DownloadBundle(ctx context.Context, ref bundle.Ref) (io.ReadCloser, error) {
	f.bundleCalls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.bundleErr != nil {
		return nil, f.bundleErr
	}
	return io.NopCloser(bytes.NewReader(f.archive)), nil
}

func (f *fakeRemote) DownloadFile(_ context.Context, _ bundle.Ref, name string) (io.ReadCloser, error) {
	f.fileCalls.Add(1)
	f.mu.Lock()
	f.lastFileRequests = append(f.lastFileRequests, name)
	body, ok := f.files[name]
	f.mu.Unlock()
	if !ok {
		return nil, apperr.New(apperr.KindNetwork, "download file %s: HTTP 404", name)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (f *fakeRemote) Metadata(context.Context, bundle.Ref) (json.RawMessage, error) {
	if f.metadata == nil {
		return json.RawMessage(`{}`), nil
	}
	return f.metadata, nil
}

func (f *fakeRemote) CurrentVersion(context.Context, bundle.Ref) (string, error) {
	f.versionCalls.Add(1)
	if f.versionErr != nil {
		return "", f.versionErr
	}
	return f.version, nil
}

func (f *fakeRemote) InvalidateMetadata(bundle.Ref) {
	f.invalidations.Add(1)
}

// panicRemote 用于断言某条路径完全不访问网络。
type panicRemote struct{}

func (panicRemote) DownloadBundle(context.Context, bundle.Ref) (io.ReadCloser, error) {
	panic("unexpected DownloadBundle")
}

func (panicRemote) DownloadFile(context.Context, bundle.Ref, string) (io.ReadCloser, error) {
	panic("unexpected DownloadFile")
}

func (panicRemote) Metadata(context.Context, bundle.Ref) (json.RawMessage, error) {
	panic("unexpected Metadata")
}

func (panicRemote) CurrentVersion(context.Context, bundle.Ref) (string, error) {
	panic("unexpected CurrentVersion")
}

var errUpstreamDown = errors.New("upstream down")

// buildZip 生成以 Store 方式保存的归档，name 以 / 结尾时创建目录条目。
func buildZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		if len(body) > 0 {
			_, err = w.Write(body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func sampleArchive(t *testing.T) []byte {
	return buildZip(t, map[string][]byte{
		"train.csv":       []byte("a,b\n1,2\n"),
		"nested/":         nil,
		"nested/test.csv": []byte("a,b\n3,4\n"),
	})
}

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

// newTestEngine 构造使用临时缓存目录的引擎，opts 中未设置的字段采用测试友好的默认值；
// 零值 Budget 视为不限容量。
func newTestEngine(t *testing.T, remote Remote, opts Options) *Engine {
	t.Helper()
	if opts.Store == nil {
		opts.Store = newTestStore(t)
	}
	if opts.Remote == nil && remote != nil {
		opts.Remote = remote
	}
	if opts.WaitPoll == 0 {
		opts.WaitPoll = 5 * time.Millisecond
	}
	if opts.WaitTimeout == 0 {
		opts.WaitTimeout = 5 * time.Second
	}
	if opts.Budget == (cache.Budget{}) {
		opts.Budget.Unlimited = true
	}
	eng, err := New(opts)
	require.NoError(t, err)
	return eng
}

func mustRef(t *testing.T, raw string) bundle.Ref {
	t.Helper()
	ref, err := bundle.Parse(raw)
	require.NoError(t, err)
	return ref
}

// seedEntry 在缓存中放置一个带标记的完整条目。
func seedEntry(t *testing.T, store *cache.Store, ref bundle.Ref, files map[string]string, meta cache.Metadata) string {
	t.Helper()
	dir := store.EntryDir(ref)
	for name, body := range files {
		target, err := store.FilePath(ref, name)
		require.NoError(t, err)
		_, err = store.PutFile(context.Background(), target, bytes.NewReader([]byte(body)))
		require.NoError(t, err)
	}
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, store.WriteMetadata(dir, meta))
	return dir
}
