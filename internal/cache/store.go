package cache

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/apperr"
	"github.com/any-hub/bundlehub/internal/bundle"
	"github.com/any-hub/bundlehub/internal/logging"
)

const (
	// MarkerName 是缓存条目完成标记文件名。
	MarkerName = ".downloaded"

	datasetsDir = "datasets"
	tempDir     = "tmp"
)

// Store 负责管理磁盘缓存。磁盘布局遵循：
//
//	<root>/datasets/<owner>/<name>[-v<version>]/...   # 解压后的文件
//	<root>/datasets/<owner>/<name>[-v<version>]/.downloaded
//	<root>/tmp/<uuid>.zip                               # 下载中的归档
type Store struct {
	root   string
	logger *logrus.Logger

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// Option 定制 Store。
type Option func(*Store)

// WithLogger 设置淘汰等后台动作使用的日志器。
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore 以 root 为根目录构建磁盘缓存，并确保 datasets 目录存在。
func NewStore(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, apperr.New(apperr.KindIO, "cache root required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, err, "resolve cache root")
	}

	if err := os.MkdirAll(filepath.Join(abs, datasetsDir), 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindIO, err, "create cache root")
	}

	store := &Store{
		root:   abs,
		logger: logging.Discard(),
		locks:  make(map[string]*entryLock),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Root 返回缓存根目录的绝对路径。
func (s *Store) Root() string {
	return s.root
}

// DatasetsDir 返回所有条目所在的目录。
func (s *Store) DatasetsDir() string {
	return filepath.Join(s.root, datasetsDir)
}

// TempDir 返回下载中归档的暂存目录，必要时创建。
func (s *Store) TempDir() (string, error) {
	dir := filepath.Join(s.root, tempDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Wrap(apperr.KindIO, err, "create temp directory")
	}
	return dir, nil
}

// EntryDir 返回 ref 对应的条目目录（不保证存在）。
func (s *Store) EntryDir(ref bundle.Ref) string {
	return filepath.Join(s.DatasetsDir(), ref.Owner, ref.CacheSubdir())
}

// MarkerPath 返回条目目录下的标记文件路径。
func MarkerPath(dir string) string {
	return filepath.Join(dir, MarkerName)
}

// IsComplete 判断条目是否已完整下载：标记存在且非空。
func IsComplete(dir string) bool {
	info, err := os.Stat(MarkerPath(dir))
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// FilePath 返回条目内文件的本地路径。结果必须严格位于条目目录之下，且不能是完成标记，
// 否则返回 InvalidReference 类错误。
func (s *Store) FilePath(ref bundle.Ref, name string) (string, error) {
	if err := bundle.ValidateFilename(name); err != nil {
		return "", err
	}
	dir := s.EntryDir(ref)
	target := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperr.New(apperr.KindInvalidReference, "filename %q does not name a file inside the bundle", name)
	}
	if top, _, _ := strings.Cut(rel, string(filepath.Separator)); top == MarkerName {
		return "", apperr.New(apperr.KindInvalidReference, "filename %q is reserved", name)
	}
	return target, nil
}

// PutFile 将 body 以临时文件 + rename 的方式写入 target，返回写入字节数。
// 同一 target 的并发写入会被串行化。
func (s *Store) PutFile(ctx context.Context, target string, body io.Reader) (int64, error) {
	unlock := s.lockEntry(target)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, apperr.Wrap(apperr.KindIO, err, "create parent directory")
	}

	tempFile, err := os.CreateTemp(filepath.Dir(target), ".cache-*")
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIO, err, "create temp file")
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return written, apperr.Wrap(apperr.KindNetwork, ctxErr, "write %s", filepath.Base(target))
		}
		return written, apperr.Wrap(apperr.KindIO, err, "write %s", filepath.Base(target))
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return written, apperr.Wrap(apperr.KindIO, err, "rename %s", filepath.Base(target))
	}
	return written, nil
}

// Remove 删除整个条目目录，目录不存在视为成功。
func (s *Store) Remove(dir string) error {
	unlock := s.lockEntry(dir)
	defer unlock()

	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.Wrap(apperr.KindIO, err, "remove %s", dir)
	}
	return nil
}

// Clear 删除并重建整个缓存根目录。
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.root); err != nil {
		return apperr.Wrap(apperr.KindIO, err, "clear cache")
	}
	if err := os.MkdirAll(s.DatasetsDir(), 0o755); err != nil {
		return apperr.Wrap(apperr.KindIO, err, "recreate cache root")
	}
	return nil
}

// DirSize 递归累加 path 下所有常规文件的字节数，不跟随符号链接。
func DirSize(path string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += uint64(info.Size())
		return nil
	})
	if err != nil {
		return total, apperr.Wrap(apperr.KindIO, err, "measure %s", path)
	}
	return total, nil
}

// BytesToMB 以整 MiB 向下取整。
func BytesToMB(n uint64) uint64 {
	return n / (1024 * 1024)
}

func (s *Store) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
