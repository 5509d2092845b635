// Package archive extracts downloaded bundle archives (ZIP) into a cache
// entry directory. Every entry is checked before it touches the disk:
// symlinks, names escaping the destination, and decompression bombs (both
// total size and per-entry ratio) are rejected.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/any-hub/bundlehub/internal/apperr"
)

const (
	// DefaultMaxTotalBytes 是整个归档声明的解压总量上限（10 GiB）。
	DefaultMaxTotalBytes uint64 = 10 << 30
	// DefaultMaxRatio 是单个条目解压/压缩比上限。
	DefaultMaxRatio uint64 = 100
)

var (
	// ErrTooLarge 表示归档声明的解压总量超过上限。
	ErrTooLarge = errors.New("archive too large")
	// ErrRatioExceeded 表示单个条目压缩比异常（疑似压缩炸弹）。
	ErrRatioExceeded = errors.New("compression ratio exceeded")
	// ErrSymlink 表示归档中包含符号链接条目。
	ErrSymlink = errors.New("symlink entry not allowed")
	// ErrPathTraversal 表示条目最终路径落在目标目录之外。
	ErrPathTraversal = errors.New("path traversal attempt")
)

// Limits 控制解压安全阈值，零值字段使用默认值。
type Limits struct {
	MaxTotalBytes uint64
	MaxRatio      uint64
}

// DefaultLimits 返回 10 GiB / 100:1 的默认阈值。
func DefaultLimits() Limits {
	return Limits{MaxTotalBytes: DefaultMaxTotalBytes, MaxRatio: DefaultMaxRatio}
}

func (l Limits) normalized() Limits {
	if l.MaxTotalBytes == 0 {
		l.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if l.MaxRatio == 0 {
		l.MaxRatio = DefaultMaxRatio
	}
	return l
}

// Extractor 将 ZIP 归档安全地展开到目标目录。
type Extractor struct {
	limits   Limits
	reserved map[string]struct{}
}

// NewExtractor 构造 Extractor。
func NewExtractor(limits Limits) *Extractor {
	return &Extractor{limits: limits.normalized()}
}

// Reserve 返回一个副本，解压时跳过首段路径等于 names 之一的条目，且不计入文件数。
// 用于保护由调用方自行维护的文件（如完成标记）。
func (e *Extractor) Reserve(names ...string) *Extractor {
	reserved := make(map[string]struct{}, len(e.reserved)+len(names))
	for name := range e.reserved {
		reserved[name] = struct{}{}
	}
	for _, name := range names {
		reserved[filepath.Clean(filepath.FromSlash(name))] = struct{}{}
	}
	return &Extractor{limits: e.limits, reserved: reserved}
}

// Limits returns the effective thresholds.
func (e *Extractor) Limits() Limits {
	return e.limits
}

// Extract 展开 archivePath 到 destDir，返回写入的常规文件数量。任一条目被拒绝时立即
// 中止并返回错误；已写出的部分文件由调用方负责清理。
func (e *Extractor) Extract(archivePath, destDir string) (int, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIO, err, "open archive")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIO, err, "stat archive")
	}

	reader, err := zip.NewReader(f, info.Size())
	if err != nil {
		return 0, apperr.Wrap(apperr.KindExtract, err, "read archive %s", filepath.Base(archivePath))
	}

	destDir, err = filepath.Abs(destDir)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIO, err, "resolve destination directory")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, apperr.Wrap(apperr.KindIO, err, "create destination directory")
	}
	canonicalDest, err := filepath.EvalSymlinks(destDir)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIO, err, "canonicalize destination directory")
	}

	var (
		totalSize uint64
		extracted int
	)
	for _, entry := range reader.File {
		if entry.Mode()&os.ModeSymlink != 0 {
			return extracted, apperr.Wrap(apperr.KindExtract, ErrSymlink, "entry %q", entry.Name)
		}

		rel, ok := enclosedName(entry.Name)
		if !ok || e.isReserved(rel) {
			continue
		}

		outPath := filepath.Join(destDir, rel)
		isDir := entry.FileInfo().IsDir() || strings.HasSuffix(entry.Name, "/")

		parent := filepath.Dir(outPath)
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return extracted, apperr.Wrap(apperr.KindIO, err, "create parent for %q", entry.Name)
		}
		canonicalParent, err := filepath.EvalSymlinks(parent)
		if err != nil {
			return extracted, apperr.Wrap(apperr.KindExtract, err, "canonicalize parent for %q", entry.Name)
		}
		if !within(canonicalDest, canonicalParent) {
			return extracted, apperr.Wrap(apperr.KindExtract, ErrPathTraversal, "entry %q", entry.Name)
		}

		if isDir {
			if err := os.MkdirAll(outPath, 0o755); err != nil {
				return extracted, apperr.Wrap(apperr.KindIO, err, "create directory %q", entry.Name)
			}
			continue
		}

		totalSize = saturatingAdd(totalSize, entry.UncompressedSize64)
		if totalSize > e.limits.MaxTotalBytes {
			return extracted, apperr.Wrap(apperr.KindExtract, ErrTooLarge,
				"uncompressed size exceeds %s", formatLimit(e.limits.MaxTotalBytes))
		}
		if exceedsRatio(entry.UncompressedSize64, entry.CompressedSize64, e.limits.MaxRatio) {
			return extracted, apperr.Wrap(apperr.KindExtract, ErrRatioExceeded,
				"entry %q expands %d -> %d bytes (limit %d:1)", entry.Name, entry.CompressedSize64, entry.UncompressedSize64, e.limits.MaxRatio)
		}

		if err := writeEntry(entry, outPath); err != nil {
			return extracted, err
		}
		extracted++
	}

	return extracted, nil
}

// enclosedName 将 ZIP 条目名转换为目标目录下的本地相对路径；无法安全解释时返回 false。
func enclosedName(name string) (string, bool) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", false
	}
	normalized := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(normalized, "/") {
		return "", false
	}
	trimmed := strings.TrimSuffix(normalized, "/")
	if trimmed == "" {
		return "", false
	}
	native := filepath.FromSlash(trimmed)
	if !filepath.IsLocal(native) {
		return "", false
	}
	return filepath.Clean(native), true
}

func (e *Extractor) isReserved(rel string) bool {
	if len(e.reserved) == 0 {
		return false
	}
	top, _, _ := strings.Cut(rel, string(filepath.Separator))
	_, ok := e.reserved[top]
	return ok
}

func within(root, candidate string) bool {
	if candidate == root {
		return true
	}
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func writeEntry(entry *zip.File, outPath string) error {
	if info, err := os.Lstat(outPath); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return apperr.Wrap(apperr.KindExtract, ErrSymlink, "refusing to write through existing symlink %q", entry.Name)
		}
		if info.IsDir() {
			return apperr.New(apperr.KindExtract, "entry %q collides with an existing directory", entry.Name)
		}
	}

	src, err := entry.Open()
	if err != nil {
		return apperr.Wrap(apperr.KindExtract, err, "open entry %q", entry.Name)
	}
	defer src.Close()

	dst, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, err, "create %q", entry.Name)
	}

	declared := entry.UncompressedSize64
	written, copyErr := io.Copy(dst, io.LimitReader(src, int64(minUint64(declared, 1<<62))+1))
	closeErr := dst.Close()
	if copyErr != nil {
		return apperr.Wrap(apperr.KindExtract, copyErr, "write %q", entry.Name)
	}
	if closeErr != nil {
		return apperr.Wrap(apperr.KindIO, closeErr, "close %q", entry.Name)
	}
	if uint64(written) > declared {
		return apperr.Wrap(apperr.KindExtract, ErrTooLarge, "entry %q is larger than its declared size", entry.Name)
	}
	return nil
}

func exceedsRatio(uncompressed, compressed, maxRatio uint64) bool {
	if uncompressed == 0 {
		return false
	}
	if compressed == 0 {
		return true
	}
	return uncompressed/compressed > maxRatio
}

func saturatingAdd(a, b uint64) uint64 {
	if sum := a + b; sum >= a {
		return sum
	}
	return ^uint64(0)
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func formatLimit(bytes uint64) string {
	const gib = 1 << 30
	if bytes >= gib && bytes%gib == 0 {
		return fmt.Sprintf("%d GB", bytes/gib)
	}
	return fmt.Sprintf("%d bytes", bytes)
}
