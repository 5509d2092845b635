package cache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/any-hub/bundlehub/internal/apperr"
)

// Metadata 是 .downloaded 标记文件中的 JSON 结构。
type Metadata struct {
	DownloadedAtSecs uint64  `json:"downloaded_at_secs"`
	DatasetPath      string  `json:"dataset_path"`
	SizeMB           uint64  `json:"size_mb"`
	Version          *string `json:"version"`
	// ArchiveDigest 记录下载归档的 sha256 摘要，旧标记中不存在。
	ArchiveDigest digest.Digest `json:"archive_digest,omitempty"`
}

// NewMetadata 以当前时间构造元数据。
func NewMetadata(datasetPath string, sizeMB uint64, now time.Time) Metadata {
	return Metadata{
		DownloadedAtSecs: unixSecs(now),
		DatasetPath:      datasetPath,
		SizeMB:           sizeMB,
	}
}

// WithVersion 返回设置了版本号的副本，空字符串表示未知。
func (m Metadata) WithVersion(version string) Metadata {
	if version == "" {
		m.Version = nil
		return m
	}
	m.Version = &version
	return m
}

// VersionString 返回记录的版本号，未知时为空字符串。
func (m Metadata) VersionString() string {
	if m.Version == nil {
		return ""
	}
	return *m.Version
}

// DownloadedAt 返回下载时间。
func (m Metadata) DownloadedAt() time.Time {
	return time.Unix(int64(m.DownloadedAtSecs), 0).UTC()
}

// ReadMetadata 读取 dir 下的标记。标记不存在时返回 (零值, false, nil)；标记为空或无法解析时
// 根据目录内容合成元数据：大小取递归目录大小，dataset_path 取 owner/目录名，
// 下载时间取标记文件的修改时间，版本未知。
func ReadMetadata(dir string) (Metadata, bool, error) {
	marker := MarkerPath(dir)
	info, err := os.Stat(marker)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, false, nil
		}
		return Metadata{}, false, apperr.Wrap(apperr.KindIO, err, "stat marker")
	}

	raw, err := os.ReadFile(marker)
	if err != nil {
		return Metadata{}, false, apperr.Wrap(apperr.KindIO, err, "read marker")
	}

	var meta Metadata
	if len(raw) > 0 && json.Unmarshal(raw, &meta) == nil {
		if meta.ArchiveDigest != "" && meta.ArchiveDigest.Validate() != nil {
			meta.ArchiveDigest = ""
		}
		return meta, true, nil
	}

	size, err := DirSize(dir)
	if err != nil {
		return Metadata{}, false, err
	}
	owner := filepath.Base(filepath.Dir(dir))
	return NewMetadata(owner+"/"+filepath.Base(dir), BytesToMB(size), info.ModTime()), true, nil
}

// WriteMetadata 原子地写入标记：先写同目录临时文件，再 rename 覆盖。
func (s *Store) WriteMetadata(dir string, meta Metadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, err, "encode marker")
	}

	unlock := s.lockEntry(dir)
	defer unlock()

	tempFile, err := os.CreateTemp(dir, ".marker-*")
	if err != nil {
		return apperr.Wrap(apperr.KindIO, err, "create marker temp file")
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(payload)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return apperr.Wrap(apperr.KindIO, err, "write marker")
	}
	if err := os.Rename(tempName, MarkerPath(dir)); err != nil {
		os.Remove(tempName)
		return apperr.Wrap(apperr.KindIO, err, "rename marker")
	}
	return nil
}

func unixSecs(t time.Time) uint64 {
	secs := t.Unix()
	if secs < 0 {
		return 0
	}
	return uint64(secs)
}
