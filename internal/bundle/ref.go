// Package bundle parses and validates "owner/name[@vN]" references and the
// member file names requested from a bundle. Validation happens before any
// network or filesystem work so malformed input never reaches the cache.
package bundle

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/any-hub/bundlehub/internal/apperr"
)

// MaxRefLength 限制引用字符串长度，防止异常输入占用资源。
const MaxRefLength = 4096

// Ref 唯一定位一个远端 bundle，Version 为空表示 latest。
type Ref struct {
	Owner   string
	Name    string
	Version string
}

// Parse 解析 owner/name、owner/name@vN、owner/name@N 或 owner/name@latest。
func Parse(raw string) (Ref, error) {
	parts := strings.Split(raw, "@")
	if len(parts) > 2 {
		return Ref{}, apperr.New(apperr.KindInvalidReference, "reference can only contain one @ for version specification")
	}

	owner, name, err := parseBase(parts[0])
	if err != nil {
		return Ref{}, err
	}

	ref := Ref{Owner: owner, Name: name}
	if len(parts) == 2 {
		version, err := parseVersion(parts[1])
		if err != nil {
			return Ref{}, err
		}
		ref.Version = version
	}
	return ref, nil
}

// ParseBase 仅解析 owner/name，不接受版本后缀。
func ParseBase(raw string) (Ref, error) {
	owner, name, err := parseBase(raw)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Owner: owner, Name: name}, nil
}

func parseBase(raw string) (string, string, error) {
	if len(raw) > MaxRefLength {
		return "", "", apperr.New(apperr.KindInvalidReference, "reference exceeds maximum length of %d characters", MaxRefLength)
	}

	trimmed := strings.TrimSpace(raw)
	segments := strings.Split(trimmed, "/")
	if len(segments) != 2 {
		return "", "", apperr.New(apperr.KindInvalidReference, "reference must be in format 'owner/name', got: %s", raw)
	}

	owner := strings.TrimSpace(segments[0])
	name := strings.TrimSpace(segments[1])
	if owner == "" || name == "" {
		return "", "", apperr.New(apperr.KindInvalidReference, "reference cannot have empty owner or name, got: %s", raw)
	}
	if isDotSegment(owner) || isDotSegment(name) {
		return "", "", apperr.New(apperr.KindInvalidReference, "reference contains invalid traversal segments: %s", raw)
	}
	if hasControl(owner) || hasControl(name) {
		return "", "", apperr.New(apperr.KindInvalidReference, "reference contains control characters: %q", raw)
	}
	return owner, name, nil
}

func parseVersion(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" || v == "latest" {
		return "", nil
	}
	digits := strings.TrimPrefix(v, "v")
	n, err := strconv.ParseUint(digits, 10, 32)
	if err != nil || n == 0 {
		return "", apperr.New(apperr.KindInvalidReference, "invalid version number '%s'; version must be a positive integer > 0", v)
	}
	return strconv.FormatUint(n, 10), nil
}

func isDotSegment(s string) bool {
	return s == "." || s == ".."
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

// Pinned 表示是否固定了版本。
func (r Ref) Pinned() bool {
	return r.Version != ""
}

// Latest 返回去掉版本固定后的引用。
func (r Ref) Latest() Ref {
	return Ref{Owner: r.Owner, Name: r.Name}
}

// Base 返回不带版本的 owner/name，写入 marker 的 dataset_path 字段。
func (r Ref) Base() string {
	return r.Owner + "/" + r.Name
}

func (r Ref) String() string {
	if r.Pinned() {
		return fmt.Sprintf("%s@v%s", r.Base(), r.Version)
	}
	return r.Base()
}

// CacheSubdir 返回条目目录名：name 或 name-vN。
func (r Ref) CacheSubdir() string {
	if r.Pinned() {
		return r.Name + "-v" + r.Version
	}
	return r.Name
}

// Key 是下载锁使用的键：owner/name 或 owner/name-vN。
func (r Ref) Key() string {
	return r.Owner + "/" + r.CacheSubdir()
}

// ValidateFilename 校验 bundle 内成员路径：必须为相对路径、不包含 .. 或根组件，
// 且不能指向 bundle 根目录本身（如 "." 或 "./"）。
func ValidateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.New(apperr.KindInvalidReference, "filename must not be empty")
	}
	if strings.ContainsRune(name, 0) {
		return apperr.New(apperr.KindInvalidReference, "filename must not contain NUL bytes")
	}
	native := filepath.FromSlash(name)
	if filepath.IsAbs(native) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) || filepath.VolumeName(native) != "" {
		return apperr.New(apperr.KindInvalidReference, "absolute filenames are not allowed: %s", name)
	}
	segments := strings.FieldsFunc(name, isSeparator)
	named := false
	for _, segment := range segments {
		switch segment {
		case "..":
			return apperr.New(apperr.KindInvalidReference, "filename must not contain parent or root components: %s", name)
		case ".":
		default:
			named = true
		}
	}
	if !named {
		return apperr.New(apperr.KindInvalidReference, "filename must name a file inside the bundle: %s", name)
	}
	return nil
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}
