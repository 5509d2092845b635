// Package credentials resolves the (user, secret) pair used for basic auth
// against the remote bundle service. Values come from explicit
// configuration first and a JSON credentials file second; the resolved pair
// is cached for the lifetime of the Cache so repeated downloads do not
// re-read the file.
package credentials

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/apperr"
)

// Credentials 是访问远端服务的 basic auth 凭证。
type Credentials struct {
	Username string
	Key      string
}

// Provider 为下载流程提供凭证。
type Provider interface {
	Credentials() (Credentials, error)
}

// Static 总是返回固定凭证，常用于测试或显式注入。
type Static Credentials

// Credentials 实现 Provider。
func (s Static) Credentials() (Credentials, error) {
	if s.Username == "" || s.Key == "" {
		return Credentials{}, apperr.New(apperr.KindCredentials, "username and key are both required")
	}
	return Credentials(s), nil
}

// Loader 依次尝试显式配置与凭证文件。
type Loader struct {
	Username string
	Key      string
	// File 指向 {"username": "...", "key": "..."} 格式的 JSON 文件。
	File   string
	Logger *logrus.Logger
}

type fileCredentials struct {
	Username *string `json:"username"`
	Key      *string `json:"key"`
}

// Load 解析凭证；两处均不可用时返回 Credentials 类错误。
func (l Loader) Load() (Credentials, error) {
	if l.Username != "" && l.Key != "" {
		return Credentials{Username: l.Username, Key: l.Key}, nil
	}
	if l.File == "" {
		return Credentials{}, notFound()
	}

	info, err := os.Stat(l.File)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, notFound()
		}
		return Credentials{}, apperr.Wrap(apperr.KindCredentials, err, "cannot read credentials file metadata")
	}
	if info.Mode().Perm()&0o077 != 0 {
		l.logger().WithFields(logrus.Fields{
			"action": "credentials",
			"file":   l.File,
			"mode":   info.Mode().Perm().String(),
		}).Warn("credentials_file_permissive")
	}

	raw, err := os.ReadFile(l.File)
	if err != nil {
		return Credentials{}, apperr.Wrap(apperr.KindCredentials, err, "cannot read credentials file")
	}
	var parsed fileCredentials
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Credentials{}, apperr.Wrap(apperr.KindCredentials, err, "invalid JSON in credentials file")
	}
	if parsed.Username == nil {
		return Credentials{}, apperr.New(apperr.KindCredentials, "missing username in credentials file")
	}
	if parsed.Key == nil {
		return Credentials{}, apperr.New(apperr.KindCredentials, "missing key in credentials file")
	}
	return Credentials{Username: *parsed.Username, Key: *parsed.Key}, nil
}

func (l Loader) logger() *logrus.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard
}

func notFound() error {
	return apperr.New(apperr.KindCredentials,
		"no credentials found; set BUNDLEHUB_USERNAME and BUNDLEHUB_KEY or create the credentials file")
}

// Cache 在首次成功解析后缓存凭证，后续调用只取读锁。
type Cache struct {
	load func() (Credentials, error)

	mu    sync.RWMutex
	creds *Credentials
}

// NewCache 以 load 作为首次解析来源。
func NewCache(load func() (Credentials, error)) *Cache {
	return &Cache{load: load}
}

// Credentials 实现 Provider；解析失败不会被缓存。
func (c *Cache) Credentials() (Credentials, error) {
	c.mu.RLock()
	if c.creds != nil {
		creds := *c.creds
		c.mu.RUnlock()
		return creds, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds != nil {
		return *c.creds, nil
	}
	creds, err := c.load()
	if err != nil {
		return Credentials{}, err
	}
	c.creds = &creds
	return creds, nil
}

// Set 显式覆盖缓存的凭证。
func (c *Cache) Set(username, key string) {
	c.mu.Lock()
	c.creds = &Credentials{Username: username, Key: key}
	c.mu.Unlock()
}
