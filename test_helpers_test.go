package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/any-hub/bundlehub/internal/config"
)

var repoRoot string

func init() {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return
	}
	dir := filepath.Dir(file)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			repoRoot = dir
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func projectRoot(t *testing.T) string {
	t.Helper()
	if repoRoot == "" {
		t.Fatal("无法定位项目根目录")
	}
	return repoRoot
}

func configFixture(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(projectRoot(t), "internal", "config", "testdata", name)
}

// isolateEnv 屏蔽宿主环境中的 BUNDLEHUB_* 变量，并把缓存与凭证指向临时目录。返回缓存目录。
func isolateEnv(t *testing.T) string {
	t.Helper()
	t.Setenv(configEnv, "")
	for _, key := range []string{
		"HTTPTimeout", "RetryAttempts", "RetryDelay", "RetryMaxDelay",
		"DownloadWaitPoll", "DownloadWaitTimeout", "CacheSizeLimit", "CacheLimitMode",
		"Offline", "StrictOnDemand", "APIBase", "MetadataTTL", "APIMinInterval",
		"Username", "Key", "LogLevel", "LogFilePath", "MetricsTextfile",
	} {
		t.Setenv(config.EnvName(key), "")
	}

	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	t.Setenv(config.EnvName("CacheDir"), cacheDir)
	t.Setenv(config.EnvName("CredentialsFile"), filepath.Join(dir, "credentials.json"))
	t.Setenv(config.EnvName("RetryDelay"), "1ms")
	t.Setenv(config.EnvName("RetryMaxDelay"), "1ms")
	return cacheDir
}

// cliOutput 收集一次命令执行写往 stdout 与 stderr 的内容。
type cliOutput struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
}

// captureOutput 在测试期间把 CLI 输出重定向到内存。
func captureOutput(t *testing.T) *cliOutput {
	t.Helper()
	out := &cliOutput{}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = &out.stdout, &out.stderr
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return out
}
