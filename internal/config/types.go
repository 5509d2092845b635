package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// SizeLimit 表示缓存容量上限，可写作整数 MB 或 "unlimited"。
type SizeLimit struct {
	MB        uint64
	Unlimited bool
}

// UnmarshalText 解析 "unlimited" 或非负整数 MB。
func (s *SizeLimit) UnmarshalText(text []byte) error {
	parsed, err := parseSizeLimit(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s SizeLimit) String() string {
	if s.Unlimited {
		return "unlimited"
	}
	return strconv.FormatUint(s.MB, 10)
}

func parseSizeLimit(raw string) (SizeLimit, error) {
	value := strings.TrimSpace(raw)
	if strings.EqualFold(value, "unlimited") {
		return SizeLimit{Unlimited: true}, nil
	}
	mb, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return SizeLimit{}, fmt.Errorf("invalid cache size limit: %s", raw)
	}
	return SizeLimit{MB: mb}, nil
}

// 缓存上限模式。
const (
	LimitModeSoft = "soft"
	LimitModeHard = "hard"
)

// Config 描述引擎运行时行为，来源依次为默认值、配置文件与 BUNDLEHUB_* 环境变量。
type Config struct {
	CacheDir            string    `mapstructure:"CacheDir"`
	HTTPTimeout         Duration  `mapstructure:"HTTPTimeout"`
	RetryAttempts       int       `mapstructure:"RetryAttempts"`
	RetryDelay          Duration  `mapstructure:"RetryDelay"`
	RetryMaxDelay       Duration  `mapstructure:"RetryMaxDelay"`
	DownloadWaitPoll    Duration  `mapstructure:"DownloadWaitPoll"`
	DownloadWaitTimeout Duration  `mapstructure:"DownloadWaitTimeout"`
	CacheSizeLimit      SizeLimit `mapstructure:"CacheSizeLimit"`
	CacheLimitMode      string    `mapstructure:"CacheLimitMode"`
	Offline             bool      `mapstructure:"Offline"`
	StrictOnDemand      bool      `mapstructure:"StrictOnDemand"`
	APIBase             string    `mapstructure:"APIBase"`
	MetadataTTL         Duration  `mapstructure:"MetadataTTL"`
	APIMinInterval      Duration  `mapstructure:"APIMinInterval"`
	Username            string    `mapstructure:"Username"`
	Key                 string    `mapstructure:"Key"`
	CredentialsFile     string    `mapstructure:"CredentialsFile"`
	LogLevel            string    `mapstructure:"LogLevel"`
	LogFilePath         string    `mapstructure:"LogFilePath"`
	LogMaxSize          int       `mapstructure:"LogMaxSize"`
	LogMaxBackups       int       `mapstructure:"LogMaxBackups"`
	LogCompress         bool      `mapstructure:"LogCompress"`
	MetricsTextfile     string    `mapstructure:"MetricsTextfile"`
}

// HardLimit 表示超出容量时是否必须淘汰成功。
func (c *Config) HardLimit() bool {
	return c.CacheLimitMode == LimitModeHard
}

// HasCredentials 表示是否通过配置直接提供了完整凭证。
func (c *Config) HasCredentials() bool {
	return c.Username != "" && c.Key != ""
}

// AuthMode 输出 `configured` 或 `file`，供日志字段使用。
func (c *Config) AuthMode() string {
	if c.HasCredentials() {
		return "configured"
	}
	return "file"
}
