package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultAPIBase 是远端服务的默认 API 地址。
const DefaultAPIBase = "https://www.kaggle.com/api/v1"

// envBindings 将配置键映射到环境变量名。
var envBindings = map[string]string{
	"CacheDir":            "BUNDLEHUB_CACHE_DIR",
	"HTTPTimeout":         "BUNDLEHUB_HTTP_TIMEOUT",
	"RetryAttempts":       "BUNDLEHUB_HTTP_RETRY_ATTEMPTS",
	"RetryDelay":          "BUNDLEHUB_HTTP_RETRY_DELAY",
	"RetryMaxDelay":       "BUNDLEHUB_HTTP_RETRY_MAX_DELAY",
	"DownloadWaitPoll":    "BUNDLEHUB_DOWNLOAD_WAIT_POLL",
	"DownloadWaitTimeout": "BUNDLEHUB_DOWNLOAD_WAIT_TIMEOUT",
	"CacheSizeLimit":      "BUNDLEHUB_CACHE_SIZE_LIMIT_MB",
	"CacheLimitMode":      "BUNDLEHUB_CACHE_LIMIT_MODE",
	"Offline":             "BUNDLEHUB_OFFLINE",
	"StrictOnDemand":      "BUNDLEHUB_STRICT_ONDEMAND",
	"APIBase":             "BUNDLEHUB_API_BASE",
	"MetadataTTL":         "BUNDLEHUB_METADATA_TTL",
	"APIMinInterval":      "BUNDLEHUB_API_MIN_INTERVAL",
	"Username":            "BUNDLEHUB_USERNAME",
	"Key":                 "BUNDLEHUB_KEY",
	"CredentialsFile":     "BUNDLEHUB_CREDENTIALS_FILE",
	"LogLevel":            "BUNDLEHUB_LOG_LEVEL",
	"LogFilePath":         "BUNDLEHUB_LOG_FILE",
	"LogMaxSize":          "BUNDLEHUB_LOG_MAX_SIZE",
	"LogMaxBackups":       "BUNDLEHUB_LOG_MAX_BACKUPS",
	"LogCompress":         "BUNDLEHUB_LOG_COMPRESS",
	"MetricsTextfile":     "BUNDLEHUB_METRICS_TEXTFILE",
}

// EnvName 返回配置键对应的环境变量名，未知键返回空字符串。
func EnvName(key string) string {
	return envBindings[key]
}

// Load 依次合并默认值、可选的配置文件（TOML/YAML/JSON）与环境变量，并完成校验。
// path 为空时仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), sizeLimitDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absCache, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.CacheDir = absCache

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("CacheDir", defaultCacheDir())
	v.SetDefault("HTTPTimeout", "30s")
	v.SetDefault("RetryAttempts", 3)
	v.SetDefault("RetryDelay", "1s")
	v.SetDefault("RetryMaxDelay", "30s")
	v.SetDefault("DownloadWaitPoll", "100ms")
	v.SetDefault("DownloadWaitTimeout", "30s")
	v.SetDefault("CacheSizeLimit", "102400")
	v.SetDefault("CacheLimitMode", LimitModeSoft)
	v.SetDefault("Offline", false)
	v.SetDefault("StrictOnDemand", false)
	v.SetDefault("APIBase", DefaultAPIBase)
	v.SetDefault("MetadataTTL", "600s")
	v.SetDefault("APIMinInterval", "0s")
	v.SetDefault("CredentialsFile", defaultCredentialsFile())
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("MetricsTextfile", "")
}

func applyDefaults(c *Config) {
	c.CacheDir = strings.TrimSpace(c.CacheDir)
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir()
	}
	if c.HTTPTimeout.DurationValue() == 0 {
		c.HTTPTimeout = Duration(30 * time.Second)
	}
	c.APIBase = strings.TrimRight(strings.TrimSpace(c.APIBase), "/")
	if c.APIBase == "" {
		c.APIBase = DefaultAPIBase
	}
	c.CacheLimitMode = strings.ToLower(strings.TrimSpace(c.CacheLimitMode))
	if c.CacheLimitMode == "" {
		c.CacheLimitMode = LimitModeSoft
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "bundlehub_cache")
	}
	return "./bundlehub_cache"
}

func defaultCredentialsFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".bundlehub", "credentials.json")
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			v = strings.TrimSpace(v)
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

func sizeLimitDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(SizeLimit{})

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return parseSizeLimit(v)
		case int:
			if v < 0 {
				return nil, fmt.Errorf("缓存上限不能为负数: %d", v)
			}
			return SizeLimit{MB: uint64(v)}, nil
		case int64:
			if v < 0 {
				return nil, fmt.Errorf("缓存上限不能为负数: %d", v)
			}
			return SizeLimit{MB: uint64(v)}, nil
		case float64:
			if v < 0 {
				return nil, fmt.Errorf("缓存上限不能为负数: %v", v)
			}
			return SizeLimit{MB: uint64(v)}, nil
		case SizeLimit:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的缓存上限类型: %T", v)
		}
	}
}
