package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate 针对语义级别做进一步校验，防止非法配置进入引擎。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if c.CacheDir == "" {
		return newFieldError("CacheDir", "不能为空")
	}
	if c.HTTPTimeout.DurationValue() <= 0 {
		return newFieldError("HTTPTimeout", "必须大于 0")
	}
	if c.RetryAttempts < 0 {
		return newFieldError("RetryAttempts", "不能为负数")
	}
	if c.RetryDelay.DurationValue() < 0 {
		return newFieldError("RetryDelay", "不能为负数")
	}
	if c.RetryMaxDelay.DurationValue() < c.RetryDelay.DurationValue() {
		return newFieldError("RetryMaxDelay", "不能小于 RetryDelay")
	}
	if c.DownloadWaitPoll.DurationValue() < 0 {
		return newFieldError("DownloadWaitPoll", "不能为负数")
	}
	if c.DownloadWaitTimeout.DurationValue() < 0 {
		return newFieldError("DownloadWaitTimeout", "不能为负数")
	}
	switch c.CacheLimitMode {
	case LimitModeSoft, LimitModeHard:
	default:
		return newFieldError("CacheLimitMode", "仅支持 soft/hard")
	}
	if err := validateAPIBase(c.APIBase); err != nil {
		return fmt.Errorf("APIBase: %w", err)
	}
	if c.MetadataTTL.DurationValue() < 0 {
		return newFieldError("MetadataTTL", "不能为负数")
	}
	if c.APIMinInterval.DurationValue() < 0 {
		return newFieldError("APIMinInterval", "不能为负数")
	}
	if (c.Username == "") != (c.Key == "") {
		return newFieldError("Username/Key", "必须同时提供或同时留空")
	}
	if c.LogMaxSize < 0 {
		return newFieldError("LogMaxSize", "不能为负数")
	}
	if c.LogMaxBackups < 0 {
		return newFieldError("LogMaxBackups", "不能为负数")
	}
	return nil
}

func validateAPIBase(raw string) error {
	if raw == "" {
		return errors.New("缺少 API 地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
