package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// BundleFields 提供 bundle 引用、操作与缓存命中字段，供引擎日志复用。
func BundleFields(action, bundle string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"action":    action,
		"bundle":    bundle,
		"cache_hit": cacheHit,
	}
}

// EngineFields 汇总引擎启动时的关键配置，便于排查离线/限额等行为。
func EngineFields(cacheDir, apiBase, limit, limitMode, authMode string, offline, strict bool) logrus.Fields {
	return logrus.Fields{
		"cache_dir":  cacheDir,
		"api_base":   apiBase,
		"limit_mb":   limit,
		"limit_mode": limitMode,
		"auth_mode":  authMode,
		"offline":    offline,
		"strict":     strict,
	}
}
