package remote

import (
	"encoding/json"
	"strconv"
)

// FallbackVersion 是元数据中找不到版本信息时使用的版本号。
const FallbackVersion = "1"

type versionFields struct {
	CurrentVersionNumber json.RawMessage `json:"currentVersionNumber"`
	Versions             []struct {
		VersionNumber json.RawMessage `json:"versionNumber"`
	} `json:"versions"`
}

// ParseCurrentVersion 依次读取 currentVersionNumber（整数或字符串）与 versions[0].versionNumber，
// 都不可用时返回 "1"。
func ParseCurrentVersion(raw json.RawMessage) string {
	var fields versionFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return FallbackVersion
	}

	if v, ok := integerField(fields.CurrentVersionNumber); ok {
		return v
	}
	var s string
	if present(fields.CurrentVersionNumber) && json.Unmarshal(fields.CurrentVersionNumber, &s) == nil && s != "" {
		return s
	}

	if len(fields.Versions) > 0 {
		if v, ok := integerField(fields.Versions[0].VersionNumber); ok {
			return v
		}
	}
	return FallbackVersion
}

func integerField(raw json.RawMessage) (string, bool) {
	if !present(raw) {
		return "", false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	return strconv.FormatInt(n, 10), true
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
