package api

import (
	"os"
	"strings"
)

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status   string            `json:"status"`
	Service  string            `json:"service"`
	Breakers map[string]string `json:"breakers,omitempty"`
}

// ReadinessResponse 就绪检查响应
type ReadinessResponse struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Database string `json:"database,omitempty"`
	Redis    string `json:"redis,omitempty"`
}

// --- 环境变量辅助函数 ---

// getEnvList 读取逗号分隔的环境变量列表
func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func stringInSlice(s string, list []string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func defaultIfEmpty(list, fallback []string) []string {
	if len(list) == 0 {
		return fallback
	}
	return list
}
