package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// 🗺️ 观测路由
// =============================================================================

// BuildInfo 构建信息（由构建时注入的变量填充）
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
}

// NewMux 组装观测服务路由：健康检查、版本、Prometheus 指标与事件流。
// hub 为 nil 时不注册 /ws。
func NewMux(build BuildInfo, health *HealthHandler, hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", health.HandleHealth)
	mux.HandleFunc("/healthz", health.HandleHealth)
	mux.HandleFunc("/ready", health.HandleReady)
	mux.HandleFunc("/readyz", health.HandleReady)
	mux.HandleFunc("/version", health.HandleVersion(build.Version, build.BuildTime, build.GitCommit))

	mux.Handle("/metrics", promhttp.Handler())

	if hub != nil {
		mux.Handle("/ws", hub)
	}

	return mux
}
