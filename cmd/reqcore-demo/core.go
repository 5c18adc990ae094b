package main

import (
	"time"

	"github.com/msavchenko/reqcore/internal/telemetry"
	"github.com/msavchenko/reqcore/pkg/reqcore"
	"github.com/msavchenko/reqcore/pkg/reqcore/transport/httptransport"
)

// buildCore wires a RequestCore over the reference http transport, with
// the demo's logger and metrics attached and a baseURL-scoped
// GlobalConfig, optionally overlaid from --config.
func buildCore(base string) *reqcore.RequestCore {
	logger := telemetry.NewLogger(telemetry.LoggerConfig{Level: "info", Format: "text", Output: "stderr"})
	metrics := telemetry.NewMetrics()

	transport := httptransport.New(httptransport.DefaultConfig())

	global, err := loadGlobalConfig(configPath)
	if err != nil {
		logger.Error("loading --config, falling back to defaults", "error", err)
		global = reqcore.DefaultGlobalConfig()
		global.Retry = reqcore.DefaultRetryOptions()
	}
	global.BaseURL = base
	if global.Timeout == 0 {
		global.Timeout = 5 * time.Second
	}

	return reqcore.NewRequestCore(
		transport,
		reqcore.WithGlobalConfig(global),
		reqcore.WithCoreLogger(logger),
		reqcore.WithExecutorMetrics(metrics),
		reqcore.WithRetryMetrics(metrics),
		reqcore.WithCacheMetrics(metrics),
	)
}

// resolveBaseURL returns explicit when non-empty, otherwise starts the
// in-process demo server and returns its URL plus a cleanup func.
func resolveBaseURL(explicit string) (string, func()) {
	if explicit != "" {
		return explicit, func() {}
	}
	return newDemoTestServer()
}
