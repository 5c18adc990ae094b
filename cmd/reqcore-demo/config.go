package main

import (
	"fmt"
	"os"
	"time"

	"github.com/msavchenko/reqcore/pkg/reqcore"
	"gopkg.in/yaml.v3"
)

// demoConfigFile is the on-disk shape for --config: a small subset of
// GlobalConfig worth hand-editing for a manual run (baseURL, timeout,
// retry policy, static headers). Anything absent falls back to
// reqcore.DefaultGlobalConfig()'s values.
type demoConfigFile struct {
	BaseURL string            `yaml:"baseURL"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
	Retry   *struct {
		MaxRetries int           `yaml:"maxRetries"`
		BaseDelay  time.Duration `yaml:"baseDelay"`
		MaxDelay   time.Duration `yaml:"maxDelay"`
		Multiplier float64       `yaml:"multiplier"`
		Jitter     float64       `yaml:"jitter"`
	} `yaml:"retry"`
}

// loadGlobalConfig reads path (if non-empty) and overlays it onto
// reqcore.DefaultGlobalConfig(). A missing --config flag is not an
// error; it just means "use the defaults".
func loadGlobalConfig(path string) (*reqcore.GlobalConfig, error) {
	global := reqcore.DefaultGlobalConfig()
	global.Retry = reqcore.DefaultRetryOptions()
	if path == "" {
		return global, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var file demoConfigFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if file.BaseURL != "" {
		global.BaseURL = file.BaseURL
	}
	if file.Timeout > 0 {
		global.Timeout = file.Timeout
	}
	for k, v := range file.Headers {
		global.Headers[k] = v
	}
	if file.Retry != nil {
		global.Retry = &reqcore.RetryOptions{
			MaxRetries: file.Retry.MaxRetries,
			BaseDelay:  file.Retry.BaseDelay,
			MaxDelay:   file.Retry.MaxDelay,
			Multiplier: file.Retry.Multiplier,
			Jitter:     file.Retry.Jitter,
		}
	}
	return global, nil
}
