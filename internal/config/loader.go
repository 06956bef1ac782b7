// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the service configuration. Precedence is
// environment over YAML file over built-in defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader resolves an AppConfig from defaults, an optional file and the environment.
type Loader struct {
	path string

	mu       sync.Mutex
	consumed map[string]struct{}
}

// NewLoader creates a loader. An empty path means environment only.
func NewLoader(path string) *Loader {
	return &Loader{path: path, consumed: map[string]struct{}{}}
}

// Path returns the configuration file path, or "".
func (l *Loader) Path() string { return l.path }

// Load builds and validates the configuration.
func (l *Loader) Load() (AppConfig, error) {
	cfg, err := l.load()
	if err != nil {
		return AppConfig{}, err
	}
	if err := Validate(cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (l *Loader) load() (AppConfig, error) {
	cfg := Defaults()
	if l.path != "" {
		if err := loadFile(l.path, &cfg); err != nil {
			return AppConfig{}, err
		}
	}
	l.mergeEnv(&cfg)
	return cfg, nil
}

// ConsumedEnvKeys lists the environment variables that were set and applied
// by the last Load.
func (l *Loader) ConsumedEnvKeys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.consumed))
	for k := range l.consumed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// loadFile strictly decodes a single YAML document over cfg. Unknown keys
// are errors.
func loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: multiple YAML documents are not supported", path)
	}
	return nil
}

func (l *Loader) mark(key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		l.mu.Lock()
		l.consumed[key] = struct{}{}
		l.mu.Unlock()
	}
}

func (l *Loader) envString(key, cur string) string {
	l.mark(key)
	return ParseString(key, cur)
}

func (l *Loader) envInt(key string, cur int) int {
	l.mark(key)
	return ParseInt(key, cur)
}

func (l *Loader) envFloat(key string, cur float64) float64 {
	l.mark(key)
	return ParseFloat(key, cur)
}

func (l *Loader) envDuration(key string, cur time.Duration) time.Duration {
	l.mark(key)
	return ParseDuration(key, cur)
}

func (l *Loader) envBool(key string, cur bool) bool {
	l.mark(key)
	return ParseBool(key, cur)
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	l.mu.Lock()
	l.consumed = map[string]struct{}{}
	l.mu.Unlock()

	v := &cfg.Vonage
	v.AppID = l.envString("APP_ID", v.AppID)
	v.PrivateKeyPath = l.envString("PRIVATE_KEY_PATH", v.PrivateKeyPath)
	v.APIRegion = strings.TrimPrefix(l.envString("API_REGION", v.APIRegion), "https://")
	v.Timeout = l.envDuration("BRIDGE_VONAGE_TIMEOUT", v.Timeout)
	v.RequestsPerSecond = l.envFloat("BRIDGE_RATE_LIMIT_RPS", v.RequestsPerSecond)
	v.Burst = l.envInt("BRIDGE_RATE_LIMIT_BURST", v.Burst)
	v.BreakerThreshold = l.envInt("BRIDGE_BREAKER_THRESHOLD", v.BreakerThreshold)
	v.BreakerReset = l.envDuration("BRIDGE_BREAKER_RESET", v.BreakerReset)

	b := &cfg.Bridge
	b.ServiceNumber = l.envString("SERVICE_PHONE_NUMBER", b.ServiceNumber)
	b.ProcessorServer = l.envString("PROCESSOR_SERVER", b.ProcessorServer)
	b.PublicBaseURL = l.envString("BRIDGE_PUBLIC_BASE_URL", b.PublicBaseURL)
	b.EvictionGrace = l.envDuration("BRIDGE_EVICTION_GRACE", b.EvictionGrace)
	b.EffectTimeout = l.envDuration("BRIDGE_EFFECT_TIMEOUT", b.EffectTimeout)

	l.mergeDefaultsEnv(&cfg.Defaults)

	s := &cfg.Server
	// VCR_PORT wins over PORT
	if port := l.envString("PORT", ""); port != "" {
		s.ListenAddr = ":" + port
	}
	if port := l.envString("VCR_PORT", ""); port != "" {
		s.ListenAddr = ":" + port
	}
	s.ListenAddr = l.envString("BRIDGE_LISTEN_ADDR", s.ListenAddr)
	s.MetricsAddr = l.envString("BRIDGE_METRICS_ADDR", s.MetricsAddr)
	s.ShutdownTimeout = l.envDuration("BRIDGE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.StartRateLimit = l.envInt("BRIDGE_START_RATE_LIMIT", s.StartRateLimit)
	s.Debug = l.envBool("BRIDGE_DEBUG", s.Debug)

	st := &cfg.Store
	st.Backend = strings.ToLower(l.envString("BRIDGE_STORE_BACKEND", st.Backend))
	st.Path = l.envString("BRIDGE_STORE_PATH", st.Path)
	st.RedisAddr = l.envString("BRIDGE_REDIS_ADDR", st.RedisAddr)
	st.RedisPassword = l.envString("BRIDGE_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = l.envInt("BRIDGE_REDIS_DB", st.RedisDB)
	st.TTL = l.envDuration("BRIDGE_STORE_TTL", st.TTL)

	lg := &cfg.Log
	lg.Level = l.envString("LOG_LEVEL", lg.Level)
	lg.File = l.envString("LOG_FILE", lg.File)

	t := &cfg.Telemetry
	t.Enabled = l.envBool("OTEL_ENABLED", t.Enabled)
	t.Exporter = l.envString("OTEL_EXPORTER_TYPE", t.Exporter)
	t.Endpoint = l.envString("OTEL_EXPORTER_OTLP_ENDPOINT", t.Endpoint)
	t.ServiceName = l.envString("OTEL_SERVICE_NAME", t.ServiceName)
	t.Environment = l.envString("OTEL_ENVIRONMENT", t.Environment)
	t.SampleRatio = l.envFloat("OTEL_TRACES_SAMPLER_ARG", t.SampleRatio)
}

func (l *Loader) mergeDefaultsEnv(d *CallDefaults) {
	d.PSTN1 = l.envString("PSTN_NUMBER_1", d.PSTN1)
	d.PSTN2 = l.envString("PSTN_NUMBER_2", d.PSTN2)
	d.Param1 = l.envString("CUSTOM_PARAM_1", d.Param1)
	d.Param2 = l.envString("CUSTOM_PARAM_2", d.Param2)
}
