// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// FieldError names the setting that failed and how.
type FieldError struct {
	Field  string
	EnvKey string
	Reason string
}

func (e *FieldError) Error() string {
	if e.EnvKey != "" {
		return fmt.Sprintf("%s (%s): %s", e.Field, e.EnvKey, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validate reports every problem at once, not just the first.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(field, env, reason string) {
		errs = append(errs, &FieldError{Field: field, EnvKey: env, Reason: reason})
	}

	if cfg.Vonage.AppID == "" {
		add("vonage.appId", "APP_ID", "is required")
	}
	if cfg.Vonage.PrivateKeyPath == "" {
		add("vonage.privateKeyPath", "PRIVATE_KEY_PATH", "is required")
	}
	if cfg.Vonage.APIRegion == "" {
		add("vonage.apiRegion", "API_REGION", "is required")
	}
	if cfg.Vonage.RequestsPerSecond < 0 {
		add("vonage.requestsPerSecond", "BRIDGE_RATE_LIMIT_RPS", "must not be negative")
	}
	if cfg.Vonage.Timeout <= 0 {
		add("vonage.timeout", "BRIDGE_VONAGE_TIMEOUT", "must be positive")
	}

	if cfg.Bridge.ServiceNumber == "" {
		add("bridge.serviceNumber", "SERVICE_PHONE_NUMBER", "is required")
	}
	if cfg.Bridge.ProcessorServer == "" {
		add("bridge.processorServer", "PROCESSOR_SERVER", "is required")
	} else if strings.Contains(cfg.Bridge.ProcessorServer, "://") {
		add("bridge.processorServer", "PROCESSOR_SERVER", "must be a host without scheme")
	}
	if cfg.Bridge.PublicBaseURL == "" {
		add("bridge.publicBaseUrl", "BRIDGE_PUBLIC_BASE_URL", "is required")
	} else if err := validateBaseURL(cfg.Bridge.PublicBaseURL); err != nil {
		add("bridge.publicBaseUrl", "BRIDGE_PUBLIC_BASE_URL", err.Error())
	}
	if cfg.Bridge.EvictionGrace <= 0 {
		add("bridge.evictionGrace", "BRIDGE_EVICTION_GRACE", "must be positive")
	}

	if cfg.Server.ListenAddr == "" {
		add("server.listenAddr", "BRIDGE_LISTEN_ADDR", "is required")
	}
	if cfg.Server.StartRateLimit < 0 {
		add("server.startRateLimit", "BRIDGE_START_RATE_LIMIT", "must not be negative")
	}

	switch cfg.Store.Backend {
	case "", "memory":
	case "redis":
		if cfg.Store.RedisAddr == "" {
			add("store.redisAddr", "BRIDGE_REDIS_ADDR", "is required for the redis backend")
		}
	case "badger", "sqlite":
		if cfg.Store.Path == "" {
			add("store.path", "BRIDGE_STORE_PATH", "is required for the "+cfg.Store.Backend+" backend")
		}
	default:
		add("store.backend", "BRIDGE_STORE_BACKEND", fmt.Sprintf("unknown backend %q", cfg.Store.Backend))
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Exporter {
		case "grpc", "http":
		default:
			add("telemetry.exporter", "OTEL_EXPORTER_TYPE", fmt.Sprintf("unsupported exporter %q", cfg.Telemetry.Exporter))
		}
		if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
			add("telemetry.sampleRatio", "OTEL_TRACES_SAMPLER_ARG", "must be between 0 and 1")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func validateBaseURL(raw string) error {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("has no host")
	}
	return nil
}
