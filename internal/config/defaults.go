// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

const (
	DefaultListenAddr     = ":8000"
	DefaultPrivateKeyPath = "./.private.key"
	DefaultAPIRegion      = "api.nexmo.com"
)

// Defaults returns the configuration used before the file and the
// environment are applied.
func Defaults() AppConfig {
	return AppConfig{
		Vonage: VonageConfig{
			PrivateKeyPath:    DefaultPrivateKeyPath,
			APIRegion:         DefaultAPIRegion,
			Timeout:           10 * time.Second,
			RequestsPerSecond: 20,
			Burst:             10,
			BreakerThreshold:  5,
			BreakerReset:      30 * time.Second,
		},
		Bridge: BridgeConfig{
			EvictionGrace: 30 * time.Second,
			EffectTimeout: 30 * time.Second,
		},
		Server: ServerConfig{
			ListenAddr:        DefaultListenAddr,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			StartRateLimit:    60,
		},
		Store: StoreConfig{
			Backend: "memory",
			TTL:     time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		Telemetry: TelemetryConfig{
			Exporter:    "grpc",
			Endpoint:    "localhost:4317",
			ServiceName: "pstnbridge",
			SampleRatio: 1.0,
		},
	}
}
