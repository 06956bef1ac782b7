// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the complete service configuration. Every field may come from
// the YAML file and most can be overridden from the environment.
type AppConfig struct {
	Vonage    VonageConfig    `yaml:"vonage"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Defaults  CallDefaults    `yaml:"defaults"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// VonageConfig addresses the Voice API and the application credentials.
type VonageConfig struct {
	AppID          string `yaml:"appId"`
	PrivateKeyPath string `yaml:"privateKeyPath"`
	// APIRegion is the API host, e.g. api.nexmo.com or api-us.vonage.com.
	APIRegion         string        `yaml:"apiRegion"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	BreakerThreshold  int           `yaml:"breakerThreshold"`
	BreakerReset      time.Duration `yaml:"breakerReset"`
}

// APIBaseURL returns the REST base URL for the configured region.
func (v VonageConfig) APIBaseURL() string {
	return "https://" + v.APIRegion
}

type BridgeConfig struct {
	// ServiceNumber is the caller id presented on telephone legs.
	ServiceNumber string `yaml:"serviceNumber"`
	// ProcessorServer is the media processor host websocket legs connect to.
	ProcessorServer string `yaml:"processorServer"`
	// PublicBaseURL is the externally reachable base of the callback routes.
	PublicBaseURL string        `yaml:"publicBaseUrl"`
	EvictionGrace time.Duration `yaml:"evictionGrace"`
	EffectTimeout time.Duration `yaml:"effectTimeout"`
}

// CallDefaults fill in start request parameters the caller leaves out.
type CallDefaults struct {
	PSTN1  string `yaml:"pstn1"`
	PSTN2  string `yaml:"pstn2"`
	Param1 string `yaml:"param1"`
	Param2 string `yaml:"param2"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// MetricsAddr serves /metrics on its own listener when set.
	MetricsAddr       string        `yaml:"metricsAddr"`
	ReadTimeout       time.Duration `yaml:"readTimeout"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
	// StartRateLimit caps /startcall requests per minute and client. 0 disables it.
	StartRateLimit int  `yaml:"startRateLimit"`
	Debug          bool `yaml:"debug"`
}

type StoreConfig struct {
	Backend       string        `yaml:"backend"`
	Path          string        `yaml:"path"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDb"`
	TTL           time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"serviceName"`
	Environment string  `yaml:"environment"`
	SampleRatio float64 `yaml:"sampleRatio"`
}
