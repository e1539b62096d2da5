// Package telemetry wires OpenTelemetry tracing and metrics for ragstore.
//
// Telemetry is off by default. When enabled, spans and metrics are exported
// over OTLP (gRPC or HTTP/protobuf) and the providers are installed as the
// otel globals, so packages can use otel.Tracer and otel.Meter directly.
package telemetry

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragstore/internal/config"
)

// Protocols supported by the OTLP exporters.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config holds telemetry configuration, decoded from the "telemetry" section.
type Config struct {
	Enabled        bool   `koanf:"enabled" yaml:"enabled"`
	Endpoint       string `koanf:"endpoint" yaml:"endpoint"`
	Protocol       string `koanf:"protocol" yaml:"protocol"`
	ServiceName    string `koanf:"service_name" yaml:"service_name"`
	ServiceVersion string `koanf:"service_version" yaml:"service_version"`
	Insecure       bool   `koanf:"insecure" yaml:"insecure"`
	TLSSkipVerify  bool   `koanf:"tls_skip_verify" yaml:"tls_skip_verify"`
	// SamplingRate is the fraction of root traces kept, 0.0-1.0.
	SamplingRate    float64         `koanf:"sampling_rate" yaml:"sampling_rate"`
	MetricsEnabled  bool            `koanf:"metrics_enabled" yaml:"metrics_enabled"`
	ExportInterval  config.Duration `koanf:"export_interval" yaml:"export_interval"`
	ShutdownTimeout config.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// NewDefaultConfig returns defaults with telemetry disabled.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Endpoint:        "localhost:4317",
		Protocol:        ProtocolGRPC,
		ServiceName:     "ragstore",
		ServiceVersion:  "0.1.0",
		Insecure:        true,
		SamplingRate:    1.0,
		MetricsEnabled:  true,
		ExportInterval:  config.Duration(15 * time.Second),
		ShutdownTimeout: config.Duration(5 * time.Second),
	}
}

// Validate checks configuration for errors. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.Protocol != ProtocolGRPC && c.Protocol != ProtocolHTTP {
		return fmt.Errorf("protocol must be %q or %q, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)
	}
	if c.Insecure && !isLocalEndpoint(c.Endpoint) {
		return fmt.Errorf("insecure export is only allowed to local endpoints, got %q", c.Endpoint)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	if c.MetricsEnabled && c.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("export_interval must be positive when metrics are enabled")
	}
	if c.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}

func isLocalEndpoint(endpoint string) bool {
	host := stripScheme(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
