// Package v1 contains the plugctl configuration file format.
//
//	pluginDirectory: /srv/headlamp/plugins
//	hostVersion: 0.30.0
//	tempFolder: /var/tmp
//	registry:
//	  packagePrefix: https://artifacthub.io/packages/headlamp/
//	  apiPrefix: https://artifacthub.io/api/v1/packages/headlamp/
//	  trustedArchivePatterns:
//	    - https://mirror.example.com/plugins/**
//	http:
//	  timeout: 2m
//	  maxRedirects: 5
//	maxArchiveSize: 104857600
package v1

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"sigs.k8s.io/yaml"
)

// Config is the plugctl configuration.
type Config struct {
	// PluginDirectory is where plugins are installed.
	// Defaults to the plugin directory of the host application.
	PluginDirectory string `json:"pluginDirectory,omitempty"`
	// HostVersion is checked against the compatibility range of plugins.
	HostVersion string `json:"hostVersion,omitempty"`
	// TempFolder is used to extract archives before they are placed.
	TempFolder string `json:"tempFolder,omitempty"`
	Registry   Registry `json:"registry,omitempty"`
	HTTP       HTTP     `json:"http,omitempty"`
	// MaxArchiveSize in bytes.
	MaxArchiveSize int64 `json:"maxArchiveSize,omitempty"`
}

type Registry struct {
	PackagePrefix          string   `json:"packagePrefix,omitempty"`
	APIPrefix              string   `json:"apiPrefix,omitempty"`
	TrustedArchivePatterns []string `json:"trustedArchivePatterns,omitempty"`
}

type HTTP struct {
	Timeout      Duration `json:"timeout,omitempty"`
	MaxRedirects int      `json:"maxRedirects,omitempty"`
}

// Duration is a time.Duration that is written as a duration string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Decode parses a YAML or JSON configuration. Unknown fields are rejected.
func Decode(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode plugctl configuration: %w", err)
	}
	return &cfg, nil
}

// Merge combines configurations. For single values the first configuration
// that sets a value wins, trusted archive patterns are collected from all.
func Merge(cfgs ...*Config) *Config {
	merged := &Config{}
	for _, cfg := range cfgs {
		if cfg == nil {
			continue
		}
		merged.PluginDirectory = first(merged.PluginDirectory, cfg.PluginDirectory)
		merged.HostVersion = first(merged.HostVersion, cfg.HostVersion)
		merged.TempFolder = first(merged.TempFolder, cfg.TempFolder)
		merged.Registry.PackagePrefix = first(merged.Registry.PackagePrefix, cfg.Registry.PackagePrefix)
		merged.Registry.APIPrefix = first(merged.Registry.APIPrefix, cfg.Registry.APIPrefix)
		merged.HTTP.Timeout = first(merged.HTTP.Timeout, cfg.HTTP.Timeout)
		merged.HTTP.MaxRedirects = first(merged.HTTP.MaxRedirects, cfg.HTTP.MaxRedirects)
		merged.MaxArchiveSize = first(merged.MaxArchiveSize, cfg.MaxArchiveSize)
		for _, pattern := range cfg.Registry.TrustedArchivePatterns {
			if !slices.Contains(merged.Registry.TrustedArchivePatterns, pattern) {
				merged.Registry.TrustedArchivePatterns = append(merged.Registry.TrustedArchivePatterns, pattern)
			}
		}
	}
	return merged
}

func first[T comparable](current, candidate T) T {
	var zero T
	if current != zero {
		return current
	}
	return candidate
}
