// Package config loads permission configurations and engine settings.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/agentwarden/agentwarden/internal/logger"
	"github.com/agentwarden/agentwarden/internal/types"
)

var log = logger.New("config")

// PermissionSet holds the raw patterns of the three precedence tiers.
type PermissionSet struct {
	Deny  []string `yaml:"deny,omitempty" json:"deny,omitempty"`
	Allow []string `yaml:"allow,omitempty" json:"allow,omitempty"`
	Ask   []string `yaml:"ask,omitempty" json:"ask,omitempty"`
}

// Total returns the number of patterns across all tiers.
func (p PermissionSet) Total() int {
	return len(p.Deny) + len(p.Allow) + len(p.Ask)
}

// Tier returns the patterns of one tier.
func (p PermissionSet) Tier(c types.Category) []string {
	switch c {
	case types.CategoryDeny:
		return p.Deny
	case types.CategoryAsk:
		return p.Ask
	case types.CategoryAllow:
		return p.Allow
	}
	return nil
}

// PermissionConfig is a parsed permission configuration as received from the
// discovery/merge layer. The core never reads files on its own behalf; Load
// below exists for the CLI entry point.
type PermissionConfig struct {
	Permissions PermissionSet  `yaml:"permissions" json:"permissions"`
	Metadata    map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// isUnknownFieldError returns true if the error is from yaml.Decoder.KnownFields(true)
// detecting an unrecognized key.
func isUnknownFieldError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found in type")
}

// Load reads a permission configuration from a YAML or JSON file.
func Load(path string) (*PermissionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes a permission configuration from raw bytes. ext selects the
// format (".json" for JSON, anything else is treated as YAML).
func Parse(data []byte, ext string) (*PermissionConfig, error) {
	cfg := &PermissionConfig{}

	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config parse error: %w", err)
		}
		return cfg, nil
	}

	// Strict decode first to warn about typos like "permisions:".
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if isUnknownFieldError(err) {
			log.Warn("config has unknown fields (ignored): %v", err)
			cfg = &PermissionConfig{}
			if err2 := yaml.Unmarshal(data, cfg); err2 != nil {
				return nil, fmt.Errorf("config parse error: %w", err2)
			}
		} else if err.Error() != "EOF" {
			return nil, fmt.Errorf("config parse error: %w", err)
		}
	}
	return cfg, nil
}

// Settings holds engine tunables. Environment variables with the WARDEN
// prefix override defaults (e.g. WARDEN_CACHE_ENTRIES, WARDEN_TARGET_MS).
type Settings struct {
	LogLevel      types.LogLevel `envconfig:"LOG_LEVEL" default:"info"`
	NoColor       bool           `envconfig:"NO_COLOR"`
	CacheEntries  int            `envconfig:"CACHE_ENTRIES" default:"256" validate:"gt=0"`
	CacheTTL      time.Duration  `envconfig:"CACHE_TTL" default:"1h" validate:"gt=0"`
	CacheMemoryMB int            `envconfig:"CACHE_MEMORY_MB" default:"64" validate:"gt=0"`
	TargetMs      int            `envconfig:"TARGET_MS" default:"100" validate:"gt=0"`
	SecurityLevel string         `envconfig:"SECURITY_LEVEL" default:"moderate" validate:"oneof=strict moderate permissive"`
	ListenAddr    string         `envconfig:"LISTEN_ADDR" default:"127.0.0.1:9415"`
}

// LoadSettings builds Settings from defaults plus environment overrides and
// validates the result.
func LoadSettings() (*Settings, error) {
	s := &Settings{}
	if err := envconfig.Process("WARDEN", s); err != nil {
		return nil, fmt.Errorf("settings from environment: %w", err)
	}
	if err := validator.New().Struct(s); err != nil {
		return nil, fmt.Errorf("settings validation: %w", err)
	}
	if !s.LogLevel.Valid() {
		return nil, fmt.Errorf("unknown log level %q", s.LogLevel)
	}
	return s, nil
}
