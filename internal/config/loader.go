package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Realtime transport
	rt := cfg.Realtime
	if rt.Provider != "" && !rt.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("realtime.provider %q is invalid; valid values: convoai, mock", rt.Provider))
	}
	if rt.Provider != "" && rt.ChannelID == "" {
		errs = append(errs, fmt.Errorf("realtime.channel_id is required when realtime.provider is set"))
	}
	if rt.Provider == ProviderConvoAI && rt.APIKey == "" {
		slog.Warn("realtime.api_key is empty; the vendor will likely reject the connection")
	}
	if rt.Provider == "" {
		slog.Warn("realtime.provider is not configured; sessions cannot be connected")
	}

	// Archive
	if cfg.Archive.PostgresDSN == "" {
		slog.Warn("archive.postgres_dsn is empty; transcript entries and code versions will not survive restarts")
	}

	// Feed
	if cfg.Feed.Buffer < 0 {
		errs = append(errs, fmt.Errorf("feed.buffer %d is invalid; must be >= 0", cfg.Feed.Buffer))
	}

	return errors.Join(errs...)
}
