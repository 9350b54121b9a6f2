package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
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
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is negative", cfg.Audio.SampleRate))
	}
	if hp, lp := cfg.Audio.HighPassHz, cfg.Audio.LowPassHz; hp > 0 && lp > 0 && hp >= lp {
		errs = append(errs, fmt.Errorf("audio.high_pass_hz %.0f must be below low_pass_hz %.0f", hp, lp))
	}
	if cfg.Audio.AutoGain && cfg.Audio.TargetRMS > 1 {
		errs = append(errs, fmt.Errorf("audio.target_rms %.2f is out of range (0, 1]", cfg.Audio.TargetRMS))
	}

	// VAD
	if th := cfg.VAD.EnergyThreshold; th < 0 || th > 1 {
		errs = append(errs, fmt.Errorf("vad.energy_threshold %.3f is out of range [0, 1]", th))
	}
	if cfg.VAD.MinZCR > 0 && cfg.VAD.MaxZCR > 0 && cfg.VAD.MinZCR >= cfg.VAD.MaxZCR {
		errs = append(errs, fmt.Errorf("vad.min_zcr %.2f must be below max_zcr %.2f", cfg.VAD.MinZCR, cfg.VAD.MaxZCR))
	}
	if cfg.VAD.UseZCR && cfg.VAD.MinZCR == 0 && cfg.VAD.MaxZCR == 0 {
		slog.Warn("vad.use_zcr is set without a zcr band; detector defaults apply")
	}

	// Network
	if cfg.Network.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("network.queue_size %d is negative", cfg.Network.QueueSize))
	}
	if cfg.Network.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("network.max_retries %d is negative", cfg.Network.MaxRetries))
	}
	if cfg.Network.Compression.Enabled && cfg.Network.Compression.BandwidthThresholdKbps <= 0 {
		slog.Warn("network.compression enabled without bandwidth_threshold_kbps; compression triggers on condition only")
	}
	if cfg.Network.CloudURL == "" {
		slog.Warn("network.cloud_url is empty; server runs permanently offline")
	}

	// Store
	if cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres", cfg.Store.Backend))
	}
	if cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	}
	if cfg.Store.Backend == StoreMemory && cfg.Store.PostgresDSN != "" {
		slog.Warn("store.postgres_dsn is set but store.backend is memory; DSN ignored")
	}

	return errors.Join(errs...)
}
