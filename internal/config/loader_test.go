package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/vaani-ai/voicecore/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":8080"
  log_level: info
audio:
  sample_rate: 16000
  high_pass_hz: 80
  low_pass_hz: 8000
  noise_reduction: true
  warmup_frames: 10
  auto_gain: true
  target_rms: 0.2
  normalize_peak: 0.3
vad:
  energy_threshold: 0.02
  silence_ms: 500
  min_speech_ms: 100
  use_zcr: true
  min_zcr: 0.1
  max_zcr: 0.4
network:
  probe_interval_sec: 10
  sync_interval_sec: 30
  queue_size: 100
  batch_size: 10
  max_retries: 3
  compression:
    enabled: true
    bandwidth_threshold_kbps: 64
offline:
  model_cache_bytes: 104857600
  scheme_ttl_min: 60
  default_language: en
store:
  backend: memory
recognizer:
  name: mock
engine:
  name: mock
`

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.VAD.EnergyThreshold != 0.02 {
		t.Errorf("energy_threshold: got %v, want 0.02", cfg.VAD.EnergyThreshold)
	}
	if cfg.Offline.CacheBytes() != 104857600 {
		t.Errorf("CacheBytes: got %d, want 104857600", cfg.Offline.CacheBytes())
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  lstn_addr: oops
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_FilterBandOrdering(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  high_pass_hz: 9000
  low_pass_hz: 8000
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for inverted filter band, got nil")
	}
}

func TestValidate_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()
	yaml := `
store:
  backend: postgres
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for postgres backend without DSN, got nil")
	}
	if !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("error should mention postgres_dsn, got: %v", err)
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
vad:
  energy_threshold: 3.0
network:
  queue_size: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected joined validation errors, got nil")
	}
	for _, want := range []string{"log_level", "energy_threshold", "queue_size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestAudioConfig_DSPMapping(t *testing.T) {
	t.Parallel()
	a := config.AudioConfig{
		HighPassHz:     80,
		NoiseReduction: true,
		AutoGain:       true,
	}
	d := a.DSP()
	if d.SampleRate != 16000 {
		t.Errorf("SampleRate: got %d, want default 16000", d.SampleRate)
	}
	if !d.HighPass.Enabled || d.HighPass.CutoffHz != 80 {
		t.Errorf("HighPass: got %+v, want enabled at 80 Hz", d.HighPass)
	}
	if d.LowPass.Enabled {
		t.Error("LowPass enabled with a zero cutoff")
	}
	if !d.NoiseReduction.Enabled || d.NoiseReduction.WarmupFrames != 10 {
		t.Errorf("NoiseReduction: got %+v, want enabled with default warm-up", d.NoiseReduction)
	}
	if !d.Gain.Enabled || d.Gain.TargetRMS != 0.2 {
		t.Errorf("Gain: got %+v, want enabled at default target", d.Gain)
	}
	if d.Normalize.Enabled {
		t.Error("Normalize enabled with a zero peak")
	}
}

func TestVADConfig_DetectorMapping(t *testing.T) {
	t.Parallel()
	v := config.VADConfig{EnergyThreshold: 0.05, SilenceMs: 700}
	d := v.Detector(8000)
	if d.SampleRate != 8000 {
		t.Errorf("SampleRate: got %d, want 8000", d.SampleRate)
	}
	if d.EnergyThreshold != 0.05 {
		t.Errorf("EnergyThreshold: got %v, want 0.05", d.EnergyThreshold)
	}
	if d.SilenceDuration != 700*time.Millisecond {
		t.Errorf("SilenceDuration: got %v, want 700ms", d.SilenceDuration)
	}
	if d.SpeechDuration != 100*time.Millisecond {
		t.Errorf("SpeechDuration: got %v, want default 100ms", d.SpeechDuration)
	}
}

func TestNetworkConfig_SyncMapping(t *testing.T) {
	t.Parallel()
	n := config.NetworkConfig{
		SyncIntervalSec: 15,
		QueueSize:       50,
		Compression:     config.CompressionConfig{Enabled: true, BandwidthThresholdKbps: 64},
	}
	s := n.Sync()
	if s.SyncInterval != 15*time.Second {
		t.Errorf("SyncInterval: got %v, want 15s", s.SyncInterval)
	}
	if s.QueueSize != 50 {
		t.Errorf("QueueSize: got %d, want 50", s.QueueSize)
	}
	if !s.Compression.Enabled || s.Compression.BandwidthThresholdKbps != 64 {
		t.Errorf("Compression: got %+v, want enabled at 64 kbps", s.Compression)
	}
}
