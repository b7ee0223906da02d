package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LIVEMEET_SETTINGS_FILE",
		"LIVEMEET_WS_URL",
		"LIVEMEET_FRAME_INTERVAL_MS",
		"LIVEMEET_AUDIO_FLUSH_CHUNKS",
		"LIVEMEET_AUDIO_CHUNK_MS",
		"LIVEMEET_AUDIO_ENCODING",
		"LIVEMEET_AUDIO_BACKEND",
		"LIVEMEET_SUMMARY_TIMEOUT_MS",
		"LIVEMEET_WS_RECONNECT",
		"LIVEMEET_NOISE_SUPPRESSION",
		"LIVEMEET_CHANNELS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultsWithoutSettingsFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Transport.URL != "ws://localhost:8003/ws/orchestrator" {
		t.Fatalf("unexpected ws url: %q", cfg.Transport.URL)
	}
	if cfg.Fallback.LiveAnswerURL != "http://localhost:8001/generate_answer" || cfg.Fallback.SummaryURL != "http://localhost:8001/summarize" {
		t.Fatalf("unexpected fallback urls: %+v", cfg.Fallback)
	}
	if cfg.Capture.FrameIntervalMs != 3000 || cfg.Capture.AudioChunkMs != 2000 || cfg.Capture.AudioFlushChunks != 3 {
		t.Fatalf("unexpected capture defaults: %+v", cfg.Capture)
	}
	if cfg.Capture.SimilarityThreshold != 0 {
		t.Fatalf("expected frame gate disabled by default, got %v", cfg.Capture.SimilarityThreshold)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 || cfg.Audio.Encoding != "flac" {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Fallback.SummaryTimeout != 20*time.Second {
		t.Fatalf("unexpected summary timeout: %s", cfg.Fallback.SummaryTimeout)
	}
	want := filepath.Join(home, ".config", "livemeet", "settings.yaml")
	if cfg.SettingsPath != want {
		t.Fatalf("expected settings path %q, got %q", want, cfg.SettingsPath)
	}
}

func TestLoadSettingsFileThenEnvOverrides(t *testing.T) {
	home := t.TempDir()
	settings := filepath.Join(home, "settings.yaml")
	body := `
transport:
  url: ws://backend:9000/ws
  reconnect:
    enabled: true
    baseDelay: 250ms
capture:
  frameIntervalMs: 1500
  audioFlushChunks: 5
  similarityThreshold: 0.02
audio:
  encoding: pcm
fallback:
  summaryTimeout: 5s
vision:
  maxItems: 50
`
	if err := os.WriteFile(settings, []byte(body), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("HOME", home)
	clearEnv(t)
	t.Setenv("LIVEMEET_SETTINGS_FILE", settings)
	t.Setenv("LIVEMEET_AUDIO_FLUSH_CHUNKS", "4")
	t.Setenv("LIVEMEET_CHANNELS", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Transport.URL != "ws://backend:9000/ws" {
		t.Fatalf("expected yaml url, got %q", cfg.Transport.URL)
	}
	if !cfg.Transport.Reconnect.Enabled || cfg.Transport.Reconnect.BaseDelay != 250*time.Millisecond {
		t.Fatalf("unexpected reconnect config: %+v", cfg.Transport.Reconnect)
	}
	if cfg.Transport.Reconnect.MaxRetries != 5 {
		t.Fatalf("expected untouched defaults to survive, got %d", cfg.Transport.Reconnect.MaxRetries)
	}
	if cfg.Capture.FrameIntervalMs != 1500 || cfg.Capture.SimilarityThreshold != 0.02 {
		t.Fatalf("unexpected capture config: %+v", cfg.Capture)
	}
	if cfg.Capture.AudioFlushChunks != 4 {
		t.Fatalf("expected env to win over yaml, got %d", cfg.Capture.AudioFlushChunks)
	}
	if cfg.Audio.Encoding != "pcm" || cfg.Audio.Channels != 2 {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Fallback.SummaryTimeout != 5*time.Second || cfg.Vision.MaxItems != 50 {
		t.Fatalf("unexpected fallback/vision config: %+v %+v", cfg.Fallback, cfg.Vision)
	}
}

func TestLoadInvalidSettingsFile(t *testing.T) {
	home := t.TempDir()
	settings := filepath.Join(home, "settings.yaml")
	if err := os.WriteFile(settings, []byte("capture: [oops"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("HOME", home)
	clearEnv(t)
	t.Setenv("LIVEMEET_SETTINGS_FILE", settings)

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadNormalizesInvalidValues(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	clearEnv(t)
	t.Setenv("LIVEMEET_FRAME_INTERVAL_MS", "5")
	t.Setenv("LIVEMEET_AUDIO_FLUSH_CHUNKS", "0")
	t.Setenv("LIVEMEET_AUDIO_ENCODING", "opus")
	t.Setenv("LIVEMEET_AUDIO_BACKEND", "PULSE")
	t.Setenv("LIVEMEET_CHANNELS", "9")
	t.Setenv("LIVEMEET_SUMMARY_TIMEOUT_MS", "nope")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Capture.FrameIntervalMs != 3000 || cfg.Capture.AudioFlushChunks != 3 {
		t.Fatalf("expected capture fallbacks, got %+v", cfg.Capture)
	}
	if cfg.Audio.Encoding != "flac" || cfg.Audio.Backend != "pulse" || cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected audio normalization: %+v", cfg.Audio)
	}
	if cfg.Fallback.SummaryTimeout != 20*time.Second {
		t.Fatalf("unexpected summary timeout: %s", cfg.Fallback.SummaryTimeout)
	}
}

func TestCaptureDurations(t *testing.T) {
	t.Parallel()

	c := CaptureConfig{FrameIntervalMs: 3000, AudioChunkMs: 2000}
	if c.FrameInterval() != 3*time.Second || c.AudioChunk() != 2*time.Second {
		t.Fatalf("unexpected durations: %s %s", c.FrameInterval(), c.AudioChunk())
	}
}
