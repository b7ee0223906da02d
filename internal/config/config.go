package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the meeting client.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Capture   CaptureConfig   `yaml:"capture"`
	Screen    ScreenConfig    `yaml:"screen"`
	Audio     AudioConfig     `yaml:"audio"`
	Vision    VisionConfig    `yaml:"vision"`
	Log       LogConfig       `yaml:"log"`

	// SettingsPath is the settings file that was consulted, whether or not it existed.
	SettingsPath string `yaml:"-"`
}

type TransportConfig struct {
	URL          string          `yaml:"url"`
	PingInterval time.Duration   `yaml:"pingInterval"`
	PongTimeout  time.Duration   `yaml:"pongTimeout"`
	WriteTimeout time.Duration   `yaml:"writeTimeout"`
	SendBuffer   int             `yaml:"sendBuffer"`
	Reconnect    ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxRetries int           `yaml:"maxRetries"`
	BaseDelay  time.Duration `yaml:"baseDelay"`
	MaxDelay   time.Duration `yaml:"maxDelay"`
}

type FallbackConfig struct {
	LiveAnswerURL  string        `yaml:"liveAnswerUrl"`
	SummaryURL     string        `yaml:"summaryUrl"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	SummaryTimeout time.Duration `yaml:"summaryTimeout"`
}

// CaptureConfig holds the detection thresholds supplied by the settings store.
type CaptureConfig struct {
	FrameIntervalMs     int     `yaml:"frameIntervalMs"`
	AudioChunkMs        int     `yaml:"audioChunkMs"`
	AudioFlushChunks    int     `yaml:"audioFlushChunks"`
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
	FullRefreshFrames   int     `yaml:"fullRefreshFrames"`
}

type ScreenConfig struct {
	Command     string `yaml:"command"`
	InputFormat string `yaml:"inputFormat"`
	InputDevice string `yaml:"inputDevice"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	Quality     int    `yaml:"quality"`
}

type AudioConfig struct {
	Backend          string `yaml:"backend"`
	RecorderCommand  string `yaml:"recorderCommand"`
	InputFormat      string `yaml:"inputFormat"`
	InputDevice      string `yaml:"inputDevice"`
	SampleRate       int    `yaml:"sampleRate"`
	Channels         int    `yaml:"channels"`
	NoiseSuppression bool   `yaml:"noiseSuppression"`
	Encoding         string `yaml:"encoding"`
}

type VisionConfig struct {
	MaxItems int `yaml:"maxItems"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	screenFormat, screenDevice := defaultScreenInput()
	return Config{
		Transport: TransportConfig{
			URL:          "ws://localhost:8003/ws/orchestrator",
			PingInterval: 30 * time.Second,
			PongTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			SendBuffer:   8,
			Reconnect: ReconnectConfig{
				Enabled:    false,
				MaxRetries: 5,
				BaseDelay:  time.Second,
				MaxDelay:   30 * time.Second,
			},
		},
		Fallback: FallbackConfig{
			LiveAnswerURL:  "http://localhost:8001/generate_answer",
			SummaryURL:     "http://localhost:8001/summarize",
			RequestTimeout: 30 * time.Second,
			SummaryTimeout: 20 * time.Second,
		},
		Capture: CaptureConfig{
			FrameIntervalMs:     3000,
			AudioChunkMs:        2000,
			AudioFlushChunks:    3,
			SimilarityThreshold: 0,
			FullRefreshFrames:   20,
		},
		Screen: ScreenConfig{
			Command:     "ffmpeg",
			InputFormat: screenFormat,
			InputDevice: screenDevice,
			Width:       640,
			Height:      360,
			Quality:     80,
		},
		Audio: AudioConfig{
			Backend:          "ffmpeg",
			RecorderCommand:  "ffmpeg",
			InputFormat:      "pulse",
			InputDevice:      "default",
			SampleRate:       16000,
			Channels:         1,
			NoiseSuppression: true,
			Encoding:         "flac",
		},
	}
}

// Load resolves configuration from defaults, the optional YAML settings file,
// and environment variables, in increasing precedence.
func Load() (Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	settingsPath := strings.TrimSpace(os.Getenv("LIVEMEET_SETTINGS_FILE"))
	if settingsPath == "" {
		settingsPath = firstExisting(
			filepath.Join(home, ".config", "livemeet", "settings.yaml"),
			filepath.Join(home, ".config", "livemeet", "settings.yml"),
		)
	}
	cfg.SettingsPath = settingsPath

	if err := loadSettingsFile(settingsPath, &cfg); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func loadSettingsFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read settings file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse settings file %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Transport.URL = envOrDefault("LIVEMEET_WS_URL", cfg.Transport.URL)
	cfg.Transport.SendBuffer = envOrDefaultInt("LIVEMEET_WS_SEND_BUFFER", cfg.Transport.SendBuffer)
	cfg.Transport.Reconnect.Enabled = envOrDefaultBool("LIVEMEET_WS_RECONNECT", cfg.Transport.Reconnect.Enabled)
	cfg.Transport.Reconnect.MaxRetries = envOrDefaultInt("LIVEMEET_WS_RECONNECT_MAX_RETRIES", cfg.Transport.Reconnect.MaxRetries)

	cfg.Fallback.LiveAnswerURL = envOrDefault("LIVEMEET_LIVE_ANSWER_URL", cfg.Fallback.LiveAnswerURL)
	cfg.Fallback.SummaryURL = envOrDefault("LIVEMEET_SUMMARY_URL", cfg.Fallback.SummaryURL)
	cfg.Fallback.RequestTimeout = envOrDefaultMs("LIVEMEET_FALLBACK_TIMEOUT_MS", cfg.Fallback.RequestTimeout)
	cfg.Fallback.SummaryTimeout = envOrDefaultMs("LIVEMEET_SUMMARY_TIMEOUT_MS", cfg.Fallback.SummaryTimeout)

	cfg.Capture.FrameIntervalMs = envOrDefaultInt("LIVEMEET_FRAME_INTERVAL_MS", cfg.Capture.FrameIntervalMs)
	cfg.Capture.AudioChunkMs = envOrDefaultInt("LIVEMEET_AUDIO_CHUNK_MS", cfg.Capture.AudioChunkMs)
	cfg.Capture.AudioFlushChunks = envOrDefaultInt("LIVEMEET_AUDIO_FLUSH_CHUNKS", cfg.Capture.AudioFlushChunks)
	cfg.Capture.SimilarityThreshold = envOrDefaultFloat("LIVEMEET_FRAME_SIMILARITY", cfg.Capture.SimilarityThreshold)
	cfg.Capture.FullRefreshFrames = envOrDefaultInt("LIVEMEET_FRAME_FULL_REFRESH", cfg.Capture.FullRefreshFrames)

	cfg.Screen.Command = envOrDefault("LIVEMEET_SCREEN_COMMAND", cfg.Screen.Command)
	cfg.Screen.InputFormat = envOrDefault("LIVEMEET_SCREEN_INPUT_FORMAT", cfg.Screen.InputFormat)
	cfg.Screen.InputDevice = firstNonEmpty(os.Getenv("LIVEMEET_SCREEN_INPUT_DEVICE"), cfg.Screen.InputDevice)

	cfg.Audio.Backend = envOrDefault("LIVEMEET_AUDIO_BACKEND", cfg.Audio.Backend)
	cfg.Audio.RecorderCommand = envOrDefault("LIVEMEET_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("LIVEMEET_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(os.Getenv("LIVEMEET_AUDIO_INPUT_DEVICE"), cfg.Audio.InputDevice)
	cfg.Audio.SampleRate = envOrDefaultInt("LIVEMEET_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("LIVEMEET_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.NoiseSuppression = envOrDefaultBool("LIVEMEET_NOISE_SUPPRESSION", cfg.Audio.NoiseSuppression)
	cfg.Audio.Encoding = envOrDefault("LIVEMEET_AUDIO_ENCODING", cfg.Audio.Encoding)

	cfg.Vision.MaxItems = envOrDefaultInt("LIVEMEET_VISION_MAX_ITEMS", cfg.Vision.MaxItems)

	cfg.Log.Level = envOrDefault("LIVEMEET_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Dir = envOrDefault("LIVEMEET_LOG_DIR", cfg.Log.Dir)
}

func normalize(cfg *Config) {
	defaults := Default()

	if cfg.Capture.FrameIntervalMs < 100 {
		cfg.Capture.FrameIntervalMs = defaults.Capture.FrameIntervalMs
	}
	if cfg.Capture.AudioChunkMs < 100 {
		cfg.Capture.AudioChunkMs = defaults.Capture.AudioChunkMs
	}
	if cfg.Capture.AudioFlushChunks <= 0 {
		cfg.Capture.AudioFlushChunks = defaults.Capture.AudioFlushChunks
	}
	if cfg.Capture.SimilarityThreshold < 0 || cfg.Capture.SimilarityThreshold > 1 {
		cfg.Capture.SimilarityThreshold = defaults.Capture.SimilarityThreshold
	}
	if cfg.Capture.FullRefreshFrames <= 0 {
		cfg.Capture.FullRefreshFrames = defaults.Capture.FullRefreshFrames
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = defaults.Audio.SampleRate
	}
	if cfg.Audio.Channels <= 0 || cfg.Audio.Channels > 2 {
		cfg.Audio.Channels = defaults.Audio.Channels
	}
	switch strings.ToLower(cfg.Audio.Encoding) {
	case "flac", "pcm":
		cfg.Audio.Encoding = strings.ToLower(cfg.Audio.Encoding)
	default:
		cfg.Audio.Encoding = defaults.Audio.Encoding
	}
	switch strings.ToLower(cfg.Audio.Backend) {
	case "ffmpeg", "pulse":
		cfg.Audio.Backend = strings.ToLower(cfg.Audio.Backend)
	default:
		cfg.Audio.Backend = defaults.Audio.Backend
	}
	if cfg.Screen.Width <= 0 || cfg.Screen.Height <= 0 {
		cfg.Screen.Width, cfg.Screen.Height = defaults.Screen.Width, defaults.Screen.Height
	}
	if cfg.Screen.Quality <= 0 || cfg.Screen.Quality > 100 {
		cfg.Screen.Quality = defaults.Screen.Quality
	}
	if cfg.Transport.SendBuffer <= 0 {
		cfg.Transport.SendBuffer = defaults.Transport.SendBuffer
	}
	if cfg.Transport.Reconnect.MaxRetries <= 0 {
		cfg.Transport.Reconnect.MaxRetries = defaults.Transport.Reconnect.MaxRetries
	}
	if cfg.Fallback.RequestTimeout <= 0 {
		cfg.Fallback.RequestTimeout = defaults.Fallback.RequestTimeout
	}
	if cfg.Fallback.SummaryTimeout <= 0 {
		cfg.Fallback.SummaryTimeout = defaults.Fallback.SummaryTimeout
	}
	if cfg.Vision.MaxItems < 0 {
		cfg.Vision.MaxItems = 0
	}
}

// FrameInterval is the screen sampling cadence.
func (c CaptureConfig) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMs) * time.Millisecond
}

// AudioChunk is the microphone chunk cadence.
func (c CaptureConfig) AudioChunk() time.Duration {
	return time.Duration(c.AudioChunkMs) * time.Millisecond
}

func defaultScreenInput() (string, string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", "1:none"
	case "windows":
		return "gdigrab", "desktop"
	default:
		display := strings.TrimSpace(os.Getenv("DISPLAY"))
		if display == "" {
			display = ":0.0"
		}
		return "x11grab", display
	}
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMs(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
