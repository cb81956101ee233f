package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// AudioConfig describes the fixed conditioning chain. The filter constants
// are design givens, not tunables, but they live here so the whole chain is
// visible in one place and can be logged at startup.
type AudioConfig struct {
	SampleRate          int     `mapstructure:"sample_rate"`
	HighpassCutoffHz    float64 `mapstructure:"highpass_cutoff_hz"`
	LowpassCutoffHz     float64 `mapstructure:"lowpass_cutoff_hz"`
	CompressorThreshold float64 `mapstructure:"compressor_threshold_db"`
	CompressorKnee      float64 `mapstructure:"compressor_knee_db"`
	CompressorRatio     float64 `mapstructure:"compressor_ratio"`
	CompressorAttack    float64 `mapstructure:"compressor_attack_ms"`
	CompressorRelease   float64 `mapstructure:"compressor_release_ms"`
	FFTSize             int     `mapstructure:"fft_size"`
	Smoothing           float64 `mapstructure:"smoothing"`
}

type VADConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	BandLowHz    float64       `mapstructure:"band_low_hz"`
	BandHighHz   float64       `mapstructure:"band_high_hz"`
	// Threshold is on the analyser byte scale (0-255). Energy must exceed
	// it strictly for a voice-detected event.
	Threshold float64 `mapstructure:"threshold"`
}

type RecognitionConfig struct {
	EngineURL       string        `mapstructure:"engine_url"`
	Locale          string        `mapstructure:"locale"`
	MaxAlternatives int           `mapstructure:"max_alternatives"`
	NetworkRetry    time.Duration `mapstructure:"network_retry"`
	DefaultRetry    time.Duration `mapstructure:"default_retry"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DebugConfig struct {
	// RecordDir, when set, tees the conditioned audio stream into WAV
	// files under this directory for offline filter tuning.
	RecordDir string `mapstructure:"record_dir"`
}

type Settings struct {
	Audio       AudioConfig       `mapstructure:"audio"`
	VAD         VADConfig         `mapstructure:"vad"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Server      ServerConfig      `mapstructure:"server"`
	DebugTools  DebugConfig       `mapstructure:"debug_tools"`
	Env         string            `mapstructure:"env"`
	Debug       bool              `mapstructure:"debug"`
}

func setDefaults() {
	viper.SetDefault("audio.sample_rate", 24000)
	viper.SetDefault("audio.highpass_cutoff_hz", 100.0)
	viper.SetDefault("audio.lowpass_cutoff_hz", 9000.0)
	viper.SetDefault("audio.compressor_threshold_db", -24.0)
	viper.SetDefault("audio.compressor_knee_db", 30.0)
	viper.SetDefault("audio.compressor_ratio", 8.0)
	viper.SetDefault("audio.compressor_attack_ms", 3.0)
	viper.SetDefault("audio.compressor_release_ms", 250.0)
	viper.SetDefault("audio.fft_size", 2048)
	viper.SetDefault("audio.smoothing", 0.8)

	viper.SetDefault("vad.tick_interval", 16*time.Millisecond)
	viper.SetDefault("vad.band_low_hz", 200.0)
	viper.SetDefault("vad.band_high_hz", 7000.0)
	viper.SetDefault("vad.threshold", 60.0)

	viper.SetDefault("recognition.locale", "en-US")
	viper.SetDefault("recognition.max_alternatives", 1)
	viper.SetDefault("recognition.network_retry", 3*time.Second)
	viper.SetDefault("recognition.default_retry", 1*time.Second)

	viper.SetDefault("server.addr", ":8750")
	viper.SetDefault("debug", false)
}

func Load() (*Settings, error) {
	setDefaults()

	viper.SetConfigName("config_" + genEnv())
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Defaults plus env vars are a complete configuration; a missing
		// file is only a problem if the engine URL ends up unset too.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &settings, nil
}

func (s *Settings) Validate() error {
	if s.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", s.Audio.SampleRate)
	}
	if s.Audio.FFTSize <= 0 || s.Audio.FFTSize&(s.Audio.FFTSize-1) != 0 {
		return fmt.Errorf("audio.fft_size must be a positive power of two, got %d", s.Audio.FFTSize)
	}
	if s.Audio.Smoothing < 0 || s.Audio.Smoothing >= 1 {
		return fmt.Errorf("audio.smoothing must be in [0,1), got %f", s.Audio.Smoothing)
	}
	if s.VAD.BandLowHz >= s.VAD.BandHighHz {
		return fmt.Errorf("vad band is empty: %f..%f Hz", s.VAD.BandLowHz, s.VAD.BandHighHz)
	}
	if s.VAD.TickInterval <= 0 {
		return fmt.Errorf("vad.tick_interval must be positive, got %s", s.VAD.TickInterval)
	}
	return nil
}

func genEnv() string {
	env := viper.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
