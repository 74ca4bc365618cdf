package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"fitclip/internal/jobs"
)

type Config struct {
	// Listen is the address the HTTP API binds to
	Listen string `yaml:"listen"`

	// DataDir is where the job database and lock file live
	// If empty, the directory of the config file is used
	DataDir string `yaml:"data_dir"`

	// TempDir is where in-progress encodes are written
	// If empty, temp files go in the same directory as the output
	TempDir string `yaml:"temp_dir"`

	// OutputDir is where compressed files are written
	// If empty, outputs go in the same directory as the source
	OutputDir string `yaml:"output_dir"`

	// OutputSuffix is appended to the source stem to build the output name,
	// e.g. "clip.mkv" with suffix ".compressed" becomes "clip.compressed.mp4"
	OutputSuffix string `yaml:"output_suffix"`

	// FFmpegPath is the path to ffmpeg binary (default: "ffmpeg")
	FFmpegPath string `yaml:"ffmpeg_path"`

	// FFprobePath is the path to ffprobe binary (default: "ffprobe")
	FFprobePath string `yaml:"ffprobe_path"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// LogFormat is one of auto, text, json
	LogFormat string `yaml:"log_format"`

	// Defaults are the encode settings applied to jobs that don't override them
	Defaults Defaults `yaml:"defaults"`
}

// Defaults holds the per-job encode settings used when a request leaves them unset.
type Defaults struct {
	// TargetSizeMB is the output size ceiling in mebibytes
	TargetSizeMB float64 `yaml:"target_size_mb"`

	// Encoder selects the video encoder: "software" (libx264) or "hardware" (h264_nvenc)
	Encoder string `yaml:"encoder"`

	// SpeedPreset is the x264/nvenc preset (ultrafast..veryslow)
	SpeedPreset string `yaml:"speed_preset"`

	// MaxHeight caps output resolution; 0 keeps the source resolution
	MaxHeight int `yaml:"max_height"`

	// AudioBitrateKbps forces the audio bitrate; 0 uses the probed source rate
	AudioBitrateKbps int `yaml:"audio_bitrate_kbps"`

	// FrameRateCap caps the output frame rate; 0 keeps the source rate
	FrameRateCap float64 `yaml:"frame_rate_cap"`

	// OverheadFactor is the fraction of the target budget given to streams,
	// the rest absorbs container overhead
	OverheadFactor float64 `yaml:"overhead_factor"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		Listen:       ":8080",
		TempDir:      "", // same directory as output
		OutputDir:    "", // same directory as source
		OutputSuffix: ".compressed",
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		LogLevel:     "info",
		LogFormat:    "auto",
		Defaults: Defaults{
			TargetSizeMB:   10,
			Encoder:        jobs.EncoderSoftware,
			SpeedPreset:    "medium",
			OverheadFactor: 0.95,
		},
	}
}

// Load reads config from a YAML file, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file - use defaults
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Apply defaults for empty values
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.OutputSuffix == "" {
		cfg.OutputSuffix = ".compressed"
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "auto"
	}
	if cfg.Defaults.TargetSizeMB <= 0 {
		cfg.Defaults.TargetSizeMB = 10
	}
	if cfg.Defaults.Encoder == "" {
		cfg.Defaults.Encoder = jobs.EncoderSoftware
	}
	if cfg.Defaults.SpeedPreset == "" {
		cfg.Defaults.SpeedPreset = "medium"
	}
	if cfg.Defaults.OverheadFactor <= 0 || cfg.Defaults.OverheadFactor > 1 {
		cfg.Defaults.OverheadFactor = 0.95
	}

	return cfg, nil
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Settings returns the default encode settings as a job snapshot.
// Per-job overrides are applied on top of this by the caller.
func (c *Config) Settings() jobs.Settings {
	return jobs.Settings{
		TargetSizeBytes:  int64(c.Defaults.TargetSizeMB * 1024 * 1024),
		Encoder:          c.Defaults.Encoder,
		SpeedPreset:      c.Defaults.SpeedPreset,
		MaxHeight:        c.Defaults.MaxHeight,
		AudioBitrateKbps: c.Defaults.AudioBitrateKbps,
		FrameRateCap:     c.Defaults.FrameRateCap,
		OverheadFactor:   c.Defaults.OverheadFactor,
	}
}

// OutputPathFor returns the final output path for a source file.
// The output is always an mp4 named after the source stem plus the suffix.
func (c *Config) OutputPathFor(sourcePath string) string {
	dir := c.OutputDir
	if dir == "" {
		dir = filepath.Dir(sourcePath)
	}
	base := filepath.Base(sourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+c.OutputSuffix+".mp4")
}

// ResolveDataDir returns the directory for the database and lock file.
// If DataDir is unset, the config file's directory is used.
func (c *Config) ResolveDataDir(configPath string) string {
	if c.DataDir != "" {
		return c.DataDir
	}
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		return "."
	}
	return dir
}
