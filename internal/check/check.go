// Package check verifies the external tools the pipeline depends on.
package check

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"fitclip/internal/config"
)

// Sentinel errors returned by Tools when a required binary is missing.
var (
	ErrFFmpegNotFound  = errors.New("ffmpeg not found")
	ErrFFprobeNotFound = errors.New("ffprobe not found")
)

// Tool reports where one external binary resolved and what it identifies as.
type Tool struct {
	Name    string `json:"name"`
	Path    string `json:"path,omitempty"`
	Version string `json:"version,omitempty"`
	Found   bool   `json:"found"`
}

// Report is the result of a full capability check.
type Report struct {
	FFmpeg  Tool `json:"ffmpeg"`
	FFprobe Tool `json:"ffprobe"`

	// HardwareEncoder is true when ffmpeg lists h264_nvenc, meaning jobs
	// may request the hardware encoder.
	HardwareEncoder bool `json:"hardware_encoder"`
}

// Checker locates and inspects the external tools. The lookup and run
// functions are swappable so tests run without real binaries.
type Checker struct {
	lookPath func(string) (string, error)
	output   func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// New returns a Checker backed by the real OS.
func New() *Checker {
	return &Checker{
		lookPath: exec.LookPath,
		output: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// Tools verifies that ffmpeg and ffprobe resolve to executables. It is the
// startup gate: serve refuses to run when this fails.
func (c *Checker) Tools(cfg *config.Config) error {
	if _, err := c.lookPath(cfg.FFmpegPath); err != nil {
		return fmt.Errorf("%w (configured path %q)", ErrFFmpegNotFound, cfg.FFmpegPath)
	}
	if _, err := c.lookPath(cfg.FFprobePath); err != nil {
		return fmt.Errorf("%w (configured path %q)", ErrFFprobeNotFound, cfg.FFprobePath)
	}
	return nil
}

// Run produces the capability report consumed by the check subcommand and
// the tools endpoint. It never fails; an absent tool is reported as not
// found.
func (c *Checker) Run(ctx context.Context, cfg *config.Config) *Report {
	r := &Report{
		FFmpeg:  c.inspect(ctx, "ffmpeg", cfg.FFmpegPath),
		FFprobe: c.inspect(ctx, "ffprobe", cfg.FFprobePath),
	}
	if r.FFmpeg.Found {
		r.HardwareEncoder = c.hasEncoder(ctx, cfg.FFmpegPath, "h264_nvenc")
	}
	return r
}

func (c *Checker) inspect(ctx context.Context, name, configured string) Tool {
	t := Tool{Name: name}

	resolved, err := c.lookPath(configured)
	if err != nil {
		return t
	}
	t.Found = true
	t.Path = resolved

	out, err := c.output(ctx, configured, "-version")
	if err != nil {
		return t
	}
	t.Version = parseVersion(string(out))
	return t
}

// hasEncoder reports whether ffmpeg lists the named encoder.
func (c *Checker) hasEncoder(ctx context.Context, ffmpegPath, encoder string) bool {
	out, err := c.output(ctx, ffmpegPath, "-hide_banner", "-encoders")
	if err != nil {
		return false
	}
	return listsEncoder(string(out), encoder)
}

// listsEncoder scans an "ffmpeg -encoders" listing for an exact encoder
// name. Each encoder line is "V..... name  description"; match the name
// column so descriptions mentioning the encoder don't count.
func listsEncoder(listing, encoder string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == encoder {
			return true
		}
	}
	return false
}

// parseVersion pulls the version token out of "-version" output, whose
// first line reads "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out string) string {
	line := out
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(line)
}
