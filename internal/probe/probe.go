// Package probe extracts media properties from source files via ffprobe.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Result contains metadata about a video file
type Result struct {
	Path       string        `json:"path"`
	Size       int64         `json:"size"`
	Duration   time.Duration `json:"duration"`
	Format     string        `json:"format"`
	VideoCodec string        `json:"video_codec"`
	AudioCodec string        `json:"audio_codec"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Bitrate    int64         `json:"bitrate"` // container bitrate, bits per second
	FrameRate  float64       `json:"frame_rate"`
	HasAudio   bool          `json:"has_audio"`
	AudioKbps  int           `json:"audio_kbps"` // first audio stream bitrate, 0 if unknown
}

// Error represents a probe failure. Path identifies the file that failed.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ffprobeOutput represents the JSON output from ffprobe
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	Index        int    `json:"index"`
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	BitRate      string `json:"bit_rate"`
}

// Prober wraps ffprobe functionality
type Prober struct {
	ffprobePath string

	// run executes ffprobe and returns its stdout. Overridable in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewProber creates a new Prober with the given ffprobe path
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		run:         runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("ffprobe: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	return output, nil
}

// Probe returns metadata about a video file.
// It fails if the file has no video stream or no positive duration, since
// later stages cannot plan an encode without them.
func (p *Prober) Probe(ctx context.Context, path string) (*Result, error) {
	output, err := p.run(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Path: path, Err: err}
	}

	result, err := parseOutput(path, output)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return result, nil
}

// parseOutput decodes ffprobe JSON into a Result
func parseOutput(path string, data []byte) (*Result, error) {
	var probeOutput ffprobeOutput
	if err := json.Unmarshal(data, &probeOutput); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	result := &Result{
		Path:   path,
		Format: probeOutput.Format.FormatName,
	}

	// Parse format-level metadata
	if probeOutput.Format.Size != "" {
		result.Size, _ = strconv.ParseInt(probeOutput.Format.Size, 10, 64)
	}
	if probeOutput.Format.BitRate != "" {
		result.Bitrate, _ = strconv.ParseInt(probeOutput.Format.BitRate, 10, 64)
	}
	if probeOutput.Format.Duration != "" {
		durationSec, _ := strconv.ParseFloat(probeOutput.Format.Duration, 64)
		result.Duration = time.Duration(durationSec * float64(time.Second))
	}

	// Parse stream-level metadata
	for i := range probeOutput.Streams {
		stream := &probeOutput.Streams[i]
		switch stream.CodecType {
		case "video":
			if result.VideoCodec == "" { // Take first video stream
				result.VideoCodec = stream.CodecName
				result.Width = stream.Width
				result.Height = stream.Height
				result.FrameRate = parseFrameRate(stream.RFrameRate)
				if result.FrameRate == 0 {
					result.FrameRate = parseFrameRate(stream.AvgFrameRate)
				}
			}
		case "audio":
			if result.AudioCodec == "" { // Take first audio stream
				result.AudioCodec = stream.CodecName
				result.HasAudio = true
				if stream.BitRate != "" {
					bps, _ := strconv.ParseInt(stream.BitRate, 10, 64)
					result.AudioKbps = int(bps / 1000)
				}
			}
		}
	}

	if result.VideoCodec == "" {
		return nil, fmt.Errorf("no video stream found")
	}
	if result.Duration <= 0 {
		return nil, fmt.Errorf("missing or invalid duration")
	}

	return result, nil
}

// parseFrameRate parses a frame rate string like "30000/1001" or "30/1"
func parseFrameRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}

// IsVideoFile returns true if the file extension suggests a video file
func IsVideoFile(path string) bool {
	ext := strings.ToLower(path)
	videoExtensions := []string{
		".mkv", ".mp4", ".avi", ".mov", ".wmv", ".flv",
		".webm", ".m4v", ".mpeg", ".mpg", ".m2ts", ".ts",
	}
	for _, ve := range videoExtensions {
		if strings.HasSuffix(ext, ve) {
			return true
		}
	}
	return false
}
