// Package encode drives ffmpeg to produce the planned output file.
package encode

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fitclip/internal/logger"
	"fitclip/internal/planner"
)

// Codec names passed to ffmpeg for each encoder selection.
const (
	codecSoftware = "libx264"
	codecHardware = "h264_nvenc"
)

// Progress represents the current encoding progress
type Progress struct {
	Frame   int64         `json:"frame"`
	FPS     float64       `json:"fps"`
	Size    int64         `json:"size"`    // Current output size in bytes
	Time    time.Duration `json:"time"`    // Current position in video
	Bitrate float64       `json:"bitrate"` // Current bitrate in kbits/s
	Speed   float64       `json:"speed"`   // Encoding speed (1.0 = realtime)
	Percent float64       `json:"percent"` // Progress percentage (0-100)
	ETA     time.Duration `json:"eta"`     // Estimated time remaining
}

// Result contains the result of an encode operation
type Result struct {
	OutputPath string        `json:"output_path"`
	OutputSize int64         `json:"output_size"`
	Duration   time.Duration `json:"duration"` // How long the encode took
}

// Error represents an encode failure with context from the ffmpeg run
type Error struct {
	Err    error
	Stderr string // Full stderr output
	Frames int64  // Frames processed before failure
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Encoder wraps ffmpeg invocation
type Encoder struct {
	ffmpegPath string
}

// NewEncoder creates a new Encoder with the given ffmpeg path
func NewEncoder(ffmpegPath string) *Encoder {
	return &Encoder{ffmpegPath: ffmpegPath}
}

// BuildArgs constructs the ffmpeg argument list for a plan.
// Structure: global flags, input, encode parameters, progress reporting, output.
func BuildArgs(sourcePath, outputPath string, plan *planner.Plan) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-i", sourcePath,
		"-y",
		"-progress", "pipe:1",
		"-nostats",
	}

	if plan.Width > 0 && plan.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", plan.Width, plan.Height))
	}
	if plan.FrameRate > 0 {
		args = append(args, "-r", strconv.FormatFloat(plan.FrameRate, 'g', -1, 64))
	}

	codec := codecSoftware
	if plan.Encoder == "hardware" {
		codec = codecHardware
	}
	args = append(args, "-c:v", codec, "-b:v", fmt.Sprintf("%dk", plan.VideoKbps))
	if plan.SpeedPreset != "" {
		args = append(args, "-preset", plan.SpeedPreset)
	}

	if plan.AudioKbps > 0 {
		args = append(args, "-c:a", "aac", "-b:a", fmt.Sprintf("%dk", plan.AudioKbps))
	} else {
		args = append(args, "-an")
	}

	args = append(args, "-movflags", "+faststart")
	args = append(args, outputPath)

	return args
}

// Encode runs ffmpeg with the plan's parameters, writing to outputPath.
// It sends progress updates to progressCh and closes it when parsing ends.
// duration is the probed source duration, used to compute percent complete.
// A cancelled context kills the process, removes the partial output, and
// returns the context error rather than an *Error.
func (e *Encoder) Encode(
	ctx context.Context,
	sourcePath string,
	outputPath string,
	plan *planner.Plan,
	duration time.Duration,
	progressCh chan<- Progress,
) (*Result, error) {
	startTime := time.Now()

	args := BuildArgs(sourcePath, outputPath, plan)
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	logger.Debug("ffmpeg command", "args", strings.Join(args, " "))

	// Capture stdout for progress
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		close(progressCh)
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for error messages
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		close(progressCh)
		os.Remove(outputPath)
		return nil, &Error{Err: fmt.Errorf("start ffmpeg: %w", err)}
	}

	// Track last frame count for error reporting
	var lastFrameCount int64

	// Parse progress from stdout
	parseDone := make(chan struct{})
	go func() {
		defer close(progressCh)
		defer close(parseDone)

		scanner := bufio.NewScanner(stdout)
		var current Progress

		for scanner.Scan() {
			if !parseProgressLine(scanner.Text(), &current) {
				continue
			}
			lastFrameCount = current.Frame
			finishProgress(&current, duration, startTime)

			// Send progress update (non-blocking)
			select {
			case progressCh <- current:
			default:
			}
		}
	}()

	waitErr := cmd.Wait()
	<-parseDone

	if waitErr != nil {
		// Clean up partial output file
		os.Remove(outputPath)

		if ctx.Err() != nil {
			// Killed by cancellation, not a failure
			return nil, ctx.Err()
		}

		stderrOutput := stderr.String()
		if stderrOutput != "" {
			logger.Error("ffmpeg failed", "error", waitErr, "stderr", stderrTail(stderrOutput, 5))
		}
		return nil, &Error{
			Err:    fmt.Errorf("ffmpeg failed: %w", waitErr),
			Stderr: stderrOutput,
			Frames: lastFrameCount,
		}
	}

	// A zero-exit run with no usable output still counts as a failure
	outputInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("output file missing: %w", err), Stderr: stderr.String()}
	}
	if outputInfo.Size() == 0 {
		os.Remove(outputPath)
		return nil, &Error{Err: fmt.Errorf("output file is empty"), Stderr: stderr.String()}
	}

	return &Result{
		OutputPath: outputPath,
		OutputSize: outputInfo.Size(),
		Duration:   time.Since(startTime),
	}, nil
}

// parseProgressLine folds one key=value line from ffmpeg -progress output
// into current. It returns true when the line completes a progress block
// (the "progress" key), meaning current is ready to be reported.
// Unknown keys and N/A values are ignored: progress is best-effort, only
// the exit code decides success.
func parseProgressLine(line string, current *Progress) bool {
	idx := strings.Index(line, "=")
	if idx <= 0 {
		return false
	}
	key := line[:idx]
	value := strings.TrimSpace(line[idx+1:])

	switch key {
	case "frame":
		current.Frame, _ = strconv.ParseInt(value, 10, 64)
	case "fps":
		current.FPS, _ = strconv.ParseFloat(value, 64)
	case "total_size":
		if value != "N/A" {
			current.Size, _ = strconv.ParseInt(value, 10, 64)
		}
	case "out_time_us":
		if value != "N/A" {
			us, _ := strconv.ParseInt(value, 10, 64)
			current.Time = time.Duration(us) * time.Microsecond
		}
	case "bitrate":
		// Format: "1234.5kbits/s" or "N/A"
		if value != "N/A" {
			value = strings.TrimSuffix(value, "kbits/s")
			current.Bitrate, _ = strconv.ParseFloat(value, 64)
		}
	case "speed":
		// Format: "1.5x" or "N/A"
		if value != "N/A" {
			value = strings.TrimSuffix(value, "x")
			current.Speed, _ = strconv.ParseFloat(value, 64)
		}
	case "progress":
		// "continue" or "end"
		return value == "continue" || value == "end"
	}
	return false
}

// finishProgress derives percent and ETA from the accumulated fields
func finishProgress(current *Progress, duration time.Duration, startTime time.Time) {
	if current.Time > 0 && duration > 0 {
		current.Percent = float64(current.Time) / float64(duration) * 100
		if current.Percent > 100 {
			current.Percent = 100
		}
	}

	if current.Speed > 0 && duration > 0 {
		remaining := duration - current.Time
		if remaining < 0 {
			remaining = 0
		}
		current.ETA = time.Duration(float64(remaining) / current.Speed)
	}
}

// stderrTail returns the last n lines of stderr joined for logging
func stderrTail(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// BuildTempPath generates the in-progress output path for an encode.
// The temp file lands next to the final output unless tempDir overrides it.
func BuildTempPath(outputPath, tempDir string) string {
	dir := tempDir
	if dir == "" {
		dir = filepath.Dir(outputPath)
	}
	base := filepath.Base(outputPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, name+".fitclip.tmp.mp4")
}

// Finalize moves the finished temp file to its final path.
// Rename is attempted first; a copy-then-delete fallback handles temp
// directories on a different filesystem than the output.
func Finalize(tempPath, finalPath string) error {
	if err := os.Rename(tempPath, finalPath); err == nil {
		return nil
	}

	if err := copyFile(tempPath, finalPath); err != nil {
		return fmt.Errorf("move temp to final location: %w", err)
	}
	os.Remove(tempPath)
	return nil
}

// copyFile copies src to dst, syncing before close
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
