// Package planner derives encode parameters from a size target and probed
// media properties. It is pure calculation with no I/O.
package planner

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// MinVideoKbps is the floor for the computed video bitrate. An encoder
	// cannot target a non-positive bitrate, so plans never go below this
	// even when the size target is unreachable.
	MinVideoKbps = 8

	// MinAudioKbps and MaxAudioKbps bound the audio bitrate when it has to
	// be reduced to fit the budget.
	MinAudioKbps = 64
	MaxAudioKbps = 256

	// DefaultAudioKbps is used when neither the request nor the probe
	// provides an audio bitrate.
	DefaultAudioKbps = 128

	// DefaultOverheadFactor is the fraction of the target given to streams
	// when no factor is configured. The rest absorbs container overhead.
	DefaultOverheadFactor = 0.95
)

// Sentinel errors for invalid planning inputs.
// These can be checked with errors.Is().
var (
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrInvalidTarget   = errors.New("target size must be positive")
)

// Error represents a planning failure
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("plan: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Input carries everything Compute needs: the job's settings snapshot plus
// the probed source properties.
type Input struct {
	TargetSizeBytes int64
	Duration        time.Duration

	SourceWidth     int
	SourceHeight    int
	SourceFrameRate float64
	SourceAudioKbps int
	HasAudio        bool

	AudioBitrateKbps int     // requested audio bitrate; 0 = derive from source
	MaxHeight        int     // resolution cap; 0 = keep source
	FrameRateCap     float64 // frame rate cap; 0 = keep source
	OverheadFactor   float64 // 0 = DefaultOverheadFactor

	Encoder     string
	SpeedPreset string
}

// Plan holds the computed encode parameters
type Plan struct {
	VideoKbps   int     `json:"video_kbps"`
	AudioKbps   int     `json:"audio_kbps"`  // 0 = no audio track
	Width       int     `json:"width"`       // 0 = keep source resolution
	Height      int     `json:"height"`      // 0 = keep source resolution
	FrameRate   float64 `json:"frame_rate"`  // 0 = keep source frame rate
	Encoder     string  `json:"encoder"`
	SpeedPreset string  `json:"speed_preset"`
}

// Compute derives an encode plan from the input. It is deterministic:
// identical inputs always produce identical plans.
//
// The bitrate budget is target_size * overhead_factor spread over the
// duration. Audio gets the requested bitrate (or the probed source rate,
// or a default). Video gets the remainder. If that would push video below
// its floor, audio is cut back to a tenth of the total budget first and
// then as far as needed, so video bitrate never goes non-positive.
func Compute(in Input) (*Plan, error) {
	if in.TargetSizeBytes <= 0 {
		return nil, &Error{Err: ErrInvalidTarget}
	}
	if in.Duration <= 0 {
		return nil, &Error{Err: ErrInvalidDuration}
	}

	overhead := in.OverheadFactor
	if overhead <= 0 || overhead > 1 {
		overhead = DefaultOverheadFactor
	}

	effective := float64(in.TargetSizeBytes) * overhead
	totalKbps := effective * 8 / 1000 / in.Duration.Seconds()

	audio := resolveAudioKbps(in)
	video := totalKbps - audio

	if video < MinVideoKbps && audio > 0 {
		// Budget too small for the requested audio. Give audio a tenth
		// of the total instead, within its usable range.
		audio = clampFloat(totalKbps/10, MinAudioKbps, MaxAudioKbps)
		video = totalKbps - audio

		if video < MinVideoKbps {
			// Still over budget, hand audio whatever is left above the
			// video floor.
			audio = math.Max(totalKbps-MinVideoKbps, 0)
			video = totalKbps - audio
		}
	}
	if video < MinVideoKbps {
		video = MinVideoKbps
	}

	plan := &Plan{
		VideoKbps:   int(video),
		AudioKbps:   int(audio),
		Encoder:     in.Encoder,
		SpeedPreset: in.SpeedPreset,
	}
	plan.Width, plan.Height = scaleResolution(in.SourceWidth, in.SourceHeight, in.MaxHeight)
	if in.FrameRateCap > 0 && in.SourceFrameRate > in.FrameRateCap {
		plan.FrameRate = in.FrameRateCap
	}

	return plan, nil
}

// resolveAudioKbps picks the starting audio bitrate: the requested rate,
// else the probed source rate, else a default. Sources with no audio
// stream get 0 so the encode drops audio entirely.
func resolveAudioKbps(in Input) float64 {
	if !in.HasAudio {
		return 0
	}
	if in.AudioBitrateKbps > 0 {
		return float64(in.AudioBitrateKbps)
	}
	if in.SourceAudioKbps > 0 {
		return float64(in.SourceAudioKbps)
	}
	return DefaultAudioKbps
}

// scaleResolution caps the output height, preserving aspect ratio and
// rounding to even dimensions. Returns (0, 0) when no scaling is needed.
// It never scales up.
func scaleResolution(srcWidth, srcHeight, maxHeight int) (int, int) {
	if maxHeight <= 0 || srcHeight <= 0 || srcWidth <= 0 {
		return 0, 0
	}
	if srcHeight <= maxHeight {
		return 0, 0
	}

	height := maxHeight - maxHeight%2
	width := int(math.Round(float64(srcWidth) * float64(height) / float64(srcHeight)))
	width -= width % 2

	return width, height
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
