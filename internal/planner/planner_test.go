package planner

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func TestComputeTargetBudget(t *testing.T) {
	// 8 MB over 120 seconds with a 0.95 overhead factor leaves
	// ~506.7 kbps total, 128 of which goes to audio.
	in := Input{
		TargetSizeBytes:  8_000_000,
		Duration:         120 * time.Second,
		HasAudio:         true,
		AudioBitrateKbps: 128,
		OverheadFactor:   0.95,
	}

	plan, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if plan.AudioKbps != 128 {
		t.Errorf("expected audio 128 kbps, got %d", plan.AudioKbps)
	}
	if plan.VideoKbps < 377 || plan.VideoKbps > 379 {
		t.Errorf("expected video ~378 kbps, got %d", plan.VideoKbps)
	}
}

func TestComputeBudgetIdentity(t *testing.T) {
	// The planned streams should fill the overhead-adjusted target within
	// rounding tolerance: (video+audio) * duration * 125 ~ target * factor.
	tests := []struct {
		name     string
		target   int64
		duration time.Duration
		audio    int
	}{
		{"8MB 2min", 8_000_000, 120 * time.Second, 128},
		{"25MB 5min", 25_000_000, 5 * time.Minute, 0},
		{"10MiB 30s", 10 * 1024 * 1024, 30 * time.Second, 192},
		{"50MB 1h", 50_000_000, time.Hour, 96},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{
				TargetSizeBytes:  tt.target,
				Duration:         tt.duration,
				HasAudio:         true,
				SourceAudioKbps:  160,
				AudioBitrateKbps: tt.audio,
				OverheadFactor:   0.95,
			}

			plan, err := Compute(in)
			if err != nil {
				t.Fatalf("Compute failed: %v", err)
			}

			if plan.VideoKbps <= 0 {
				t.Fatalf("video bitrate must be positive, got %d", plan.VideoKbps)
			}
			if plan.AudioKbps < 0 {
				t.Fatalf("audio bitrate must not be negative, got %d", plan.AudioKbps)
			}

			planned := float64(plan.VideoKbps+plan.AudioKbps) * tt.duration.Seconds() * 125
			want := float64(tt.target) * 0.95
			// Integer truncation loses up to 2 kbps across both streams
			tolerance := tt.duration.Seconds()*125*2 + 1
			if diff := math.Abs(planned - want); diff > tolerance {
				t.Errorf("planned bytes %.0f differs from target %.0f by %.0f (tolerance %.0f)",
					planned, want, diff, tolerance)
			}
		})
	}
}

func TestComputeAudioFallbacks(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		probed    int
		hasAudio  bool
		expected  int
	}{
		{"requested wins", 192, 320, true, 192},
		{"probed when unrequested", 0, 160, true, 160},
		{"default when unknown", 0, 0, true, DefaultAudioKbps},
		{"zero without audio stream", 128, 160, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{
				TargetSizeBytes:  100_000_000,
				Duration:         60 * time.Second,
				HasAudio:         tt.hasAudio,
				SourceAudioKbps:  tt.probed,
				AudioBitrateKbps: tt.requested,
			}

			plan, err := Compute(in)
			if err != nil {
				t.Fatalf("Compute failed: %v", err)
			}
			if plan.AudioKbps != tt.expected {
				t.Errorf("expected audio %d kbps, got %d", tt.expected, plan.AudioKbps)
			}
		})
	}
}

func TestComputeAudioReducedForTinyTargets(t *testing.T) {
	// 2 MB over 200 seconds leaves ~76 kbps total. The requested 128 kbps
	// audio would starve video, so audio drops to a tenth of the budget
	// bounded by its floor.
	in := Input{
		TargetSizeBytes:  2_000_000,
		Duration:         200 * time.Second,
		HasAudio:         true,
		AudioBitrateKbps: 128,
		OverheadFactor:   0.95,
	}

	plan, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if plan.AudioKbps >= 128 {
		t.Errorf("expected audio to be reduced below 128, got %d", plan.AudioKbps)
	}
	if plan.AudioKbps != MinAudioKbps {
		t.Errorf("expected audio at floor %d, got %d", MinAudioKbps, plan.AudioKbps)
	}
	if plan.VideoKbps < MinVideoKbps {
		t.Errorf("video %d fell below floor %d", plan.VideoKbps, MinVideoKbps)
	}
}

func TestComputeVideoFloorHolds(t *testing.T) {
	// Absurdly small target: video still lands on its floor, audio gives
	// way entirely if needed.
	in := Input{
		TargetSizeBytes:  100_000,
		Duration:         10 * time.Minute,
		HasAudio:         true,
		AudioBitrateKbps: 128,
	}

	plan, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if plan.VideoKbps < MinVideoKbps {
		t.Errorf("video %d fell below floor %d", plan.VideoKbps, MinVideoKbps)
	}
	if plan.AudioKbps < 0 {
		t.Errorf("audio must not be negative, got %d", plan.AudioKbps)
	}
}

func TestScaleResolution(t *testing.T) {
	tests := []struct {
		name       string
		srcW, srcH int
		maxHeight  int
		wantW      int
		wantH      int
	}{
		{"1080p to 720p", 1920, 1080, 720, 1280, 720},
		{"no cap", 1920, 1080, 0, 0, 0},
		{"never upscale", 1280, 720, 1080, 0, 0},
		{"at cap exactly", 1280, 720, 720, 0, 0},
		{"odd width rounds even", 1916, 1080, 720, 1276, 720},
		{"odd cap rounds even", 1920, 1080, 719, 1276, 718},
		{"480p to 360p", 854, 480, 360, 640, 360},
		{"vertical video", 1080, 1920, 1280, 720, 1280},
		{"missing source dims", 0, 0, 720, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := scaleResolution(tt.srcW, tt.srcH, tt.maxHeight)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("scaleResolution(%d, %d, %d) = %dx%d, expected %dx%d",
					tt.srcW, tt.srcH, tt.maxHeight, w, h, tt.wantW, tt.wantH)
			}
			if w%2 != 0 || h%2 != 0 {
				t.Errorf("dimensions must be even, got %dx%d", w, h)
			}
			if w > tt.srcW || h > tt.srcH {
				t.Errorf("scaling must never increase dimensions: %dx%d from %dx%d",
					w, h, tt.srcW, tt.srcH)
			}
		})
	}
}

func TestComputeFrameRateCap(t *testing.T) {
	tests := []struct {
		name     string
		source   float64
		cap      float64
		expected float64
	}{
		{"above cap", 60, 30, 30},
		{"below cap", 24, 30, 0},
		{"at cap", 30, 30, 0},
		{"no cap", 120, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{
				TargetSizeBytes: 8_000_000,
				Duration:        60 * time.Second,
				SourceFrameRate: tt.source,
				FrameRateCap:    tt.cap,
			}

			plan, err := Compute(in)
			if err != nil {
				t.Fatalf("Compute failed: %v", err)
			}
			if plan.FrameRate != tt.expected {
				t.Errorf("expected frame rate %f, got %f", tt.expected, plan.FrameRate)
			}
		})
	}
}

func TestComputeDeterministic(t *testing.T) {
	in := Input{
		TargetSizeBytes: 10 * 1024 * 1024,
		Duration:        95 * time.Second,
		SourceWidth:     2560,
		SourceHeight:    1440,
		SourceFrameRate: 59.94,
		SourceAudioKbps: 192,
		HasAudio:        true,
		MaxHeight:       1080,
		FrameRateCap:    30,
		OverheadFactor:  0.95,
		Encoder:         "software",
		SpeedPreset:     "slow",
	}

	first, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	second, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("identical inputs produced different plans:\n%+v\n%+v", first, second)
	}
}

func TestComputeInvalidInputs(t *testing.T) {
	tests := []struct {
		name    string
		in      Input
		wantErr error
	}{
		{"zero target", Input{TargetSizeBytes: 0, Duration: time.Minute}, ErrInvalidTarget},
		{"negative target", Input{TargetSizeBytes: -1, Duration: time.Minute}, ErrInvalidTarget},
		{"zero duration", Input{TargetSizeBytes: 1000, Duration: 0}, ErrInvalidDuration},
		{"negative duration", Input{TargetSizeBytes: 1000, Duration: -time.Second}, ErrInvalidDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.in)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			var perr *Error
			if !errors.As(err, &perr) {
				t.Errorf("expected *planner.Error, got %T", err)
			}
		})
	}
}

func TestComputeDefaultOverhead(t *testing.T) {
	in := Input{
		TargetSizeBytes:  8_000_000,
		Duration:         120 * time.Second,
		HasAudio:         true,
		AudioBitrateKbps: 128,
	}

	implicit, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	in.OverheadFactor = DefaultOverheadFactor
	explicit, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if !reflect.DeepEqual(implicit, explicit) {
		t.Errorf("unset overhead factor should default to %v:\n%+v\n%+v",
			DefaultOverheadFactor, implicit, explicit)
	}
}

func TestComputeCarriesEncoderSettings(t *testing.T) {
	in := Input{
		TargetSizeBytes: 8_000_000,
		Duration:        time.Minute,
		Encoder:         "hardware",
		SpeedPreset:     "fast",
	}

	plan, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if plan.Encoder != "hardware" {
		t.Errorf("expected encoder hardware, got %s", plan.Encoder)
	}
	if plan.SpeedPreset != "fast" {
		t.Errorf("expected preset fast, got %s", plan.SpeedPreset)
	}
}
