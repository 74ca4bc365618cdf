package jobs

import (
	"time"
)

// Status represents the current state of a job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusProbing   Status = "probing"
	StatusPlanning  Status = "planning"
	StatusEncoding  Status = "encoding"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Encoder selections carried in job settings.
const (
	EncoderSoftware = "software"
	EncoderHardware = "hardware"
)

// validNext defines the forward transitions of the job state machine.
// Cancellation is handled separately: any non-terminal status may move
// directly to StatusCancelled.
var validNext = map[Status][]Status{
	StatusQueued:   {StatusProbing},
	StatusProbing:  {StatusPlanning, StatusFailed},
	StatusPlanning: {StatusEncoding, StatusFailed},
	StatusEncoding: {StatusSucceeded, StatusFailed},
}

// validTransition reports whether a job may move from one status to another
func validTransition(from, to Status) bool {
	if to == StatusCancelled {
		return !from.IsTerminal()
	}
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for statuses a job never leaves
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// IsActive returns true while a job is being processed
func (s Status) IsActive() bool {
	return s == StatusProbing || s == StatusPlanning || s == StatusEncoding
}

// Settings is the encode configuration snapshot attached to a job at
// enqueue time. Changing defaults later never affects queued jobs.
type Settings struct {
	TargetSizeBytes  int64   `json:"target_size_bytes"`
	Encoder          string  `json:"encoder"`
	SpeedPreset      string  `json:"speed_preset,omitempty"`
	MaxHeight        int     `json:"max_height,omitempty"`
	AudioBitrateKbps int     `json:"audio_bitrate_kbps,omitempty"`
	FrameRateCap     float64 `json:"frame_rate_cap,omitempty"`
	OverheadFactor   float64 `json:"overhead_factor"`
}

// Job represents one video compression task
type Job struct {
	ID         string   `json:"id"`
	SourcePath string   `json:"source_path"`
	OutputPath string   `json:"output_path"`
	TempPath   string   `json:"temp_path,omitempty"` // In-progress file during encoding
	Settings   Settings `json:"settings"`

	Status     Status  `json:"status"`
	Progress   float64 `json:"progress"` // 0-100, meaningful while encoding
	Speed      float64 `json:"speed,omitempty"`
	ETASeconds int64   `json:"eta_seconds,omitempty"`
	Error      string  `json:"error,omitempty"`

	SourceSize int64 `json:"source_size,omitempty"`
	OutputSize int64 `json:"output_size,omitempty"` // Populated after completion

	// Probed source properties, populated during the probing stage
	DurationMs int64   `json:"duration_ms,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
	AudioKbps  int     `json:"audio_kbps,omitempty"`

	// Computed encode parameters, populated during the planning stage
	PlanVideoKbps int     `json:"plan_video_kbps,omitempty"`
	PlanAudioKbps int     `json:"plan_audio_kbps,omitempty"`
	PlanWidth     int     `json:"plan_width,omitempty"`
	PlanHeight    int     `json:"plan_height,omitempty"`
	PlanFrameRate float64 `json:"plan_frame_rate,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// IsActive returns true while the job is being processed
func (j *Job) IsActive() bool {
	return j.Status.IsActive()
}

// Copy returns a shallow copy safe to hand to subscribers and callers
func (j *Job) Copy() *Job {
	c := *j
	return &c
}
