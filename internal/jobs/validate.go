package jobs

import "fmt"

// ValidEncoders contains the accepted encoder backend names.
var ValidEncoders = []string{EncoderSoftware, EncoderHardware}

// ValidSpeedPresets contains the accepted x264 preset names, fastest first.
var ValidSpeedPresets = []string{
	"ultrafast", "superfast", "veryfast", "faster", "fast",
	"medium", "slow", "slower", "veryslow",
}

// IsValidEncoder returns true if the encoder backend name is valid.
func IsValidEncoder(name string) bool {
	for _, valid := range ValidEncoders {
		if name == valid {
			return true
		}
	}
	return false
}

// IsValidSpeedPreset returns true if the preset name is valid.
func IsValidSpeedPreset(name string) bool {
	for _, valid := range ValidSpeedPresets {
		if name == valid {
			return true
		}
	}
	return false
}

// Validate checks a settings snapshot before it is accepted into the queue.
// Errors wrap ErrInvalidSettings.
func (s Settings) Validate() error {
	if s.TargetSizeBytes <= 0 {
		return fmt.Errorf("%w: target size must be positive", ErrInvalidSettings)
	}
	if !IsValidEncoder(s.Encoder) {
		return fmt.Errorf("%w: unknown encoder %q", ErrInvalidSettings, s.Encoder)
	}
	if s.SpeedPreset != "" && !IsValidSpeedPreset(s.SpeedPreset) {
		return fmt.Errorf("%w: unknown speed preset %q", ErrInvalidSettings, s.SpeedPreset)
	}
	if s.MaxHeight < 0 {
		return fmt.Errorf("%w: max height cannot be negative", ErrInvalidSettings)
	}
	if s.AudioBitrateKbps < 0 {
		return fmt.Errorf("%w: audio bitrate cannot be negative", ErrInvalidSettings)
	}
	if s.FrameRateCap < 0 {
		return fmt.Errorf("%w: frame rate cap cannot be negative", ErrInvalidSettings)
	}
	if s.OverheadFactor < 0 || s.OverheadFactor > 1 {
		return fmt.Errorf("%w: overhead factor must be between 0 and 1", ErrInvalidSettings)
	}
	return nil
}
