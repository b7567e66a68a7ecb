package domain

// CallQuality selects a quality preset for the media layer
type CallQuality string

const (
	QualityLow    CallQuality = "low"
	QualityMedium CallQuality = "medium"
	QualityHigh   CallQuality = "high"
)

// CallSettings is process-wide call configuration. It is read by the session
// engine when deciding whether an operation is permitted; it is set once at
// startup and mutable via an explicit update call.
type CallSettings struct {
	CameraEnabledByDefault bool        `json:"camera_enabled_by_default"`
	EnableCallRecording    bool        `json:"enable_call_recording"`
	Quality                CallQuality `json:"quality"`
}

// DefaultCallSettings returns the settings used when nothing is configured
func DefaultCallSettings() CallSettings {
	return CallSettings{
		CameraEnabledByDefault: true,
		EnableCallRecording:    true,
		Quality:                QualityMedium,
	}
}
