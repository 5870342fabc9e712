package types

import "time"

// Stage identifies where a window is in its build lifecycle.
type Stage string

// Stage values for the per-window state machine.
const (
	StagePlanned    Stage = "PLANNED"
	StageWaiting    Stage = "WAITING"
	StageBuilding   Stage = "BUILDING"
	StageValidating Stage = "VALIDATING"
	StagePublishing Stage = "PUBLISHING"
	StageDone       Stage = "DONE"
	StageCleaningUp Stage = "CLEANING_UP"
	StageAborted    Stage = "ABORTED"
)

// AlertLevel classifies alert severity.
type AlertLevel string

const (
	AlertLevelError   AlertLevel = "error"
	AlertLevelWarning AlertLevel = "warning"
	AlertLevelInfo    AlertLevel = "info"
)

// AlertType defines the alert sink type.
type AlertType string

// AlertType values enumerate the supported alert sink backends.
const (
	AlertConsole AlertType = "console"
	AlertWebhook AlertType = "webhook"
	AlertFile    AlertType = "file"
	AlertSNS     AlertType = "sns"
)

// Alert is a notification about a window that needs human attention.
type Alert struct {
	Level     AlertLevel `json:"level"`
	Window    string     `json:"window,omitempty"`
	Stage     Stage      `json:"stage,omitempty"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// AlertConfig configures one alert sink.
type AlertConfig struct {
	Type     AlertType `yaml:"type" json:"type"`
	URL      string    `yaml:"url,omitempty" json:"url,omitempty"`
	Path     string    `yaml:"path,omitempty" json:"path,omitempty"`
	TopicARN string    `yaml:"topicArn,omitempty" json:"topicArn,omitempty"`
}
