package models

import (
	"errors"
	"time"
)

// Alert severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert represents a detected risk event. Alerts come either from the hosted
// analysis backend or from the local monitor.
type Alert struct {
	ID        string    `json:"id"`
	Severity  string    `json:"severity"`
	AlertType string    `json:"alert_type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`

	// Set only for alerts raised by the local monitor.
	Level     *RiskLevel `json:"level,omitempty"`
	ReadingID string     `json:"reading_id,omitempty"`
}

// SeverityFor maps a risk level to the alert severity it raises.
func SeverityFor(l RiskLevel) string {
	switch l {
	case RiskDanger:
		return SeverityCritical
	case RiskWarning:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// IsCritical reports whether the alert has critical severity
func (a *Alert) IsCritical() bool {
	return a.Severity == SeverityCritical
}

// Validate checks that all alert fields are valid
func (a *Alert) Validate() error {
	if a.ID == "" {
		return errors.New("alert ID must not be empty")
	}
	switch a.Severity {
	case SeverityCritical, SeverityWarning, SeverityInfo:
	default:
		return errors.New("severity must be critical, warning or info")
	}
	if a.AlertType == "" {
		return errors.New("alert type must not be empty")
	}
	if a.CreatedAt.IsZero() {
		return errors.New("created at must be set")
	}
	if a.Level != nil && !a.Level.Valid() {
		return errors.New("level must be safe, warning or danger")
	}
	return nil
}
