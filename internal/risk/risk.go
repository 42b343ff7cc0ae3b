// Package risk classifies sensor snapshots into fire risk levels.
//
// Each of the five readings is compared against a fixed threshold. The verdict
// is then decided in precedence order, first match wins:
//
//	danger  if overCount >= 2, temperature > 40 or CO > 25
//	warning if overCount >= 1 or temperature > 30
//	safe    otherwise
//
// Missing readings never count as exceeding a threshold. They are reported on
// the Assessment, and when MissingAsWarning is set they floor the verdict at
// warning so that sensor dropout cannot read as safe.
//
// Classification is a pure function of the reading; a Classifier holds only
// immutable configuration and is safe for concurrent use.
package risk

import (
	"fmt"
	"strings"

	"github.com/rewired-gh/firewatch/internal/models"
)

// Escalator limits shared by every profile.
const (
	TemperatureDangerEscalator  = 40.0
	TemperatureWarningEscalator = 30.0
	CODangerEscalator           = 25.0
)

// Profile names.
const (
	ProfileDemo = "demo"
	ProfileLive = "live"
)

// Thresholds holds the per-field limits a reading must strictly exceed to
// count as over threshold.
type Thresholds struct {
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	Humidity    float64 `json:"humidity" mapstructure:"humidity"`
	CO2         float64 `json:"co2_level" mapstructure:"co2_level"`
	CO          float64 `json:"co_level" mapstructure:"co_level"`
	H2          float64 `json:"h2_level" mapstructure:"h2_level"`
}

// DemoThresholds are the limits used alongside the synthetic generator.
func DemoThresholds() Thresholds {
	return Thresholds{Temperature: 35, Humidity: 70, CO2: 1000, CO: 50, H2: 40}
}

// LiveThresholds are the limits used for hardware readings.
func LiveThresholds() Thresholds {
	return Thresholds{Temperature: 40, Humidity: 80, CO2: 1000, CO: 50, H2: 40}
}

// ProfileThresholds resolves a profile name.
func ProfileThresholds(name string) (Thresholds, error) {
	switch strings.ToLower(name) {
	case ProfileDemo:
		return DemoThresholds(), nil
	case ProfileLive:
		return LiveThresholds(), nil
	default:
		return Thresholds{}, fmt.Errorf("unknown risk profile %q (want %s or %s)", name, ProfileDemo, ProfileLive)
	}
}

// Limit returns the threshold for a field.
func (t Thresholds) Limit(f models.Field) float64 {
	switch f {
	case models.FieldTemperature:
		return t.Temperature
	case models.FieldHumidity:
		return t.Humidity
	case models.FieldCO2:
		return t.CO2
	case models.FieldCO:
		return t.CO
	case models.FieldH2:
		return t.H2
	default:
		return 0
	}
}

// Validate checks that every threshold is positive.
func (t Thresholds) Validate() error {
	for _, f := range models.Fields {
		if t.Limit(f) <= 0 {
			return fmt.Errorf("threshold for %s must be positive", f)
		}
	}
	return nil
}

// Options tune classifier behaviour beyond the thresholds.
type Options struct {
	// MissingAsWarning floors the verdict at warning when any reading is missing.
	MissingAsWarning bool
}

// Classifier maps readings to risk levels.
type Classifier struct {
	thresholds Thresholds
	opts       Options
}

// New creates a Classifier with the given thresholds.
func New(t Thresholds, opts Options) *Classifier {
	return &Classifier{thresholds: t, opts: opts}
}

// Thresholds returns the classifier's limits.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Assessment is the detailed outcome of classifying one reading.
type Assessment struct {
	Level      models.RiskLevel `json:"level"`
	OverCount  int              `json:"over_count"`
	Exceeded   []models.Field   `json:"exceeded,omitempty"`
	Missing    []models.Field   `json:"missing,omitempty"`
	Escalators []string         `json:"escalators,omitempty"`
}

// Complete reports whether all five readings were present.
func (a Assessment) Complete() bool {
	return len(a.Missing) == 0
}

// Escalator names recorded on an Assessment.
const (
	EscalatorTemperatureDanger  = "temperature_danger"
	EscalatorTemperatureWarning = "temperature_warning"
	EscalatorCODanger           = "co_danger"
	EscalatorMissingReading     = "missing_reading"
)

// Assess classifies a reading and explains the verdict.
func (c *Classifier) Assess(r models.Reading) Assessment {
	var a Assessment
	for _, f := range models.Fields {
		m := r.Get(f)
		if !m.Valid {
			a.Missing = append(a.Missing, f)
			continue
		}
		if m.Exceeds(c.thresholds.Limit(f)) {
			a.Exceeded = append(a.Exceeded, f)
		}
	}
	a.OverCount = len(a.Exceeded)

	tempDanger := r.Temperature.Exceeds(TemperatureDangerEscalator)
	tempWarning := r.Temperature.Exceeds(TemperatureWarningEscalator)
	coDanger := r.COLevel.Exceeds(CODangerEscalator)

	if tempDanger {
		a.Escalators = append(a.Escalators, EscalatorTemperatureDanger)
	} else if tempWarning {
		a.Escalators = append(a.Escalators, EscalatorTemperatureWarning)
	}
	if coDanger {
		a.Escalators = append(a.Escalators, EscalatorCODanger)
	}

	switch {
	case a.OverCount >= 2 || tempDanger || coDanger:
		a.Level = models.RiskDanger
	case a.OverCount >= 1 || tempWarning:
		a.Level = models.RiskWarning
	default:
		a.Level = models.RiskSafe
	}

	if c.opts.MissingAsWarning && len(a.Missing) > 0 {
		if a.Level < models.RiskWarning {
			a.Escalators = append(a.Escalators, EscalatorMissingReading)
		}
		a.Level = a.Level.Max(models.RiskWarning)
	}
	return a
}

// Classify returns only the verdict for a reading.
func (c *Classifier) Classify(r models.Reading) models.RiskLevel {
	return c.Assess(r).Level
}

// Resolve returns the stored prediction of a persisted reading when present,
// and classifies the raw values otherwise.
func (c *Classifier) Resolve(r models.Reading) models.RiskLevel {
	if r.FireRiskPrediction != nil && r.FireRiskPrediction.Valid() {
		return *r.FireRiskPrediction
	}
	return c.Classify(r)
}

// Distribution counts resolved levels across a batch of readings.
type Distribution struct {
	Safe    int `json:"safe"`
	Warning int `json:"warning"`
	Danger  int `json:"danger"`
}

// Total returns the number of readings counted.
func (d Distribution) Total() int {
	return d.Safe + d.Warning + d.Danger
}

// AtRisk returns the number of non-safe readings.
func (d Distribution) AtRisk() int {
	return d.Warning + d.Danger
}

// Distribute resolves every reading and tallies the levels.
func (c *Classifier) Distribute(readings []models.Reading) Distribution {
	var d Distribution
	for _, r := range readings {
		switch c.Resolve(r) {
		case models.RiskDanger:
			d.Danger++
		case models.RiskWarning:
			d.Warning++
		default:
			d.Safe++
		}
	}
	return d
}
