package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Reading is one timestamped snapshot of the five environmental sensors.
// A Reading is immutable once created; callers copy rather than mutate.
type Reading struct {
	ID          string      `json:"id,omitempty"`
	Source      string      `json:"source,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Temperature Measurement `json:"temperature"` // °C
	Humidity    Measurement `json:"humidity"`    // %
	CO2Level    Measurement `json:"co2_level"`   // ppm
	COLevel     Measurement `json:"co_level"`    // ppm
	H2Level     Measurement `json:"h2_level"`    // ppm

	// FireRiskPrediction is set when the reading comes from persisted storage
	// that already carries a verdict.
	FireRiskPrediction *RiskLevel `json:"fire_risk_prediction,omitempty"`
}

// Get returns the measurement for a field.
func (r Reading) Get(f Field) Measurement {
	switch f {
	case FieldTemperature:
		return r.Temperature
	case FieldHumidity:
		return r.Humidity
	case FieldCO2:
		return r.CO2Level
	case FieldCO:
		return r.COLevel
	case FieldH2:
		return r.H2Level
	default:
		return Missing()
	}
}

// With returns a copy of r with field f set to m.
func (r Reading) With(f Field, m Measurement) Reading {
	switch f {
	case FieldTemperature:
		r.Temperature = m
	case FieldHumidity:
		r.Humidity = m
	case FieldCO2:
		r.CO2Level = m
	case FieldCO:
		r.COLevel = m
	case FieldH2:
		r.H2Level = m
	}
	return r
}

// Missing lists the fields with no value, in display order.
func (r Reading) Missing() []Field {
	var missing []Field
	for _, f := range Fields {
		if !r.Get(f).Valid {
			missing = append(missing, f)
		}
	}
	return missing
}

// Validate checks that all reading fields are valid
func (r *Reading) Validate() error {
	if r.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	for _, f := range Fields {
		m := r.Get(f)
		if !m.Valid {
			continue
		}
		if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
			return fmt.Errorf("%s must be finite", f)
		}
		if f != FieldTemperature && m.Value < 0 {
			return fmt.Errorf("%s must not be negative", f)
		}
	}
	if r.FireRiskPrediction != nil && !r.FireRiskPrediction.Valid() {
		return errors.New("fire risk prediction must be safe, warning or danger")
	}
	return nil
}

func (r Reading) String() string {
	return fmt.Sprintf("Reading %s @ %s: temp=%s hum=%s co2=%s co=%s h2=%s",
		r.ID,
		r.Timestamp.Format(time.RFC3339),
		r.Temperature, r.Humidity, r.CO2Level, r.COLevel, r.H2Level)
}

// SeriesLabelLayout formats live series labels (HH:MM).
const SeriesLabelLayout = "15:04"

// ChartPoint is one row of a sensor time series as consumed by charts.
type ChartPoint struct {
	Time        time.Time `json:"-"`
	Label       string    `json:"time"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	CO2         float64   `json:"co2"`
	CO          float64   `json:"co"`
	Hydrogen    float64   `json:"hydrogen"`
}

// ChartPointOf converts a reading into a chart row. Missing values plot as 0,
// which is a rendering choice only and never feeds classification.
func ChartPointOf(r Reading, layout string) ChartPoint {
	return ChartPoint{
		Time:        r.Timestamp,
		Label:       r.Timestamp.Format(layout),
		Temperature: r.Temperature.Or(0),
		Humidity:    r.Humidity.Or(0),
		CO2:         r.CO2Level.Or(0),
		CO:          r.COLevel.Or(0),
		Hydrogen:    r.H2Level.Or(0),
	}
}
