// Package models defines the core domain entities for the firewatch service.
// These models represent sensor snapshots, risk levels, alerts and chart points.
// All persisted models include built-in validation to ensure data integrity
// throughout the application.
//
// Terminology:
//   - Reading: one timestamped snapshot of the five environmental sensors.
//   - Measurement: a single sensor value that may be missing (sensor dropout).
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Measurement is one optional sensor value. A zero Measurement is missing,
// which keeps a dropped sensor distinguishable from a reading of 0.
type Measurement struct {
	Value float64
	Valid bool
}

// Value returns a present Measurement holding v.
func Value(v float64) Measurement {
	return Measurement{Value: v, Valid: true}
}

// Missing returns an absent Measurement.
func Missing() Measurement {
	return Measurement{}
}

// FromPtr converts a nullable float into a Measurement.
func FromPtr(v *float64) Measurement {
	if v == nil {
		return Missing()
	}
	return Value(*v)
}

// Ptr returns the value as a nullable float, nil when missing.
func (m Measurement) Ptr() *float64 {
	if !m.Valid {
		return nil
	}
	v := m.Value
	return &v
}

// Exceeds reports whether the measurement is present and strictly above limit.
func (m Measurement) Exceeds(limit float64) bool {
	return m.Valid && m.Value > limit
}

// Or returns the value, or fallback when missing.
func (m Measurement) Or(fallback float64) float64 {
	if !m.Valid {
		return fallback
	}
	return m.Value
}

func (m Measurement) String() string {
	if !m.Valid {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", m.Value)
}

// MarshalJSON encodes a missing measurement as null.
func (m Measurement) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return nil, fmt.Errorf("measurement value %v is not finite", m.Value)
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON accepts a number or null.
func (m *Measurement) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = Missing()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid measurement: %w", err)
	}
	*m = Value(v)
	return nil
}

// Field identifies one of the five sensor channels of a Reading.
type Field string

const (
	FieldTemperature Field = "temperature"
	FieldHumidity    Field = "humidity"
	FieldCO2         Field = "co2_level"
	FieldCO          Field = "co_level"
	FieldH2          Field = "h2_level"
)

// Fields lists every sensor channel in display order.
var Fields = []Field{FieldTemperature, FieldHumidity, FieldCO2, FieldCO, FieldH2}

// Unit returns the display unit of the field.
func (f Field) Unit() string {
	switch f {
	case FieldTemperature:
		return "°C"
	case FieldHumidity:
		return "%"
	default:
		return "ppm"
	}
}

// Label returns a human readable name.
func (f Field) Label() string {
	switch f {
	case FieldTemperature:
		return "Temperature"
	case FieldHumidity:
		return "Humidity"
	case FieldCO2:
		return "CO2 Level"
	case FieldCO:
		return "CO Level"
	case FieldH2:
		return "H2 Level"
	default:
		return string(f)
	}
}
