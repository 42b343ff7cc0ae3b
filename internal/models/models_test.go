package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestReadingValidate(t *testing.T) {
	danger := RiskDanger
	bogus := RiskLevel(7)

	tests := []struct {
		name    string
		reading Reading
		wantErr bool
	}{
		{
			name: "valid reading",
			reading: Reading{
				Timestamp:   time.Now(),
				Temperature: Value(24),
				Humidity:    Value(50),
				CO2Level:    Value(450),
				COLevel:     Value(3),
				H2Level:     Value(1),
			},
			wantErr: false,
		},
		{
			name: "missing values are allowed",
			reading: Reading{
				Timestamp:   time.Now(),
				Temperature: Value(24),
			},
			wantErr: false,
		},
		{
			name: "negative temperature is allowed",
			reading: Reading{
				Timestamp:   time.Now(),
				Temperature: Value(-5),
			},
			wantErr: false,
		},
		{
			name:    "zero timestamp",
			reading: Reading{Temperature: Value(24)},
			wantErr: true,
		},
		{
			name: "negative co",
			reading: Reading{
				Timestamp: time.Now(),
				COLevel:   Value(-1),
			},
			wantErr: true,
		},
		{
			name: "nan humidity",
			reading: Reading{
				Timestamp: time.Now(),
				Humidity:  Value(math.NaN()),
			},
			wantErr: true,
		},
		{
			name: "stored prediction",
			reading: Reading{
				Timestamp:          time.Now(),
				FireRiskPrediction: &danger,
			},
			wantErr: false,
		},
		{
			name: "invalid stored prediction",
			reading: Reading{
				Timestamp:          time.Now(),
				FireRiskPrediction: &bogus,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reading.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Reading.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReadingMissing(t *testing.T) {
	r := Reading{
		Timestamp:   time.Now(),
		Temperature: Value(0),
		CO2Level:    Value(420),
	}

	missing := r.Missing()
	want := []Field{FieldHumidity, FieldCO, FieldH2}
	if len(missing) != len(want) {
		t.Fatalf("Missing() = %v, want %v", missing, want)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Errorf("Missing()[%d] = %s, want %s", i, missing[i], want[i])
		}
	}

	// A zero reading is present, not missing.
	if !r.Get(FieldTemperature).Valid {
		t.Error("temperature 0 must be a present measurement")
	}
}

func TestReadingWithDoesNotMutate(t *testing.T) {
	orig := Reading{Timestamp: time.Now(), Temperature: Value(20)}
	updated := orig.With(FieldTemperature, Value(45))

	if orig.Temperature.Value != 20 {
		t.Errorf("original mutated: temperature = %v", orig.Temperature.Value)
	}
	if updated.Temperature.Value != 45 {
		t.Errorf("With() temperature = %v, want 45", updated.Temperature.Value)
	}
}

func TestMeasurementJSON(t *testing.T) {
	r := Reading{
		Timestamp:   time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
		Temperature: Value(21.5),
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal raw failed: %v", err)
	}
	if raw["temperature"] != 21.5 {
		t.Errorf("temperature = %v, want 21.5", raw["temperature"])
	}
	if v, ok := raw["humidity"]; !ok || v != nil {
		t.Errorf("humidity = %v (present=%v), want null", v, ok)
	}

	var back Reading
	if err := json.Unmarshal([]byte(`{"timestamp":"2026-10-14T12:00:00Z","temperature":null,"co_level":7}`), &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.Temperature.Valid {
		t.Error("null temperature must decode as missing")
	}
	if !back.COLevel.Valid || back.COLevel.Value != 7 {
		t.Errorf("co_level = %+v, want 7", back.COLevel)
	}
	if back.H2Level.Valid {
		t.Error("absent h2_level must decode as missing")
	}
}

func TestParseRiskLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    RiskLevel
		wantErr bool
	}{
		{"safe", RiskSafe, false},
		{"Warning", RiskWarning, false},
		{" danger ", RiskDanger, false},
		{"critical", RiskSafe, true},
		{"", RiskSafe, true},
	}

	for _, tt := range tests {
		got, err := ParseRiskLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRiskLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRiskLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRiskLevelOrdering(t *testing.T) {
	if !(RiskSafe < RiskWarning && RiskWarning < RiskDanger) {
		t.Error("risk levels must be ordered safe < warning < danger")
	}
	if RiskWarning.Max(RiskDanger) != RiskDanger {
		t.Error("Max(warning, danger) must be danger")
	}
	if RiskDanger.Max(RiskSafe) != RiskDanger {
		t.Error("Max(danger, safe) must be danger")
	}
}

func TestAlertValidate(t *testing.T) {
	tests := []struct {
		name    string
		alert   Alert
		wantErr bool
	}{
		{
			name: "valid alert",
			alert: Alert{
				ID:        "alert-1",
				Severity:  SeverityCritical,
				AlertType: "co_escalation",
				Message:   "CO at 60 ppm",
				CreatedAt: time.Now(),
			},
			wantErr: false,
		},
		{
			name: "empty ID",
			alert: Alert{
				Severity:  SeverityCritical,
				AlertType: "co_escalation",
				CreatedAt: time.Now(),
			},
			wantErr: true,
		},
		{
			name: "unknown severity",
			alert: Alert{
				ID:        "alert-1",
				Severity:  "urgent",
				AlertType: "co_escalation",
				CreatedAt: time.Now(),
			},
			wantErr: true,
		},
		{
			name: "missing created at",
			alert: Alert{
				ID:        "alert-1",
				Severity:  SeverityWarning,
				AlertType: "threshold_exceeded",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.alert.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Alert.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSeverityFor(t *testing.T) {
	if got := SeverityFor(RiskDanger); got != SeverityCritical {
		t.Errorf("SeverityFor(danger) = %s, want critical", got)
	}
	if got := SeverityFor(RiskWarning); got != SeverityWarning {
		t.Errorf("SeverityFor(warning) = %s, want warning", got)
	}
	if got := SeverityFor(RiskSafe); got != SeverityInfo {
		t.Errorf("SeverityFor(safe) = %s, want info", got)
	}
}
