// Package ingest receives readings published by NodeMCU sensor boards over
// MQTT and hands them to the feed.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/firewatch/internal/models"
)

// SourcePrefix prefixes the Source of ingested readings; the device ID follows.
const SourcePrefix = "mqtt:"

// Payload is the JSON document a sensor board publishes. Absent or null
// sensor fields decode as missing measurements.
type Payload struct {
	DeviceID    string             `json:"device_id"`
	Timestamp   json.RawMessage    `json:"timestamp,omitempty"`
	Temperature models.Measurement `json:"temperature"`
	Humidity    models.Measurement `json:"humidity"`
	CO2Level    models.Measurement `json:"co2_level"`
	COLevel     models.Measurement `json:"co_level"`
	H2Level     models.Measurement `json:"h2_level"`
}

// Decode parses a message into a Reading. The device ID falls back to the
// second topic segment (firewatch/<device>/readings), and the timestamp to
// now.
func Decode(topic string, payload []byte, now time.Time) (models.Reading, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return models.Reading{}, fmt.Errorf("failed to decode payload: %w", err)
	}

	device := p.DeviceID
	if device == "" {
		device = deviceFromTopic(topic)
	}
	if device == "" {
		return models.Reading{}, errors.New("payload has no device_id and topic names no device")
	}

	ts, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return models.Reading{}, err
	}
	if ts.IsZero() {
		ts = now
	}

	r := models.Reading{
		ID:          uuid.New().String(),
		Source:      SourcePrefix + device,
		Timestamp:   ts.UTC(),
		Temperature: p.Temperature,
		Humidity:    p.Humidity,
		CO2Level:    p.CO2Level,
		COLevel:     p.COLevel,
		H2Level:     p.H2Level,
	}
	if err := r.Validate(); err != nil {
		return models.Reading{}, fmt.Errorf("invalid reading from %s: %w", device, err)
	}
	return r, nil
}

func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 {
		return parts[1]
	}
	return ""
}

// parseTimestamp accepts an RFC 3339 string or unix seconds.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		return t, nil
	}
	secs, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %s: %w", raw, err)
	}
	whole := int64(secs)
	return time.Unix(whole, int64((secs-float64(whole))*1e9)), nil
}
