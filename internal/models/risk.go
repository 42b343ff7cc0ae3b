package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RiskLevel is the three-tier fire risk verdict, ordered safe < warning < danger.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskWarning
	RiskDanger
)

// RiskLevels lists all levels in ascending severity.
var RiskLevels = []RiskLevel{RiskSafe, RiskWarning, RiskDanger}

func (l RiskLevel) String() string {
	switch l {
	case RiskSafe:
		return "safe"
	case RiskWarning:
		return "warning"
	case RiskDanger:
		return "danger"
	default:
		return fmt.Sprintf("RiskLevel(%d)", int(l))
	}
}

// Severity is the numeric rank used by charts (0 safe, 1 warning, 2 danger).
func (l RiskLevel) Severity() int {
	return int(l)
}

// Valid reports whether l is one of the three defined levels.
func (l RiskLevel) Valid() bool {
	return l >= RiskSafe && l <= RiskDanger
}

// Max returns the more severe of two levels.
func (l RiskLevel) Max(other RiskLevel) RiskLevel {
	if other > l {
		return other
	}
	return l
}

// ParseRiskLevel parses the lowercase level name used by storage and the API.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safe":
		return RiskSafe, nil
	case "warning":
		return RiskWarning, nil
	case "danger":
		return RiskDanger, nil
	default:
		return RiskSafe, fmt.Errorf("unknown risk level %q", s)
	}
}

func (l RiskLevel) MarshalJSON() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid risk level %d", int(l))
	}
	return json.Marshal(l.String())
}

func (l *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("risk level must be a string: %w", err)
	}
	parsed, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
