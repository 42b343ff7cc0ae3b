// Package report aggregates sensor history over a date range into summary
// statistics, a risk distribution and chart rows, and exports the result as
// JSON or an Excel workbook.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/firewatch/internal/models"
	"github.com/rewired-gh/firewatch/internal/risk"
)

// Period selects the default look-back window.
type Period string

// Report periods.
const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// DefaultPeriod is used when none is given.
const DefaultPeriod = PeriodWeekly

// RecentAlertLimit caps Report.RecentAlerts.
const RecentAlertLimit = 10

// Layouts used in rendered output.
const (
	ChartLabelLayout = "Jan 02 15:04"
	RangeDateLayout  = "January 2, 2006"
	FileDateLayout   = "2006-01-02"
	InputDateLayout  = "2006-01-02"
)

// ParsePeriod accepts daily, weekly or monthly. An empty string yields the
// default period.
func ParsePeriod(s string) (Period, error) {
	switch Period(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultPeriod, nil
	case PeriodDaily:
		return PeriodDaily, nil
	case PeriodWeekly:
		return PeriodWeekly, nil
	case PeriodMonthly:
		return PeriodMonthly, nil
	default:
		return "", fmt.Errorf("unknown report period %q (want daily, weekly or monthly)", s)
	}
}

// Days returns the look-back length.
func (p Period) Days() int {
	switch p {
	case PeriodDaily:
		return 1
	case PeriodMonthly:
		return 30
	default:
		return 7
	}
}

// Range is an inclusive time window.
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// NewRange spans from the start of from's day to the end of to's day. Swapped
// bounds are reordered.
func NewRange(from, to time.Time) Range {
	if to.Before(from) {
		from, to = to, from
	}
	return Range{From: startOfDay(from), To: endOfDay(to)}
}

// RangeFor returns the range of p ending on now's day.
func RangeFor(p Period, now time.Time) Range {
	return NewRange(now.AddDate(0, 0, -p.Days()), now)
}

// ParseRange resolves a window from optional YYYY-MM-DD bounds. A missing to
// is now's day; a missing from is the period's look-back from to.
func ParseRange(from, to string, p Period, now time.Time) (Range, error) {
	end := now
	if to != "" {
		t, err := time.ParseInLocation(InputDateLayout, to, now.Location())
		if err != nil {
			return Range{}, fmt.Errorf("invalid to date %q (want YYYY-MM-DD)", to)
		}
		end = t
	}
	if from == "" {
		return RangeFor(p, end), nil
	}
	start, err := time.ParseInLocation(InputDateLayout, from, now.Location())
	if err != nil {
		return Range{}, fmt.Errorf("invalid from date %q (want YYYY-MM-DD)", from)
	}
	return NewRange(start, end), nil
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// Label renders the range as "January 2, 2006 - January 9, 2006".
func (r Range) Label() string {
	return r.From.Format(RangeDateLayout) + " - " + r.To.Format(RangeDateLayout)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Millisecond)
}

// Statistics summarise a report window.
type Statistics struct {
	TotalReadings   int     `json:"totalReadings"`
	AvgTemperature  float64 `json:"avgTemperature"`
	AvgHumidity     float64 `json:"avgHumidity"`
	RiskDetections  int     `json:"riskDetections"`
	AlertsGenerated int     `json:"alertsGenerated"`
}

// ChartRow is one point of the history chart. Missing values are null.
type ChartRow struct {
	Time        string   `json:"time"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	CO2         *float64 `json:"co2"`
	Risk        int      `json:"risk"`
}

// Report is the aggregated view of one window.
type Report struct {
	Period       Period            `json:"period"`
	Range        Range             `json:"range"`
	GeneratedAt  time.Time         `json:"generatedAt"`
	Statistics   Statistics        `json:"statistics"`
	Distribution risk.Distribution `json:"distribution"`
	Chart        []ChartRow        `json:"chart"`
	RecentAlerts []models.Alert    `json:"recentAlerts"`
	// Errors lists fetch failures that were treated as empty results.
	Errors []string `json:"errors,omitempty"`

	Readings []models.Reading `json:"-"`
	Alerts   []models.Alert   `json:"-"`
}

// Compute aggregates readings and alerts. Averages use only present values;
// a risk detection is a reading whose resolved level is not safe.
func Compute(c *risk.Classifier, readings []models.Reading, alerts []models.Alert) (Statistics, risk.Distribution, []ChartRow) {
	stats := Statistics{
		TotalReadings:   len(readings),
		AlertsGenerated: len(alerts),
	}
	var dist risk.Distribution
	chart := make([]ChartRow, 0, len(readings))

	var tempSum, humSum float64
	var tempN, humN int
	for _, r := range readings {
		if r.Temperature.Valid {
			tempSum += r.Temperature.Value
			tempN++
		}
		if r.Humidity.Valid {
			humSum += r.Humidity.Value
			humN++
		}

		level := c.Resolve(r)
		switch level {
		case models.RiskDanger:
			dist.Danger++
		case models.RiskWarning:
			dist.Warning++
		default:
			dist.Safe++
		}

		chart = append(chart, ChartRow{
			Time:        r.Timestamp.Format(ChartLabelLayout),
			Temperature: r.Temperature.Ptr(),
			Humidity:    r.Humidity.Ptr(),
			CO2:         r.CO2Level.Ptr(),
			Risk:        level.Severity(),
		})
	}
	if tempN > 0 {
		stats.AvgTemperature = tempSum / float64(tempN)
	}
	if humN > 0 {
		stats.AvgHumidity = humSum / float64(humN)
	}
	stats.RiskDetections = dist.AtRisk()
	return stats, dist, chart
}

// RecentAlerts returns the first RecentAlertLimit alerts.
func RecentAlerts(alerts []models.Alert) []models.Alert {
	n := len(alerts)
	if n > RecentAlertLimit {
		n = RecentAlertLimit
	}
	out := make([]models.Alert, n)
	copy(out, alerts[:n])
	return out
}
