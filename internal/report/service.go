package report

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rewired-gh/firewatch/internal/models"
	"github.com/rewired-gh/firewatch/internal/risk"
)

// Source supplies history for a window. storage.Storage, supabase.Client and
// postgres.Repository implement it.
type Source interface {
	ReadingsBetween(ctx context.Context, from, to time.Time) ([]models.Reading, error)
	AlertsBetween(ctx context.Context, from, to time.Time) ([]models.Alert, error)
}

// Service builds reports from a Source.
type Service struct {
	source     Source
	classifier *risk.Classifier
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a Service.
func NewService(source Source, classifier *risk.Classifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{source: source, classifier: classifier, logger: logger, now: time.Now}
}

// Now returns the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// Build fetches and aggregates a window. A failed fetch is logged, recorded
// in Report.Errors and treated as an empty result.
func (s *Service) Build(ctx context.Context, period Period, rng Range) Report {
	rep := Report{
		Period:      period,
		Range:       rng,
		GeneratedAt: s.now(),
	}

	readings, err := s.source.ReadingsBetween(ctx, rng.From, rng.To)
	if err != nil {
		s.logger.Error("Failed to fetch report readings",
			zap.Time("from", rng.From), zap.Time("to", rng.To), zap.Error(err))
		rep.Errors = append(rep.Errors, err.Error())
		readings = nil
	}
	alerts, err := s.source.AlertsBetween(ctx, rng.From, rng.To)
	if err != nil {
		s.logger.Error("Failed to fetch report alerts",
			zap.Time("from", rng.From), zap.Time("to", rng.To), zap.Error(err))
		rep.Errors = append(rep.Errors, err.Error())
		alerts = nil
	}
	if readings == nil {
		readings = []models.Reading{}
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}

	rep.Readings = readings
	rep.Alerts = alerts
	rep.Statistics, rep.Distribution, rep.Chart = Compute(s.classifier, readings, alerts)
	rep.RecentAlerts = RecentAlerts(alerts)

	s.logger.Info("Built report",
		zap.String("period", string(period)),
		zap.String("range", rng.Label()),
		zap.Int("readings", rep.Statistics.TotalReadings),
		zap.Int("alerts", rep.Statistics.AlertsGenerated),
		zap.Int("risk_detections", rep.Statistics.RiskDetections),
	)
	return rep
}

// BuildPeriod builds the report for p ending today.
func (s *Service) BuildPeriod(ctx context.Context, p Period) Report {
	return s.Build(ctx, p, RangeFor(p, s.now()))
}
