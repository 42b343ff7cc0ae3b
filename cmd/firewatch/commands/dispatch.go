package commands

import (
	"context"
	"errors"
	"time"

	"github.com/rewired-gh/firewatch/internal/feed"
	"github.com/rewired-gh/firewatch/internal/logger"
	"github.com/rewired-gh/firewatch/internal/metrics"
	"github.com/rewired-gh/firewatch/internal/models"
	"github.com/rewired-gh/firewatch/internal/monitor"
)

// rotateEvery is the number of dispatched states between storage rotations.
const rotateEvery = 100

// stateSink receives every installed state.
type stateSink struct {
	name string
	put  func(ctx context.Context, st feed.State) error
}

// alertSink receives every alert raised by the watcher.
type alertSink struct {
	name string
	put  func(ctx context.Context, alert *models.Alert, st feed.State) error
}

// dispatcher fans one feed subscription out to the sinks and the watcher.
type dispatcher struct {
	sinks      []stateSink
	alertSinks []alertSink
	watcher    *monitor.Watcher
	metrics    *metrics.Metrics
	rotate     func(ctx context.Context)

	dispatched int
}

// run consumes updates until the channel closes or ctx is done.
func (d *dispatcher) run(ctx context.Context, updates <-chan feed.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			d.handle(ctx, st)
		}
	}
}

// handle delivers one state. Sink failures are logged and never stop the
// dispatcher.
func (d *dispatcher) handle(ctx context.Context, st feed.State) {
	d.metrics.ObserveState(st)

	for _, s := range d.sinks {
		if err := s.put(ctx, st); err != nil {
			logger.Warn("Failed to write reading %s to %s: %v", st.Reading.ID, s.name, err)
			d.metrics.SinkError(s.name)
		}
	}

	if d.watcher != nil {
		if alert, ok := d.watcher.Observe(st); ok {
			logger.Info("Raised %s alert %s: %s", alert.Severity, alert.AlertType, alert.Message)
			d.metrics.AlertRaised(alert)
			for _, s := range d.alertSinks {
				if err := s.put(ctx, alert, st); err != nil {
					logger.Warn("Failed to deliver alert %s to %s: %v", alert.ID, s.name, err)
					d.metrics.SinkError(s.name)
				}
			}
		}
	}

	d.dispatched++
	if d.rotate != nil && d.dispatched%rotateEvery == 0 {
		d.rotate(ctx)
	}
}

// withPrediction returns the reading carrying its resolved level, keeping a
// verdict that was already stored upstream.
func withPrediction(st feed.State) models.Reading {
	r := st.Reading
	if r.FireRiskPrediction == nil {
		level := st.Level()
		r.FireRiskPrediction = &level
	}
	return r
}

// errorNotifier is the part of the Telegram client the health tracker uses.
type errorNotifier interface {
	SendError(err error) error
	SendRecovery(failures int, downtime time.Duration) error
}

// sourceHealth counts consecutive producer failures. The first failure of a
// run is reported, and so is the recovery that ends it.
type sourceHealth struct {
	notifier errorNotifier
	metrics  *metrics.Metrics
	now      func() time.Time

	failures     int
	failingSince time.Time
}

func newSourceHealth(notifier errorNotifier, m *metrics.Metrics) *sourceHealth {
	return &sourceHealth{notifier: notifier, metrics: m, now: time.Now}
}

// wrap returns a producer that records the outcome of every cycle. A cycle
// with no new reading counts as healthy.
func (h *sourceHealth) wrap(p feed.Producer) feed.Producer {
	return feed.ProducerFunc(func(ctx context.Context) (models.Reading, error) {
		r, err := p.Next(ctx)
		if ctx.Err() == nil {
			if errors.Is(err, feed.ErrNoNewReading) {
				h.record(nil)
			} else {
				h.record(err)
			}
		}
		return r, err
	})
}

func (h *sourceHealth) record(err error) {
	if err != nil {
		h.failures++
		if h.failures == 1 {
			h.failingSince = h.now()
			if h.notifier != nil {
				if sendErr := h.notifier.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		}
		h.metrics.SetSourceFailures(h.failures)
		return
	}

	if h.failures > 0 {
		downtime := h.now().Sub(h.failingSince)
		logger.Info("Reading source recovered after %d failed cycles (%v)", h.failures, downtime)
		if h.notifier != nil {
			if sendErr := h.notifier.SendRecovery(h.failures, downtime); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
	}
	h.failures = 0
	h.metrics.SetSourceFailures(0)
}
