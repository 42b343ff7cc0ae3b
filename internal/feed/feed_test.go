package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewired-gh/firewatch/internal/generator"
	"github.com/rewired-gh/firewatch/internal/models"
	"github.com/rewired-gh/firewatch/internal/risk"
)

func reading(id string, temp float64) models.Reading {
	return models.Reading{
		ID:          id,
		Source:      "test",
		Timestamp:   time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
		Temperature: models.Value(temp),
		Humidity:    models.Value(50),
		CO2Level:    models.Value(450),
		COLevel:     models.Value(5),
		H2Level:     models.Value(2),
	}
}

// countingProducer returns readings with increasing temperatures.
type countingProducer struct {
	n atomic.Int64
}

func (p *countingProducer) Next(context.Context) (models.Reading, error) {
	n := p.n.Add(1)
	return reading("r", 20+float64(n)), nil
}

func newFeed(p Producer, opts Options) *Feed {
	return New(p, risk.New(risk.LiveThresholds(), risk.Options{MissingAsWarning: true}), opts)
}

func TestLatestBeforeFirstInstall(t *testing.T) {
	f := newFeed(&countingProducer{}, Options{})
	if _, ok := f.Latest(); ok {
		t.Error("Latest() ok = true before any reading")
	}
}

func TestRefreshInstallsClassifiedState(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	f := newFeed(ProducerFunc(func(context.Context) (models.Reading, error) {
		return reading("hot", 45), nil
	}), Options{Clock: func() time.Time { return now }})

	st, err := f.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if st.Level() != models.RiskDanger {
		t.Errorf("Level() = %v, want danger", st.Level())
	}
	if !st.LastUpdate.Equal(now) {
		t.Errorf("LastUpdate = %v, want %v", st.LastUpdate, now)
	}

	latest, ok := f.Latest()
	if !ok || latest.Reading.ID != "hot" {
		t.Errorf("Latest() = %+v, %v", latest.Reading, ok)
	}
}

func TestRefreshErrorKeepsPreviousState(t *testing.T) {
	fail := false
	f := newFeed(ProducerFunc(func(context.Context) (models.Reading, error) {
		if fail {
			return models.Reading{}, errors.New("sensor offline")
		}
		return reading("first", 25), nil
	}), Options{})

	if _, err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}
	fail = true
	if _, err := f.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() expected error")
	}

	st, ok := f.Latest()
	if !ok || st.Reading.ID != "first" {
		t.Errorf("Latest() = %q, %v; want previous state kept", st.Reading.ID, ok)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	f := newFeed(nil, Options{HistorySize: 3})
	for i := 0; i < 5; i++ {
		f.Push(reading("r", float64(20+i)))
	}

	h := f.History()
	if len(h) != 3 {
		t.Fatalf("History() len = %d, want 3", len(h))
	}
	if h[0].Temperature.Value != 22 || h[2].Temperature.Value != 24 {
		t.Errorf("History() = %v, want the last three oldest first", h)
	}

	st, _ := f.Latest()
	if len(st.Series) != 3 {
		t.Errorf("Series len = %d, want 3 history points", len(st.Series))
	}
}

func TestSeriesCallbackOverridesHistory(t *testing.T) {
	calls := 0
	f := newFeed(nil, Options{Series: func(time.Time) []models.ChartPoint {
		calls++
		return make([]models.ChartPoint, 24)
	}})

	st := f.Push(reading("r", 25))
	if len(st.Series) != 24 {
		t.Errorf("Series len = %d, want 24", len(st.Series))
	}
	if calls != 1 {
		t.Errorf("Series called %d times, want 1", calls)
	}
}

func TestLatestReturnsCopy(t *testing.T) {
	f := newFeed(nil, Options{})
	f.Push(reading("r", 25))

	a, _ := f.Latest()
	a.Series[0].Temperature = -100

	b, _ := f.Latest()
	if b.Series[0].Temperature == -100 {
		t.Error("mutating a Latest() copy changed feed state")
	}
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	p := &countingProducer{}
	f := newFeed(p, Options{Interval: 10 * time.Millisecond})

	ch, cancel := f.Subscribe(4)
	defer cancel()

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	select {
	case st := <-ch:
		if st.Reading.Temperature.Value != 21 {
			t.Errorf("first state temperature = %v, want 21", st.Reading.Temperature.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("no state within 1s of Start")
	}

	// Let at least one tick fire.
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no tick within 1s")
	}

	f.Stop()
	f.Stop()

	produced := p.n.Load()
	time.Sleep(50 * time.Millisecond)
	if p.n.Load() != produced {
		t.Error("producer called after Stop")
	}
}

func TestStartWithoutProducer(t *testing.T) {
	f := newFeed(nil, Options{})
	if err := f.Start(context.Background()); err == nil {
		t.Error("Start() expected error without producer")
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	f := newFeed(nil, Options{})
	ch, cancel := f.Subscribe(2)
	defer cancel()

	for i := 0; i < 5; i++ {
		f.Push(reading("r", float64(20+i)))
	}

	first := <-ch
	second := <-ch
	if first.Reading.Temperature.Value != 23 || second.Reading.Temperature.Value != 24 {
		t.Errorf("pending = %v, %v; want the two newest (23, 24)",
			first.Reading.Temperature.Value, second.Reading.Temperature.Value)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	f := newFeed(nil, Options{})
	ch, cancel := f.Subscribe(1)
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	// Pushing after unsubscribe must not panic.
	f.Push(reading("r", 25))
}

func TestPushMissingReadingFloorsAtWarning(t *testing.T) {
	f := newFeed(nil, Options{})
	st := f.Push(reading("r", 25).With(models.FieldCO, models.Missing()))
	if st.Level() != models.RiskWarning {
		t.Errorf("Level() = %v, want warning for a missing reading", st.Level())
	}
	if st.Assessment.Complete() {
		t.Error("Assessment.Complete() = true with a missing field")
	}
}

func TestPushConcurrentWithRunningFeed(t *testing.T) {
	gen := generator.NewSeeded(7)
	f := newFeed(gen, Options{Interval: time.Millisecond, Series: gen.SeriesFunc(24)})

	updates, cancel := f.Subscribe(4096)
	defer cancel()

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				f.Push(reading(fmt.Sprintf("push-%d-%d", w, i), 25))
				_, _ = f.Latest()
			}
		}(w)
	}
	wg.Wait()
	f.Stop()

	var last State
	received := 0
	for {
		select {
		case st := <-updates:
			last = st
			received++
			continue
		default:
		}
		break
	}

	if received < 200 {
		t.Fatalf("received %d states, want at least the 200 pushed", received)
	}
	latest, ok := f.Latest()
	if !ok {
		t.Fatal("Latest() ok = false after pushes")
	}
	if last.Reading.ID != latest.Reading.ID || !last.LastUpdate.Equal(latest.LastUpdate) {
		t.Errorf("last broadcast %s, Latest() %s; subscribers must end on the installed state",
			last.Reading.ID, latest.Reading.ID)
	}
	if len(latest.Series) != 24 {
		t.Errorf("Series len = %d, want 24", len(latest.Series))
	}
}

func TestSkipUnchangedKeepsHistoryDistinct(t *testing.T) {
	current := reading("row-1", 25)
	f := newFeed(SkipUnchanged(ProducerFunc(func(context.Context) (models.Reading, error) {
		return current, nil
	})), Options{})

	updates, cancel := f.Subscribe(16)
	defer cancel()

	if _, err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := f.Refresh(context.Background()); !errors.Is(err, ErrNoNewReading) {
			t.Fatalf("Refresh() error = %v, want ErrNoNewReading", err)
		}
	}
	if got := len(f.History()); got != 1 {
		t.Errorf("History() len = %d after repeated polls of one row, want 1", got)
	}
	if got := len(updates); got != 1 {
		t.Errorf("broadcasts = %d, want 1", got)
	}

	// Same ID with a new timestamp is a new reading.
	current.Timestamp = current.Timestamp.Add(time.Minute)
	if _, err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() after update error = %v", err)
	}
	current = reading("row-2", 30)
	if _, err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() for new row error = %v", err)
	}
	if got := len(f.History()); got != 3 {
		t.Errorf("History() len = %d, want 3", got)
	}
	st, _ := f.Latest()
	if st.Reading.ID != "row-2" {
		t.Errorf("Latest() = %s, want row-2", st.Reading.ID)
	}
}

func TestSkipUnchangedPassesErrorsThrough(t *testing.T) {
	p := SkipUnchanged(ProducerFunc(func(context.Context) (models.Reading, error) {
		return models.Reading{}, errors.New("status 503")
	}))
	if _, err := p.Next(context.Background()); err == nil || errors.Is(err, ErrNoNewReading) {
		t.Errorf("Next() error = %v, want the source error", err)
	}
}
