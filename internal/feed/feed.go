// Package feed owns the current classified sensor state. One goroutine
// produces a reading per tick, classifies it and installs the result; live
// sources push readings in between. Readers take snapshots with Latest or
// follow updates with Subscribe.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/firewatch/internal/logger"
	"github.com/rewired-gh/firewatch/internal/models"
	"github.com/rewired-gh/firewatch/internal/risk"
)

// Default cycle settings.
const (
	DefaultInterval    = 3 * time.Second
	DefaultHistorySize = 20
)

// ErrAlreadyStarted is returned by Start on a running feed.
var ErrAlreadyStarted = errors.New("feed already started")

// ErrNoNewReading is returned by a producer whose source has nothing newer
// than the last reading it yielded. The feed keeps its state and does not
// treat it as a failure.
var ErrNoNewReading = errors.New("no new reading")

// Producer yields the next reading for a cycle.
type Producer interface {
	Next(ctx context.Context) (models.Reading, error)
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context) (models.Reading, error)

// Next calls f.
func (f ProducerFunc) Next(ctx context.Context) (models.Reading, error) {
	return f(ctx)
}

// SkipUnchanged wraps a polling producer so that a row it already yielded,
// matched by ID and timestamp, comes back as ErrNoNewReading instead of being
// installed again.
func SkipUnchanged(p Producer) Producer {
	return &unchangedFilter{next: p}
}

type unchangedFilter struct {
	next Producer

	mu   sync.Mutex
	seen bool
	id   string
	ts   time.Time
}

func (u *unchangedFilter) Next(ctx context.Context) (models.Reading, error) {
	r, err := u.next.Next(ctx)
	if err != nil {
		return r, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.seen && r.ID == u.id && r.Timestamp.Equal(u.ts) {
		return models.Reading{}, ErrNoNewReading
	}
	u.seen, u.id, u.ts = true, r.ID, r.Timestamp
	return r, nil
}

// Options configure a Feed.
type Options struct {
	Interval    time.Duration
	HistorySize int
	// Series, when set, supplies the chart series for every state. Otherwise
	// the series is built from the bounded recent history.
	Series func(now time.Time) []models.ChartPoint
	Clock  func() time.Time
}

// State is one installed snapshot with its derived risk.
type State struct {
	Reading    models.Reading      `json:"reading"`
	Assessment risk.Assessment     `json:"assessment"`
	Series     []models.ChartPoint `json:"series"`
	LastUpdate time.Time           `json:"last_update"`
}

// Level is a shorthand for the assessed risk level.
func (s State) Level() models.RiskLevel {
	return s.Assessment.Level
}

// Feed is the single owner of the latest state.
type Feed struct {
	producer   Producer
	classifier *risk.Classifier
	opts       Options

	mu      sync.RWMutex
	state   *State
	history []models.Reading

	subMu   sync.Mutex
	subs    map[int]chan State
	nextSub int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Feed. producer may be nil for push-only feeds.
func New(producer Producer, classifier *risk.Classifier, opts Options) *Feed {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Feed{
		producer:   producer,
		classifier: classifier,
		opts:       opts,
		subs:       make(map[int]chan State),
	}
}

// Start runs one cycle immediately and then one per interval until ctx is
// cancelled or Stop is called.
func (f *Feed) Start(ctx context.Context) error {
	f.runMu.Lock()
	defer f.runMu.Unlock()

	if f.cancel != nil {
		return ErrAlreadyStarted
	}
	if f.producer == nil {
		return errors.New("feed has no producer")
	}

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	go f.loop(runCtx, f.done)
	logger.Info("Feed started (interval: %v, history: %d)", f.opts.Interval, f.opts.HistorySize)
	return nil
}

func (f *Feed) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(f.opts.Interval)
	defer ticker.Stop()

	_, _ = f.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = f.Refresh(ctx)
		}
	}
}

// Stop halts the timer and waits for the loop to exit. It is safe to call
// more than once.
func (f *Feed) Stop() {
	f.runMu.Lock()
	defer f.runMu.Unlock()

	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
	f.cancel = nil
	f.done = nil
	logger.Info("Feed stopped")
}

// Refresh runs one produce-and-classify cycle. On producer failure the
// previous state is kept.
func (f *Feed) Refresh(ctx context.Context) (State, error) {
	if f.producer == nil {
		return State{}, errors.New("feed has no producer")
	}
	r, err := f.producer.Next(ctx)
	if errors.Is(err, ErrNoNewReading) {
		logger.Debug("Feed cycle skipped: source has no new reading")
		return State{}, err
	}
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("Feed cycle failed, keeping previous state: %v", err)
		}
		return State{}, fmt.Errorf("failed to produce reading: %w", err)
	}
	return f.Push(r), nil
}

// Push classifies and installs a reading from any source. It is safe to call
// from any goroutine; subscribers see installs in the order they happened.
func (f *Feed) Push(r models.Reading) State {
	assessment := f.classifier.Assess(r)

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.opts.Clock()
	f.history = append(f.history, r)
	if over := len(f.history) - f.opts.HistorySize; over > 0 {
		f.history = append(f.history[:0:0], f.history[over:]...)
	}

	var series []models.ChartPoint
	if f.opts.Series != nil {
		series = f.opts.Series(now)
	} else {
		series = make([]models.ChartPoint, 0, len(f.history))
		for _, h := range f.history {
			series = append(series, models.ChartPointOf(h, models.SeriesLabelLayout))
		}
	}

	st := State{
		Reading:    r,
		Assessment: assessment,
		Series:     series,
		LastUpdate: now,
	}
	f.state = &st

	logger.Debug("Installed reading %s: %s (over: %d, missing: %d)", r.ID, assessment.Level, assessment.OverCount, len(assessment.Missing))
	f.broadcast(st)
	return st
}

// Latest returns the current state, or false before the first install.
func (f *Feed) Latest() (State, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.state == nil {
		return State{}, false
	}
	return copyState(*f.state), true
}

// History returns the bounded recent readings, oldest first.
func (f *Feed) History() []models.Reading {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.Reading, len(f.history))
	copy(out, f.history)
	return out
}

// Subscribe registers for every installed state. A full buffer drops its
// oldest pending update. The returned func unsubscribes and closes the
// channel.
func (f *Feed) Subscribe(buffer int) (<-chan State, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan State, buffer)

	f.subMu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch
	f.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.subMu.Lock()
			delete(f.subs, id)
			close(ch)
			f.subMu.Unlock()
		})
	}
}

func (f *Feed) broadcast(st State) {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	for _, ch := range f.subs {
		s := copyState(st)
		select {
		case ch <- s:
			continue
		default:
		}
		// Drop the oldest pending update and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func copyState(s State) State {
	if s.Series != nil {
		series := make([]models.ChartPoint, len(s.Series))
		copy(series, s.Series)
		s.Series = series
	}
	return s
}
