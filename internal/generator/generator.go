// Package generator produces synthetic sensor snapshots for demonstration and
// testing without live hardware. Generation is pure random sampling with no
// I/O and cannot fail. The generator never schedules itself; the feed's timer
// calls Generate once per cycle.
package generator

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/firewatch/internal/models"
)

// SourceName tags readings produced by the generator.
const SourceName = "generator"

// DefaultSeriesPoints is the length of the synthetic trailing history.
const DefaultSeriesPoints = 24

// Random supplies uniform samples in [0, 1).
type Random interface {
	Float64() float64
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// span is a half-open sampling interval [Min, Min+Width).
type span struct {
	Min   float64
	Width float64
}

func (s span) sample(rng Random) float64 {
	return s.Min + rng.Float64()*s.Width
}

// Snapshot sampling ranges.
var (
	temperatureSpan = span{Min: 22, Width: 8}    // [22, 30) °C
	humiditySpan    = span{Min: 45, Width: 20}   // [45, 65) %
	co2Span         = span{Min: 400, Width: 200} // [400, 600) ppm
	coSpan          = span{Min: 0, Width: 10}    // [0, 10) ppm
	h2Span          = span{Min: 0, Width: 5}     // [0, 5) ppm
)

// wave is a sampled span plus a low-frequency sinusoid simulating diurnal
// variation: base + amplitude * f(i * phaseStep).
type wave struct {
	span
	Amplitude float64
	PhaseStep float64
	Cosine    bool
	NonNeg    bool
}

func (w wave) at(rng Random, i int) float64 {
	x := float64(i) * w.PhaseStep
	osc := math.Sin(x)
	if w.Cosine {
		osc = math.Cos(x)
	}
	v := w.sample(rng) + w.Amplitude*osc
	if w.NonNeg && v < 0 {
		v = 0
	}
	return v
}

// Series waves.
var (
	temperatureWave = wave{span: span{Min: 20, Width: 15}, Amplitude: 3, PhaseStep: 0.5}
	humidityWave    = wave{span: span{Min: 40, Width: 30}, Amplitude: 10, PhaseStep: 0.3, Cosine: true}
	co2Wave         = wave{span: span{Min: 350, Width: 300}, Amplitude: 50, PhaseStep: 0.2}
	coWave          = wave{span: span{Min: 0, Width: 15}, Amplitude: 5, PhaseStep: 0.4, NonNeg: true}
	hydrogenWave    = wave{span: span{Min: 0, Width: 8}, Amplitude: 2, PhaseStep: 0.6, Cosine: true, NonNeg: true}
)

// Generator samples synthetic readings. It is safe for concurrent use: the
// feed loop calls Generate while pushed readings call Series.
type Generator struct {
	mu    sync.Mutex
	rng   Random
	clock Clock
	step  time.Duration
}

// Option configures a Generator.
type Option func(*Generator)

// WithRandom injects the random source.
func WithRandom(r Random) Option {
	return func(g *Generator) { g.rng = r }
}

// WithClock injects the clock.
func WithClock(c Clock) Option {
	return func(g *Generator) { g.clock = c }
}

// WithSeriesStep sets the spacing of series points (default one hour).
func WithSeriesStep(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.step = d
		}
	}
}

// New creates a Generator. Without options it uses a time-seeded PCG source
// and the wall clock.
func New(opts ...Option) *Generator {
	now := uint64(time.Now().UnixNano())
	g := &Generator{
		rng:   rand.New(rand.NewPCG(now, now>>1|1)),
		clock: SystemClock,
		step:  time.Hour,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewSeeded creates a Generator with a deterministic random source.
func NewSeeded(seed uint64, opts ...Option) *Generator {
	return New(append([]Option{WithRandom(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))}, opts...)...)
}

// Generate samples one snapshot stamped with the current time.
func (g *Generator) Generate() models.Reading {
	g.mu.Lock()
	defer g.mu.Unlock()
	return models.Reading{
		ID:          uuid.New().String(),
		Source:      SourceName,
		Timestamp:   g.clock.Now(),
		Temperature: models.Value(temperatureSpan.sample(g.rng)),
		Humidity:    models.Value(humiditySpan.sample(g.rng)),
		CO2Level:    models.Value(co2Span.sample(g.rng)),
		COLevel:     models.Value(coSpan.sample(g.rng)),
		H2Level:     models.Value(h2Span.sample(g.rng)),
	}
}

// Series samples count points of synthetic trailing history ending now,
// oldest first. Each point is sampled independently.
func (g *Generator) Series(count int) []models.ChartPoint {
	if count <= 0 {
		return []models.ChartPoint{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	points := make([]models.ChartPoint, 0, count)
	for i := count - 1; i >= 0; i-- {
		ts := now.Add(-time.Duration(i) * g.step)
		points = append(points, models.ChartPoint{
			Time:        ts,
			Label:       ts.Format(models.SeriesLabelLayout),
			Temperature: temperatureWave.at(g.rng, i),
			Humidity:    humidityWave.at(g.rng, i),
			CO2:         co2Wave.at(g.rng, i),
			CO:          coWave.at(g.rng, i),
			Hydrogen:    hydrogenWave.at(g.rng, i),
		})
	}
	return points
}

// Next adapts the generator to the feed's producer contract.
func (g *Generator) Next(_ context.Context) (models.Reading, error) {
	return g.Generate(), nil
}

// SeriesFunc returns a series callback of the given length for the feed.
func (g *Generator) SeriesFunc(count int) func(time.Time) []models.ChartPoint {
	return func(time.Time) []models.ChartPoint {
		return g.Series(count)
	}
}
