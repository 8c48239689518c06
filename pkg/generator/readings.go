// Package generator synthesises sensor readings for the simulated field
// sensors.
package generator

import (
	"math"
	"sync"

	"github.com/brianvoe/gofakeit/v7"
)

// DefaultSpikeProbability is the chance that a reading jumps into the
// emergency band.
const DefaultSpikeProbability = 0.15

// Profile describes the bands of one sensor.
type Profile struct {
	SensorID  string
	Warning   float64
	Emergency float64
}

// Reading is one generated sample.
type Reading struct {
	SensorID string
	Value    float64
	// Spike is set when the value was drawn from the emergency band.
	Spike bool
}

// ReadingGenerator produces readings that wander inside the normal band and
// occasionally spike above the emergency threshold.
type ReadingGenerator struct {
	mu        sync.Mutex
	faker     *gofakeit.Faker
	spikeProb float64
	// step bounds the drift between consecutive normal readings as a
	// fraction of the warning threshold.
	step float64
}

// NewReadingGenerator returns a generator seeded with seed. A zero seed
// draws a random seed.
func NewReadingGenerator(seed uint64, spikeProbability float64) *ReadingGenerator {
	if spikeProbability < 0 || spikeProbability > 1 {
		spikeProbability = DefaultSpikeProbability
	}
	return &ReadingGenerator{
		faker:     gofakeit.New(seed),
		spikeProb: spikeProbability,
		step:      0.2,
	}
}

// Next returns the reading following current for the sensor described by p.
func (g *ReadingGenerator) Next(p Profile, current float64) Reading {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.faker.Float64() < g.spikeProb {
		hi := math.Min(p.Emergency*1.5, 100)
		lo := math.Min(p.Emergency, hi)
		return Reading{SensorID: p.SensorID, Value: round2(g.faker.Float64Range(lo, hi)), Spike: true}
	}

	ceiling := math.Max(p.Warning-0.01, 0)
	base := math.Min(math.Max(current, 0), ceiling)
	delta := p.Warning * g.step
	v := base + g.faker.Float64Range(-delta, delta)
	v = math.Min(math.Max(v, 0), ceiling)
	return Reading{SensorID: p.SensorID, Value: round2(v)}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
