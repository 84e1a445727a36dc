// Package trend turns a stream of underlying prices into a direction
// signal by comparing a short and a long simple moving average.
package trend

import (
	"fmt"

	"github.com/alejandrodnm/papertrader/internal/domain"
)

const (
	DefaultShortWindow = 5
	DefaultLongWindow  = 20
)

// Detector classifies momentum with a short-vs-long simple moving average
// over a fixed-size rolling window. It has no hysteresis: the direction can
// flip on every sample near equality.
type Detector struct {
	short int
	long  int
	ring  []float64
	next  int
	count int
}

// New returns a detector. short must be in [1, long].
func New(short, long int) (*Detector, error) {
	if long <= 0 || short <= 0 || short > long {
		return nil, fmt.Errorf("trend.New: windows short=%d long=%d: %w", short, long, domain.ErrConfig)
	}
	return &Detector{short: short, long: long, ring: make([]float64, long)}, nil
}

// NewDefault returns a 5/20 detector.
func NewDefault() *Detector {
	d, _ := New(DefaultShortWindow, DefaultLongWindow)
	return d
}

// Update adds price to the window and returns the current direction.
// It returns flat until the long window is full.
func (d *Detector) Update(price float64) domain.Direction {
	d.ring[d.next] = price
	d.next = (d.next + 1) % d.long
	if d.count < d.long {
		d.count++
	}
	if !d.Ready() {
		return domain.DirectionFlat
	}

	shortAvg := d.mean(d.short)
	longAvg := d.mean(d.long)
	switch {
	case shortAvg > longAvg:
		return domain.DirectionUp
	case shortAvg < longAvg:
		return domain.DirectionDown
	}
	return domain.DirectionFlat
}

// Ready reports whether the long window is full.
func (d *Detector) Ready() bool {
	return d.count >= d.long
}

// Samples returns how many prices the window holds.
func (d *Detector) Samples() int {
	return d.count
}

// Reset empties the window.
func (d *Detector) Reset() {
	d.next = 0
	d.count = 0
}

// mean averages the most recent n samples.
func (d *Detector) mean(n int) float64 {
	sum := 0.0
	for i := 1; i <= n; i++ {
		sum += d.ring[(d.next-i+d.long)%d.long]
	}
	return sum / float64(n)
}
