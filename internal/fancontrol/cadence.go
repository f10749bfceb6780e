package fancontrol

import (
	"math"
	"time"
)

const (
	// MaxPressure caps the combined volatility and fan-diff pressure.
	MaxPressure = 15

	settledDelay  = 2000 * time.Millisecond
	pressureDecay = 7.0

	// DefaultFixedInterval is the sampling interval of FixedCadence when
	// none is configured.
	DefaultFixedInterval = 100 * time.Millisecond
)

// Cadence decides how long a controller sleeps between ticks.
type Cadence interface {
	NextDelay(history *TemperatureBuffer, fanDiff uint8) time.Duration
}

// Pressure combines temperature volatility with half the distance between
// target and current fan speed, capped at MaxPressure.
func Pressure(history *TemperatureBuffer, fanDiff uint8) uint8 {
	p := int(history.Volatility()) + int(fanDiff)/2
	if p > MaxPressure {
		return MaxPressure
	}
	return uint8(p)
}

// AdaptiveCadence polls every 2s when settled and decays exponentially
// towards ~234ms under maximal pressure.
type AdaptiveCadence struct{}

func (AdaptiveCadence) NextDelay(history *TemperatureBuffer, fanDiff uint8) time.Duration {
	pressure := float64(Pressure(history, fanDiff))
	ms := math.Floor(float64(settledDelay.Milliseconds()) * math.Exp(-pressure/pressureDecay))
	return time.Duration(ms) * time.Millisecond
}

// FixedCadence polls at a constant interval.
type FixedCadence struct {
	Interval time.Duration
}

func (c FixedCadence) NextDelay(*TemperatureBuffer, uint8) time.Duration {
	if c.Interval <= 0 {
		return DefaultFixedInterval
	}
	return c.Interval
}
