package fancontrol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func settledBuffer() *TemperatureBuffer {
	b := NewTemperatureBuffer(DefaultHistorySize, 50)
	for i := 0; i < DefaultHistorySize; i++ {
		b.Update(50)
	}
	return b
}

func TestAdaptiveCadence(t *testing.T) {
	var cadence AdaptiveCadence

	assert.Equal(t, 2000*time.Millisecond, cadence.NextDelay(settledBuffer(), 0))
	assert.Equal(t, 234*time.Millisecond, cadence.NextDelay(settledBuffer(), 100))
	assert.Equal(t, 1733*time.Millisecond, cadence.NextDelay(settledBuffer(), 2))

	// the volatility term alone produces the same pressure
	b := settledBuffer()
	b.Update(51)
	assert.Equal(t, 1733*time.Millisecond, cadence.NextDelay(b, 0))

	// both terms add up
	assert.Equal(t, 1502*time.Millisecond, cadence.NextDelay(b, 2))
}

func TestAdaptiveCadenceIsDecreasing(t *testing.T) {
	var cadence AdaptiveCadence

	prev := cadence.NextDelay(settledBuffer(), 0)
	for diff := 2; diff <= 2*MaxPressure; diff += 2 {
		got := cadence.NextDelay(settledBuffer(), uint8(diff))
		assert.Less(t, got, prev, "fan diff %d", diff)
		prev = got
	}
}

func TestPressureIsCapped(t *testing.T) {
	b := settledBuffer()
	b.Update(100)

	assert.Equal(t, uint8(MaxVolatility), b.Volatility())
	assert.Equal(t, uint8(MaxPressure), Pressure(b, 0))
	assert.Equal(t, uint8(MaxPressure), Pressure(b, 255))
	assert.Equal(t, uint8(MaxPressure), Pressure(settledBuffer(), 30))
	assert.Equal(t, uint8(7), Pressure(settledBuffer(), 15))
}

func TestFixedCadence(t *testing.T) {
	assert.Equal(t, DefaultFixedInterval, FixedCadence{}.NextDelay(settledBuffer(), 40))
	assert.Equal(t, 250*time.Millisecond, FixedCadence{Interval: 250 * time.Millisecond}.NextDelay(settledBuffer(), 0))
}
