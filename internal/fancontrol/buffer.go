package fancontrol

// MaxVolatility caps the volatility signal fed to the cadence policy.
const MaxVolatility = 15

// DefaultHistorySize is the number of samples kept per controller.
const DefaultHistorySize = 6

// TemperatureBuffer is a fixed-capacity ring of recent temperature samples.
// It is never empty.
type TemperatureBuffer struct {
	samples []uint8
	start   int
	size    int
}

// NewTemperatureBuffer returns a buffer seeded with initial. A capacity
// below one is raised to one.
func NewTemperatureBuffer(capacity int, initial uint8) *TemperatureBuffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &TemperatureBuffer{samples: make([]uint8, capacity)}
	b.Update(initial)
	return b
}

// Update pushes a sample, evicting the oldest once the buffer is full.
func (b *TemperatureBuffer) Update(sample uint8) {
	if b.size < len(b.samples) {
		b.samples[(b.start+b.size)%len(b.samples)] = sample
		b.size++
		return
	}
	b.samples[b.start] = sample
	b.start = (b.start + 1) % len(b.samples)
}

// Latest returns the most recent sample.
func (b *TemperatureBuffer) Latest() uint8 {
	return b.samples[(b.start+b.size-1)%len(b.samples)]
}

// Smoothed returns the minimum sample held. A rise only shows once it has
// persisted across the whole window; a fall shows immediately.
func (b *TemperatureBuffer) Smoothed() uint8 {
	lowest := b.samples[b.start]
	for i := 1; i < b.size; i++ {
		if s := b.samples[(b.start+i)%len(b.samples)]; s < lowest {
			lowest = s
		}
	}
	return lowest
}

// Volatility returns how far the latest sample sits above the smoothed
// temperature, capped at MaxVolatility.
func (b *TemperatureBuffer) Volatility() uint8 {
	v := b.Latest() - b.Smoothed()
	if v > MaxVolatility {
		return MaxVolatility
	}
	return v
}

// Len returns the number of samples held.
func (b *TemperatureBuffer) Len() int {
	return b.size
}

// Cap returns the buffer capacity.
func (b *TemperatureBuffer) Cap() int {
	return len(b.samples)
}

// Samples returns the held samples, oldest first.
func (b *TemperatureBuffer) Samples() []uint8 {
	out := make([]uint8, b.size)
	for i := range out {
		out[i] = b.samples[(b.start+i)%len(b.samples)]
	}
	return out
}
