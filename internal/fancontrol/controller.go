// Package fancontrol implements the per-fan control loop: temperature
// smoothing, profile evaluation, rate-limited actuation, adaptive polling,
// manual override leases and suspend/resume resynchronisation.
package fancontrol

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/fanctl/internal/clock"
	"codeberg.org/mutker/fanctl/internal/device"
	"codeberg.org/mutker/fanctl/internal/errors"
	"codeberg.org/mutker/fanctl/internal/logger"
	"codeberg.org/mutker/fanctl/internal/suspend"
	"codeberg.org/mutker/fanctl/internal/telemetry"
)

const (
	// DefaultOverrideLease is how long an override holds without refresh.
	DefaultOverrideLease = time.Second

	maxRampUp = 3
	minRampUp = 1
)

// FanDevice is the hardware a controller steers. Only the controller's own
// fan index is ever touched.
type FanDevice interface {
	FanSpeed(fan int) (uint8, error)
	Temperature(fan int) (uint8, error)
	SetFanSpeed(fan int, percent uint8) error
}

// Mode is the controller state.
type Mode string

const (
	ModeNormal     Mode = "normal"
	ModeOverridden Mode = "overridden"
)

// Options configures a Controller. Zero values select defaults.
type Options struct {
	Index         int
	Cadence       Cadence
	HistorySize   int
	OverrideLease time.Duration
	Clock         clock.Clock
	// PowerLimit is written with the profile's power-limit level. Only one
	// controller per system should own a real surface.
	PowerLimit device.PowerLimit
	Suspend    *suspend.Subscription
	Recorder   telemetry.Collector
	Logger     logger.Logger
}

// Status is a point-in-time view of a controller.
type Status struct {
	Fan         int       `json:"fan"`
	Mode        Mode      `json:"mode"`
	Temperature uint8     `json:"temperature"`
	Smoothed    uint8     `json:"smoothed"`
	Speed       uint8     `json:"speed"`
	Target      uint8     `json:"target"`
	PowerLimit  uint8     `json:"power_limit"`
	DelayMS     int64     `json:"delay_ms"`
	Profile     []Point   `json:"profile"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Controller runs the sense, decide and actuate loop for one fan.
//
// All hardware state is owned by the goroutine executing Run. Other
// goroutines talk to it through UpdateProfile and Override.
type Controller struct {
	index    int
	dev      FanDevice
	power    device.PowerLimit
	cadence  Cadence
	lease    time.Duration
	clock    clock.Clock
	suspend  *suspend.Subscription
	recorder telemetry.Collector
	logger   logger.Logger

	profiles  chan Profile
	overrides chan uint8

	profile           Profile
	history           *TemperatureBuffer
	speed             uint8
	powerLimit        uint8
	powerLimitWritten bool
	resumed           bool

	mu     sync.RWMutex
	status Status
}

// New seeds a controller from the fan's actual speed and temperature.
func New(dev FanDevice, profile Profile, opts Options) (*Controller, error) {
	errFactory := errors.New()

	if opts.Cadence == nil {
		opts.Cadence = AdaptiveCadence{}
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.OverrideLease <= 0 {
		opts.OverrideLease = DefaultOverrideLease
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.PowerLimit == nil {
		opts.PowerLimit = device.NopPowerLimit{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("fancontrol")
	}

	speed, err := dev.FanSpeed(opts.Index)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrSensorRead, err)
	}
	temp, err := dev.Temperature(opts.Index)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrSensorRead, err)
	}

	c := &Controller{
		index:     opts.Index,
		dev:       dev,
		power:     opts.PowerLimit,
		cadence:   opts.Cadence,
		lease:     opts.OverrideLease,
		clock:     opts.Clock,
		suspend:   opts.Suspend,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		profiles:  make(chan Profile, 1),
		overrides: make(chan uint8, 1),
		profile:   profile,
		history:   NewTemperatureBuffer(opts.HistorySize, temp),
		speed:     speed,
	}
	c.status = Status{
		Fan:         c.index,
		Mode:        ModeNormal,
		Temperature: temp,
		Smoothed:    temp,
		Speed:       speed,
		Target:      profile.TargetFanPercent(temp),
		Profile:     profile.Points(),
		UpdatedAt:   c.clock.Now(),
	}

	c.logger.Info().
		Int("fan", c.index).
		Uint8("speed", speed).
		Uint8("temperature", temp).
		Msg("Fan controller initialized")

	return c, nil
}

// Index returns the fan index the controller steers.
func (c *Controller) Index() int {
	return c.index
}

// Run drives the fan until ctx is cancelled. Hardware errors are logged
// and retried on the next tick; they never stop the loop.
func (c *Controller) Run(ctx context.Context) error {
	for {
		delay := c.tick(ctx)
		if c.wait(ctx, delay) {
			c.logger.Debug().Int("fan", c.index).Msg("Fan controller stopped")
			return nil
		}
	}
}

// UpdateProfile replaces the active profile. It takes effect on the next
// tick, which starts immediately.
func (c *Controller) UpdateProfile(ctx context.Context, profile Profile) error {
	select {
	case c.profiles <- profile:
		return nil
	case <-ctx.Done():
		return errors.New().Wrap(errors.ErrConfigSwap, ctx.Err())
	}
}

// Override pins the fan to speed for one lease window. Calling it again
// before the lease expires refreshes the lease.
func (c *Controller) Override(ctx context.Context, speed uint8) error {
	errFactory := errors.New()
	if speed > 100 {
		return errFactory.WithData(errors.ErrInvalidArgument, speed)
	}

	select {
	case c.overrides <- speed:
		return nil
	case <-ctx.Done():
		return errFactory.Wrap(errors.ErrTimeout, ctx.Err())
	}
}

// Status returns the latest controller state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := c.status
	status.Profile = append([]Point(nil), c.status.Profile...)
	return status
}

func (c *Controller) tick(ctx context.Context) time.Duration {
	actual, err := c.dev.Temperature(c.index)
	if err != nil {
		c.logger.ErrorWithCode(errors.New().Wrap(errors.ErrSensorRead, err)).
			Int("fan", c.index).
			Msg("Failed to read temperature, using last sample")
		actual = c.history.Latest()
	} else {
		c.history.Update(actual)
	}

	smoothed := c.history.Smoothed()
	target := c.profile.TargetFanPercent(smoothed)
	diff := absDiff(target, c.speed)
	next, increment := nextSpeed(c.speed, target)

	if next != c.speed {
		c.setSpeed(next)
	}

	limit := c.profile.TargetPowerLimit(actual)
	c.setPowerLimit(limit)

	delay := c.cadence.NextDelay(c.history, diff)

	c.logger.Debug().
		Int("fan", c.index).
		Uint8("temperature", actual).
		Uint8("smoothed", smoothed).
		Uint8("speed", c.speed).
		Uint8("target", target).
		Uint8("diff", diff).
		Uint8("increment", increment).
		Uint8("power_limit", limit).
		Dur("delay", delay).
		Msg("Tick")

	c.publish(ctx, ModeNormal, actual, smoothed, target, limit, delay)

	return delay
}

// wait blocks until the next tick is due and reports whether the
// controller should stop. Profile swaps, finished overrides and completed
// suspend cycles make the next tick due at once. The tick timer is paused
// while the system is suspended.
func (c *Controller) wait(ctx context.Context, delay time.Duration) bool {
	timer := c.clock.NewTimer(delay)
	defer timer.Stop()

	for {
		timeout := timer.C
		var changed <-chan struct{}
		if c.suspend != nil {
			changed = c.suspend.Changed()
			if c.suspend.Consume() {
				c.resync()
				return false
			}
			if c.suspend.Suspended() {
				timeout = nil
			}
		}

		select {
		case <-ctx.Done():
			return true
		case <-timeout:
			return false
		case <-changed:
		case profile := <-c.profiles:
			c.swapProfile(profile)
			return false
		case speed := <-c.overrides:
			timer.Stop()
			return c.override(ctx, speed)
		}
	}
}

// override holds the fan at the requested speed until the lease expires
// without refresh or a write fails. It reports whether ctx ended.
func (c *Controller) override(ctx context.Context, speed uint8) bool {
	c.logger.Info().Int("fan", c.index).Uint8("speed", speed).Msg("Override started")
	defer c.logger.Info().Int("fan", c.index).Msg("Override ended, resuming profile control")

	for {
		if err := c.dev.SetFanSpeed(c.index, speed); err != nil {
			c.logger.ErrorWithCode(errors.New().Wrap(errors.ErrActuation, err)).
				Int("fan", c.index).
				Uint8("speed", speed).
				Msg("Failed to write override speed")
			return false
		}
		c.speed = speed

		temp := c.history.Latest()
		c.publish(ctx, ModeOverridden, temp, c.history.Smoothed(), speed, c.powerLimit, c.lease)

		next, refreshed, stop := c.awaitRefresh(ctx)
		if stop {
			return true
		}
		if !refreshed {
			c.logger.Debug().Int("fan", c.index).Msg("Override lease expired")
			return false
		}
		speed = next
	}
}

func (c *Controller) awaitRefresh(ctx context.Context) (speed uint8, refreshed, stop bool) {
	timer := c.clock.NewTimer(c.lease)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, false, true
		case <-timer.C:
			return 0, false, false
		case speed := <-c.overrides:
			return speed, true, false
		case profile := <-c.profiles:
			c.swapProfile(profile)
		}
	}
}

// resync adopts the hardware speed after a suspend cycle, since firmware
// may have changed it, and forces the power limit to be rewritten.
func (c *Controller) resync() {
	c.powerLimitWritten = false
	c.resumed = true

	speed, err := c.dev.FanSpeed(c.index)
	if err != nil {
		c.logger.ErrorWithCode(errors.New().Wrap(errors.ErrSensorRead, err)).
			Int("fan", c.index).
			Msg("Failed to read fan speed after resume")
		return
	}

	c.logger.Info().
		Int("fan", c.index).
		Uint8("cached", c.speed).
		Uint8("actual", speed).
		Msg("Resynchronized fan speed after resume")
	c.speed = speed
}

func (c *Controller) swapProfile(profile Profile) {
	c.profile = profile
	c.logger.Info().Int("fan", c.index).Int("points", len(profile.points)).Msg("Fan profile updated")

	c.mu.Lock()
	c.status.Profile = profile.Points()
	c.mu.Unlock()
}

func (c *Controller) setSpeed(speed uint8) {
	if err := c.dev.SetFanSpeed(c.index, speed); err != nil {
		c.logger.ErrorWithCode(errors.New().Wrap(errors.ErrActuation, err)).
			Int("fan", c.index).
			Uint8("speed", speed).
			Msg("Failed to set fan speed")
		return
	}
	c.speed = speed
}

func (c *Controller) setPowerLimit(limit uint8) {
	if c.powerLimitWritten && limit == c.powerLimit {
		return
	}
	if err := c.power.Set(limit); err != nil {
		c.logger.ErrorWithCode(errors.New().Wrap(errors.ErrActuation, err)).
			Int("fan", c.index).
			Uint8("power_limit", limit).
			Msg("Failed to set power limit")
		return
	}
	c.powerLimit = limit
	c.powerLimitWritten = true
}

func (c *Controller) publish(ctx context.Context, mode Mode, temp, smoothed, target, limit uint8, delay time.Duration) {
	now := c.clock.Now()

	c.mu.Lock()
	c.status.Mode = mode
	c.status.Temperature = temp
	c.status.Smoothed = smoothed
	c.status.Speed = c.speed
	c.status.Target = target
	c.status.PowerLimit = c.powerLimit
	c.status.DelayMS = delay.Milliseconds()
	c.status.UpdatedAt = now
	c.mu.Unlock()

	if c.recorder == nil {
		return
	}

	snapshot := &telemetry.Snapshot{
		Timestamp:   now,
		Fan:         c.index,
		FanSpeed:    telemetry.FanMetrics{Current: c.speed, Target: target},
		Temperature: telemetry.TempMetrics{Current: temp, Smoothed: smoothed},
		PowerLimit:  telemetry.PowerMetrics{Current: c.powerLimit, Target: limit},
		State:       telemetry.StateMetrics{Overridden: mode == ModeOverridden, Resumed: c.resumed},
		DelayMS:     delay.Milliseconds(),
	}
	c.resumed = false

	if err := c.recorder.Record(ctx, snapshot); err != nil {
		c.logger.Debug().Err(err).Int("fan", c.index).Msg("Failed to record telemetry")
	}
}

// nextSpeed moves current one step towards target. Increases are limited
// to between 1 and 3 points per tick; decreases move faster but never
// past the target.
func nextSpeed(current, target uint8) (next, increment uint8) {
	diff := absDiff(target, current)
	increment = diff/4 + target/50

	switch {
	case target > current:
		if increment < minRampUp {
			increment = minRampUp
		}
		if increment > maxRampUp {
			increment = maxRampUp
		}
		n := int(current) + int(increment)
		if n > 100 {
			n = 100
		}
		return uint8(n), increment
	case target < current:
		if increment < 1 {
			increment = 1
		}
		if increment > diff {
			increment = diff
		}
		return current - increment, increment
	default:
		return current, 0
	}
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
