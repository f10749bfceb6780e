package device

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/fanctl/internal/errors"
	"codeberg.org/mutker/fanctl/internal/logger"
	"github.com/shirou/gopsutil/v3/host"
)

const (
	pwmMax        = 255
	pwmManualMode = "1"
	pwmAutoMode   = "2"
	enableSuffix  = "_enable"
	sensorTimeout = 2 * time.Second
)

// HwmonFan binds one sysfs pwm control to the temperature sensor steering
// it. An empty Sensor selects the hottest sensor on the system.
type HwmonFan struct {
	PWM    string
	Sensor string
}

// SensorFunc returns the current temperature readings of the system.
type SensorFunc func(ctx context.Context) ([]host.TemperatureStat, error)

// HwmonOption configures a Hwmon device.
type HwmonOption func(*Hwmon)

// WithSensorFunc replaces the gopsutil sensor source.
func WithSensorFunc(fn SensorFunc) HwmonOption {
	return func(h *Hwmon) {
		h.sensors = fn
	}
}

// WithHwmonLogger sets the logger used for non-fatal sensor warnings.
func WithHwmonLogger(log logger.Logger) HwmonOption {
	return func(h *Hwmon) {
		h.logger = log
	}
}

// Hwmon drives laptop fans through the kernel hwmon sysfs interface.
type Hwmon struct {
	fans    []HwmonFan
	sensors SensorFunc
	logger  logger.Logger
	mu      sync.Mutex
}

// NewHwmon returns a device for the given pwm controls.
func NewHwmon(fans []HwmonFan, opts ...HwmonOption) (*Hwmon, error) {
	errFactory := errors.New()
	if len(fans) == 0 {
		return nil, errFactory.New(ErrNoFans)
	}

	for _, fan := range fans {
		if _, err := os.Stat(fan.PWM); err != nil {
			return nil, errFactory.Wrap(ErrInitFailed, err)
		}
	}

	h := &Hwmon{
		fans:    append([]HwmonFan(nil), fans...),
		sensors: host.SensorsTemperaturesWithContext,
		logger:  logger.New("hwmon"),
	}
	for _, opt := range opts {
		opt(h)
	}

	return h, nil
}

// DiscoverHwmon lists every pwm control below root, typically
// /sys/class/hwmon.
func DiscoverHwmon(root string) ([]HwmonFan, error) {
	errFactory := errors.New()

	matches, err := filepath.Glob(filepath.Join(root, "hwmon*", "pwm[0-9]*"))
	if err != nil {
		return nil, errFactory.Wrap(ErrInitFailed, err)
	}

	var fans []HwmonFan
	for _, path := range matches {
		if strings.Contains(filepath.Base(path), "_") {
			continue
		}
		fans = append(fans, HwmonFan{PWM: path})
	}
	sort.Slice(fans, func(i, j int) bool { return fans[i].PWM < fans[j].PWM })

	if len(fans) == 0 {
		return nil, errFactory.WithData(ErrNoFans, root)
	}

	return fans, nil
}

func (h *Hwmon) FanCount() int {
	return len(h.fans)
}

func (h *Hwmon) FanSpeed(fan int) (uint8, error) {
	errFactory := errors.New()
	if err := h.checkIndex(fan); err != nil {
		return 0, err
	}

	value, err := readSysfsInt(h.fans[fan].PWM)
	if err != nil {
		return 0, errFactory.Wrap(ErrGetFanSpeedFailed, err)
	}

	return pwmToPercent(value), nil
}

func (h *Hwmon) Temperature(fan int) (uint8, error) {
	errFactory := errors.New()
	if err := h.checkIndex(fan); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sensorTimeout)
	defer cancel()

	temps, err := h.sensors(ctx)
	if err != nil {
		if len(temps) == 0 {
			return 0, errFactory.Wrap(ErrTemperatureReadFailed, err)
		}
		// gopsutil reports unreadable sensors alongside the ones it could read
		h.logger.Debug().Err(err).Msg("Partial sensor read")
	}

	key := h.fans[fan].Sensor
	found := false
	hottest := 0.0
	for _, t := range temps {
		if key != "" && t.SensorKey != key {
			continue
		}
		if !found || t.Temperature > hottest {
			hottest = t.Temperature
		}
		found = true
	}

	if !found {
		return 0, errFactory.WithData(ErrSensorNotFound, key)
	}

	return clampCelsius(hottest), nil
}

func (h *Hwmon) SetFanSpeed(fan int, percent uint8) error {
	errFactory := errors.New()
	if err := h.checkIndex(fan); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ensureManual(fan); err != nil {
		return errFactory.Wrap(ErrDisableAutoFan, err)
	}

	if err := writeSysfs(h.fans[fan].PWM, strconv.Itoa(percentToPWM(percent))); err != nil {
		return errFactory.Wrap(ErrSetFanSpeed, err)
	}

	return nil
}

func (h *Hwmon) SetAuto() error {
	errFactory := errors.New()
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, fan := range h.fans {
		if err := writeEnable(fan.PWM, pwmAutoMode); err != nil {
			return errFactory.Wrap(ErrEnableAutoFan, err)
		}
	}

	return nil
}

func (h *Hwmon) Close() error {
	return nil
}

func (h *Hwmon) checkIndex(fan int) error {
	if fan < 0 || fan >= len(h.fans) {
		return errors.New().WithData(ErrInvalidFanIndex, fan)
	}
	return nil
}

// ensureManual puts the fan in manual mode unless it already is. Firmware
// and drivers may switch back to automatic behind our back, across suspend
// in particular, so the mode is checked before every write.
func (h *Hwmon) ensureManual(fan int) error {
	pwm := h.fans[fan].PWM
	mode, err := readSysfsInt(pwm + enableSuffix)
	if os.IsNotExist(err) {
		return nil
	}
	if err == nil && strconv.Itoa(mode) == pwmManualMode {
		return nil
	}

	h.logger.Debug().Str("pwm", pwm).Int("mode", mode).Msg("Switching fan to manual mode")
	return writeEnable(pwm, pwmManualMode)
}

// writeEnable switches the pwm mode. Drivers without a pwm*_enable file are
// always in manual mode.
func writeEnable(pwm, mode string) error {
	err := writeSysfs(pwm+enableSuffix, mode)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func readSysfsInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func writeSysfs(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func pwmToPercent(value int) uint8 {
	switch {
	case value <= 0:
		return 0
	case value >= pwmMax:
		return 100
	}
	return uint8((value*100 + pwmMax/2) / pwmMax)
}

func percentToPWM(percent uint8) int {
	if percent >= 100 {
		return pwmMax
	}
	return (int(percent)*pwmMax + 50) / 100
}

func clampCelsius(celsius float64) uint8 {
	switch {
	case celsius <= 0 || math.IsNaN(celsius):
		return 0
	case celsius >= math.MaxUint8:
		return math.MaxUint8
	}
	return uint8(math.Round(celsius))
}
