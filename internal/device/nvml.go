package device

import (
	"sync"

	"codeberg.org/mutker/fanctl/internal/errors"
	"codeberg.org/mutker/fanctl/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const milliWattsToWatts = 1000

// NVML drives the fans of one NVIDIA GPU.
type NVML struct {
	device nvml.Device
	count  int
	mu     sync.Mutex
	logger logger.Logger
}

// OpenNVML initializes NVML and binds the GPU at index.
func OpenNVML(index int, log logger.Logger) (*NVML, error) {
	errFactory := errors.New()

	if ret := nvml.Init(); !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrInitFailed, newNVMLError(ret))
	}

	device, ret := nvml.DeviceGetHandleByIndex(index)
	if !IsNVMLSuccess(ret) {
		nvml.Shutdown()
		return nil, errFactory.Wrap(errors.ErrDeviceNotFound, newNVMLError(ret))
	}

	count, ret := device.GetNumFans()
	if !IsNVMLSuccess(ret) {
		nvml.Shutdown()
		return nil, errFactory.Wrap(ErrFanCountFailed, newNVMLError(ret))
	}
	if count == 0 {
		nvml.Shutdown()
		return nil, errFactory.New(ErrNoFans)
	}

	if name, ret := device.GetName(); IsNVMLSuccess(ret) {
		log.Info().Str("gpu", name).Int("fans", count).Msg("Detected GPU")
	} else {
		log.Warn().Msgf("Failed to get GPU name: %v", nvml.ErrorString(ret))
	}

	return &NVML{
		device: device,
		count:  count,
		logger: log,
	}, nil
}

func (n *NVML) FanCount() int {
	return n.count
}

func (n *NVML) FanSpeed(fan int) (uint8, error) {
	errFactory := errors.New()
	if err := n.checkIndex(fan); err != nil {
		return 0, err
	}

	speed, ret := n.device.GetFanSpeed_v2(fan)
	if !IsNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrGetFanSpeedFailed, newNVMLError(ret))
	}
	if speed > 100 {
		speed = 100
	}

	return uint8(speed), nil
}

// Temperature returns the GPU core temperature; all fans of a GPU share it.
func (n *NVML) Temperature(fan int) (uint8, error) {
	errFactory := errors.New()
	if err := n.checkIndex(fan); err != nil {
		return 0, err
	}

	temp, ret := n.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrTemperatureReadFailed, newNVMLError(ret))
	}
	if temp > 255 {
		temp = 255
	}

	return uint8(temp), nil
}

func (n *NVML) SetFanSpeed(fan int, percent uint8) error {
	errFactory := errors.New()
	if err := n.checkIndex(fan); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if ret := nvml.DeviceSetFanSpeed_v2(n.device, fan, int(percent)); !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrSetFanSpeed, newNVMLError(ret))
	}

	return nil
}

func (n *NVML) SetAuto() error {
	errFactory := errors.New()
	n.mu.Lock()
	defer n.mu.Unlock()

	for i := 0; i < n.count; i++ {
		if ret := nvml.DeviceSetDefaultFanSpeed_v2(n.device, i); !IsNVMLSuccess(ret) {
			return errFactory.Wrap(ErrEnableAutoFan, newNVMLError(ret))
		}
	}

	return nil
}

func (n *NVML) Close() error {
	if ret := nvml.Shutdown(); !IsNVMLSuccess(ret) {
		return errors.New().Wrap(ErrShutdownFailed, newNVMLError(ret))
	}
	return nil
}

// PowerLimit returns the GPU's power-limit surface. It shares the NVML
// session and must be closed before the device.
func (n *NVML) PowerLimit() (*NVMLPowerLimit, error) {
	errFactory := errors.New()

	minLimit, maxLimit, ret := n.device.GetPowerManagementLimitConstraints()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrPowerLimitsFailed, newNVMLError(ret))
	}

	defaultLimit, ret := n.device.GetPowerManagementDefaultLimit()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrPowerLimitsFailed, newNVMLError(ret))
	}

	n.logger.Debug().
		Uint32("min", minLimit/milliWattsToWatts).
		Uint32("max", maxLimit/milliWattsToWatts).
		Uint32("default", defaultLimit/milliWattsToWatts).
		Msg("Detected power limits (W)")

	return &NVMLPowerLimit{
		device:       n.device,
		minLimit:     minLimit,
		maxLimit:     maxLimit,
		defaultLimit: defaultLimit,
	}, nil
}

func (n *NVML) checkIndex(fan int) error {
	if fan < 0 || fan >= n.count {
		return errors.New().WithData(ErrInvalidFanIndex, fan)
	}
	return nil
}

// NVMLPowerLimit maps levels onto the GPU power limit: level N lowers the
// default limit by N percent, bounded by the board constraints.
type NVMLPowerLimit struct {
	device       nvml.Device
	minLimit     uint32
	maxLimit     uint32
	defaultLimit uint32
}

func (p *NVMLPowerLimit) Set(level uint8) error {
	limit := scalePowerLimit(p.defaultLimit, p.minLimit, p.maxLimit, level)
	if ret := p.device.SetPowerManagementLimit(limit); !IsNVMLSuccess(ret) {
		return errors.New().Wrap(ErrSetPowerLimit, newNVMLError(ret))
	}
	return nil
}

func (p *NVMLPowerLimit) Close() error {
	return nil
}

func scalePowerLimit(defaultLimit, minLimit, maxLimit uint32, level uint8) uint32 {
	if level > 100 {
		level = 100
	}
	limit := uint64(defaultLimit) * uint64(100-level) / 100
	switch {
	case limit < uint64(minLimit):
		return minLimit
	case limit > uint64(maxLimit):
		return maxLimit
	}
	return uint32(limit)
}
