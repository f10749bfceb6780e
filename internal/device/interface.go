// Package device provides hardware access for the fan controllers: fan
// speed and temperature reads, fan speed writes, firmware auto mode and the
// system power-limit surface.
package device

// Device exposes the fans of one cooling device. Speeds are percentages in
// [0, 100], temperatures are degrees Celsius.
type Device interface {
	FanCount() int
	FanSpeed(fan int) (uint8, error)
	Temperature(fan int) (uint8, error)
	SetFanSpeed(fan int, percent uint8) error
	// SetAuto hands every fan back to firmware control.
	SetAuto() error
	Close() error
}

// PowerLimit is a writable system power-limit control. Level 0 restores
// the platform default.
type PowerLimit interface {
	Set(level uint8) error
	Close() error
}
