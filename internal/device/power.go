package device

import (
	"os"
	"strconv"

	"codeberg.org/mutker/fanctl/internal/errors"
)

// SysfsPowerLimit writes textual levels to a single sysfs control (for
// example intel_powerclamp's cooling_device cur_state) through one handle
// kept open for its lifetime.
type SysfsPowerLimit struct {
	file *os.File
}

// OpenSysfsPowerLimit opens the control file for writing.
func OpenSysfsPowerLimit(path string) (*SysfsPowerLimit, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, errors.New().Wrap(ErrInitFailed, err)
	}

	return &SysfsPowerLimit{file: f}, nil
}

func (p *SysfsPowerLimit) Set(level uint8) error {
	if _, err := p.file.WriteAt([]byte(strconv.Itoa(int(level))), 0); err != nil {
		return errors.New().Wrap(ErrSetPowerLimit, err)
	}
	return nil
}

func (p *SysfsPowerLimit) Close() error {
	return p.file.Close()
}

// NopPowerLimit discards every level. Controllers that do not own the
// system power limit use it.
type NopPowerLimit struct{}

func (NopPowerLimit) Set(uint8) error { return nil }

func (NopPowerLimit) Close() error { return nil }
