package fancontrol

import (
	"encoding/json"
	"sort"
)

// Point is one breakpoint of a fan profile.
type Point struct {
	Temperature uint8 `json:"temp"`
	FanPercent  uint8 `json:"fan"`
	PowerLimit  uint8 `json:"power_limit"`
}

// Profile maps temperatures to a fan speed and a power-limit level.
//
// The fan curve is interpolated linearly between breakpoints. The power
// limit steps to the nearest breakpoint at or below the temperature. Both
// clamp to the outermost breakpoints. A Profile is immutable once built.
type Profile struct {
	points []Point
}

// NewProfile returns a profile over the given breakpoints, sorted by
// temperature. Fan percentages above 100 are capped. Monotonicity is not
// checked.
func NewProfile(points []Point) Profile {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	for i := range sorted {
		if sorted[i].FanPercent > 100 {
			sorted[i].FanPercent = 100
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Temperature < sorted[j].Temperature
	})
	return Profile{points: sorted}
}

// DefaultProfile is used when no profile is configured or the configured
// one cannot be loaded.
func DefaultProfile() Profile {
	return NewProfile([]Point{
		{Temperature: 40, FanPercent: 0},
		{Temperature: 50, FanPercent: 15},
		{Temperature: 60, FanPercent: 30},
		{Temperature: 70, FanPercent: 50},
		{Temperature: 80, FanPercent: 75},
		{Temperature: 90, FanPercent: 100},
		{Temperature: 95, FanPercent: 100, PowerLimit: 25},
	})
}

// Points returns a copy of the breakpoints in ascending temperature order.
func (p Profile) Points() []Point {
	out := make([]Point, len(p.points))
	copy(out, p.points)
	return out
}

// Empty reports whether the profile has no breakpoints.
func (p Profile) Empty() bool {
	return len(p.points) == 0
}

// TargetFanPercent evaluates the fan curve. An empty profile runs the fan
// at full speed.
func (p Profile) TargetFanPercent(temp uint8) uint8 {
	n := len(p.points)
	switch {
	case n == 0:
		return 100
	case temp <= p.points[0].Temperature:
		return p.points[0].FanPercent
	case temp >= p.points[n-1].Temperature:
		return p.points[n-1].FanPercent
	}

	// p.points[i-1].Temperature < temp < p.points[i].Temperature
	i := sort.Search(n, func(i int) bool { return p.points[i].Temperature >= temp })
	if p.points[i].Temperature == temp {
		return p.points[i].FanPercent
	}
	lo, hi := p.points[i-1], p.points[i]

	span := int(hi.Temperature) - int(lo.Temperature)
	offset := int(temp) - int(lo.Temperature)
	delta := int(hi.FanPercent) - int(lo.FanPercent)

	return uint8(int(lo.FanPercent) + delta*offset/span)
}

// TargetPowerLimit evaluates the power-limit steps. An empty profile
// leaves the power limit at its default level 0.
func (p Profile) TargetPowerLimit(temp uint8) uint8 {
	switch {
	case len(p.points) == 0:
		return 0
	case temp < p.points[0].Temperature:
		return p.points[0].PowerLimit
	}

	i := sort.Search(len(p.points), func(i int) bool { return p.points[i].Temperature > temp })
	return p.points[i-1].PowerLimit
}

// MarshalJSON encodes the profile as its array of breakpoints.
func (p Profile) MarshalJSON() ([]byte, error) {
	if p.points == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.points)
}

// UnmarshalJSON decodes an array of breakpoints.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var points []Point
	if err := json.Unmarshal(data, &points); err != nil {
		return err
	}
	*p = NewProfile(points)
	return nil
}
