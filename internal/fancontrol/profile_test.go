package fancontrol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileTargetFanPercent(t *testing.T) {
	profile := DefaultProfile()

	tests := []struct {
		temp uint8
		want uint8
	}{
		{0, 0},
		{39, 0},
		{40, 0},
		{45, 7},
		{50, 15},
		{55, 22},
		{65, 40},
		{89, 97},
		{90, 100},
		{255, 100},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, profile.TargetFanPercent(tt.temp), "temperature %d", tt.temp)
	}
}

func TestProfileTargetPowerLimitSteps(t *testing.T) {
	profile := NewProfile([]Point{
		{Temperature: 60, FanPercent: 30, PowerLimit: 5},
		{Temperature: 80, FanPercent: 70, PowerLimit: 20},
		{Temperature: 90, FanPercent: 100, PowerLimit: 40},
	})

	tests := []struct {
		temp uint8
		want uint8
	}{
		{20, 5},
		{60, 5},
		{79, 5},
		{80, 20},
		{89, 20},
		{90, 40},
		{120, 40},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, profile.TargetPowerLimit(tt.temp), "temperature %d", tt.temp)
	}
}

func TestProfileDefaultIsMonotonic(t *testing.T) {
	profile := DefaultProfile()

	prev := profile.TargetFanPercent(0)
	for temp := 1; temp <= 255; temp++ {
		got := profile.TargetFanPercent(uint8(temp))
		assert.GreaterOrEqual(t, got, prev, "temperature %d", temp)
		prev = got
	}
}

func TestNewProfileSortsAndCaps(t *testing.T) {
	input := []Point{
		{Temperature: 80, FanPercent: 150},
		{Temperature: 40, FanPercent: 10},
	}
	profile := NewProfile(input)

	assert.Equal(t, []Point{
		{Temperature: 40, FanPercent: 10},
		{Temperature: 80, FanPercent: 100},
	}, profile.Points())

	// caller's slice is untouched
	assert.Equal(t, uint8(80), input[0].Temperature)
	assert.Equal(t, uint8(150), input[0].FanPercent)
}

func TestEmptyProfile(t *testing.T) {
	var profile Profile

	assert.True(t, profile.Empty())
	assert.Equal(t, uint8(100), profile.TargetFanPercent(30))
	assert.Equal(t, uint8(0), profile.TargetPowerLimit(30))
}

func TestProfileJSON(t *testing.T) {
	var profile Profile
	err := json.Unmarshal([]byte(`[
		{"temp": 70, "fan": 60, "power_limit": 10},
		{"temp": 45, "fan": 20}
	]`), &profile)
	require.NoError(t, err)

	assert.Equal(t, []Point{
		{Temperature: 45, FanPercent: 20},
		{Temperature: 70, FanPercent: 60, PowerLimit: 10},
	}, profile.Points())

	data, err := json.Marshal(profile)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"temp": 45, "fan": 20, "power_limit": 0},
		{"temp": 70, "fan": 60, "power_limit": 10}
	]`, string(data))

	data, err = json.Marshal(Profile{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}
