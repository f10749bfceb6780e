// Package telemetry records per-tick fan controller snapshots to SQLite
// and MQTT.
package telemetry

import (
	"context"
	"time"
)

// Collector receives one snapshot per controller tick. Record must not
// block the control loop on slow sinks.
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Repository is a storage sink behind a Collector.
type Repository interface {
	Record(snapshot *Snapshot) error
	Close() error
}

// Snapshot is the state of one fan controller after a tick.
type Snapshot struct {
	Timestamp   time.Time    `json:"timestamp"`
	Fan         int          `json:"fan"`
	FanSpeed    FanMetrics   `json:"fan_speed"`
	Temperature TempMetrics  `json:"temperature"`
	PowerLimit  PowerMetrics `json:"power_limit"`
	State       StateMetrics `json:"state"`
	// DelayMS is the wait chosen before the next tick.
	DelayMS int64 `json:"delay_ms"`
}

type FanMetrics struct {
	Current uint8 `json:"current"`
	Target  uint8 `json:"target"`
}

type TempMetrics struct {
	Current  uint8 `json:"current"`
	Smoothed uint8 `json:"smoothed"`
}

type PowerMetrics struct {
	Current uint8 `json:"current"`
	Target  uint8 `json:"target"`
}

type StateMetrics struct {
	Overridden bool `json:"overridden"`
	Resumed    bool `json:"resumed"`
}
