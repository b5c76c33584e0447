// Package sensor defines the Sensor and Node entities the core reads but
// never originates: both are created by external adoption flows and
// mutated only by the API surface.
package sensor

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// CoreNodeID is the distinguished, self-reporting node id.
const CoreNodeID = "00000000-0000-0000-0000-000000000001"

// DeriveID computes a sensor's stable 24-hex-char identity from its
// (namespace, key) pair via truncated SHA-256.
func DeriveID(namespace, key string) string {
	sum := sha256.Sum256([]byte(namespace + "\x00" + key))
	return hex.EncodeToString(sum[:])[:24]
}

// Sensor is a single telemetry source owned by a Node.
type Sensor struct {
	ID                string
	NodeID            string
	Type              string
	Unit              string
	IntervalSeconds   int64
	RollingAvgSeconds int64 // 0 = pass-through, no rolling window
	Config            map[string]any
	DeletedAt         *time.Time
}

// IsDeleted reports whether the sensor carries a soft-delete tombstone.
func (s Sensor) IsDeleted() bool { return s.DeletedAt != nil }

// LivenessStatus is the online/offline/degraded classification shared by
// sensors and nodes.
type LivenessStatus string

const (
	StatusOnline   LivenessStatus = "online"
	StatusOffline  LivenessStatus = "offline"
	StatusDegraded LivenessStatus = "degraded"
)

// Node is a physical or virtual edge device hosting zero or more sensors.
type Node struct {
	ID               string
	LastSeen         time.Time
	Liveness         LivenessStatus
	HeartbeatHint    time.Duration
	Config           map[string]any
}

// ConfigBool reads a well-known boolean config key, defaulting to false
// when absent or not a bool.
func (n Node) ConfigBool(key string) bool {
	v, ok := n.Config[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Well-known Node.Config keys.
const (
	ConfigHideLiveWeather = "hide_live_weather"
	ConfigPollEnabled     = "poll_enabled"
	ConfigHidden          = "hidden"
	ConfigDeleted         = "deleted"
	ConfigBatteryModel    = "battery_model"
	ConfigPowerRunway     = "power_runway"
	ConfigAgentHost       = "node_agent.host"
)
