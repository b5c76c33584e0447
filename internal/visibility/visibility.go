// Package visibility resolves whether a sensor should be shown on the
// dashboard, combining node-level deletion/poll/hidden state with a
// sensor-level override and a node-level legacy weather flag (Testable
// Property 9). The precedence decision (see DESIGN.md) is: a deleted or
// poll-disabled or hidden node always wins, then a poll-disabled sensor,
// then an explicit sensor hidden=true — a hidden sensor can never be
// forced visible — then the sensor's visibility_override, then the node's
// hide_live_weather flag.
package visibility

// Override is a sensor's explicit visibility_override value.
type Override string

const (
	OverrideNone    Override = ""
	OverrideVisible Override = "visible"
	OverrideHidden  Override = "hidden"
)

// SensorConfig is the subset of sensor config this predicate inspects.
type SensorConfig struct {
	Hidden             bool
	PollDisabled       bool
	VisibilityOverride Override
	SensorType         string // used to detect Open-Meteo weather sensors
}

// NodeConfig is the subset of node config this predicate inspects.
type NodeConfig struct {
	Deleted         bool
	PollDisabled    bool
	Hidden          bool
	HideLiveWeather bool
}

// IsOpenMeteoWeather reports whether a sensor type is subject to the
// node-level hide_live_weather flag.
func IsOpenMeteoWeather(sensorType string) bool {
	return sensorType == "open_meteo_weather"
}

// Result is the outcome of evaluating visibility, with a reason string
// naming which rule decided it.
type Result struct {
	Visible bool
	Reason  string
}

// Resolve evaluates the precedence chain. Node-level deleted/poll/hidden
// state and sensor-level poll-disabled state take precedence over the
// sensor hidden flag and override, since a sensor cannot be forced visible
// on a node that isn't even being polled.
func Resolve(sensor SensorConfig, node NodeConfig) Result {
	if node.Deleted {
		return Result{Visible: false, Reason: "node.deleted"}
	}
	if node.PollDisabled {
		return Result{Visible: false, Reason: "node.poll_disabled"}
	}
	if node.Hidden {
		return Result{Visible: false, Reason: "node.hidden"}
	}
	if sensor.PollDisabled {
		return Result{Visible: false, Reason: "sensor.poll_disabled"}
	}
	if sensor.Hidden {
		return Result{Visible: false, Reason: "sensor.hidden"}
	}
	if sensor.VisibilityOverride == OverrideVisible {
		return Result{Visible: true, Reason: "sensor.override_visible"}
	}
	if sensor.VisibilityOverride == OverrideHidden {
		return Result{Visible: false, Reason: "sensor.override_hidden"}
	}
	if node.HideLiveWeather && IsOpenMeteoWeather(sensor.SensorType) {
		return Result{Visible: false, Reason: "node.hide_live_weather"}
	}
	return Result{Visible: true, Reason: "default_visible"}
}
