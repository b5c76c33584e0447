package visibility

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve_HiddenWinsOverOverride(t *testing.T) {
	r := Resolve(
		SensorConfig{Hidden: true, VisibilityOverride: OverrideVisible},
		NodeConfig{},
	)
	require.False(t, r.Visible)
	require.Equal(t, "sensor.hidden", r.Reason)
}

func TestResolve_OverrideWinsOverNodeFlag(t *testing.T) {
	r := Resolve(
		SensorConfig{VisibilityOverride: OverrideVisible, SensorType: "open_meteo_weather"},
		NodeConfig{HideLiveWeather: true},
	)
	require.True(t, r.Visible)
	require.Equal(t, "sensor.override_visible", r.Reason)
}

func TestResolve_NodeFlagAppliesWithoutOverride(t *testing.T) {
	r := Resolve(
		SensorConfig{SensorType: "open_meteo_weather"},
		NodeConfig{HideLiveWeather: true},
	)
	require.False(t, r.Visible)
	require.Equal(t, "node.hide_live_weather", r.Reason)
}

func TestResolve_DefaultVisible(t *testing.T) {
	r := Resolve(SensorConfig{SensorType: "soil_moisture"}, NodeConfig{})
	require.True(t, r.Visible)
}

func TestResolve_DeletedNodeWinsOverSensorOverride(t *testing.T) {
	r := Resolve(
		SensorConfig{VisibilityOverride: OverrideVisible},
		NodeConfig{Deleted: true},
	)
	require.False(t, r.Visible)
	require.Equal(t, "node.deleted", r.Reason)
}

func TestResolve_PollDisabledNodeWinsOverSensorOverride(t *testing.T) {
	r := Resolve(
		SensorConfig{VisibilityOverride: OverrideVisible},
		NodeConfig{PollDisabled: true},
	)
	require.False(t, r.Visible)
	require.Equal(t, "node.poll_disabled", r.Reason)
}

func TestResolve_HiddenNodeWinsOverSensorOverride(t *testing.T) {
	r := Resolve(
		SensorConfig{VisibilityOverride: OverrideVisible},
		NodeConfig{Hidden: true},
	)
	require.False(t, r.Visible)
	require.Equal(t, "node.hidden", r.Reason)
}

func TestResolve_PollDisabledSensorWinsOverOverride(t *testing.T) {
	r := Resolve(
		SensorConfig{PollDisabled: true, VisibilityOverride: OverrideVisible},
		NodeConfig{},
	)
	require.False(t, r.Visible)
	require.Equal(t, "sensor.poll_disabled", r.Reason)
}
