package alarmengine

import (
	"context"
	"fmt"

	"github.com/fieldops/controlplane/internal/domain/alarmdomain"
	"github.com/fieldops/controlplane/internal/domain/sensor"
	"github.com/fieldops/controlplane/internal/store"
)

// Target is one resolved evaluation subject: either a single sensor
// (member of a larger group when Members is set) or a group whose truth
// combines its members' truths per MatchMode.
type Target struct {
	Key     string // the target_key persisted on events/incidents
	Members []string
	Mode    alarmdomain.MatchMode
}

// ResolveSelector expands a Selector into concrete Targets. per_sensor
// match produces one Target per resolved sensor id; any/all match produces
// a single Target carrying every member.
func ResolveSelector(ctx context.Context, sensors *store.SensorStore, sel alarmdomain.Selector) ([]Target, error) {
	switch sel.Kind {
	case alarmdomain.SelectorSensor:
		return []Target{{Key: sel.SensorID, Members: []string{sel.SensorID}}}, nil

	case alarmdomain.SelectorSensorSet:
		return groupOrSplit(sel.SensorIDs, sel.Match, groupKey("sensor_set", sel.SensorIDs)), nil

	case alarmdomain.SelectorNodeSensors:
		all, err := sensors.ListSensorsByNode(ctx, sel.NodeID)
		if err != nil {
			return nil, fmt.Errorf("alarmengine: resolve node_sensors: %w", err)
		}
		ids := filterByType(all, sel.Types)
		return groupOrSplit(ids, sel.Match, sel.NodeID), nil

	case alarmdomain.SelectorFilter:
		all, err := sensors.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("alarmengine: resolve filter: %w", err)
		}
		ids := filterSensors(all, sel)
		return groupOrSplit(ids, sel.Match, groupKey("filter", ids)), nil

	default:
		return nil, fmt.Errorf("alarmengine: unknown selector kind %q", sel.Kind)
	}
}

func filterByType(sensors []sensor.Sensor, types []string) []string {
	if len(types) == 0 {
		ids := make([]string, len(sensors))
		for i, s := range sensors {
			ids[i] = s.ID
		}
		return ids
	}
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	var ids []string
	for _, s := range sensors {
		if wanted[s.Type] {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func filterSensors(sensors []sensor.Sensor, sel alarmdomain.Selector) []string {
	var ids []string
	for _, s := range sensors {
		if sel.SensorType != "" && s.Type != sel.SensorType {
			continue
		}
		// Provider/Metric are opaque config-carried attributes; matched
		// against the sensor's config map when present.
		if sel.Provider != "" {
			if v, _ := s.Config["provider"].(string); v != sel.Provider {
				continue
			}
		}
		if sel.Metric != "" {
			if v, _ := s.Config["metric"].(string); v != sel.Metric {
				continue
			}
		}
		ids = append(ids, s.ID)
	}
	return ids
}

func groupOrSplit(ids []string, mode alarmdomain.MatchMode, groupLabel string) []Target {
	if mode == alarmdomain.MatchAny || mode == alarmdomain.MatchAll {
		return []Target{{Key: groupLabel, Members: ids, Mode: mode}}
	}
	targets := make([]Target, len(ids))
	for i, id := range ids {
		targets[i] = Target{Key: id, Members: []string{id}}
	}
	return targets
}

func groupKey(prefix string, ids []string) string {
	key := prefix
	for _, id := range ids {
		key += ":" + id
	}
	return key
}
