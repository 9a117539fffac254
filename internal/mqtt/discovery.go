// SPDX-License-Identifier: MIT
package mqtt

import (
	"context"
	"encoding/json"
)

type entity struct {
	component string
	objectID  string
	payload   map[string]any
}

// discoveryEntities lists every Home Assistant entity the bridge
// announces: two switches, five binary sensors, sixteen sensors, and
// the release-minutes number input.
func discoveryEntities(node, baseTopic string, stateTopic func(string) string) []entity {
	cmd := commandTopics(baseTopic)
	return []entity{
		{"switch", "sentinel_active", map[string]any{
			"name":          "Sentinel Active",
			"unique_id":     node + "_sentinel_active",
			"state_topic":   stateTopic("active"),
			"command_topic": cmd["active"],
			"payload_on":    "ON",
			"payload_off":   "OFF",
			"state_on":      "ON",
			"state_off":     "OFF",
			"icon":          "mdi:shield-check",
		}},
		{"switch", "sponsorblock_active", map[string]any{
			"name":          "SponsorBlock Active",
			"unique_id":     node + "_sponsorblock_active",
			"state_topic":   stateTopic("sponsorblock_active"),
			"command_topic": cmd["sponsorblock_active"],
			"payload_on":    "ON",
			"payload_off":   "OFF",
			"state_on":      "ON",
			"state_off":     "OFF",
			"icon":          "mdi:skip-next-circle",
		}},
		{"binary_sensor", "monitoring_effective", map[string]any{
			"name":        "Sentinel Monitoring Effective",
			"unique_id":   node + "_monitoring_effective",
			"state_topic": stateTopic("monitoring_effective"),
			"payload_on":  "ON",
			"payload_off": "OFF",
			"icon":        "mdi:shield-search",
		}},
		{"binary_sensor", "sponsorblock_effective", map[string]any{
			"name":        "SponsorBlock Effective",
			"unique_id":   node + "_sponsorblock_effective",
			"state_topic": stateTopic("sponsorblock_effective"),
			"payload_on":  "ON",
			"payload_off": "OFF",
			"icon":        "mdi:skip-forward-outline",
		}},
		{"binary_sensor", "judge_ok", map[string]any{
			"name":        "Sentinel Judge OK",
			"unique_id":   node + "_judge_ok",
			"state_topic": stateTopic("judge_ok"),
			"payload_on":  "ON",
			"payload_off": "OFF",
			"icon":        "mdi:robot",
		}},
		{"binary_sensor", "schedule_active_now", map[string]any{
			"name":        "Sentinel Schedule Active",
			"unique_id":   node + "_schedule_active_now",
			"state_topic": stateTopic("schedule_active_now"),
			"payload_on":  "ON",
			"payload_off": "OFF",
			"icon":        "mdi:calendar-clock",
		}},
		{"binary_sensor", "remote_release_active", map[string]any{
			"name":        "Sentinel Remote Release Active",
			"unique_id":   node + "_remote_release_active",
			"state_topic": stateTopic("remote_release_active"),
			"payload_on":  "ON",
			"payload_off": "OFF",
			"icon":        "mdi:television-play",
		}},
		{"sensor", "schedule_mode_now", map[string]any{
			"name":        "Sentinel Schedule Mode",
			"unique_id":   node + "_schedule_mode_now",
			"state_topic": stateTopic("schedule_mode_now"),
			"icon":        "mdi:timeline-text",
		}},
		{"sensor", "timezone", map[string]any{
			"name":        "Sentinel Timezone",
			"unique_id":   node + "_timezone",
			"state_topic": stateTopic("timezone"),
			"icon":        "mdi:map-clock",
		}},
		{"sensor", "build_version", map[string]any{
			"name":        "Sentinel Build Version",
			"unique_id":   node + "_build_version",
			"state_topic": stateTopic("build_version"),
			"icon":        "mdi:source-branch",
		}},
		{"sensor", "blocked_today", map[string]any{
			"name":        "Sentinel Blocked Today",
			"unique_id":   node + "_blocked_today",
			"state_topic": stateTopic("blocked_today"),
			"state_class": "measurement",
			"icon":        "mdi:shield-remove",
		}},
		{"sensor", "blocked_7d", map[string]any{
			"name":        "Sentinel Blocked 7d",
			"unique_id":   node + "_blocked_7d",
			"state_topic": stateTopic("blocked_7d"),
			"state_class": "measurement",
			"icon":        "mdi:calendar-week",
		}},
		{"sensor", "allowed_today", map[string]any{
			"name":        "Sentinel Allowed Today",
			"unique_id":   node + "_allowed_today",
			"state_topic": stateTopic("allowed_today"),
			"state_class": "measurement",
			"icon":        "mdi:shield-check",
		}},
		{"sensor", "allowed_7d", map[string]any{
			"name":        "Sentinel Allowed 7d",
			"unique_id":   node + "_allowed_7d",
			"state_topic": stateTopic("allowed_7d"),
			"state_class": "measurement",
			"icon":        "mdi:calendar-week",
		}},
		{"sensor", "reviewed_today", map[string]any{
			"name":        "Sentinel Reviewed Today",
			"unique_id":   node + "_reviewed_today",
			"state_topic": stateTopic("reviewed_today"),
			"state_class": "measurement",
			"icon":        "mdi:counter",
		}},
		{"sensor", "reviewed_7d", map[string]any{
			"name":        "Sentinel Reviewed 7d",
			"unique_id":   node + "_reviewed_7d",
			"state_topic": stateTopic("reviewed_7d"),
			"state_class": "measurement",
			"icon":        "mdi:calendar-week",
		}},
		{"sensor", "devices_connected", map[string]any{
			"name":        "Sentinel Devices Connected",
			"unique_id":   node + "_devices_connected",
			"state_topic": stateTopic("devices_connected"),
			"state_class": "measurement",
			"icon":        "mdi:cast-connected",
		}},
		{"sensor", "devices_total", map[string]any{
			"name":        "Sentinel Devices Total",
			"unique_id":   node + "_devices_total",
			"state_topic": stateTopic("devices_total"),
			"state_class": "measurement",
			"icon":        "mdi:television",
		}},
		{"sensor", "schedules_count", map[string]any{
			"name":        "Sentinel Schedules Count",
			"unique_id":   node + "_schedules_count",
			"state_topic": stateTopic("schedules_count"),
			"state_class": "measurement",
			"icon":        "mdi:calendar-multiselect",
		}},
		{"sensor", "blocked_total", map[string]any{
			"name":        "Sentinel Blocked Total",
			"unique_id":   node + "_blocked_total",
			"state_topic": stateTopic("blocked_total"),
			"state_class": "total_increasing",
			"icon":        "mdi:shield-lock",
		}},
		{"sensor", "allowed_total", map[string]any{
			"name":        "Sentinel Allowed Total",
			"unique_id":   node + "_allowed_total",
			"state_topic": stateTopic("allowed_total"),
			"state_class": "total_increasing",
			"icon":        "mdi:playlist-check",
		}},
		{"sensor", "db_size_bytes", map[string]any{
			"name":                "Sentinel DB Size",
			"unique_id":           node + "_db_size_bytes",
			"state_topic":         stateTopic("db_size_bytes"),
			"state_class":         "measurement",
			"unit_of_measurement": "B",
			"icon":                "mdi:database",
		}},
		{"sensor", "last_error", map[string]any{
			"name":        "Sentinel Last Error",
			"unique_id":   node + "_last_error",
			"state_topic": stateTopic("last_error"),
			"icon":        "mdi:alert-circle-outline",
		}},
		{"number", "remote_release_minutes", map[string]any{
			"name":          "Sentinel Release Minutes",
			"unique_id":     node + "_remote_release_minutes",
			"state_topic":   stateTopic("remote_release_minutes"),
			"command_topic": cmd["remote_release_minutes"],
			"min":           0,
			"max":           240,
			"step":          1,
			"mode":          "box",
			"icon":          "mdi:timer-cog",
		}},
	}
}

// PublishDiscovery announces all entities to Home Assistant. Repeat
// calls with an unchanged topology are deduplicated unless forced.
func (b *Bridge) PublishDiscovery(_ context.Context, buildVersion string, force bool) {
	if !b.publishReady() {
		return
	}
	b.mu.Lock()
	sigPayload, _ := json.Marshal(map[string]any{
		"base_topic":       b.cfg.BaseTopic,
		"discovery_prefix": b.cfg.DiscoveryPrefix,
		"retain":           b.cfg.Retain,
		"build_version":    buildVersion,
	})
	signature := string(sigPayload)
	if !force && signature == b.discoverySignature {
		b.mu.Unlock()
		return
	}
	node := topicSlug(b.cfg.ClientID, "sentinel-yt")
	baseTopic := b.cfg.BaseTopic
	prefix := b.cfg.DiscoveryPrefix
	b.mu.Unlock()

	device := map[string]any{
		"identifiers":  []string{node + "_device"},
		"name":         "Sentinel YouTube Guardian",
		"manufacturer": "Sentinel",
		"model":        "sentinel-yt",
		"sw_version":   buildVersion,
	}
	availability := b.stateTopic("availability")

	for _, ent := range discoveryEntities(node, baseTopic, b.stateTopic) {
		payload := make(map[string]any, len(ent.payload)+4)
		for k, v := range ent.payload {
			payload[k] = v
		}
		payload["availability_topic"] = availability
		payload["payload_available"] = "online"
		payload["payload_not_available"] = "offline"
		payload["device"] = device

		raw, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		topic := prefix + "/" + ent.component + "/" + node + "/" + ent.objectID + "/config"
		b.publish(topic, string(raw), true)
	}

	b.mu.Lock()
	b.discoverySignature = signature
	b.mu.Unlock()
}
