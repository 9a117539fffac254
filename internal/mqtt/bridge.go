// SPDX-License-Identifier: MIT

// Package mqtt bridges supervisor state to an MQTT broker, including
// Home Assistant discovery and inbound control commands.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	xlog "github.com/joeblack2k/sentinel-yt/internal/log"
	"github.com/joeblack2k/sentinel-yt/internal/metrics"
)

const commandQueueSize = 256

var topicSlugRe = regexp.MustCompile(`[^a-zA-Z0-9_/-]+`)

func topicSlug(raw, fallback string) string {
	out := topicSlugRe.ReplaceAllString(strings.TrimSpace(raw), "")
	out = strings.Trim(out, "/")
	if out == "" {
		return fallback
	}
	return out
}

func boolSetting(raw string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func intSetting(raw string, def, min, max int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		v = def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func switchPayload(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// Config is the broker configuration derived from runtime settings.
type Config struct {
	Enabled                bool   `json:"enabled"`
	Host                   string `json:"host"`
	Port                   int    `json:"port"`
	Username               string `json:"username"`
	Password               string `json:"password"`
	BaseTopic              string `json:"base_topic"`
	DiscoveryPrefix        string `json:"discovery_prefix"`
	Retain                 bool   `json:"retain"`
	TLS                    bool   `json:"tls"`
	PublishIntervalSeconds int    `json:"publish_interval_seconds"`
	ClientID               string `json:"client_id"`
}

func configFromSettings(settings map[string]string) Config {
	return Config{
		Enabled:                boolSetting(settings["mqtt_enabled"], false),
		Host:                   strings.TrimSpace(settings["mqtt_host"]),
		Port:                   intSetting(settings["mqtt_port"], 1883, 1, 65535),
		Username:               strings.TrimSpace(settings["mqtt_username"]),
		Password:               settings["mqtt_password"],
		BaseTopic:              topicSlug(settings["mqtt_base_topic"], "sentinel"),
		DiscoveryPrefix:        topicSlug(settings["mqtt_discovery_prefix"], "homeassistant"),
		Retain:                 boolSetting(settings["mqtt_retain"], true),
		TLS:                    boolSetting(settings["mqtt_tls"], false),
		PublishIntervalSeconds: intSetting(settings["mqtt_publish_interval_seconds"], 30, 5, 3600),
		ClientID:               topicSlug(settings["mqtt_client_id"], "sentinel-yt"),
	}
}

func (c Config) signature() string {
	raw, _ := json.Marshal(c)
	return string(raw)
}

// Command is one control message received from the broker.
type Command struct {
	Name    string
	Payload string
}

// Bridge owns the paho client and the inbound command queue.
type Bridge struct {
	log zerolog.Logger

	mu                 sync.Mutex
	client             paho.Client
	connected          bool
	lastError          string
	cfg                Config
	cfgSignature       string
	discoverySignature string

	commands chan Command

	// newClient is swapped in tests.
	newClient func(opts *paho.ClientOptions) paho.Client
}

func NewBridge() *Bridge {
	return &Bridge{
		log:      xlog.WithComponent("mqtt"),
		commands: make(chan Command, commandQueueSize),
		cfg: Config{
			Port:                   1883,
			BaseTopic:              "sentinel",
			DiscoveryPrefix:        "homeassistant",
			Retain:                 true,
			PublishIntervalSeconds: 30,
			ClientID:               "sentinel-yt",
		},
		newClient: paho.NewClient,
	}
}

// Enabled reports whether the broker is configured on.
func (b *Bridge) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.Enabled
}

// Connected reports whether the broker connection is up.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// LastError is the most recent broker problem, empty when healthy.
func (b *Bridge) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// PublishIntervalSeconds is the snapshot cadence, minimum five seconds.
func (b *Bridge) PublishIntervalSeconds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.PublishIntervalSeconds < 5 {
		return 5
	}
	return b.cfg.PublishIntervalSeconds
}

// Info is the status payload for the API.
func (b *Bridge) Info() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]any{
		"enabled":                  b.cfg.Enabled,
		"connected":                b.connected,
		"host":                     b.cfg.Host,
		"port":                     b.cfg.Port,
		"base_topic":               b.cfg.BaseTopic,
		"discovery_prefix":         b.cfg.DiscoveryPrefix,
		"retain":                   b.cfg.Retain,
		"tls":                      b.cfg.TLS,
		"publish_interval_seconds": b.cfg.PublishIntervalSeconds,
		"command_topics":           commandTopics(b.cfg.BaseTopic),
		"last_error":               b.lastError,
	}
}

func commandTopics(baseTopic string) map[string]string {
	return map[string]string{
		"active":                 baseTopic + "/command/active/set",
		"sponsorblock_active":    baseTopic + "/command/sponsorblock_active/set",
		"remote_release_minutes": baseTopic + "/command/remote_release_minutes/set",
	}
}

// ApplySettings reconfigures the broker connection when settings
// changed. Unchanged settings with a live client are a no-op.
func (b *Bridge) ApplySettings(ctx context.Context, settings map[string]string) {
	cfg := configFromSettings(settings)
	signature := cfg.signature()

	b.mu.Lock()
	b.cfg = cfg
	if !cfg.Enabled {
		b.lastError = ""
		b.cfgSignature = signature
		b.discoverySignature = ""
		client := b.client
		b.client = nil
		b.connected = false
		b.mu.Unlock()
		disconnect(client)
		return
	}
	if cfg.Host == "" {
		b.lastError = "MQTT is enabled but broker host is empty."
		b.cfgSignature = signature
		b.discoverySignature = ""
		client := b.client
		b.client = nil
		b.connected = false
		b.mu.Unlock()
		disconnect(client)
		return
	}
	if signature == b.cfgSignature && b.client != nil {
		b.mu.Unlock()
		return
	}
	old := b.client
	b.client = nil
	b.connected = false
	b.cfgSignature = signature
	b.discoverySignature = ""
	b.mu.Unlock()

	disconnect(old)
	b.connect(ctx, cfg)
}

func disconnect(client paho.Client) {
	if client == nil {
		return
	}
	client.Disconnect(250)
}

func (b *Bridge) connect(ctx context.Context, cfg Config) {
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetKeepAlive(45 * time.Second).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(client paho.Client) {
		b.mu.Lock()
		b.connected = true
		b.lastError = ""
		baseTopic := b.cfg.BaseTopic
		b.mu.Unlock()
		for _, topic := range commandTopics(baseTopic) {
			client.Subscribe(topic, 1, b.onMessage)
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		b.mu.Lock()
		b.connected = false
		b.lastError = fmt.Sprintf("MQTT connection lost: %v", err)
		b.mu.Unlock()
	})

	client := b.newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		b.mu.Lock()
		b.lastError = fmt.Sprintf("MQTT connect failed: %v", token.Error())
		b.mu.Unlock()
		client.Disconnect(0)
		return
	}
	b.mu.Lock()
	b.client = client
	b.mu.Unlock()
	_ = ctx
}

func (b *Bridge) onMessage(_ paho.Client, msg paho.Message) {
	b.handleMessage(msg.Topic(), msg.Payload(), msg.Retained())
}

// handleMessage routes an inbound publish to the command queue.
// Retained commands are ignored so reconnects do not replay stale
// ON/OFF actions.
func (b *Bridge) handleMessage(topic string, payload []byte, retained bool) {
	if retained {
		return
	}
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return
	}
	b.mu.Lock()
	topics := commandTopics(b.cfg.BaseTopic)
	b.mu.Unlock()

	name := ""
	for candidate, t := range topics {
		if t == topic {
			name = candidate
			break
		}
	}
	if name == "" {
		return
	}
	select {
	case b.commands <- Command{Name: name, Payload: trimmed}:
	default:
		b.log.Warn().Str("command", name).Msg("command queue full, dropping command")
	}
}

// DrainCommands returns and clears all queued commands.
func (b *Bridge) DrainCommands() []Command {
	var out []Command
	for {
		select {
		case cmd := <-b.commands:
			out = append(out, cmd)
		default:
			return out
		}
	}
}

func (b *Bridge) publish(topic, payload string, retain bool) bool {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return false
	}
	token := client.Publish(topic, 1, retain, payload)
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		b.mu.Lock()
		b.lastError = fmt.Sprintf("MQTT publish failed for topic %s.", topic)
		b.mu.Unlock()
		metrics.MQTTPublishes.WithLabelValues("error").Inc()
		return false
	}
	metrics.MQTTPublishes.WithLabelValues("ok").Inc()
	return true
}

func (b *Bridge) stateTopic(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.BaseTopic + "/state/" + key
}

func (b *Bridge) publishReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.Enabled && b.cfg.Host != "" && b.client != nil
}

// PublishSnapshot writes availability and every state topic.
func (b *Bridge) PublishSnapshot(_ context.Context, payload map[string]any) {
	if !b.publishReady() {
		return
	}
	b.mu.Lock()
	retain := b.cfg.Retain
	b.mu.Unlock()

	b.publish(b.stateTopic("availability"), "online", true)
	pairs := map[string]string{
		"active":                 switchPayload(asBool(payload["active"])),
		"sponsorblock_active":    switchPayload(asBool(payload["sponsorblock_active"])),
		"monitoring_effective":   switchPayload(asBool(payload["monitoring_effective"])),
		"sponsorblock_effective": switchPayload(asBool(payload["sponsorblock_effective"])),
		"judge_ok":               switchPayload(asBool(payload["judge_ok"])),
		"schedule_active_now":    switchPayload(asBool(payload["schedule_active_now"])),
		"schedule_mode_now":      asString(payload["schedule_mode_now"], "blocklist"),
		"schedules_count":        asIntString(payload["schedules_count"]),
		"timezone":               asString(payload["timezone"], "UTC"),
		"build_version":          asString(payload["build_version"], ""),
		"remote_release_active":  switchPayload(asBool(payload["remote_release_active"])),
		"devices_connected":      asIntString(payload["devices_connected"]),
		"devices_total":          asIntString(payload["devices_total"]),
		"blocked_today":          asIntString(payload["blocked_today"]),
		"blocked_7d":             asIntString(payload["blocked_7d"]),
		"allowed_today":          asIntString(payload["allowed_today"]),
		"allowed_7d":             asIntString(payload["allowed_7d"]),
		"reviewed_today":         asIntString(payload["reviewed_today"]),
		"reviewed_7d":            asIntString(payload["reviewed_7d"]),
		"blocked_total":          asIntString(payload["blocked_total"]),
		"allowed_total":          asIntString(payload["allowed_total"]),
		"db_size_bytes":          asIntString(payload["db_size_bytes"]),
		"remote_release_minutes": asIntString(payload["remote_release_minutes"]),
		"updated_at":             time.Now().UTC().Format(time.RFC3339),
		"last_error":             asString(payload["last_error"], ""),
	}
	for key, value := range pairs {
		b.publish(b.stateTopic(key), value, retain)
	}
}

// PublishOffline marks the integration unavailable, used on shutdown.
func (b *Bridge) PublishOffline(_ context.Context) {
	if !b.publishReady() {
		return
	}
	b.publish(b.stateTopic("availability"), "offline", true)
}

// Close tears the broker connection down.
func (b *Bridge) Close() {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.connected = false
	b.mu.Unlock()
	disconnect(client)
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asString(v any, def string) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return def
	}
	return s
}

func asIntString(v any) string {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.Itoa(int(n))
	}
	return "0"
}
