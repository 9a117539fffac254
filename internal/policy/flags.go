// SPDX-License-Identifier: MIT
package policy

import (
	"encoding/json"
	"strings"
)

// Flags maps preset keys to their enabled state. Normalization always
// yields an entry for every known key.
type Flags map[string]bool

func normalize(raw string, presets []Preset) Flags {
	var data map[string]any
	if text := strings.TrimSpace(raw); text != "" {
		var loaded map[string]any
		if err := json.Unmarshal([]byte(text), &loaded); err == nil {
			data = loaded
		}
	}
	out := make(Flags, len(presets))
	for _, p := range presets {
		enabled := p.Default
		if v, ok := data[p.Key]; ok {
			enabled = truthy(v)
		}
		out[p.Key] = enabled
	}
	return out
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	case float64:
		return t != 0
	default:
		return false
	}
}

// NormalizeBlockFlags parses a JSON flag object against the block catalog.
// Unknown keys are dropped and missing keys take their preset default.
func NormalizeBlockFlags(raw string) Flags {
	return normalize(raw, BlockPresets)
}

// NormalizeAllowFlags parses a JSON flag object against the allow catalog.
func NormalizeAllowFlags(raw string) Flags {
	return normalize(raw, AllowPresets)
}

// Haystack builds the lowercase keyword-matching haystack. Leading and
// trailing spaces are part of the contract: needles like " kill " rely on
// word boundaries at the ends.
func Haystack(title, channelTitle, videoURL string) string {
	return strings.ToLower(" " + title + " " + channelTitle + " " + videoURL + " ")
}

func matchPresets(flags Flags, presets []Preset, hay string) (string, bool) {
	for _, p := range presets {
		if !flags[p.Key] {
			continue
		}
		for _, needle := range p.Keywords {
			if strings.Contains(hay, needle) {
				return p.Label, true
			}
		}
	}
	return "", false
}

// MatchBlock returns the label of the first enabled block preset whose
// keywords occur in the haystack.
func MatchBlock(flags Flags, hay string) (string, bool) {
	return matchPresets(flags, BlockPresets, hay)
}

// MatchAllow returns the label of the first enabled allow preset whose
// keywords occur in the haystack.
func MatchAllow(flags Flags, hay string) (string, bool) {
	return matchPresets(flags, AllowPresets, hay)
}

// MatchStrictClickbait reports whether the haystack trips the always-block
// clickbait filter.
func MatchStrictClickbait(hay string) bool {
	for _, needle := range StrictClickbaitKeywords {
		if strings.Contains(hay, needle) {
			return true
		}
	}
	return false
}

// BuildBlockPromptAddon renders the prompt fragment for enabled block
// presets, or "" when none are enabled.
func BuildBlockPromptAddon(flags Flags) string {
	var enabled []Preset
	for _, p := range BlockPresets {
		if flags[p.Key] {
			enabled = append(enabled, p)
		}
	}
	if len(enabled) == 0 {
		return ""
	}
	lines := []string{
		"Strict policy overrides enabled by admin toggles:",
		"If a toggle matches the video context, return BLOCK even when content is popular.",
	}
	for _, p := range enabled {
		lines = append(lines, "- "+p.Label+": "+p.PromptAddon)
	}
	return strings.Join(lines, "\n")
}

// BuildAllowPromptAddon renders the prompt fragment for enabled allow
// presets. With nothing enabled the fragment instructs a default BLOCK.
func BuildAllowPromptAddon(flags Flags) string {
	var enabled []Preset
	for _, p := range AllowPresets {
		if flags[p.Key] {
			enabled = append(enabled, p)
		}
	}
	if len(enabled) == 0 {
		return "No allow profile categories are enabled. Default to BLOCK."
	}
	lines := []string{
		"Allow profile categories enabled by admin toggles:",
		"Only ALLOW when the video clearly belongs to these categories.",
	}
	for _, p := range enabled {
		lines = append(lines, "- "+p.Label+": "+p.PromptAddon)
	}
	return strings.Join(lines, "\n")
}
