// SPDX-License-Identifier: MIT
package judge

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// ParseOutput extracts a Verdict from raw model text. JSON embedded in
// prose is tolerated; anything else fails with ErrOutput.
func ParseOutput(raw string) (Verdict, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Verdict{}, fmt.Errorf("%w: empty_output", ErrOutput)
	}
	if !strings.HasPrefix(text, "{") {
		m := jsonObjectRe.FindString(text)
		if m == "" {
			return Verdict{}, fmt.Errorf("%w: json_not_found", ErrOutput)
		}
		text = m
	}

	var data struct {
		Verdict    string          `json:"verdict"`
		Reason     string          `json:"reason"`
		Confidence json.RawMessage `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return Verdict{}, fmt.Errorf("%w: json_decode_error", ErrOutput)
	}
	if data.Verdict != "ALLOW" && data.Verdict != "BLOCK" {
		return Verdict{}, fmt.Errorf("%w: invalid_verdict", ErrOutput)
	}
	reason := strings.TrimSpace(data.Reason)
	if reason == "" {
		reason = "No reason provided"
	}
	confidence, err := parseConfidence(data.Confidence)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: invalid_confidence", ErrOutput)
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return Verdict{Verdict: data.Verdict, Reason: reason, Confidence: confidence, Source: "gemini"}, nil
}

// parseConfidence accepts integers, floats and numeric strings.
func parseConfidence(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, err
		}
		return int(f), nil
	}
	return 0, fmt.Errorf("not numeric")
}
