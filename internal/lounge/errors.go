// SPDX-License-Identifier: MIT
package lounge

import "strings"

// PairingError carries a machine-readable code next to the operator
// message shown in the UI.
type PairingError struct {
	Code    string
	Message string
}

func (e *PairingError) Error() string { return e.Message }

func pairingErr(code, message string) *PairingError {
	return &PairingError{Code: code, Message: message}
}

// HumanizeError maps low-level lounge failures to operator guidance.
func HumanizeError(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "Unknown lounge error."
	}
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "not connected"):
		return "The TV session is not connected yet. Sentinel will retry automatically."
	case strings.Contains(lower, "unsupported client"):
		return "The current YouTube client profile on the TV is not supported for remote control. " +
			"Switch profile on TV and try again."
	case strings.Contains(lower, "refresh_auth_failed"):
		return "The TV pairing token expired. Re-pair this TV using a fresh code."
	case strings.Contains(lower, "connect_failed"):
		return "Sentinel could not connect to the TV lounge session. Check that YouTube is open on the TV."
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return "The TV did not respond in time. Please keep YouTube open and retry."
	case strings.Contains(lower, "network"), strings.Contains(lower, "host"), strings.Contains(lower, "connection"):
		return "Network communication with the TV failed. Check local network connectivity."
	case strings.Contains(lower, "subscription_ended"):
		return "The TV ended the lounge subscription. Sentinel will reconnect automatically."
	case strings.Contains(lower, "disconnected"):
		return "The TV session disconnected. Sentinel is reconnecting automatically."
	}
	return raw
}
