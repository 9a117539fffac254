// SPDX-License-Identifier: MIT

// Package schedule evaluates daily enforcement windows.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is one configured enforcement window. Start and End are wall-clock
// times in "HH:MM" form, interpreted in Timezone.
type Window struct {
	ID       int64
	Name     string
	Enabled  bool
	Start    string
	End      string
	Timezone string
	Mode     string // "blocklist" or "whitelist"
}

// ParseClock converts "HH:MM" to minutes since midnight.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	min, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return hour*60 + min, nil
}

// IsActive reports whether the window [start, end) covers now in the given
// timezone. A disabled schedule is always active. Equal bounds mean
// around-the-clock. Windows may cross midnight.
func IsActive(enabled bool, start, end, timezone string, now time.Time) bool {
	if !enabled {
		return true
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	nowMin := local.Hour()*60 + local.Minute()

	startMin, err := ParseClock(start)
	if err != nil {
		return true
	}
	endMin, err := ParseClock(end)
	if err != nil {
		return true
	}

	switch {
	case startMin == endMin:
		return true
	case startMin < endMin:
		return startMin <= nowMin && nowMin < endMin
	default:
		return nowMin >= startMin || nowMin < endMin
	}
}

// PickActiveWindow returns the first enabled window whose range covers now,
// or nil when none matches.
func PickActiveWindow(windows []Window, now time.Time) *Window {
	for i := range windows {
		w := &windows[i]
		if !w.Enabled {
			continue
		}
		if IsActive(true, w.Start, w.End, w.Timezone, now) {
			return w
		}
	}
	return nil
}
