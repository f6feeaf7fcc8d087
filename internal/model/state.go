package model

import (
	"fmt"
	"time"
)

// FocusState mirrors the server-side focus session between discrete updates.
type FocusState struct {
	Focusing            bool    `json:"focusing"`
	SinceLastChange     float64 `json:"sinceLastChange"`
	FocusTimeLeft       float64 `json:"focusTimeLeft"`
	LastUpdateTimestamp int64   `json:"lastUpdateTimestamp"`
}

// InteractionState tracks how long ago the user last navigated.
type InteractionState struct {
	LastInteraction          float64 `json:"lastInteraction"`
	LastInteractionTimestamp int64   `json:"lastInteractionTimestamp"`
}

// ElapsedSeconds returns the whole seconds between the epoch-ms timestamp
// from and now, truncated toward zero.
func ElapsedSeconds(from int64, now time.Time) float64 {
	return float64((now.UnixMilli() - from) / 1000)
}

// FormatSeconds renders a second count as "1h 2m 3s". In compact form only
// the two most significant units are kept ("1h 2m", "2m", "3s").
func FormatSeconds(seconds float64, compact bool) string {
	total := int64(seconds)
	if total < 0 {
		total = 0
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60

	if compact {
		if hours > 0 {
			return fmt.Sprintf("%dh %dm", hours, minutes)
		}
		if minutes > 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%ds", secs)
	}

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, secs)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, secs)
	}
	return fmt.Sprintf("%ds", secs)
}
