// Package notify dispatches the reminder and post-execution notifications:
// reminder email worded by remaining fraction (the caller decides when to send), 66%/33%
// remaining push notifications, and the executed-push sent after an entry
// is delivered or destroyed.
package notify

import (
	"fmt"
	"time"
)

// FormatTimeLeft renders a human-readable "time left" string for a push
// notification body: "less than 1 hour", "~N hours", "~1 day", "~N days".
func FormatTimeLeft(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	if remaining < time.Hour {
		return "less than 1 hour"
	}
	if remaining < 24*time.Hour {
		hours := int(remaining.Hours())
		return fmt.Sprintf("~%d hours", hours)
	}
	days := int(remaining.Hours() / 24)
	if days == 1 {
		return "~1 day"
	}
	return fmt.Sprintf("~%d days", days)
}
