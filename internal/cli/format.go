package cli

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"zerodha-copier/internal/models"
	"zerodha-copier/pkg/utils"
)

// FormatDateTime formats a timestamp in IST.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(utils.IndiaLocation).Format("02-Jan-2006 15:04:05")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// TruncateString truncates a string to max runes with an ellipsis.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// PadRight pads a string to the right. Width counts runes, so ₹ figures line up.
func PadRight(s string, length int) string {
	n := utf8.RuneCountInString(s)
	if n >= length {
		return s
	}
	return s + strings.Repeat(" ", length-n)
}

// PadLeft pads a string to the left.
func PadLeft(s string, length int) string {
	n := utf8.RuneCountInString(s)
	if n >= length {
		return s
	}
	return strings.Repeat(" ", length-n) + s
}

// targetStatusLabel is the table label of a target outcome.
func targetStatusLabel(o *Output, s models.TargetStatus, width int) string {
	label := PadRight(strings.ToUpper(string(s)), width)
	switch s {
	case models.TargetSynced:
		return o.Green(label)
	case models.TargetPartial, models.TargetSkipped:
		return o.Yellow(label)
	case models.TargetFailed:
		return o.Red(label)
	default:
		return label
	}
}

// positionStatusLabel colors the BASE / SYNCED / NOT SYNCED column.
func positionStatusLabel(o *Output, s string, width int) string {
	label := PadRight(s, width)
	switch s {
	case "BASE":
		return o.Cyan(label)
	case "SYNCED":
		return o.Green(label)
	default:
		return o.Red(label)
	}
}

// runStatusLabel colors a journaled run status.
func runStatusLabel(o *Output, s string, width int) string {
	label := PadRight(s, width)
	switch s {
	case "ok":
		return o.Green(label)
	case "partial":
		return o.Yellow(label)
	default:
		return o.Red(label)
	}
}
