package view

import (
	"fmt"
	"strings"
	"time"

	"github.com/companionbot/petwatch/internal/telemetry"
)

// RelTime renders an absolute timestamp relative to now. One canonical
// threshold table is used everywhere: under a minute is "just now",
// under an hour counts minutes, under a day counts hours, and anything
// older falls back to an absolute local time. Negative deltas (clock
// skew) render as "just now", never a negative duration.
func RelTime(t time.Time, now time.Time) string {
	if t.IsZero() {
		return DefaultDash
	}
	delta := now.Sub(t)
	switch {
	case delta < time.Minute:
		return "just now"
	case delta < time.Hour:
		return fmt.Sprintf("%d min ago", int(delta.Minutes()))
	case delta < 24*time.Hour:
		return fmt.Sprintf("%d hr ago", int(delta.Hours()))
	default:
		return t.Local().Format("2006-01-02 15:04")
	}
}

// RelTimeEpoch renders an epoch-seconds timestamp with the same table.
func RelTimeEpoch(epoch *float64, now time.Time) string {
	if epoch == nil || *epoch <= 0 {
		return DefaultDash
	}
	sec := int64(*epoch)
	nsec := int64((*epoch - float64(sec)) * float64(time.Second))
	return RelTime(time.Unix(sec, nsec), now)
}

// AutoRecordSummary derives the one-line auto recording status. The
// priority order is strict: a disabled schedule always reads "disabled",
// an active recording outranks eligibility, and only an enabled,
// inactive, ineligible schedule shows its countdown.
func AutoRecordSummary(s telemetry.AutoRecordState) string {
	switch {
	case !s.Enabled:
		return "disabled"
	case s.Active:
		return "recording"
	case !s.Eligible:
		return fmt.Sprintf("ready in %.1f min", s.SecondsUntilNext/60)
	default:
		return "ready to record on next detection"
	}
}

// SnapshotScheduleSummary renders the smart-snapshot cooldown state.
func SnapshotScheduleSummary(s telemetry.SnapshotSchedule) string {
	if s.Eligible {
		return "ready"
	}
	if s.SecondsUntilNext > 0 {
		return fmt.Sprintf("next in %.1f min", s.SecondsUntilNext/60)
	}
	return DefaultDash
}

// MovementRecordSummary renders the motion-triggered recording state.
func MovementRecordSummary(s telemetry.MovementRecordState) string {
	switch {
	case s.Active:
		return "recording"
	case s.Eligible:
		return "armed"
	case s.SecondsUntilNext > 0:
		return fmt.Sprintf("cooldown %.1f min", s.SecondsUntilNext/60)
	default:
		return DefaultDash
	}
}

// TargetSummary renders the detection line.
func TargetSummary(visible bool, d *telemetry.Detection) string {
	if !visible || d == nil {
		return DefaultNoTarget
	}
	parts := []string{"Target visible"}
	if d.Confidence != nil {
		parts = append(parts, fmt.Sprintf("%.0f%%", *d.Confidence*100))
	}
	return strings.Join(parts, " ")
}

func formatConfidence(d *telemetry.Detection) string {
	if d == nil || d.Confidence == nil {
		return DefaultDash
	}
	return fmt.Sprintf("%.2f", *d.Confidence)
}

func formatDistanceCM(v *float64) string {
	if v == nil {
		return DefaultDash
	}
	return fmt.Sprintf("%.0f cm", *v)
}

func formatFPS(fps float64) string {
	if fps <= 0 {
		return DefaultDash
	}
	return fmt.Sprintf("%.1f", fps)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return DefaultDash
	}
	return s
}

func connectionLabel(status string) string {
	switch status {
	case "online":
		return "Online"
	case "offline":
		return "Offline"
	default:
		return DefaultUnknown
	}
}
