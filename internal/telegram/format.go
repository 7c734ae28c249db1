package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/meterbot/internal/models"
)

var kindEmoji = map[models.Kind]string{
	models.KindInitial:     "🆕",
	models.KindNoChange:    "➖",
	models.KindConsumption: "📉",
	models.KindRecharge:    "🔋",
	models.KindAnomaly:     "⚠️",
	models.KindFetchFailed: "❌",
	models.KindStoreFailed: "💾",
}

// formatReport renders a cycle report as a MarkdownV2 message
func (c *Client) formatReport(report *models.CycleReport) string {
	var b strings.Builder

	b.WriteString("⚡ *Meter Balance Report*\n")
	b.WriteString(fmt.Sprintf("📅 %s\n\n", escapeMarkdownV2(report.StartedAt.In(c.loc).Format("2006-01-02 15:04"))))

	for _, res := range report.Results {
		b.WriteString(fmt.Sprintf("%s *%s*\n", kindEmoji[res.Kind], escapeMarkdownV2(res.MeterName)))
		b.WriteString(fmt.Sprintf("   %s\n", escapeMarkdownV2(res.Summary)))
		if !res.Kind.Failed() && res.Kind != models.KindAnomaly {
			b.WriteString(fmt.Sprintf("   Usage this month: %s kWh\n", escapeMarkdownV2(fmt.Sprintf("%.2f", res.Usage))))
		}
		if res.Note != "" && res.Error != "" && !res.Kind.Failed() {
			b.WriteString(fmt.Sprintf("   _%s_\n", escapeMarkdownV2(res.Note)))
		}
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("✅ %d ok", report.Succeeded))
	if report.Failed > 0 {
		b.WriteString(fmt.Sprintf("   ❌ %d failed", report.Failed))
	}
	if n := report.Count(models.KindRecharge); n > 0 {
		b.WriteString(fmt.Sprintf("   🔋 %d recharged", n))
	}
	b.WriteString("\n")

	if c.showSchedule && c.schedule != "" {
		b.WriteString(fmt.Sprintf("⏰ Schedule: %s\n", escapeMarkdownV2(c.schedule)))
	}

	return b.String()
}

// formatStatus renders the engine status for the /status command
func (c *Client) formatStatus(st models.EngineStatus) string {
	var b strings.Builder

	b.WriteString("🤖 *Meter Bot Status*\n\n")
	b.WriteString(fmt.Sprintf("State: %s\n", escapeMarkdownV2(st.State)))
	if st.Schedule != "" {
		b.WriteString(fmt.Sprintf("Schedule: %s\n", escapeMarkdownV2(st.Schedule)))
	}
	if !st.NextRun.IsZero() {
		b.WriteString(fmt.Sprintf("Next check: %s\n", escapeMarkdownV2(st.NextRun.In(c.loc).Format("2006-01-02 15:04"))))
	}
	if st.LastCycle != nil {
		last := st.LastCycle
		b.WriteString(fmt.Sprintf("Last check: %s \\(%s, %d/%d ok\\)\n",
			escapeMarkdownV2(last.StartedAt.In(c.loc).Format("2006-01-02 15:04")),
			escapeMarkdownV2(last.Outcome()), last.Succeeded, last.Meters))
	} else {
		b.WriteString("Last check: none yet\n")
	}
	if st.ConsecutiveFailures > 0 {
		b.WriteString(fmt.Sprintf("Consecutive failed checks: %d\n", st.ConsecutiveFailures))
	}
	if st.SkippedTriggers > 0 {
		b.WriteString(fmt.Sprintf("Skipped triggers: %d\n", st.SkippedTriggers))
	}
	return b.String()
}

// FormatPlain renders a cycle report as plain text lines for the log notifier
func FormatPlain(report *models.CycleReport) []string {
	lines := make([]string, 0, len(report.Results)+1)
	lines = append(lines, fmt.Sprintf("Meter report %s: %d ok, %d failed",
		report.StartedAt.Format(time.RFC3339), report.Succeeded, report.Failed))
	for _, res := range report.Results {
		line := fmt.Sprintf("  %-10s %-12s %s", res.MeterName, res.Kind, res.Summary)
		if res.Note != "" {
			line += " (" + res.Note + ")"
		}
		lines = append(lines, line)
	}
	return lines
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
