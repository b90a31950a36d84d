package router

import (
	"fmt"
	"strings"

	"routinebot/internal/catalog"
	"routinebot/internal/clock"
	"routinebot/internal/tracker"
	"routinebot/pkg/tgui"
)

const displayDate = "02.01.2006"

func renderStatus(v tracker.StatusView, t Texts) string {
	var b strings.Builder
	b.WriteString(tgui.B(t.StatusHeader).String())
	b.WriteString("\n\n")
	for _, s := range v.Tasks {
		icon := "⏳"
		if s.Done {
			icon = "✅"
		}
		fmt.Fprintf(&b, "%s %s - %s\n", icon, tgui.Code(s.Task.FireAt.String()), tgui.Esc(s.Task.Title()))
	}
	if t.StatusRate != "" {
		b.WriteString("\n")
		b.WriteString(tgui.Esc(fmt.Sprintf(t.StatusRate, v.Rate)).String())
	}
	return b.String()
}

func renderReport(v tracker.ReportView, days int, t Texts) string {
	if len(v.Days) == 0 {
		return tgui.Esc(fmt.Sprintf(t.ReportEmpty, days)).String()
	}
	var b strings.Builder
	b.WriteString(tgui.B(t.ReportHeader).String())
	b.WriteString("\n\n")
	for _, d := range v.Days {
		fmt.Fprintf(&b, "📅 %s:\n", tgui.B(dayLabel(d.Date, v.Today, t)))
		for _, it := range d.Items {
			fmt.Fprintf(&b, "  ✅ %s\n", tgui.Esc(it.Label))
		}
		b.WriteString("\n")
	}
	if t.ReportRate != "" {
		b.WriteString(tgui.Esc(fmt.Sprintf(t.ReportRate, v.Rate)).String())
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSchedule(tasks []catalog.TaskDefinition, done map[string]bool, t Texts) string {
	var b strings.Builder
	b.WriteString(tgui.B(t.ScheduleHeader).String())
	b.WriteString("\n\n")
	for _, task := range tasks {
		icon := "⏰"
		if done[task.Key] {
			icon = "✅"
		}
		fmt.Fprintf(&b, "%s %s - %s\n", icon, tgui.Code(task.FireAt.String()), tgui.Esc(task.Title()))
	}
	return strings.TrimRight(b.String(), "\n")
}

func dayLabel(d, today clock.Date, t Texts) string {
	s := d.Start(nil).Format(displayDate)
	switch {
	case d == today && t.Today != "":
		s += " (" + t.Today + ")"
	case d == today.AddDays(-1) && t.Yesterday != "":
		s += " (" + t.Yesterday + ")"
	}
	return s
}
