package notify

import (
	"fmt"
	"strings"
	"time"

	"mailflow/internal/model"
)

const (
	timeLayout        = "2006-01-02 15:04:05"
	maxActionItems    = 3
	unknownSender     = "Unknown"
	noSubject         = "No Subject"
	calendarEventHint = "📅 Calendar event will be created!"
)

// FormatSummary renders the chat message for one analysed item.
func FormatSummary(item *model.InputItem, res *model.AnalysisResult, now time.Time) string {
	sender, subject := unknownSender, noSubject
	if item != nil {
		if item.Sender != "" {
			sender = item.Sender
		}
		if item.Subject != "" {
			subject = item.Subject
		}
	}

	var b strings.Builder
	b.WriteString("📧 Email Summary:\n\n")
	fmt.Fprintf(&b, "From: %s\nSubject: %s\n\n", sender, subject)
	fmt.Fprintf(&b, "📝 Gist: %s", res.Gist)

	if res.HasEvent {
		b.WriteString("\n\n" + calendarEventHint)
	}

	if res.Priority != "" {
		fmt.Fprintf(&b, "\n\n%s Priority: %s", priorityMarker(res.Priority), titleCase(string(res.Priority)))
	}

	if len(res.ActionItems) > 0 {
		b.WriteString("\n\n✅ Action Items:")
		for i, a := range res.ActionItems {
			if i == maxActionItems {
				break
			}
			b.WriteString("\n• " + a)
		}
	}

	fmt.Fprintf(&b, "\n\nTime: %s", now.Format(timeLayout))
	return b.String()
}

type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeSuccess NoticeKind = "success"
	NoticeWarning NoticeKind = "warning"
	NoticeError   NoticeKind = "error"
	NoticeAlert   NoticeKind = "alert"
)

var noticeMarkers = map[NoticeKind]string{
	NoticeInfo:    "ℹ️",
	NoticeSuccess: "✅",
	NoticeWarning: "⚠️",
	NoticeError:   "❌",
	NoticeAlert:   "🚨",
}

// FormatNotice renders a system notice such as a run summary.
func FormatNotice(kind NoticeKind, title, content string, now time.Time) string {
	marker, ok := noticeMarkers[kind]
	if !ok {
		marker = "📢"
	}
	return fmt.Sprintf("%s %s\n\n%s\n\nTime: %s", marker, title, content, now.Format(timeLayout))
}

func priorityMarker(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return "🔴"
	case model.PriorityMedium:
		return "🟡"
	default:
		return "🟢"
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
