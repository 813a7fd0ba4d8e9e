package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mailflow/internal/model"
)

var formatTime = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func TestFormatSummary(t *testing.T) {
	item := &model.InputItem{Sender: "school@example.com", Subject: "Sports Day"}
	res := &model.AnalysisResult{
		Gist:        "Sports day on 1 May",
		HasEvent:    true,
		Priority:    model.PriorityHigh,
		ActionItems: []string{"one", "two", "three", "four"},
	}

	msg := FormatSummary(item, res, formatTime)
	require.Contains(t, msg, "From: school@example.com")
	require.Contains(t, msg, "Subject: Sports Day")
	require.Contains(t, msg, "📝 Gist: Sports day on 1 May")
	require.Contains(t, msg, calendarEventHint)
	require.Contains(t, msg, "🔴 Priority: High")
	require.Contains(t, msg, "• three")
	require.NotContains(t, msg, "• four")
	require.True(t, strings.HasSuffix(msg, "Time: 2024-05-01 09:30:00"))
}

func TestFormatSummaryDefaults(t *testing.T) {
	msg := FormatSummary(&model.InputItem{}, &model.AnalysisResult{Gist: "g", Priority: model.PriorityLow}, formatTime)
	require.Contains(t, msg, "From: Unknown")
	require.Contains(t, msg, "Subject: No Subject")
	require.Contains(t, msg, "🟢 Priority: Low")
	require.NotContains(t, msg, "Action Items")
	require.NotContains(t, msg, calendarEventHint)
}

func TestFormatNotice(t *testing.T) {
	require.Equal(t,
		"⚠️ Run finished\n\n3/4 items processed\n\nTime: 2024-05-01 09:30:00",
		FormatNotice(NoticeWarning, "Run finished", "3/4 items processed", formatTime),
	)
	require.True(t, strings.HasPrefix(FormatNotice("other", "t", "c", formatTime), "📢 t"))
}
