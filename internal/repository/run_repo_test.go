package repository

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mailflow/internal/calendar"
	"mailflow/internal/model"
	"mailflow/internal/workflow"
)

func TestRunRowMapping(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	run := &workflow.RunResult{
		RunID:      "5b0c8d9e-0000-4000-8000-000000000001",
		Processed:  2,
		Succeeded:  1,
		Failed:     1,
		StartedAt:  at,
		FinishedAt: at.Add(time.Minute),
		Stats:      model.ProcessingStats{ItemsProcessed: 1, Errors: 1, StartTime: at},
		Items: []workflow.ItemResult{
			{
				ItemID:    "a",
				Status:    workflow.ItemSucceeded,
				State:     workflow.StateDone,
				Analysis:  &model.AnalysisResult{Gist: "g", Model: "gpt-4o"},
				Notified:  true,
				Delivery:  &model.DeliveryOutcome{Delivered: true, Channel: "secondary"},
				Calendar:  &calendar.Report{Created: 1, Matched: 2},
				Duration:  1500 * time.Millisecond,
				Processed: at,
			},
			{ItemID: "b", Status: workflow.ItemFailed, State: workflow.StateAnalysisFailed, Error: "boom"},
		},
	}

	row, err := toRunRow(run)
	require.NoError(t, err)
	require.Equal(t, run.RunID, row.ID)
	require.Equal(t, 1, row.Failed)

	var stats model.ProcessingStats
	require.NoError(t, json.Unmarshal(row.StatsJSON, &stats))
	require.Equal(t, 1, stats.Errors)

	ok := toRunItemRow(run.RunID, &run.Items[0])
	require.Equal(t, "succeeded", ok.Status)
	require.Equal(t, "DONE", ok.State)
	require.Equal(t, "gpt-4o", ok.Model)
	require.Equal(t, "secondary", ok.Channel)
	require.Equal(t, 1, ok.EventsCreated)
	require.Equal(t, 2, ok.EventsMatched)
	require.EqualValues(t, 1500, ok.DurationMS)

	failed := toRunItemRow(run.RunID, &run.Items[1])
	require.Equal(t, "boom", failed.Error)
	require.Empty(t, failed.Model)
}
