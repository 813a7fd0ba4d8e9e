package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"mailflow/internal/model"
)

func TestParseResponseFallbacks(t *testing.T) {
	long := strings.Repeat("x", 250)

	cases := []struct {
		name string
		raw  string
		item *model.InputItem
		gist string
	}{
		{"no json", "plain answer", testItem, "plain answer"},
		{"long raw is capped", long, testItem, strings.Repeat("x", 200) + "..."},
		{"missing gist", `{"hasEvent":false}`, testItem, `{"hasEvent":false}`},
		{"empty raw", "", testItem, "Email from school@example.com: Sports Day - Sports Day is on 1 May."},
		{"empty raw no item", "", nil, "Email from unknown sender: (no subject)"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ParseResponse(tc.raw, tc.item)
			require.True(t, res.Fallback)
			require.Equal(t, tc.gist, res.Gist)
			require.False(t, res.HasEvent)
			require.True(t, res.EventDetails.IsEmpty())
			require.Equal(t, model.PriorityMedium, res.Priority)
			require.Equal(t, []string{}, res.ActionItems)
			require.Equal(t, model.CategoryOther, res.Category)
		})
	}
}

func TestParseResponseBodyPreviewCapped(t *testing.T) {
	item := &model.InputItem{Sender: "a@b.c", Subject: "S", Body: strings.Repeat("y", 150)}
	res := ParseResponse("   ", item)
	require.Equal(t, "Email from a@b.c: S - "+strings.Repeat("y", 100)+"...", res.Gist)
}

func TestParseResponseBackfillsEmptyGist(t *testing.T) {
	raw := `{"gist":"  ","hasEvent":true,"eventDetails":{"title":"Exam","startDate":"2024-06-01"}}`
	res := ParseResponse(raw, testItem)
	require.False(t, res.Fallback)
	require.Equal(t, raw, res.Gist)
	require.True(t, res.HasEvent)
	require.Equal(t, 1, res.EventDetails.Len())
}

func TestParseResponseRepairsTrailingComma(t *testing.T) {
	raw := "```json\n{\"gist\": \"Invoice due\", \"actionItems\": [\"pay\",], \"priority\": \"low\",}\n```"
	res := ParseResponse(raw, testItem)
	require.False(t, res.Fallback)
	require.Equal(t, "Invoice due", res.Gist)
	require.Equal(t, []string{"pay"}, res.ActionItems)
	require.Equal(t, model.PriorityLow, res.Priority)
}

func TestParseResponseToleratesWrongFieldTypes(t *testing.T) {
	raw := `{"gist":"Trip on Friday","hasEvent":"true","eventDetails":{"title":"Trip","startDate":"2024-05-03"},"priority":3,"actionItems":"Sign the form","category":"School"}`
	res := ParseResponse(raw, testItem)
	require.False(t, res.Fallback)
	require.Equal(t, "Trip on Friday", res.Gist)
	require.True(t, res.HasEvent)
	require.Equal(t, 1, res.EventDetails.Len())
	require.Equal(t, model.PriorityMedium, res.Priority)
	require.Equal(t, []string{"Sign the form"}, res.ActionItems)
	require.Equal(t, "school", res.Category)

	res = ParseResponse(`{"gist":"g","hasEvent":1,"eventDetails":"tomorrow","actionItems":["a",2,"b"]}`, testItem)
	require.False(t, res.Fallback)
	require.False(t, res.HasEvent)
	require.Equal(t, []string{"a", "b"}, res.ActionItems)

	res = ParseResponse(`{"gist":null,"hasEvent":false}`, testItem)
	require.True(t, res.Fallback)
}

func TestParseResponseHasEventWithoutDetails(t *testing.T) {
	res := ParseResponse(`{"gist":"g","hasEvent":true,"eventDetails":{}}`, testItem)
	require.False(t, res.HasEvent)
}

func TestParseResponseManyEvents(t *testing.T) {
	res := ParseResponse(`{"gist":"g","hasEvent":true,"eventDetails":[{"title":"A"},{"title":"B"}]}`, testItem)
	require.True(t, res.HasEvent)
	require.Equal(t, model.DetailsMany, res.EventDetails.Kind())
}

func TestIsModelUnavailable(t *testing.T) {
	require.True(t, IsModelUnavailable(ErrModelUnavailable))
	require.True(t, IsModelUnavailable(errString("error code: model_not_found")))
	require.False(t, IsModelUnavailable(errString("rate limit exceeded")))
	require.False(t, IsModelUnavailable(nil))
}

type errString string

func (e errString) Error() string { return string(e) }
