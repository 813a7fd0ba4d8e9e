package analysis

import (
	"fmt"
	"strings"

	"mailflow/internal/model"
)

const systemPrompt = "You are an expert email processing assistant. Always respond with valid JSON."

const eventSchema = `{
    "title": "Event title",
    "description": "Event description",
    "startDate": "YYYY-MM-DD",
    "startTime": "HH:MM",
    "endDate": "YYYY-MM-DD",
    "endTime": "HH:MM",
    "location": "Location if mentioned"
  }`

type Prompt struct {
	System string
	User   string
}

// PromptBuilder renders the prompt for one analysis mode.
type PromptBuilder interface {
	Mode() string
	Build(item *model.InputItem) Prompt
}

const (
	ModeFull    = "full"
	ModeSummary = "summary"
	ModeEvents  = "events"
)

// PromptFor returns the builder for mode. An empty mode means full analysis.
func PromptFor(mode string) (PromptBuilder, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeFull:
		return FullPrompt{}, nil
	case ModeSummary:
		return SummaryPrompt{}, nil
	case ModeEvents:
		return EventsPrompt{}, nil
	default:
		return nil, fmt.Errorf("unknown analysis mode %q", mode)
	}
}

type FullPrompt struct{}

func (FullPrompt) Mode() string { return ModeFull }

func (FullPrompt) Build(item *model.InputItem) Prompt {
	var b strings.Builder
	b.WriteString("Please analyze this email and provide:\n")
	b.WriteString("1. A brief gist/summary (max 100 words)\n")
	b.WriteString("2. Any events, meetings, deadlines, or appointments that should be added to a calendar\n")
	b.WriteString("3. Actionable items, priority, sentiment and a one-word category\n\n")
	writeItem(&b, item, true)
	b.WriteString("\nRespond in this JSON format:\n{\n")
	b.WriteString(`  "gist": "Brief summary here",` + "\n")
	b.WriteString(`  "hasEvent": true/false,` + "\n")
	b.WriteString(`  "eventDetails": ` + eventSchema + ",\n")
	b.WriteString(`  "actionItems": ["List of action items"],` + "\n")
	b.WriteString(`  "priority": "high/medium/low",` + "\n")
	b.WriteString(`  "sentiment": "positive/neutral/negative",` + "\n")
	b.WriteString(`  "category": "work/personal/finance/school/promotion/other"` + "\n}\n")
	b.WriteString("If several events are mentioned, eventDetails may be a list of event objects.\n")
	return Prompt{System: systemPrompt, User: b.String()}
}

type SummaryPrompt struct{}

func (SummaryPrompt) Mode() string { return ModeSummary }

func (SummaryPrompt) Build(item *model.InputItem) Prompt {
	var b strings.Builder
	b.WriteString("Provide a brief summary of this email (max 100 words):\n\n")
	writeItem(&b, item, true)
	b.WriteString("\nRespond in JSON format:\n{\n")
	b.WriteString(`  "gist": "Brief summary here"` + "\n}\n")
	return Prompt{System: systemPrompt, User: b.String()}
}

// EventsPrompt still asks for a one-line gist so the result is usable on
// its own.
type EventsPrompt struct{}

func (EventsPrompt) Mode() string { return ModeEvents }

func (EventsPrompt) Build(item *model.InputItem) Prompt {
	var b strings.Builder
	b.WriteString("Extract any events, meetings, or appointments from this email:\n\n")
	writeItem(&b, item, false)
	b.WriteString("\nRespond in JSON format:\n{\n")
	b.WriteString(`  "gist": "One sentence describing the email",` + "\n")
	b.WriteString(`  "hasEvent": true/false,` + "\n")
	b.WriteString(`  "eventDetails": ` + eventSchema + "\n}\n")
	return Prompt{System: systemPrompt, User: b.String()}
}

func writeItem(b *strings.Builder, item *model.InputItem, withSender bool) {
	fmt.Fprintf(b, "Email Subject: %s\n", item.Subject)
	if withSender {
		fmt.Fprintf(b, "From: %s\n", item.Sender)
	}
	fmt.Fprintf(b, "Content: %s\n", item.Body)
}
