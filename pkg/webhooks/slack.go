package webhooks

import (
	"fmt"
	"sort"
)

// SlackMessage is a Slack incoming-webhook payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment is a colored block of fields
type SlackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Title  string       `json:"title,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
}

// SlackField is one title/value pair
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// FormatSlackMessage renders event for a Slack incoming webhook
func FormatSlackMessage(event *Event) SlackMessage {
	fields := []SlackField{
		{Title: "Event", Value: string(event.Type), Short: true},
		{Title: "Event ID", Value: event.ID, Short: true},
		{Title: "Observed", Value: event.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"), Short: true},
	}

	keys := make([]string, 0, len(event.Data))
	for k := range event.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, SlackField{Title: k, Value: fmt.Sprint(event.Data[k]), Short: true})
	}

	return SlackMessage{
		Text: eventTitle(event.Type),
		Attachments: []SlackAttachment{{
			Color:  "danger",
			Title:  string(event.Type),
			Fields: fields,
		}},
	}
}

func eventTitle(t EventType) string {
	switch t {
	case EventSecurityThreshold:
		return ":rotating_light: High-risk security event volume above threshold"
	default:
		return string(t)
	}
}
