package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timelineItem is the wire shape returned by the timeline generation prompt.
type timelineItem struct {
	Date        string `json:"date"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ParseTimeline decodes a JSON array of events for one document.
// Items without a date or title are dropped.
func ParseTimeline(raw, patientID, documentID string) ([]*TimelineEvent, error) {
	body, err := ExtractJSON(raw, '[', ']')
	if err != nil {
		return nil, err
	}
	if errs := ValidateTimeline([]byte(body)); len(errs) > 0 {
		return nil, fmt.Errorf("%w: timeline: %s", ErrParse, strings.Join(errs, "; "))
	}

	var items []timelineItem
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return nil, fmt.Errorf("%w: timeline: %v", ErrParse, err)
	}

	now := time.Now()
	events := make([]*TimelineEvent, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Date) == "" || strings.TrimSpace(it.Title) == "" {
			continue
		}
		eventType := it.Type
		if eventType == "" {
			eventType = "other"
		}
		events = append(events, &TimelineEvent{
			ID:          GenerateID(),
			PatientID:   patientID,
			DocumentID:  documentID,
			EventDate:   strings.TrimSpace(it.Date),
			EventType:   eventType,
			Title:       strings.TrimSpace(it.Title),
			Description: it.Description,
			CreatedAt:   now,
		})
	}
	return events, nil
}
