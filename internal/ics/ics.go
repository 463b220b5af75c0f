// Package ics serializes schedule items into an iCalendar feed. Pure
// string assembly: no I/O and no clock reads.
package ics

import (
	"strings"
	"time"

	"studybuddy/internal/models"
	"studybuddy/internal/timez"
)

const (
	prodID          = "-//GURT//StudyBuddy//EN"
	stampLayout     = "20060102T150405Z"
	defaultDuration = time.Hour
)

// Event is one calendar entry. StartAt and EndAt are optional; when
// absent or unparseable the event anchors on DueAt.
type Event struct {
	ItemID   string
	CourseID string
	Title    string
	DueAt    string
	StartAt  string
	EndAt    string
}

// FromItems adapts stored schedule items into calendar events.
func FromItems(items []models.CanvasItem) []Event {
	events := make([]Event, 0, len(items))
	for _, item := range items {
		events = append(events, Event{
			ItemID:   item.ID,
			CourseID: item.CourseID,
			Title:    item.Title,
			DueAt:    item.DueAt,
		})
	}
	return events
}

func stamp(t time.Time) string {
	return t.UTC().Format(stampLayout)
}

// summaryText flattens newlines so the SUMMARY line cannot break the
// CRLF framing.
func summaryText(title string) string {
	title = strings.ReplaceAll(title, "\r", " ")
	return strings.ReplaceAll(title, "\n", " ")
}

// window resolves the event's start and end. Explicit startAt/endAt win
// when parseable; a collapsed or inverted window gets the default
// one-hour duration.
func window(event Event, due time.Time) (time.Time, time.Time) {
	start := due
	if t, err := timez.Parse(event.StartAt); event.StartAt != "" && err == nil {
		start = t
	}
	end := start
	if t, err := timez.Parse(event.EndAt); event.EndAt != "" && err == nil {
		end = t
	}
	if !end.After(start) {
		end = start.Add(defaultDuration)
	}
	return start, end
}

// Calendar renders one VCALENDAR for the user. Events whose dueAt does
// not parse are skipped; the UID stays stable under title and due-date
// edits.
func Calendar(userID string, events []Event) string {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:" + prodID,
	}

	for _, event := range events {
		due, err := timez.Parse(event.DueAt)
		if err != nil {
			continue
		}
		start, end := window(event, due)

		lines = append(lines,
			"BEGIN:VEVENT",
			"UID:studybuddy:"+userID+":"+event.CourseID+":"+event.ItemID,
			"DTSTAMP:"+stamp(due),
			"DTSTART:"+stamp(start),
			"DTEND:"+stamp(end),
			"SUMMARY:"+summaryText(event.Title),
			"DESCRIPTION:Course "+event.CourseID,
			"END:VEVENT",
		)
	}

	lines = append(lines, "END:VCALENDAR")
	return strings.Join(lines, "\r\n") + "\r\n"
}
