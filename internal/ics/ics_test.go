package ics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybuddy/internal/models"
)

func TestCalendarRendersDueOnlyEventWithHourWindow(t *testing.T) {
	out := Calendar("demo-user", []Event{{
		ItemID:   "item-60m",
		CourseID: "course-psych-101",
		Title:    "Zero Duration Exam",
		DueAt:    "2026-10-15T17:00:00Z",
	}})

	assert.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//GURT//StudyBuddy//EN\r\n"))
	assert.True(t, strings.HasSuffix(out, "END:VCALENDAR\r\n"))
	assert.Contains(t, out, "UID:studybuddy:demo-user:course-psych-101:item-60m\r\n")
	assert.Contains(t, out, "DTSTAMP:20261015T170000Z\r\n")
	assert.Contains(t, out, "DTSTART:20261015T170000Z\r\n")
	assert.Contains(t, out, "DTEND:20261015T180000Z\r\n")
	assert.Contains(t, out, "SUMMARY:Zero Duration Exam\r\n")
	assert.Contains(t, out, "DESCRIPTION:Course course-psych-101\r\n")
}

func TestCalendarHonorsExplicitWindow(t *testing.T) {
	out := Calendar("demo-user", []Event{{
		ItemID:   "item-window",
		CourseID: "course-psych-101",
		Title:    "Timed Exam",
		DueAt:    "2026-10-15T17:00:00Z",
		StartAt:  "2026-10-15T17:00:00Z",
		EndAt:    "2026-10-15T19:00:00Z",
	}})

	assert.Contains(t, out, "DTSTART:20261015T170000Z\r\n")
	assert.Contains(t, out, "DTEND:20261015T190000Z\r\n")
}

func TestCalendarInvalidWindowFallsBackToDueAt(t *testing.T) {
	out := Calendar("demo-user", []Event{{
		ItemID:   "item-invalid-window",
		CourseID: "course-psych-101",
		Title:    "Exam With Bad Optional Times",
		DueAt:    "2026-10-15T17:00:00Z",
		StartAt:  "not-a-time",
		EndAt:    "also-not-a-time",
	}})

	assert.Contains(t, out, "DTSTART:20261015T170000Z\r\n")
	assert.Contains(t, out, "DTEND:20261015T180000Z\r\n")
}

func TestCalendarInvertedWindowGetsHourDuration(t *testing.T) {
	out := Calendar("demo-user", []Event{{
		ItemID:   "item-inverted",
		CourseID: "c-1",
		Title:    "Backwards",
		DueAt:    "2026-10-15T17:00:00Z",
		StartAt:  "2026-10-15T18:00:00Z",
		EndAt:    "2026-10-15T17:30:00Z",
	}})

	assert.Contains(t, out, "DTSTART:20261015T180000Z\r\n")
	assert.Contains(t, out, "DTEND:20261015T190000Z\r\n")
}

func TestCalendarSkipsUnparseableDueAt(t *testing.T) {
	out := Calendar("demo-user", []Event{
		{ItemID: "item-bad", CourseID: "c-1", Title: "Broken", DueAt: "whenever"},
		{ItemID: "item-good", CourseID: "c-1", Title: "Kept", DueAt: "2026-10-15T17:00:00Z"},
	})

	assert.NotContains(t, out, "item-bad")
	assert.Contains(t, out, "UID:studybuddy:demo-user:c-1:item-good\r\n")
	assert.Equal(t, 1, strings.Count(out, "BEGIN:VEVENT"))
}

func TestCalendarFlattensTitleNewlines(t *testing.T) {
	out := Calendar("demo-user", []Event{{
		ItemID:   "item-1",
		CourseID: "c-1",
		Title:    "Line one\r\nLine two",
		DueAt:    "2026-10-15T17:00:00Z",
	}})

	assert.Contains(t, out, "SUMMARY:Line one  Line two\r\n")
}

func TestCalendarEmptyFeedStillWellFormed(t *testing.T) {
	out := Calendar("demo-user", nil)

	assert.Equal(t, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//GURT//StudyBuddy//EN\r\nEND:VCALENDAR\r\n", out)
}

func TestFromItemsCarriesScheduleFields(t *testing.T) {
	events := FromItems([]models.CanvasItem{{
		ID: "item-1", CourseID: "c-1", Title: "Essay",
		ItemType: models.ItemTypeAssignment, DueAt: "2026-10-15T17:00:00Z",
	}})

	require.Len(t, events, 1)
	assert.Equal(t, "item-1", events[0].ItemID)
	assert.Equal(t, "c-1", events[0].CourseID)
	assert.Equal(t, "Essay", events[0].Title)
	assert.Equal(t, "2026-10-15T17:00:00Z", events[0].DueAt)
	assert.Empty(t, events[0].StartAt)
}
