package canvas

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybuddy/internal/models"
)

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://canvas.example.com", "https://canvas.example.com"},
		{"https://canvas.example.com/", "https://canvas.example.com"},
		{"https://canvas.example.com/api/v1", "https://canvas.example.com"},
		{"https://canvas.example.com/API/V1/", "https://canvas.example.com"},
		{"  https://canvas.example.com//  ", "https://canvas.example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeBaseURL(tt.in), tt.in)
	}
}

func TestCourseColorStable(t *testing.T) {
	assert.Equal(t, CourseColor("170880"), CourseColor("170880"))
	assert.Contains(t, coursePalette[:], CourseColor("any-course"))
}

func TestFetchActiveCoursesPaginatesAndNormalizes(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("page") {
		case "2":
			fmt.Fprint(w, `[{"id": 99, "name": "Algorithms", "term": {"name": "Fall 2026"}}]`)
		default:
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses?page=2>; rel="next"`, server.URL))
			fmt.Fprint(w, `[{"id": 7, "name": " Zoology "}, {"id": 8}]`)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", "test-agent")
	courses, err := client.FetchActiveCourses(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 2)

	assert.Equal(t, models.Course{ID: "99", Name: "Algorithms", Term: "Fall 2026", Color: CourseColor("99")}, courses[0])
	assert.Equal(t, "Zoology", courses[1].Name)
	assert.Equal(t, "Canvas", courses[1].Term)
}

func TestFetchCourseAssignmentsFiltersAndClassifies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id": 1, "name": "Weekly Quiz 3", "published": true, "due_at": "2026-09-03T16:00:00-04:00", "points_possible": 10},
			{"id": 2, "name": "Midterm Exam", "published": true, "due_at": "2026-09-01T10:00:00Z", "points_possible": 100},
			{"id": 3, "name": "Reading", "published": false, "due_at": "2026-09-02T10:00:00Z"},
			{"id": 4, "name": "No due date", "published": true},
			{"id": 5, "name": "Essay", "published": true, "due_at": "2026-09-05T10:00:00Z", "quiz_id": 88}
		]`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", "test-agent")
	items, err := client.FetchCourseAssignments(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "2", items[0].ID)
	assert.Equal(t, models.ItemTypeExam, items[0].ItemType)
	assert.Equal(t, "2026-09-03T20:00:00Z", items[1].DueAt) // offset converted to UTC
	assert.Equal(t, models.ItemTypeQuiz, items[1].ItemType)
	assert.Equal(t, models.ItemTypeQuiz, items[2].ItemType) // quiz_id wins over title
}

func TestFetchCourseFilesVisibilityAndAliases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id": 10, "display_name": "notes.pdf", "content-type": "Application/PDF", "size": 123, "updated_at": "2026-08-20T10:00:00Z", "url": "https://files/10"},
			{"id": 11, "filename": "slides.pptx", "content_type": "application/vnd.openxmlformats-officedocument.presentationml.presentation", "size": 456, "updated_at": "2026-08-21T10:00:00Z", "url": "https://files/11"},
			{"id": 12, "display_name": "hidden.pdf", "hidden": true, "updated_at": "2026-08-22T10:00:00Z", "url": "https://files/12"},
			{"id": 13, "display_name": "locked.pdf", "locked_for_user": true, "updated_at": "2026-08-22T10:00:00Z", "url": "https://files/13"},
			{"id": 14, "display_name": "typeless.bin", "updated_at": "2026-08-19T10:00:00Z", "url": "https://files/14"}
		]`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", "test-agent")
	files, err := client.FetchCourseFiles(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, "11", files[0].CanvasFileID) // newest first
	assert.Equal(t, "slides.pptx", files[0].DisplayName)
	assert.Equal(t, "application/pdf", files[1].ContentType)
	assert.Equal(t, "application/octet-stream", files[2].ContentType)
}

func TestErrorTaxonomy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/courses/denied/assignments":
			http.Error(w, "forbidden", http.StatusForbidden)
		case "/api/v1/courses/broken/assignments":
			fmt.Fprint(w, `not json`)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", "test-agent")

	_, err := client.FetchCourseAssignments(context.Background(), "denied")
	assert.True(t, IsAccessDenied(err))

	_, err = client.FetchCourseAssignments(context.Background(), "broken")
	require.Error(t, err)
	assert.False(t, IsAccessDenied(err))

	_, err = client.FetchCourseAssignments(context.Background(), "other")
	require.Error(t, err)
	assert.False(t, IsAccessDenied(err))
}

func TestFetchCurrentUserID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/users/self/profile", r.URL.Path)
		fmt.Fprint(w, `{"id": 4242, "name": "Student"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", "test-agent")
	id, err := client.FetchCurrentUserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4242", id)
}

func TestFetchFileBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "Application/PDF")
		fmt.Fprint(w, "%PDF-1.4 payload")
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", "test-agent")
	payload, contentType, err := client.FetchFileBytes(context.Background(), server.URL+"/files/10")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", contentType)
	assert.Equal(t, "%PDF-1.4 payload", string(payload))
}
