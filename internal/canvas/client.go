// Package canvas is the LMS REST client behind sync and connect. It speaks
// the Canvas v1 API: bearer-token GETs, RFC5988 pagination, and the
// normalization that maps raw rows into contract shapes.
package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"studybuddy/internal/logging"
	"studybuddy/internal/models"
	"studybuddy/internal/timez"
)

const (
	defaultTimeout = 20 * time.Second
	pageSize       = 100
)

var (
	examTitleRe = regexp.MustCompile(`(?i)\b(midterm|final|exam)\b`)
	quizTitleRe = regexp.MustCompile(`(?i)\bquiz\b`)
)

// AccessDeniedError is a 403 from the LMS. Sync treats it as recoverable
// per course: skip, do not mark the course failed.
type AccessDeniedError struct {
	URL    string
	Detail string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("canvas access denied (403) for %s: %s", e.URL, e.Detail)
}

// APIError covers every other LMS failure: transport, non-2xx status,
// invalid JSON, unexpected shape.
type APIError struct {
	URL string
	Msg string
	Err error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("canvas request failed for %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("canvas request failed for %s: %s", e.URL, e.Msg)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsAccessDenied reports whether err is an AccessDeniedError.
func IsAccessDenied(err error) bool {
	var target *AccessDeniedError
	return errors.As(err, &target)
}

// NormalizeBaseURL maps a user-provided LMS URL onto the host root:
// trailing slashes and a trailing /api/v1 are stripped.
func NormalizeBaseURL(baseURL string) string {
	normalized := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if strings.HasSuffix(strings.ToLower(normalized), "/api/v1") {
		normalized = normalized[:len(normalized)-len("/api/v1")]
	}
	return normalized
}

var coursePalette = [...]string{"#3366FF", "#22AA88", "#CC6655", "#4477AA", "#AA8844", "#1177AA"}

// CourseColor assigns a stable palette color keyed on the course id.
func CourseColor(courseID string) string {
	checksum := 0
	for _, ch := range courseID {
		checksum += int(ch)
	}
	return coursePalette[checksum%len(coursePalette)]
}

// File is one downloadable course file row after visibility filtering.
type File struct {
	CanvasFileID string
	CourseID     string
	DisplayName  string
	ContentType  string
	SizeBytes    int64
	UpdatedAt    string
	DownloadURL  string
}

// Client is an authenticated Canvas API client for one connection.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
	log       logging.Logger
}

// Option tunes Client construction.
type Option func(*Client)

// WithHTTPClient overrides the transport, for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger attaches a logger.
func WithLogger(log logging.Logger) Option {
	return func(c *Client) { c.log = logging.OrNop(log) }
}

// NewClient builds a client for the given connection credentials.
func NewClient(baseURL, token, userAgent string, opts ...Option) *Client {
	c := &Client{
		baseURL:   NormalizeBaseURL(baseURL),
		token:     token,
		userAgent: userAgent,
		http:      &http.Client{Timeout: defaultTimeout},
		log:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) requestJSON(ctx context.Context, rawURL string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &APIError{URL: rawURL, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{URL: rawURL, Err: err}
	}
	if resp.StatusCode == http.StatusForbidden {
		return nil, &AccessDeniedError{URL: rawURL, Detail: string(body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{URL: rawURL, Msg: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return nil, &APIError{URL: rawURL, Msg: "response was not valid JSON"}
	}
	return resp.Header, nil
}

// nextLink extracts the rel="next" target from an RFC5988 Link header.
func nextLink(linkHeader string) string {
	for _, part := range strings.Split(linkHeader, ",") {
		segment := strings.TrimSpace(part)
		if !strings.Contains(segment, `rel="next"`) {
			continue
		}
		open := strings.Index(segment, "<")
		end := strings.Index(segment, ">")
		if open < 0 || end < 0 || end < open {
			continue
		}
		return segment[open+1 : end]
	}
	return ""
}

func (c *Client) getPaginated(ctx context.Context, rawURL string) ([]map[string]any, error) {
	var rows []map[string]any
	next := rawURL
	for next != "" {
		var page []any
		headers, err := c.requestJSON(ctx, next, &page)
		if err != nil {
			return nil, err
		}
		for _, row := range page {
			if m, ok := row.(map[string]any); ok {
				rows = append(rows, m)
			}
		}
		next = nextLink(headers.Get("Link"))
	}
	return rows, nil
}

func toContractTime(value string) (string, bool) {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return "", false
	}
	return timez.Format(parsed), true
}

// FetchActiveCourses lists the caller's active courses in contract shape,
// sorted by lowercased name.
func (c *Client) FetchActiveCourses(ctx context.Context) ([]models.Course, error) {
	query := url.Values{"enrollment_state": {"active"}, "per_page": {fmt.Sprint(pageSize)}}
	rows, err := c.getPaginated(ctx, fmt.Sprintf("%s/api/v1/courses?%s", c.baseURL, query.Encode()))
	if err != nil {
		return nil, err
	}

	var courses []models.Course
	for _, row := range rows {
		id, ok := stringishID(row["id"])
		if !ok {
			continue
		}
		name, ok := cleanString(row["name"])
		if !ok {
			continue
		}
		term := "Canvas"
		if termObj, ok := row["term"].(map[string]any); ok {
			if termName, ok := cleanString(termObj["name"]); ok {
				term = termName
			}
		}
		courses = append(courses, models.Course{
			ID:    id,
			Name:  name,
			Term:  term,
			Color: CourseColor(id),
		})
	}
	sort.Slice(courses, func(i, j int) bool {
		return strings.ToLower(courses[i].Name) < strings.ToLower(courses[j].Name)
	})
	return courses, nil
}

// FetchCurrentUserID resolves the token owner's LMS user id.
func (c *Client) FetchCurrentUserID(ctx context.Context) (string, error) {
	rawURL := c.baseURL + "/api/v1/users/self/profile"
	var payload map[string]any
	if _, err := c.requestJSON(ctx, rawURL, &payload); err != nil {
		return "", err
	}
	id, ok := stringishID(payload["id"])
	if !ok {
		return "", &APIError{URL: rawURL, Msg: "response missing user id"}
	}
	return id, nil
}

func classifyItemType(row map[string]any, title string) models.ItemType {
	if row["quiz_id"] != nil || quizTitleRe.MatchString(title) {
		return models.ItemTypeQuiz
	}
	if examTitleRe.MatchString(title) {
		return models.ItemTypeExam
	}
	return models.ItemTypeAssignment
}

// FetchCourseAssignments lists published, due-dated assignments for one
// course in contract shape, sorted by due date.
func (c *Client) FetchCourseAssignments(ctx context.Context, courseID string) ([]models.CanvasItem, error) {
	query := url.Values{"per_page": {fmt.Sprint(pageSize)}, "order_by": {"due_at"}}
	rows, err := c.getPaginated(ctx, fmt.Sprintf("%s/api/v1/courses/%s/assignments?%s", c.baseURL, courseID, query.Encode()))
	if err != nil {
		return nil, err
	}

	var items []models.CanvasItem
	for _, row := range rows {
		if row["published"] != true {
			continue
		}
		rawDue, ok := cleanString(row["due_at"])
		if !ok {
			continue
		}
		dueAt, ok := toContractTime(rawDue)
		if !ok {
			continue
		}
		id, ok := stringishID(row["id"])
		if !ok {
			continue
		}
		title, ok := cleanString(row["name"])
		if !ok {
			continue
		}
		points, ok := row["points_possible"].(float64)
		if !ok || points < 0 {
			points = 0
		}
		items = append(items, models.CanvasItem{
			ID:             id,
			CourseID:       courseID,
			Title:          title,
			ItemType:       classifyItemType(row, title),
			DueAt:          dueAt,
			PointsPossible: points,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].DueAt < items[j].DueAt })
	return items, nil
}

func normalizeContentType(row map[string]any) string {
	contentType, ok := cleanString(row["content-type"])
	if !ok {
		contentType, ok = cleanString(row["content_type"])
	}
	if !ok {
		return "application/octet-stream"
	}
	return strings.ToLower(contentType)
}

// FetchCourseFiles lists the visible, published files for one course,
// sorted by updatedAt descending.
func (c *Client) FetchCourseFiles(ctx context.Context, courseID string) ([]File, error) {
	query := url.Values{"per_page": {fmt.Sprint(pageSize)}, "sort": {"updated_at"}, "order": {"desc"}}
	rows, err := c.getPaginated(ctx, fmt.Sprintf("%s/api/v1/courses/%s/files?%s", c.baseURL, courseID, query.Encode()))
	if err != nil {
		return nil, err
	}

	var files []File
	for _, row := range rows {
		if row["published"] == false || row["hidden"] == true || row["locked_for_user"] == true {
			continue
		}
		fileID, ok := stringishID(row["id"])
		if !ok {
			continue
		}
		displayName, ok := cleanString(row["display_name"])
		if !ok {
			displayName, ok = cleanString(row["filename"])
		}
		if !ok {
			continue
		}
		rawUpdated, ok := cleanString(row["updated_at"])
		if !ok {
			continue
		}
		updatedAt, ok := toContractTime(rawUpdated)
		if !ok {
			continue
		}
		downloadURL, ok := cleanString(row["url"])
		if !ok {
			continue
		}
		size, ok := row["size"].(float64)
		if !ok || size < 0 {
			size = 0
		}
		files = append(files, File{
			CanvasFileID: fileID,
			CourseID:     courseID,
			DisplayName:  displayName,
			ContentType:  normalizeContentType(row),
			SizeBytes:    int64(size),
			UpdatedAt:    updatedAt,
			DownloadURL:  downloadURL,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].UpdatedAt > files[j].UpdatedAt })
	return files, nil
}

// FetchFileBytes downloads one file with the connection's credentials and
// returns the payload plus the reported content type.
func (c *Client) FetchFileBytes(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", &APIError{URL: rawURL, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", &APIError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &APIError{URL: rawURL, Err: err}
	}
	if resp.StatusCode == http.StatusForbidden {
		return nil, "", &AccessDeniedError{URL: rawURL, Detail: string(payload)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &APIError{URL: rawURL, Msg: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	contentType := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	return payload, contentType, nil
}

func cleanString(value any) (string, bool) {
	s, ok := value.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// stringishID accepts the numeric and string id encodings Canvas emits.
func stringishID(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		return trimmed, trimmed != ""
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v)), true
		}
		return fmt.Sprintf("%v", v), true
	default:
		return "", false
	}
}
