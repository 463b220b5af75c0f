package dispatch

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/samber/lo"

	"studybuddy/internal/apperr"
	"studybuddy/internal/generation"
	"studybuddy/internal/ics"
	"studybuddy/internal/ingest"
	"studybuddy/internal/lmssync"
	"studybuddy/internal/models"
	"studybuddy/internal/study"
	"studybuddy/internal/uploads"
)

var (
	courseItemsPath     = regexp.MustCompile(`^/courses/([^/]+)/items$`)
	courseMaterialsPath = regexp.MustCompile(`^/courses/([^/]+)/materials$`)
	ingestStatusPath    = regexp.MustCompile(`^/docs/ingest/([^/]+)$`)
	calendarFeedPath    = regexp.MustCompile(`^/calendar/([^/]+)\.ics$`)
)

const chatRefusal = "I can't help with that request. Ask me about your course material instead."

func pathCapture(re *regexp.Regexp, path string) string {
	if m := re.FindStringSubmatch(path); m != nil {
		return m[1]
	}
	return ""
}

func (h *Handler) route(ctx context.Context, env *envelope, method, path string) events.APIGatewayProxyResponse {
	if method == http.MethodOptions {
		return h.respondJSON(http.StatusOK, map[string]string{"status": "ok"})
	}
	if method == http.MethodGet && path == "/health" {
		return h.respondJSON(http.StatusOK, map[string]string{"status": "ok"})
	}
	if method == http.MethodPost && path == "/uploads" {
		return h.handleUploads(ctx, env)
	}

	principal := env.principal(h.cfg.DemoMode, h.cfg.DemoUserID)
	if principal == "" {
		return h.respondErr(&apperr.AuthRequiredError{})
	}

	switch {
	case method == http.MethodGet && path == "/courses":
		return h.handleCourses(ctx, principal)
	case method == http.MethodGet && courseItemsPath.MatchString(path):
		return h.handleCourseItems(ctx, principal, pathCapture(courseItemsPath, path))
	case method == http.MethodGet && courseMaterialsPath.MatchString(path):
		return h.handleCourseMaterials(ctx, principal, pathCapture(courseMaterialsPath, path))
	case method == http.MethodPost && path == "/docs/ingest":
		return h.handleIngestSubmit(ctx, env)
	case method == http.MethodGet && ingestStatusPath.MatchString(path):
		return h.handleIngestStatus(ctx, pathCapture(ingestStatusPath, path))
	case method == http.MethodPost && path == "/lms/connect":
		return h.handleLMSConnect(ctx, env, principal)
	case method == http.MethodPost && path == "/lms/sync":
		return h.handleLMSSync(ctx, principal)
	case method == http.MethodPost && path == "/generate/flashcards":
		return h.handleGenerateFlashcards(ctx, env)
	case method == http.MethodPost && path == "/generate/flashcards-from-materials":
		return h.handleFlashcardsFromMaterials(ctx, env, principal)
	case method == http.MethodPost && path == "/generate/practice-exam":
		return h.handlePracticeExam(ctx, env)
	case method == http.MethodPost && path == "/chat":
		return h.handleChat(ctx, env, principal)
	case method == http.MethodGet && path == "/study/today":
		return h.handleStudyToday(ctx, env, principal)
	case method == http.MethodPost && path == "/study/review":
		return h.handleStudyReview(ctx, env, principal)
	case method == http.MethodGet && path == "/study/mastery":
		return h.handleStudyMastery(ctx, env, principal)
	case method == http.MethodPost && path == "/calendar/token":
		return h.handleCalendarToken(ctx, principal)
	case method == http.MethodGet && calendarFeedPath.MatchString(path):
		return h.handleCalendarFeed(ctx, env, path)
	default:
		return h.respondJSON(http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (h *Handler) handleUploads(ctx context.Context, env *envelope) events.APIGatewayProxyResponse {
	var req uploads.Request
	if err := env.decodeBody(&req); err != nil {
		return h.respondErr(err)
	}
	resp, err := h.uploadsSvc.Create(ctx, req)
	if err != nil {
		return h.respondErr(err)
	}
	return h.respondJSON(http.StatusOK, resp)
}

func (h *Handler) demoFixtures() bool {
	return h.cfg.DemoMode && h.demo != nil
}

func (h *Handler) handleCourses(ctx context.Context, principal string) events.APIGatewayProxyResponse {
	if h.liveUnavailable() {
		return h.respondLiveUnavailable()
	}
	courses, err := h.canvasData.ListCourses(ctx, principal)
	if err != nil && !h.demoFixtures() {
		return h.respondErr(err)
	}
	if len(courses) == 0 && h.demoFixtures() {
		courses = h.demo.Courses
	}
	return h.respondJSON(http.StatusOK, lo.Map(courses, func(c models.Course, _ int) map[string]any {
		return c.ToAPI()
	}))
}

func (h *Handler) handleCourseItems(ctx context.Context, principal, courseID string) events.APIGatewayProxyResponse {
	if h.liveUnavailable() {
		return h.respondLiveUnavailable()
	}
	items, err := h.canvasData.ListCourseItems(ctx, principal, courseID)
	if err != nil && !h.demoFixtures() {
		return h.respondErr(err)
	}
	if len(items) == 0 && h.demoFixtures() {
		items = h.demo.CourseItems(courseID)
	}
	return h.respondJSON(http.StatusOK, lo.Map(items, func(i models.CanvasItem, _ int) map[string]any {
		return i.ToAPI()
	}))
}

// handleCourseMaterials omits downloadUrl and s3Key: both are internal
// pipeline fields, not client data.
func (h *Handler) handleCourseMaterials(ctx context.Context, principal, courseID string) events.APIGatewayProxyResponse {
	if h.liveUnavailable() {
		return h.respondLiveUnavailable()
	}
	materials, err := h.canvasData.ListMaterials(ctx, principal, courseID)
	if err != nil {
		return h.respondErr(err)
	}
	out := lo.Map(materials, func(m models.CanvasMaterial, _ int) map[string]any {
		return map[string]any{
			"canvasFileId": m.CanvasFileID,
			"courseId":     m.CourseID,
			"displayName":  m.DisplayName,
			"contentType":  m.ContentType,
			"sizeBytes":    m.SizeBytes,
			"updatedAt":    m.UpdatedAt,
		}
	})
	return h.respondJSON(http.StatusOK, out)
}

func (h *Handler) handleIngestSubmit(ctx context.Context, env *envelope) events.APIGatewayProxyResponse {
	var req ingest.SubmitRequest
	if err := env.decodeBody(&req); err != nil {
		return h.respondErr(err)
	}
	resp, err := h.ingestSvc.Submit(ctx, req)
	if err != nil {
		return h.respondErr(err)
	}
	return h.respondJSON(http.StatusAccepted, resp)
}

func (h *Handler) handleIngestStatus(ctx context.Context, jobID string) events.APIGatewayProxyResponse {
	job, err := h.ingestSvc.Status(ctx, jobID)
	if err != nil {
		return h.respondErr(err)
	}
	return h.respondJSON(http.StatusOK, job)
}

func (h *Handler) handleLMSConnect(ctx context.Context, env *envelope, principal string) events.APIGatewayProxyResponse {
	var req lmssync.ConnectRequest
	if err := env.decodeBody(&req); err != nil {
		return h.respondErr(err)
	}
	resp, err := h.connector.Connect(ctx, principal, req)
	if err != nil {
		return h.respondErr(err)
	}
	return h.respondJSON(http.StatusOK, resp)
}

func (h *Handler) handleLMSSync(ctx context.Context, principal string) events.APIGatewayProxyResponse {
	conn, err := h.canvasData.GetConnection(ctx, principal)
	if err != nil {
		return h.respondErr(err)
	}
	if conn == nil {
		return h.respondErr(apperr.NewNotFound("no LMS connection for user"))
	}
	report, err := h.engine.SyncUser(ctx, *conn)
	if err != nil {
		return h.respondErr(err)
	}
	return h.respondJSON(http.StatusOK, report)
}

type generateRequest struct {
	CourseID     string   `json:"courseId"`
	NumCards     int      `json:"numCards"`
	NumQuestions int      `json:"numQuestions"`
	MaterialIDs  []string `json:"materialIds"`
}

func (h *Handler) handleGenerateFlashcards(ctx context.Context, env *envelope) events.APIGatewayProxyResponse {
	var req generateRequest
	if err := env.decodeBody(&req); err != nil {
		return h.respondErr(err)
	}
	if strings.TrimSpace(req.CourseID) == "" {
		return h.respondErr(apperr.NewValidation("'courseId' is required"))
	}
	cards, err := h.gen.GenerateFlashcards(ctx, req.CourseID, req.NumCards)
	if err != nil {
		return h.respondErr(err)
	}
	return h.respondJSON(http.StatusOK, map[string]any{"cards": cards})
}

func (h *Handler) handleFlashcardsFromMaterials(ctx context.Context, env *envelope, principal string) events.APIGatewayProxyResponse {
	var req generateRequest
	if err := env.decodeBody(&req); err != nil {
		return h.respondErr(err)
	}
	if strings.TrimSpace(req.CourseID) == "" || len(req.MaterialIDs) == 0 {
		return h.respondErr(apperr.NewValidation("'courseId' and 'materialIds' are required"))
	}

	keys := make([]string, 0, len(req.MaterialIDs))
	for _, id := range req.MaterialIDs {
		material, err := h.canvasData.GetMaterial(ctx, principal, req.CourseID, id)
		if err != nil {
			return h.respondErr(err)
		}
		if material == nil || material.S3Key == "" {
			return h.respondErr(apperr.NewNotFound("material %s not found for course %s", id, req.CourseID))
		}
		keys = append(keys, material.S3Key)
	}

	cards, err := h.gen.GenerateFlashcardsFromMaterials(ctx, req.CourseID, keys, req.NumCards)
	if err != nil {
		return h.respondErr(err)
	}
	return h.respondJSON(http.StatusOK, map[string]any{"cards": cards})
}

func (h *Handler) handlePracticeExam(ctx context.Context, env *envelope) events.APIGatewayProxyResponse {
	var req generateRequest
	if err := env.decodeBody(&req); err != nil {
		return h.respondErr(err)
	}
	if strings.TrimSpace(req.CourseID) == "" {
		return h.respondErr(apperr.NewValidation("'courseId' is required"))
	}
	exam, err := h.gen.GeneratePracticeExam(ctx, req.CourseID, req.NumQuestions)
	if err != nil {
		return h.respondErr(err)
	}
	return h.respondJSON(http.StatusOK, exam)
}

type chatRequest struct {
	CourseID string `json:"courseId"`
	Question string `json:"question"`
}

func (h *Handler) handleChat(ctx context.Context, env *envelope, principal string) events.APIGatewayProxyResponse {
	var req chatRequest
	if err := env.decodeBody(&req); err != nil {
		return h.respondErr(err)
	}
	if strings.TrimSpace(req.CourseID) == "" || strings.TrimSpace(req.Question) == "" {
		return h.respondErr(apperr.NewValidation("'courseId' and 'question' are required"))
	}

	canvasContext := ""
	if items, err := h.canvasData.ListCourseItems(ctx, principal, req.CourseID); err == nil && len(items) > 0 {
		canvasContext = generation.FormatCanvasItems(items)
	}

	result, err := h.gen.ChatAnswer(ctx, req.CourseID, req.Question, canvasContext)
	if apperr.IsGuardrailBlocked(err) {
		return h.respondJSON(http.StatusOK, generation.ChatResult{Answer: chatRefusal, Citations: []string{}})
	}
	if err != nil {
		return h.respondErr(err)
	}
	return h.respondJSON(http.StatusOK, result)
}

func (h *Handler) handleStudyToday(ctx context.Context, env *envelope, principal string) events.APIGatewayProxyResponse {
	courseID := env.query("courseId")
	if courseID == "" {
		return h.respondErr(apperr.NewValidation("courseId query parameter is required"))
	}
	cards, err := h.studySvc.Today(ctx, principal, courseID, env.query("examId"))
	if err != nil && !h.demoFixtures() {
		return h.respondErr(err)
	}
	if len(cards) == 0 && h.demoFixtures() {
		cards = h.demo.CourseCards(courseID)
		if len(cards) > 5 {
			cards = cards[:5]
		}
	}
	return h.respondJSON(http.StatusOK, lo.Map(cards, func(c models.Card, _ int) map[string]any {
		return c.ToAPI()
	}))
}

func (h *Handler) handleStudyReview(ctx context.Context, env *envelope, principal string) events.APIGatewayProxyResponse {
	var req study.ReviewRequest
	if err := env.decodeBody(&req); err != nil {
		return h.respondErr(err)
	}
	if err := h.studySvc.Review(ctx, principal, req); err != nil {
		return h.respondErr(err)
	}
	return h.respondJSON(http.StatusOK, map[string]bool{"accepted": true})
}

func (h *Handler) handleStudyMastery(ctx context.Context, env *envelope, principal string) events.APIGatewayProxyResponse {
	courseID := env.query("courseId")
	if courseID == "" {
		return h.respondErr(apperr.NewValidation("courseId query parameter is required"))
	}
	topics, err := h.studySvc.Mastery(ctx, principal, courseID)
	if err != nil && !h.demoFixtures() {
		return h.respondErr(err)
	}
	if len(topics) == 0 && h.demoFixtures() {
		topics = h.demo.CourseTopics(courseID)
	}
	if topics == nil {
		topics = []study.TopicMastery{}
	}
	return h.respondJSON(http.StatusOK, topics)
}

func (h *Handler) handleCalendarToken(ctx context.Context, principal string) events.APIGatewayProxyResponse {
	record, err := h.tokens.Mint(ctx, principal)
	if err != nil {
		return h.respondErr(err)
	}
	return h.respondJSON(http.StatusCreated, record)
}

func (h *Handler) calendarToken(env *envelope, path string) string {
	for _, key := range []string{"token", "token_ics"} {
		if value := env.pathParam(key); value != "" {
			return strings.TrimSuffix(value, ".ics")
		}
	}
	return pathCapture(calendarFeedPath, path)
}

func (h *Handler) handleCalendarFeed(ctx context.Context, env *envelope, path string) events.APIGatewayProxyResponse {
	token := h.calendarToken(env, path)
	record, err := h.tokens.ResolveForFeed(ctx, token)
	if err != nil {
		return h.respondErr(err)
	}

	var items []models.CanvasItem
	if h.cfg.CanvasDataTable != "" {
		if items, err = h.canvasData.ListUserItems(ctx, record.UserID); err != nil {
			h.log.Warn("calendar item load failed for user %s: %v", record.UserID, err)
			items = nil
		}
	}
	if len(items) == 0 && h.cfg.CalendarFixtureFallback && h.demo != nil {
		items = h.demo.Items
	}

	body := ics.Calendar(record.UserID, ics.FromItems(items))
	return h.respondText(http.StatusOK, "text/calendar", body)
}
