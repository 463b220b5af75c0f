package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybuddy/internal/caltoken"
	"studybuddy/internal/config"
	"studybuddy/internal/fixtures"
	"studybuddy/internal/ingest"
	"studybuddy/internal/lmssync"
	"studybuddy/internal/schedulerhook"
	"studybuddy/internal/study"
	"studybuddy/internal/uploads"
)

func testClock() time.Time {
	return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

// memDB stores rows keyed by the marshaled item key so every table-backed
// service can share one fake.
type memDB struct {
	items map[string]map[string]ddbtypes.AttributeValue
}

func newMemDB() *memDB {
	return &memDB{items: map[string]map[string]ddbtypes.AttributeValue{}}
}

func attrS(item map[string]ddbtypes.AttributeValue, name string) string {
	if v, ok := item[name].(*ddbtypes.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func rowKey(item map[string]ddbtypes.AttributeValue) string {
	for _, name := range []string{"token", "cardId", "docId"} {
		if v := attrS(item, name); v != "" {
			return name + "|" + v
		}
	}
	return "pk|" + attrS(item, "pk") + "|" + attrS(item, "sk")
}

func (m *memDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.items[rowKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *memDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if item, ok := m.items[rowKey(in.Key)]; ok {
		return &dynamodb.GetItemOutput{Item: item}, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *memDB) UpdateItem(_ context.Context, _ *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *memDB) Query(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return &dynamodb.QueryOutput{}, nil
}

func (m *memDB) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return &dynamodb.ScanOutput{}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignPutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://bucket.s3.amazonaws.com/" + *in.Key}, nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	db := newMemDB()
	demo, err := fixtures.Load()
	require.NoError(t, err)

	cfg := &config.Config{
		DemoMode:         true,
		DemoUserID:       "demo-user",
		CORSAllowOrigin:  config.DefaultCORSAllowOrigin,
		CORSAllowMethods: config.DefaultCORSAllowMethods,
		CORSAllowHeaders: config.DefaultCORSAllowHeaders,
		CanvasDataTable:  "canvas-data",
		CardsTable:       "cards",
		DocsTable:        "docs",
		UploadsBucket:    "uploads-bucket",
	}
	store := lmssync.NewStore(db, cfg.CanvasDataTable)
	engine := lmssync.NewEngine(lmssync.EngineParams{
		Store:     store,
		Objects:   nil,
		Bucket:    cfg.UploadsBucket,
		NewClient: func(_, _ string) lmssync.LMSClient { return nil },
	})
	return New(Params{
		Config:     cfg,
		CanvasData: store,
		Engine:     engine,
		Batch:      schedulerhook.NewBatch(store, engine, nil),
		Ingest: ingest.NewService(ingest.ServiceParams{
			Jobs: ingest.NewJobStore(db, cfg.DocsTable),
			Now:  testClock,
		}),
		Uploads:  uploads.NewService(fakePresigner{}, cfg.UploadsBucket, nil),
		Study:    study.NewService(study.NewCardStore(db, cfg.CardsTable), store, nil, testClock),
		Tokens:   caltoken.NewService(db, "cal-tokens", nil, caltoken.WithClock(testClock)),
		Fixtures: demo,
	})
}

func invoke(t *testing.T, h *Handler, event map[string]any) (int, map[string]string, string) {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	resp, err := h.Handle(context.Background(), raw)
	require.NoError(t, err)
	return resp.StatusCode, resp.Headers, resp.Body
}

func getEvent(path string, query map[string]string) map[string]any {
	event := map[string]any{"httpMethod": "GET", "path": path}
	if query != nil {
		event["queryStringParameters"] = query
	}
	return event
}

func postEvent(path string, body any) map[string]any {
	event := map[string]any{"httpMethod": "POST", "path": path}
	if body != nil {
		event["body"] = body
	}
	return event
}

func TestHealthRoute(t *testing.T) {
	status, headers, body := invoke(t, newTestHandler(t), getEvent("/health", nil))
	assert.Equal(t, 200, status)
	assert.JSONEq(t, `{"status":"ok"}`, body)
	assert.Equal(t, "*", headers["Access-Control-Allow-Origin"])
}

func TestEnvelopeV2MethodAndStageStrip(t *testing.T) {
	h := newTestHandler(t)
	status, _, body := invoke(t, h, map[string]any{
		"rawPath": "/dev/health",
		"requestContext": map[string]any{
			"stage": "dev",
			"http":  map[string]any{"method": "get"},
		},
	})
	assert.Equal(t, 200, status)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestUnknownRouteIs404WithCORS(t *testing.T) {
	status, headers, _ := invoke(t, newTestHandler(t), getEvent("/nope", nil))
	assert.Equal(t, 404, status)
	assert.Equal(t, "*", headers["Access-Control-Allow-Origin"])
	assert.Equal(t, "GET,POST,OPTIONS", headers["Access-Control-Allow-Methods"])
}

func TestMissingPrincipalOutsideDemoModeIs401(t *testing.T) {
	h := newTestHandler(t)
	h.cfg.DemoMode = false

	status, _, body := invoke(t, h, getEvent("/courses", nil))
	assert.Equal(t, 401, status)
	assert.Contains(t, body, "authentication required")
}

func TestPrincipalChainPrefersAuthorizer(t *testing.T) {
	h := newTestHandler(t)
	h.cfg.DemoMode = false

	event := getEvent("/courses", nil)
	event["requestContext"] = map[string]any{
		"authorizer": map[string]any{"principalId": "user-42"},
	}
	status, _, _ := invoke(t, h, event)
	assert.Equal(t, 200, status)
}

func TestPrincipalFromJWTClaims(t *testing.T) {
	h := newTestHandler(t)
	h.cfg.DemoMode = false

	event := getEvent("/courses", nil)
	event["requestContext"] = map[string]any{
		"authorizer": map[string]any{
			"jwt": map[string]any{"claims": map[string]any{"sub": "user-jwt"}},
		},
	}
	status, _, _ := invoke(t, h, event)
	assert.Equal(t, 200, status)
}

func TestDemoHeaderOverridesDefaultUser(t *testing.T) {
	h := newTestHandler(t)

	event := postEvent("/calendar/token", nil)
	event["headers"] = map[string]string{"x-gurt-demo-user-id": "student:alpha"}
	status, _, body := invoke(t, h, event)
	require.Equal(t, 201, status)

	var record caltoken.Record
	require.NoError(t, json.Unmarshal([]byte(body), &record))
	assert.Equal(t, "student:alpha", record.UserID)
	assert.NotEmpty(t, record.Token)
}

func TestDemoHeaderRejectedWhenMalformed(t *testing.T) {
	h := newTestHandler(t)

	event := postEvent("/calendar/token", nil)
	event["headers"] = map[string]string{"X-Gurt-Demo-User-Id": "bad user!"}
	status, _, body := invoke(t, h, event)
	require.Equal(t, 201, status)

	var record caltoken.Record
	require.NoError(t, json.Unmarshal([]byte(body), &record))
	assert.Equal(t, "demo-user", record.UserID)
}

func TestCoursesFallBackToFixturesInDemoMode(t *testing.T) {
	status, _, body := invoke(t, newTestHandler(t), getEvent("/courses", nil))
	require.Equal(t, 200, status)

	var courses []map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &courses))
	require.NotEmpty(t, courses)
	assert.Equal(t, "course-psych-101", courses[0]["id"])
}

func TestCourseItemsFixturesAreCourseScoped(t *testing.T) {
	status, _, body := invoke(t, newTestHandler(t), getEvent("/courses/course-cs-201/items", nil))
	require.Equal(t, 200, status)

	var items []map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "item-cs-quiz-trees", items[0]["id"])
}

func TestLiveModeWithoutTableIs503(t *testing.T) {
	h := newTestHandler(t)
	h.cfg.DemoMode = false
	h.cfg.CanvasDataTable = ""

	event := getEvent("/courses", nil)
	event["requestContext"] = map[string]any{
		"authorizer": map[string]any{"principalId": "user-42"},
	}
	status, _, body := invoke(t, h, event)
	assert.Equal(t, 503, status)
	assert.Contains(t, body, "live mode not provisioned")
}

func TestUploadsRouteNeedsNoPrincipal(t *testing.T) {
	h := newTestHandler(t)
	h.cfg.DemoMode = false

	status, _, body := invoke(t, h, postEvent("/uploads", map[string]any{
		"courseId":    "c-1",
		"filename":    "syllabus.pdf",
		"contentType": "application/pdf",
	}))
	require.Equal(t, 200, status)

	var resp uploads.Response
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Contains(t, resp.Key, "uploads/c-1/")
	assert.Equal(t, 900, resp.ExpiresInSeconds)
}

func TestUploadsValidationErrorIs400(t *testing.T) {
	status, _, body := invoke(t, newTestHandler(t), postEvent("/uploads", map[string]any{
		"courseId":    "c 1",
		"filename":    "a.pdf",
		"contentType": "application/pdf",
	}))
	assert.Equal(t, 400, status)
	assert.Contains(t, body, "'courseId'")
}

func TestNonObjectBodyIs400(t *testing.T) {
	status, _, body := invoke(t, newTestHandler(t), postEvent("/uploads", "[1,2,3]"))
	assert.Equal(t, 400, status)
	assert.Contains(t, body, "JSON")
}

func TestIngestStatusUnknownJobIs404(t *testing.T) {
	status, _, body := invoke(t, newTestHandler(t), getEvent("/docs/ingest/ingest-missing", nil))
	assert.Equal(t, 404, status)
	assert.Contains(t, body, "ingest-missing")
}

func TestIngestSubmitWithoutStateMachineIs500(t *testing.T) {
	status, _, body := invoke(t, newTestHandler(t), postEvent("/docs/ingest", map[string]any{
		"docId":    "doc-1",
		"courseId": "c-1",
		"key":      "uploads/c-1/doc-1/a.pdf",
	}))
	assert.Equal(t, 500, status)
	assert.Contains(t, body, "INGEST_STATE_MACHINE_ARN")
}

func TestStudyTodayRequiresCourseQuery(t *testing.T) {
	status, _, body := invoke(t, newTestHandler(t), getEvent("/study/today", nil))
	assert.Equal(t, 400, status)
	assert.Contains(t, body, "courseId query parameter is required")
}

func TestStudyTodayServesFixtureCardsInDemoMode(t *testing.T) {
	status, _, body := invoke(t, newTestHandler(t),
		getEvent("/study/today", map[string]string{"courseId": "course-psych-101"}))
	require.Equal(t, 200, status)

	var cards []map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &cards))
	require.Len(t, cards, 2)
	assert.Equal(t, "card-psych-encoding", cards[0]["id"])
}

func TestStudyReviewRejectsBadRating(t *testing.T) {
	status, _, body := invoke(t, newTestHandler(t), postEvent("/study/review", map[string]any{
		"cardId":     "card-1",
		"courseId":   "c-1",
		"rating":     9,
		"reviewedAt": "2026-03-10T12:00:00Z",
	}))
	assert.Equal(t, 400, status)
	assert.Contains(t, body, "rating")
}

func TestStudyMasteryServesFixtureTopics(t *testing.T) {
	status, _, body := invoke(t, newTestHandler(t),
		getEvent("/study/mastery", map[string]string{"courseId": "course-cs-201"}))
	require.Equal(t, 200, status)

	var topics []study.TopicMastery
	require.NoError(t, json.Unmarshal([]byte(body), &topics))
	require.Len(t, topics, 1)
	assert.Equal(t, "topic-trees", topics[0].TopicID)
}

func TestCalendarTokenMintAndFeedRoundtrip(t *testing.T) {
	h := newTestHandler(t)

	status, _, body := invoke(t, h, postEvent("/calendar/token", nil))
	require.Equal(t, 201, status)
	var record caltoken.Record
	require.NoError(t, json.Unmarshal([]byte(body), &record))

	h.cfg.CalendarFixtureFallback = true
	status, headers, feed := invoke(t, h, getEvent(fmt.Sprintf("/calendar/%s.ics", record.Token), nil))
	require.Equal(t, 200, status)
	assert.Equal(t, "text/calendar", headers["Content-Type"])
	assert.Contains(t, feed, "BEGIN:VCALENDAR\r\n")
	assert.Contains(t, feed, "UID:studybuddy:demo-user:course-psych-101:item-psych-midterm\r\n")
}

func TestCalendarFeedUnknownTokenIs404(t *testing.T) {
	status, _, _ := invoke(t, newTestHandler(t), getEvent("/calendar/nope.ics", nil))
	assert.Equal(t, 404, status)
}

func TestLMSSyncWithoutConnectionIs404(t *testing.T) {
	status, _, body := invoke(t, newTestHandler(t), postEvent("/lms/sync", nil))
	assert.Equal(t, 404, status)
	assert.Contains(t, body, "no LMS connection")
}

func TestScheduledEventRunsBatch(t *testing.T) {
	h := newTestHandler(t)

	status, _, body := invoke(t, h, map[string]any{
		"source":      "aws.events",
		"detail-type": "Scheduled Event",
	})
	require.Equal(t, 200, status)

	var report schedulerhook.BatchReport
	require.NoError(t, json.Unmarshal([]byte(body), &report))
	assert.Zero(t, report.UsersSynced)
	assert.Empty(t, report.UserErrors)
}
