package schedulerhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybuddy/internal/canvas"
	"studybuddy/internal/kb"
	"studybuddy/internal/lmssync"
	"studybuddy/internal/models"
)

type fakeDB struct {
	mu    sync.Mutex
	conns []models.CanvasConnection
	puts  int
}

func (f *fakeDB) PutItem(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDB) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeDB) UpdateItem(_ context.Context, _ *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDB) Query(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return &dynamodb.QueryOutput{}, nil
}

func (f *fakeDB) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	var items []map[string]ddbtypes.AttributeValue
	for _, conn := range f.conns {
		item, err := conn.Item()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return &dynamodb.ScanOutput{Items: items}, nil
}

type fakeObjects struct{}

func (fakeObjects) GetObject(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, errors.New("not implemented")
}

func (fakeObjects) PutObject(_ context.Context, _ *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return &s3.PutObjectOutput{}, nil
}

type fakeAgent struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeAgent) StartIngestionJob(_ context.Context, _ *bedrockagent.StartIngestionJobInput, _ ...func(*bedrockagent.Options)) (*bedrockagent.StartIngestionJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &bedrockagent.StartIngestionJobOutput{
		IngestionJob: &agenttypes.IngestionJob{IngestionJobId: aws.String("kb-batch-1")},
	}, nil
}

type fakeLMS struct {
	fail    bool
	courses []models.Course
	files   []canvas.File
}

func (f *fakeLMS) FetchActiveCourses(context.Context) ([]models.Course, error) {
	if f.fail {
		return nil, &canvas.APIError{URL: "u", Msg: "token expired"}
	}
	return f.courses, nil
}

func (f *fakeLMS) FetchCurrentUserID(context.Context) (string, error) { return "1", nil }

func (f *fakeLMS) FetchCourseAssignments(context.Context, string) ([]models.CanvasItem, error) {
	return nil, nil
}

func (f *fakeLMS) FetchCourseFiles(context.Context, string) ([]canvas.File, error) {
	return f.files, nil
}

func (f *fakeLMS) FetchFileBytes(context.Context, string) ([]byte, string, error) {
	return []byte("pdf-bytes"), "application/pdf", nil
}

func conn(userID string) models.CanvasConnection {
	return models.CanvasConnection{
		UserID:        userID,
		CanvasBaseURL: "https://school.instructure.com",
		AccessToken:   "tok-" + userID,
		UpdatedAt:     "2026-03-01T00:00:00Z",
	}
}

func TestRunContinuesPastUserFailuresAndTriggersOnce(t *testing.T) {
	db := &fakeDB{conns: []models.CanvasConnection{conn("u-ok"), conn("u-bad")}}
	store := lmssync.NewStore(db, "canvas-data")
	agent := &fakeAgent{}

	clients := map[string]*fakeLMS{
		"tok-u-ok": {
			courses: []models.Course{{ID: "c-1", Name: "Biology", Term: "Fall 2026", Color: "#3366FF"}},
			files: []canvas.File{{
				CanvasFileID: "f-1", CourseID: "c-1", DisplayName: "notes.pdf",
				ContentType: "application/pdf", SizeBytes: 10,
				UpdatedAt: "2026-03-01T00:00:00Z", DownloadURL: "https://files/f-1",
			}},
		},
		"tok-u-bad": {fail: true},
	}
	engine := lmssync.NewEngine(lmssync.EngineParams{
		Store:   store,
		Objects: fakeObjects{},
		Bucket:  "uploads-bucket",
		Trigger: kb.NewTrigger(agent, "kb-1", "ds-1", nil),
		Limits: lmssync.Limits{
			MaxFileBytes: 1024, MaxFilesPerCourse: 5, MaxFilesTotal: 10,
			AllowedContentTypes: []string{"application/pdf"},
		},
		NewClient: func(_, token string) lmssync.LMSClient { return clients[token] },
		Now:       func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) },
	})

	report, err := NewBatch(store, engine, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.UsersSynced)
	assert.Equal(t, 1, report.MaterialsMirrored)
	assert.Contains(t, report.UserErrors["u-bad"], "course listing failed")
	assert.True(t, report.KB.Started)
	assert.Equal(t, "kb-batch-1", report.KB.JobID)
	assert.Equal(t, 1, agent.calls)
}

func TestRunNoConnectionsIsEmptyReport(t *testing.T) {
	store := lmssync.NewStore(&fakeDB{}, "canvas-data")
	engine := lmssync.NewEngine(lmssync.EngineParams{
		Store:     store,
		Objects:   fakeObjects{},
		Bucket:    "b",
		NewClient: func(_, _ string) lmssync.LMSClient { return &fakeLMS{} },
	})

	report, err := NewBatch(store, engine, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.UsersSynced)
	assert.Empty(t, report.UserErrors)
	assert.False(t, report.KB.Started)
}
