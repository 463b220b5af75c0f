package lmssync

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"studybuddy/internal/apperr"
	"studybuddy/internal/awssdk"
	"studybuddy/internal/canvas"
	"studybuddy/internal/kb"
	"studybuddy/internal/logging"
	"studybuddy/internal/metrics"
	"studybuddy/internal/models"
	"studybuddy/internal/timez"
)

// courseWorkers bounds the per-user fan-out against the LMS API.
const courseWorkers = 4

// LMSClient is the slice of the Canvas client the engine drives.
type LMSClient interface {
	FetchActiveCourses(ctx context.Context) ([]models.Course, error)
	FetchCurrentUserID(ctx context.Context) (string, error)
	FetchCourseAssignments(ctx context.Context, courseID string) ([]models.CanvasItem, error)
	FetchCourseFiles(ctx context.Context, courseID string) ([]canvas.File, error)
	FetchFileBytes(ctx context.Context, rawURL string) ([]byte, string, error)
}

// ClientFactory builds an authenticated LMS client for one connection.
type ClientFactory func(baseURL, token string) LMSClient

// Limits caps what one sync run is willing to mirror.
type Limits struct {
	MaxFileBytes        int64
	MaxFilesPerCourse   int
	MaxFilesTotal       int
	AllowedContentTypes []string
}

// KBStatus reports the per-run KB re-index trigger outcome.
type KBStatus struct {
	Started bool   `json:"started"`
	JobID   string `json:"jobId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Report is the sync result for one user.
type Report struct {
	CoursesUpserted   int      `json:"coursesUpserted"`
	ItemsUpserted     int      `json:"itemsUpserted"`
	MaterialsUpserted int      `json:"materialsUpserted"`
	MaterialsMirrored int      `json:"materialsMirrored"`
	KB                KBStatus `json:"kb"`
	FailedCourseIDs   []string `json:"failedCourseIds"`
}

// Engine runs full-account syncs: courses, schedule items, and mirrored
// materials, finishing with at most one KB re-index trigger.
type Engine struct {
	store     *Store
	objects   awssdk.S3API
	bucket    string
	trigger   *kb.Trigger
	userAgent string
	limits    Limits
	newClient ClientFactory
	log       logging.Logger
	now       func() time.Time
}

// EngineParams wires an Engine.
type EngineParams struct {
	Store     *Store
	Objects   awssdk.S3API
	Bucket    string
	Trigger   *kb.Trigger
	UserAgent string
	Limits    Limits
	NewClient ClientFactory
	Logger    logging.Logger
	Now       func() time.Time
}

// NewEngine builds an Engine from EngineParams.
func NewEngine(p EngineParams) *Engine {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	factory := p.NewClient
	if factory == nil {
		userAgent := p.UserAgent
		factory = func(baseURL, token string) LMSClient {
			return canvas.NewClient(baseURL, token, userAgent, canvas.WithLogger(p.Logger))
		}
	}
	return &Engine{
		store:     p.Store,
		objects:   p.Objects,
		bucket:    p.Bucket,
		trigger:   p.Trigger,
		userAgent: p.UserAgent,
		limits:    p.Limits,
		newClient: factory,
		log:       logging.OrNop(p.Logger),
		now:       now,
	}
}

// allowedType reports whether a file may be mirrored, applying the
// PDF-filename escape hatch for LMS instances that report office files
// with generic content types.
func (e *Engine) allowedType(file canvas.File) bool {
	contentType := strings.ToLower(file.ContentType)
	for _, allowed := range e.limits.AllowedContentTypes {
		if contentType == allowed {
			return true
		}
	}
	return strings.HasSuffix(strings.ToLower(file.DisplayName), ".pdf")
}

// SyncUser mirrors one connected account and fires the KB re-index
// trigger when anything was mirrored. A course-listing failure fails the
// run; per-course failures degrade into failedCourseIds.
func (e *Engine) SyncUser(ctx context.Context, conn models.CanvasConnection) (Report, error) {
	report, err := e.sync(ctx, conn)
	if err != nil {
		return Report{}, err
	}
	if report.MaterialsMirrored > 0 {
		report.KB = e.TriggerReindex(ctx)
	}
	return report, nil
}

// SyncUserDeferKB is SyncUser without the KB trigger; the scheduled batch
// uses it so one trigger covers the whole batch.
func (e *Engine) SyncUserDeferKB(ctx context.Context, conn models.CanvasConnection) (Report, error) {
	return e.sync(ctx, conn)
}

func (e *Engine) sync(ctx context.Context, conn models.CanvasConnection) (Report, error) {
	client := e.newClient(conn.CanvasBaseURL, conn.AccessToken)
	now := timez.Format(e.now())
	report := Report{FailedCourseIDs: []string{}}

	courses, err := client.FetchActiveCourses(ctx)
	if err != nil {
		return Report{}, apperr.NewUpstream("course listing", err)
	}
	for _, course := range courses {
		if err := e.store.UpsertCourse(ctx, conn.UserID, course, now); err != nil {
			return Report{}, err
		}
		report.CoursesUpserted++
	}

	var mu sync.Mutex
	failed := map[string]bool{}
	markFailed := func(courseID string) {
		mu.Lock()
		failed[courseID] = true
		mu.Unlock()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(courseWorkers)
	for _, course := range courses {
		course := course
		group.Go(func() error {
			items, err := client.FetchCourseAssignments(groupCtx, course.ID)
			if err != nil {
				if canvas.IsAccessDenied(err) {
					e.log.Debug("assignments denied for course %s, skipping", course.ID)
					return nil
				}
				e.log.Warn("assignment listing failed for course %s: %v", course.ID, err)
				markFailed(course.ID)
				return nil
			}
			for _, item := range items {
				if err := e.store.UpsertItem(groupCtx, conn.UserID, item, now); err != nil {
					return err
				}
				mu.Lock()
				report.ItemsUpserted++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Report{}, err
	}

	remainingTotal := e.limits.MaxFilesTotal
	reserve := func() bool {
		mu.Lock()
		defer mu.Unlock()
		if remainingTotal <= 0 {
			return false
		}
		remainingTotal--
		return true
	}

	group, groupCtx = errgroup.WithContext(ctx)
	group.SetLimit(courseWorkers)
	for _, course := range courses {
		course := course
		group.Go(func() error {
			files, err := client.FetchCourseFiles(groupCtx, course.ID)
			if err != nil {
				if canvas.IsAccessDenied(err) {
					e.log.Debug("files denied for course %s, skipping", course.ID)
					return nil
				}
				e.log.Warn("file listing failed for course %s: %v", course.ID, err)
				markFailed(course.ID)
				return nil
			}
			if len(files) > e.limits.MaxFilesPerCourse {
				files = files[:e.limits.MaxFilesPerCourse]
			}
			for _, file := range files {
				if file.SizeBytes > e.limits.MaxFileBytes || !e.allowedType(file) {
					continue
				}
				if !reserve() {
					return nil
				}
				mirrored, err := e.mirrorFile(groupCtx, client, conn.UserID, file)
				if err != nil {
					e.log.Warn("mirror failed for file %s in course %s: %v",
						file.CanvasFileID, course.ID, err)
					continue
				}
				mu.Lock()
				report.MaterialsUpserted++
				if mirrored {
					report.MaterialsMirrored++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Report{}, err
	}

	for courseID := range failed {
		report.FailedCourseIDs = append(report.FailedCourseIDs, courseID)
	}
	sort.Strings(report.FailedCourseIDs)

	metrics.AddMaterialsMirrored(report.MaterialsMirrored)
	return report, nil
}

// mirrorFile downloads one file, copies it into object storage under the
// canonical material key, and upserts the material row. Returns whether a
// new object was written.
func (e *Engine) mirrorFile(ctx context.Context, client LMSClient, userID string, file canvas.File) (bool, error) {
	if e.bucket == "" {
		return false, apperr.NewMisconfigured("UPLOADS_BUCKET")
	}
	data, contentType, err := client.FetchFileBytes(ctx, file.DownloadURL)
	if err != nil {
		return false, err
	}
	if int64(len(data)) > e.limits.MaxFileBytes {
		return false, apperr.NewValidation("file %s exceeds the mirror size cap", file.CanvasFileID)
	}
	if contentType == "" {
		contentType = file.ContentType
	}

	key := models.MaterialObjectKey(userID, file.CourseID, file.CanvasFileID, file.DisplayName)
	if _, err := e.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"source":       "canvas",
			"userid":       userID,
			"courseid":     file.CourseID,
			"canvasfileid": file.CanvasFileID,
		},
	}); err != nil {
		return false, apperr.NewUpstream("material mirror", err)
	}

	material := models.CanvasMaterial{
		CanvasFileID: file.CanvasFileID,
		CourseID:     file.CourseID,
		DisplayName:  file.DisplayName,
		ContentType:  contentType,
		SizeBytes:    int64(len(data)),
		UpdatedAt:    file.UpdatedAt,
		DownloadURL:  file.DownloadURL,
		S3Key:        key,
	}
	if err := e.store.UpsertMaterial(ctx, userID, material); err != nil {
		return true, err
	}
	return true, nil
}

// TriggerReindex submits one KB re-index job under a random client token.
func (e *Engine) TriggerReindex(ctx context.Context) KBStatus {
	if e.trigger == nil || !e.trigger.Configured() {
		return KBStatus{Error: "KB re-index skipped: KNOWLEDGE_BASE_ID and KNOWLEDGE_BASE_DATA_SOURCE_ID not configured"}
	}
	jobID, err := e.trigger.StartIngestion(ctx, uuid.NewString())
	if err != nil {
		return KBStatus{Error: err.Error()}
	}
	return KBStatus{Started: true, JobID: jobID}
}
