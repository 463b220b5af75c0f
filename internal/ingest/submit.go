package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/google/uuid"

	"studybuddy/internal/apperr"
	"studybuddy/internal/awssdk"
	"studybuddy/internal/logging"
	"studybuddy/internal/timez"
)

// SubmitRequest is the POST /docs/ingest payload.
type SubmitRequest struct {
	DocID     string `json:"docId"`
	CourseID  string `json:"courseId"`
	Key       string `json:"key"`
	Threshold int    `json:"threshold,omitempty"`
}

// SubmitResponse acknowledges a queued ingestion job.
type SubmitResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// Service submits ingestion executions and reads job status.
type Service struct {
	jobs            *JobStore
	workflows       awssdk.SFNAPI
	stateMachineARN string
	bucket          string
	log             logging.Logger
	now             func() time.Time
}

// ServiceParams wires a Service.
type ServiceParams struct {
	Jobs            *JobStore
	Workflows       awssdk.SFNAPI
	StateMachineARN string
	Bucket          string
	Logger          logging.Logger
	Now             func() time.Time
}

// NewService builds a Service from ServiceParams.
func NewService(p ServiceParams) *Service {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		jobs:            p.Jobs,
		workflows:       p.Workflows,
		stateMachineARN: p.StateMachineARN,
		bucket:          p.Bucket,
		log:             logging.OrNop(p.Logger),
		now:             now,
	}
}

// Submit validates the request, writes the RUNNING job row, and starts the
// workflow execution named after the job id so duplicate submissions of the
// same job collapse at the orchestrator.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	docID := strings.TrimSpace(req.DocID)
	courseID := strings.TrimSpace(req.CourseID)
	key := strings.TrimSpace(req.Key)
	if docID == "" || courseID == "" || key == "" {
		return SubmitResponse{}, apperr.NewValidation("'docId', 'courseId', and 'key' are required")
	}
	if s.stateMachineARN == "" {
		return SubmitResponse{}, apperr.NewMisconfigured("INGEST_STATE_MACHINE_ARN")
	}
	if s.bucket == "" {
		return SubmitResponse{}, apperr.NewMisconfigured("UPLOADS_BUCKET")
	}

	jobID := "ingest-" + uuid.NewString()
	now := timez.Format(s.now())
	if err := s.jobs.Put(ctx, Job{
		JobID:       jobID,
		SourceDocID: docID,
		CourseID:    courseID,
		SourceKey:   key,
		Status:      StatusRunning,
		UpdatedAt:   now,
	}); err != nil {
		return SubmitResponse{}, err
	}

	input, err := json.Marshal(TaskInput{
		JobID:     jobID,
		DocID:     docID,
		CourseID:  courseID,
		Bucket:    s.bucket,
		Key:       key,
		Threshold: req.Threshold,
	})
	if err != nil {
		return SubmitResponse{}, err
	}
	if _, err := s.workflows.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(s.stateMachineARN),
		Name:            aws.String(jobID),
		Input:           aws.String(string(input)),
	}); err != nil {
		return SubmitResponse{}, apperr.NewUpstream("workflow start", err)
	}

	s.log.Info("queued ingestion job %s for %s", jobID, key)
	return SubmitResponse{JobID: jobID, Status: StatusRunning}, nil
}

// Status reads one job row for GET /docs/ingest/{jobId}.
func (s *Service) Status(ctx context.Context, jobID string) (*Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, apperr.NewValidation("'jobId' is required")
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperr.NewNotFound("ingest job %s not found", jobID)
	}
	return job, nil
}
