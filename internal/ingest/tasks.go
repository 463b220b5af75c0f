package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	textracttypes "github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/ledongthuc/pdf"

	"studybuddy/internal/apperr"
	"studybuddy/internal/awssdk"
	"studybuddy/internal/kb"
	"studybuddy/internal/logging"
	"studybuddy/internal/metrics"
	"studybuddy/internal/timez"
)

const (
	// Text shorter than this after extraction routes the job through OCR.
	defaultTextThreshold = 200

	maxOfficeDocBytes = 50 * 1024 * 1024
)

var officeExtensions = map[string]bool{
	".pptx": true,
	".docx": true,
	".doc":  true,
}

// TaskInput is the payload threaded through the workflow. Each handler
// returns its input enriched with the fields it produced, so downstream
// states see the union.
type TaskInput struct {
	JobID     string `json:"jobId"`
	DocID     string `json:"docId"`
	CourseID  string `json:"courseId"`
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	Threshold int    `json:"threshold,omitempty"`

	Text          string `json:"text,omitempty"`
	TextLength    int    `json:"textLength"`
	UsedTextract  bool   `json:"usedTextract"`
	NeedsTextract bool   `json:"needsTextract"`
	TextractKey   string `json:"textractKey,omitempty"`

	TextractJobID  string `json:"textractJobId,omitempty"`
	TextractStatus string `json:"textractStatus,omitempty"`
	Done           bool   `json:"done"`
	Error          string `json:"error,omitempty"`
}

// FinalizeResult is the terminal workflow output.
type FinalizeResult struct {
	JobID        string `json:"jobId"`
	Status       string `json:"status"`
	TextLength   int    `json:"textLength"`
	UsedTextract bool   `json:"usedTextract"`
	UpdatedAt    string `json:"updatedAt"`
	Error        string `json:"error"`
}

// TaskHandlers implements the workflow task states. The orchestrator owns
// retries and the wait loop; handlers are single-shot.
type TaskHandlers struct {
	objects   awssdk.S3API
	ocr       awssdk.TextractAPI
	jobs      *JobStore
	trigger   *kb.Trigger
	converter Converter
	log       logging.Logger
	now       func() time.Time
}

// TaskParams wires TaskHandlers.
type TaskParams struct {
	Objects   awssdk.S3API
	OCR       awssdk.TextractAPI
	Jobs      *JobStore
	Trigger   *kb.Trigger
	Converter Converter
	Logger    logging.Logger
	Now       func() time.Time
}

// NewTaskHandlers builds TaskHandlers from TaskParams.
func NewTaskHandlers(p TaskParams) *TaskHandlers {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &TaskHandlers{
		objects:   p.Objects,
		ocr:       p.OCR,
		jobs:      p.Jobs,
		trigger:   p.Trigger,
		converter: p.Converter,
		log:       logging.OrNop(p.Logger),
		now:       now,
	}
}

// ClientToken derives the idempotent KB ingestion token for one content
// revision. Same sourceKey and extracted length always produce the same
// token, so orchestrator retries of finalize dedupe on the service side.
func ClientToken(sourceKey string, textLength int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", sourceKey, textLength)))
	return hex.EncodeToString(sum[:])
}

func textLength(text string) int {
	return utf8.RuneCountInString(text)
}

// extractPDFText pulls plain text out of PDF bytes. Malformed documents
// yield "" so the OCR fallback takes over instead of failing the job.
func extractPDFText(data []byte) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	content, err := reader.GetPlainText()
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(content); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}

func (h *TaskHandlers) readObject(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := h.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, apperr.NewUpstream("object read", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperr.NewUpstream("object read", err)
	}
	return data, nil
}

// Extract reads the source object and produces text. Office documents are
// converted to a PDF sibling object first so OCR has something to chew on.
func (h *TaskHandlers) Extract(ctx context.Context, in TaskInput) (TaskInput, error) {
	bucket := strings.TrimSpace(in.Bucket)
	key := strings.TrimSpace(in.Key)
	if bucket == "" || key == "" {
		return in, apperr.NewValidation("bucket and key are required")
	}
	threshold := in.Threshold
	if threshold <= 0 {
		threshold = defaultTextThreshold
	}

	data, err := h.readObject(ctx, bucket, key)
	if err != nil {
		return in, err
	}

	textKey := key
	ext := strings.ToLower(path.Ext(key))
	if officeExtensions[ext] {
		if len(data) > maxOfficeDocBytes {
			return in, apperr.NewValidation("%s exceeds 50MB conversion limit", ext)
		}
		if h.converter == nil {
			return in, apperr.NewMisconfigured("office document converter")
		}
		converted, err := h.converter.ConvertToPDF(ctx, data, ext)
		if err != nil {
			return in, apperr.NewUpstream("office conversion", err)
		}
		textKey = key + ".converted.pdf"
		if _, err := h.objects.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(textKey),
			Body:        bytes.NewReader(converted),
			ContentType: aws.String("application/pdf"),
		}); err != nil {
			return in, apperr.NewUpstream("converted object write", err)
		}
		h.log.Info("converted %s to %s (%d bytes)", key, textKey, len(converted))
		data = converted
	}

	var text string
	if strings.HasSuffix(strings.ToLower(textKey), ".pdf") {
		text = extractPDFText(data)
	} else {
		text = strings.ToValidUTF8(string(data), "")
	}

	out := in
	out.Text = text
	out.TextLength = textLength(text)
	out.UsedTextract = false
	out.NeedsTextract = textLength(strings.TrimSpace(text)) < threshold
	out.TextractKey = textKey
	return out, nil
}

// StartOCR kicks off async text detection on the extract output object.
func (h *TaskHandlers) StartOCR(ctx context.Context, in TaskInput) (TaskInput, error) {
	bucket := strings.TrimSpace(in.Bucket)
	key := strings.TrimSpace(in.TextractKey)
	if key == "" {
		key = strings.TrimSpace(in.Key)
	}
	if bucket == "" || key == "" {
		return in, apperr.NewValidation("bucket and key are required")
	}

	resp, err := h.ocr.StartDocumentTextDetection(ctx, &textract.StartDocumentTextDetectionInput{
		DocumentLocation: &textracttypes.DocumentLocation{
			S3Object: &textracttypes.S3Object{
				Bucket: aws.String(bucket),
				Name:   aws.String(key),
			},
		},
	})
	if err != nil {
		return in, apperr.NewUpstream("OCR start", err)
	}

	out := in
	out.UsedTextract = true
	out.TextractJobID = aws.ToString(resp.JobId)
	return out, nil
}

// PollOCR reads the OCR job once. Still-running jobs return done=false so
// the orchestrator loops through its wait state; terminal failures set the
// error field instead of failing the task, so finalize records them.
func (h *TaskHandlers) PollOCR(ctx context.Context, in TaskInput) (TaskInput, error) {
	jobID := strings.TrimSpace(in.TextractJobID)
	if jobID == "" {
		return in, apperr.NewValidation("textractJobId is required")
	}

	resp, err := h.ocr.GetDocumentTextDetection(ctx, &textract.GetDocumentTextDetectionInput{
		JobId: aws.String(jobID),
	})
	if err != nil {
		return in, apperr.NewUpstream("OCR poll", err)
	}

	out := in
	status := resp.JobStatus
	out.TextractStatus = string(status)
	if status == textracttypes.JobStatusInProgress {
		out.Done = false
		return out, nil
	}
	if status != textracttypes.JobStatusSucceeded {
		out.Done = true
		out.Error = fmt.Sprintf("textract job %s ended with status %s", jobID, status)
		return out, nil
	}

	var lines []string
	collect := func(blocks []textracttypes.Block) {
		for _, block := range blocks {
			if block.BlockType == textracttypes.BlockTypeLine && block.Text != nil {
				lines = append(lines, *block.Text)
			}
		}
	}
	collect(resp.Blocks)
	next := resp.NextToken
	for next != nil {
		resp, err = h.ocr.GetDocumentTextDetection(ctx, &textract.GetDocumentTextDetectionInput{
			JobId:     aws.String(jobID),
			NextToken: next,
		})
		if err != nil {
			return in, apperr.NewUpstream("OCR poll", err)
		}
		collect(resp.Blocks)
		next = resp.NextToken
	}

	text := strings.TrimSpace(strings.Join(lines, "\n"))
	out.Text = text
	out.TextLength = textLength(text)
	out.Done = true
	return out, nil
}

// Finalize writes the terminal job row and, on success, triggers KB
// ingestion under the idempotent client token. Trigger failures are
// recorded on the row, never raised, so the workflow converges.
func (h *TaskHandlers) Finalize(ctx context.Context, in TaskInput) (FinalizeResult, error) {
	jobID := strings.TrimSpace(in.JobID)
	docID := strings.TrimSpace(in.DocID)
	courseID := strings.TrimSpace(in.CourseID)
	sourceKey := strings.TrimSpace(in.Key)
	if jobID == "" || docID == "" || courseID == "" || sourceKey == "" {
		return FinalizeResult{}, apperr.NewValidation("jobId, docId, courseId, and key are required")
	}

	errMsg := strings.TrimSpace(in.Error)
	status := StatusFinished
	if errMsg != "" {
		status = StatusFailed
	}
	now := timez.Format(h.now())
	length := textLength(in.Text)

	if err := h.jobs.Put(ctx, Job{
		JobID:        jobID,
		SourceDocID:  docID,
		CourseID:     courseID,
		SourceKey:    sourceKey,
		Status:       status,
		TextLength:   length,
		UsedTextract: in.UsedTextract,
		UpdatedAt:    now,
		Error:        errMsg,
	}); err != nil {
		return FinalizeResult{}, err
	}

	if status == StatusFinished {
		metrics.CountIngest(metrics.IngestSuccess)
		h.triggerKBIngestion(ctx, jobID, sourceKey, length)
	} else {
		metrics.CountIngest(metrics.IngestFailure)
	}

	return FinalizeResult{
		JobID:        jobID,
		Status:       status,
		TextLength:   length,
		UsedTextract: in.UsedTextract,
		UpdatedAt:    now,
		Error:        errMsg,
	}, nil
}

func (h *TaskHandlers) triggerKBIngestion(ctx context.Context, jobID, sourceKey string, length int) {
	now := timez.Format(h.now())
	if h.trigger == nil || !h.trigger.Configured() {
		msg := "server misconfiguration: KNOWLEDGE_BASE_ID and KNOWLEDGE_BASE_DATA_SOURCE_ID required for KB ingestion"
		h.log.Error("%s (job %s)", msg, jobID)
		metrics.CountIngest(metrics.IngestKbTriggerMissingConf)
		if err := h.jobs.PatchKBResult(ctx, jobID, "", msg, now); err != nil {
			h.log.Error("KB patch failed for job %s: %v", jobID, err)
		}
		return
	}

	metrics.CountIngest(metrics.IngestKbTriggerStarted)
	ingestionJobID, err := h.trigger.StartIngestion(ctx, ClientToken(sourceKey, length))
	if err != nil {
		metrics.CountIngest(metrics.IngestKbTriggerFailed)
		msg := fmt.Sprintf("KB ingestion trigger failed: %v", err)
		h.log.Error("%s (job %s)", msg, jobID)
		if err := h.jobs.PatchKBResult(ctx, jobID, "", msg, now); err != nil {
			h.log.Error("KB patch failed for job %s: %v", jobID, err)
		}
		return
	}

	metrics.CountIngest(metrics.IngestKbTriggerSucceeded)
	h.log.Info("KB ingestion started for job %s: ingestionJobId=%s", jobID, ingestionJobID)
	if err := h.jobs.PatchKBResult(ctx, jobID, ingestionJobID, "", now); err != nil {
		h.log.Error("KB patch failed for job %s: %v", jobID, err)
	}
}
