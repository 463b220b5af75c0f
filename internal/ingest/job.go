// Package ingest owns the document ingestion workflow: submission of new
// jobs to the step orchestrator, the extract / OCR / finalize task handlers
// the orchestrator drives, and the job rows recording progress. The async
// flashcard and practice exam workflows share the same job table and live
// here too.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studybuddy/internal/apperr"
	"studybuddy/internal/awssdk"
)

// Job statuses. A job is created RUNNING and transitions exactly once to
// FINISHED or FAILED in the finalize handler.
const (
	StatusRunning  = "RUNNING"
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
)

const jobEntityType = "IngestJob"

// Job is one ingestion job row in the docs table, keyed by docId = jobId.
type Job struct {
	JobID        string `json:"jobId" dynamodbav:"jobId"`
	SourceDocID  string `json:"sourceDocId" dynamodbav:"sourceDocId"`
	CourseID     string `json:"courseId" dynamodbav:"courseId"`
	SourceKey    string `json:"sourceKey" dynamodbav:"sourceKey"`
	Status       string `json:"status" dynamodbav:"status"`
	TextLength   int    `json:"textLength" dynamodbav:"textLength"`
	UsedTextract bool   `json:"usedTextract" dynamodbav:"usedTextract"`
	UpdatedAt    string `json:"updatedAt" dynamodbav:"updatedAt"`
	Error        string `json:"error" dynamodbav:"error"`

	KBIngestionJobID     string `json:"kbIngestionJobId,omitempty" dynamodbav:"kbIngestionJobId,omitempty"`
	KBIngestionError     string `json:"kbIngestionError,omitempty" dynamodbav:"kbIngestionError,omitempty"`
	KBIngestionUpdatedAt string `json:"kbIngestionUpdatedAt,omitempty" dynamodbav:"kbIngestionUpdatedAt,omitempty"`
}

type jobRow struct {
	DocID      string `dynamodbav:"docId"`
	EntityType string `dynamodbav:"entityType"`
	Job
}

// JobStore reads and writes ingestion job rows.
type JobStore struct {
	db    awssdk.DynamoDBAPI
	table string
}

// NewJobStore wires a JobStore against the docs table.
func NewJobStore(db awssdk.DynamoDBAPI, table string) *JobStore {
	return &JobStore{db: db, table: table}
}

// Put upserts the full job row.
func (s *JobStore) Put(ctx context.Context, job Job) error {
	if s.table == "" {
		return apperr.NewMisconfigured("DOCS_TABLE")
	}
	item, err := attributevalue.MarshalMap(jobRow{DocID: job.JobID, EntityType: jobEntityType, Job: job})
	if err != nil {
		return fmt.Errorf("marshal ingest job: %w", err)
	}
	if _, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return apperr.NewUpstream("ingest job write", err)
	}
	return nil
}

// Get loads one job row. Unknown job ids return (nil, nil).
func (s *JobStore) Get(ctx context.Context, jobID string) (*Job, error) {
	if s.table == "" {
		return nil, apperr.NewMisconfigured("DOCS_TABLE")
	}
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"docId": &ddbtypes.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return nil, apperr.NewUpstream("ingest job read", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var row jobRow
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return nil, fmt.Errorf("unmarshal ingest job: %w", err)
	}
	return &row.Job, nil
}

// PatchKBResult records the KB trigger outcome on an already-terminal job
// row. Exactly one of ingestionJobID / ingestionError is expected to be set.
func (s *JobStore) PatchKBResult(ctx context.Context, jobID, ingestionJobID, ingestionError, now string) error {
	expr := "SET kbIngestionUpdatedAt = :now"
	values := map[string]ddbtypes.AttributeValue{
		":now": &ddbtypes.AttributeValueMemberS{Value: now},
	}
	if ingestionJobID != "" {
		expr += ", kbIngestionJobId = :jid"
		values[":jid"] = &ddbtypes.AttributeValueMemberS{Value: ingestionJobID}
	}
	if ingestionError != "" {
		expr += ", kbIngestionError = :err"
		values[":err"] = &ddbtypes.AttributeValueMemberS{Value: ingestionError}
	}
	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"docId": &ddbtypes.AttributeValueMemberS{Value: jobID},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return apperr.NewUpstream("ingest job KB patch", err)
	}
	return nil
}

// patchResult updates a generation job row in place, attaching an arbitrary
// result payload under the given attribute name. The update preserves the
// submission metadata already on the row.
func (s *JobStore) patchResult(ctx context.Context, jobID, status, errMsg, now, resultAttr string, result any, cardIDs []string) error {
	if s.table == "" {
		return apperr.NewMisconfigured("DOCS_TABLE")
	}
	payload, err := toDocument(result)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", resultAttr, err)
	}
	expr := "SET #s = :status, updatedAt = :now, #r = :result, #e = :err"
	names := map[string]string{
		"#s": "status",
		"#e": "error",
		"#r": resultAttr,
	}
	values := map[string]ddbtypes.AttributeValue{
		":status": &ddbtypes.AttributeValueMemberS{Value: status},
		":now":    &ddbtypes.AttributeValueMemberS{Value: now},
		":result": payload,
		":err":    &ddbtypes.AttributeValueMemberS{Value: errMsg},
	}
	if cardIDs != nil {
		ids, err := attributevalue.Marshal(cardIDs)
		if err != nil {
			return fmt.Errorf("marshal card ids: %w", err)
		}
		expr += ", cardIds = :cids"
		values[":cids"] = ids
	}
	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"docId": &ddbtypes.AttributeValueMemberS{Value: jobID},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return apperr.NewUpstream("generation job patch", err)
	}
	return nil
}

// toDocument marshals result through JSON first so the stored attribute
// uses wire field names rather than Go field names.
func toDocument(result any) (ddbtypes.AttributeValue, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return attributevalue.Marshal(generic)
}
