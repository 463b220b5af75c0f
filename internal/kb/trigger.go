package kb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"

	"studybuddy/internal/apperr"
	"studybuddy/internal/awssdk"
	"studybuddy/internal/logging"
)

// Trigger starts knowledge base ingestion jobs for one data source. Both
// the ingest finalize step and the LMS sync batch funnel through it.
type Trigger struct {
	client       awssdk.BedrockAgentAPI
	kbID         string
	dataSourceID string
	log          logging.Logger
}

// NewTrigger wires a Trigger. Either id may be empty; Configured reports it.
func NewTrigger(client awssdk.BedrockAgentAPI, kbID, dataSourceID string, log logging.Logger) *Trigger {
	return &Trigger{client: client, kbID: kbID, dataSourceID: dataSourceID, log: logging.OrNop(log)}
}

// Configured reports whether both the knowledge base and data source ids
// are present.
func (t *Trigger) Configured() bool {
	return t.kbID != "" && t.dataSourceID != ""
}

// StartIngestion submits a KB ingestion job under the given client token
// and returns the ingestion job id. Identical tokens dedupe retries of the
// same content revision on the service side.
func (t *Trigger) StartIngestion(ctx context.Context, clientToken string) (string, error) {
	if !t.Configured() {
		return "", apperr.NewMisconfigured("KNOWLEDGE_BASE_ID", "KNOWLEDGE_BASE_DATA_SOURCE_ID")
	}
	out, err := t.client.StartIngestionJob(ctx, &bedrockagent.StartIngestionJobInput{
		KnowledgeBaseId: aws.String(t.kbID),
		DataSourceId:    aws.String(t.dataSourceID),
		ClientToken:     aws.String(clientToken),
	})
	if err != nil {
		return "", apperr.NewUpstream("knowledge base ingestion", err)
	}
	jobID := ""
	if out.IngestionJob != nil && out.IngestionJob.IngestionJobId != nil {
		jobID = *out.IngestionJob.IngestionJobId
	}
	t.log.Info("started KB ingestion job %s", jobID)
	return jobID, nil
}
