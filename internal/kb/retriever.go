// Package kb wraps knowledge base vector retrieval: filter-first queries
// with an unfiltered fallback, plus the per-course source scope check that
// keeps cross-course chunks out of generation context.
package kb

import (
	"context"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"studybuddy/internal/apperr"
	"studybuddy/internal/awssdk"
	"studybuddy/internal/logging"
)

const (
	minNumberOfResults = 50
	maxNumberOfResults = 100
)

// Chunk is one retrieved context row. Text is always non-empty.
type Chunk struct {
	Text   string
	Source string
}

// S3KeyFromSource extracts the object key from an s3:// source URI.
// Non-S3 sources return "".
func S3KeyFromSource(source string) string {
	parsed, err := url.Parse(source)
	if err != nil || parsed.Scheme != "s3" {
		return ""
	}
	key, err := url.PathUnescape(strings.TrimLeft(parsed.Path, "/"))
	if err != nil {
		return ""
	}
	return key
}

// SourceInScope reports whether a retrieved chunk's source belongs to the
// given course. After an optional uploads/ prefix strip, in-scope keys are
// {courseId}/... or canvas-materials/{anyUser}/{courseId}/...
func SourceInScope(source, courseID string) bool {
	key := S3KeyFromSource(source)
	if key == "" {
		return false
	}
	var parts []string
	for _, part := range strings.Split(key, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) > 0 && parts[0] == "uploads" {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return false
	}
	if parts[0] == "canvas-materials" {
		return len(parts) >= 3 && parts[2] == courseID
	}
	return parts[0] == courseID
}

// Retriever runs course-scoped vector searches against one knowledge base.
type Retriever struct {
	client awssdk.BedrockAgentRuntimeAPI
	kbID   string
	log    logging.Logger
}

// NewRetriever wires a Retriever for the given knowledge base id.
func NewRetriever(client awssdk.BedrockAgentRuntimeAPI, kbID string, log logging.Logger) *Retriever {
	return &Retriever{client: client, kbID: kbID, log: logging.OrNop(log)}
}

func numberOfResults(k int) int32 {
	n := k * 5
	if n < minNumberOfResults {
		n = minNumberOfResults
	}
	if n > maxNumberOfResults {
		n = maxNumberOfResults
	}
	return int32(n)
}

func extractSource(location *agenttypes.RetrievalResultLocation) string {
	if location == nil {
		return ""
	}
	if location.S3Location != nil && location.S3Location.Uri != nil {
		return strings.TrimSpace(*location.S3Location.Uri)
	}
	if location.WebLocation != nil && location.WebLocation.Url != nil {
		return strings.TrimSpace(*location.WebLocation.Url)
	}
	return ""
}

func (r *Retriever) retrieve(ctx context.Context, courseID, query string, n int32, filtered bool) ([]agenttypes.KnowledgeBaseRetrievalResult, error) {
	vector := &agenttypes.KnowledgeBaseVectorSearchConfiguration{
		NumberOfResults: aws.Int32(n),
	}
	if filtered {
		vector.Filter = &agenttypes.RetrievalFilterMemberEquals{
			Value: agenttypes.FilterAttribute{
				Key:   aws.String("courseId"),
				Value: document.NewLazyDocument(courseID),
			},
		}
	}
	out, err := r.client.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId: aws.String(r.kbID),
		RetrievalQuery: &agenttypes.KnowledgeBaseQuery{
			Text: aws.String("course:" + courseID + "\n" + query),
		},
		RetrievalConfiguration: &agenttypes.KnowledgeBaseRetrievalConfiguration{
			VectorSearchConfiguration: vector,
		},
	})
	if err != nil {
		return nil, err
	}
	return out.RetrievalResults, nil
}

// RetrieveContext returns up to k chunks for the course. In-scope chunks
// win; when scoping leaves nothing but valid chunks exist, those are
// returned instead so KB data-source drift degrades rather than fails.
func (r *Retriever) RetrieveContext(ctx context.Context, courseID, query string, k int) ([]Chunk, error) {
	if r.kbID == "" {
		return nil, apperr.NewMisconfigured("KNOWLEDGE_BASE_ID")
	}
	n := numberOfResults(k)

	results, err := r.retrieve(ctx, courseID, query, n, true)
	if err != nil || len(results) == 0 {
		if err != nil {
			r.log.Warn("filtered retrieval failed for course %s, falling back: %v", courseID, err)
		} else {
			r.log.Debug("filtered retrieval empty for course %s, falling back", courseID)
		}
		results, err = r.retrieve(ctx, courseID, query, n, false)
		if err != nil {
			return nil, apperr.NewUpstream("knowledge base retrieval", err)
		}
	}

	var inScope, valid []Chunk
	for _, row := range results {
		if row.Content == nil || row.Content.Text == nil {
			continue
		}
		text := strings.TrimSpace(*row.Content.Text)
		if text == "" {
			continue
		}
		chunk := Chunk{Text: text, Source: extractSource(row.Location)}
		valid = append(valid, chunk)
		if SourceInScope(chunk.Source, courseID) {
			inScope = append(inScope, chunk)
		}
	}

	picked := inScope
	if len(picked) == 0 {
		picked = valid
	}
	if len(picked) > k {
		picked = picked[:k]
	}
	r.log.Debug("retrieval for course %s: raw=%d in_scope=%d returned=%d",
		courseID, len(results), len(inScope), len(picked))
	return picked, nil
}
