package kb

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgentRuntime struct {
	calls     []*bedrockagentruntime.RetrieveInput
	responses []retrieveResponse
}

type retrieveResponse struct {
	out *bedrockagentruntime.RetrieveOutput
	err error
}

func (f *fakeAgentRuntime) Retrieve(_ context.Context, in *bedrockagentruntime.RetrieveInput, _ ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error) {
	f.calls = append(f.calls, in)
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp.out, resp.err
}

func (f *fakeAgentRuntime) RetrieveAndGenerate(context.Context, *bedrockagentruntime.RetrieveAndGenerateInput, ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error) {
	return nil, errors.New("not implemented")
}

func s3Result(text, uri string) agenttypes.KnowledgeBaseRetrievalResult {
	return agenttypes.KnowledgeBaseRetrievalResult{
		Content: &agenttypes.RetrievalResultContent{Text: aws.String(text)},
		Location: &agenttypes.RetrievalResultLocation{
			S3Location: &agenttypes.RetrievalResultS3Location{Uri: aws.String(uri)},
		},
	}
}

func TestSourceInScope(t *testing.T) {
	tests := []struct {
		source   string
		courseID string
		want     bool
	}{
		{"s3://bucket/uploads/170880/doc-1/syllabus.pdf", "170880", true},
		{"s3://bucket/170880/doc-1/syllabus.pdf", "170880", true},
		{"s3://bucket/uploads/canvas-materials/user-123/170880/file-1/ch1.pdf", "170880", true},
		{"s3://bucket/canvas-materials/user-123/170880/file-1/ch1.pdf", "170880", true},
		{"s3://bucket/uploads/999999/doc-1/syllabus.pdf", "170880", false},
		{"s3://bucket/canvas-materials/user-123/999999/file-1/ch1.pdf", "170880", false},
		{"https://example.com/doc.pdf", "170880", false},
		{"", "170880", false},
		{"s3://bucket/uploads/", "170880", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SourceInScope(tt.source, tt.courseID), tt.source)
	}
}

func TestRetrieveContextScopesAndTruncates(t *testing.T) {
	fake := &fakeAgentRuntime{responses: []retrieveResponse{{
		out: &bedrockagentruntime.RetrieveOutput{RetrievalResults: []agenttypes.KnowledgeBaseRetrievalResult{
			s3Result("POLS textbook details", "s3://bucket/uploads/170880/doc-a/syllabus.pdf"),
			s3Result("C++ syllabus details", "s3://bucket/uploads/424242/doc-b/syllabus.pdf"),
			s3Result("POLS module notes", "s3://bucket/uploads/canvas-materials/user-1/170880/file-2/notes.pdf"),
		}},
	}}}
	retriever := NewRetriever(fake, "kb-test", nil)

	chunks, err := retriever.RetrieveContext(context.Background(), "170880", "textbook", 2)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "POLS textbook details", chunks[0].Text)
	assert.Equal(t, "POLS module notes", chunks[1].Text)

	require.Len(t, fake.calls, 1)
	vector := fake.calls[0].RetrievalConfiguration.VectorSearchConfiguration
	assert.Equal(t, int32(50), *vector.NumberOfResults)
	assert.NotNil(t, vector.Filter)
	assert.Equal(t, "course:170880\ntextbook", *fake.calls[0].RetrievalQuery.Text)
}

func TestRetrieveContextFallsBackWhenFilterRejected(t *testing.T) {
	fake := &fakeAgentRuntime{responses: []retrieveResponse{
		{err: errors.New("unknown filter key courseId")},
		{out: &bedrockagentruntime.RetrieveOutput{RetrievalResults: []agenttypes.KnowledgeBaseRetrievalResult{
			s3Result("POLS textbook details", "s3://bucket/uploads/170880/doc-a/syllabus.pdf"),
		}}},
	}}
	retriever := NewRetriever(fake, "kb-test", nil)

	chunks, err := retriever.RetrieveContext(context.Background(), "170880", "textbook", 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	require.Len(t, fake.calls, 2)
	assert.NotNil(t, fake.calls[0].RetrievalConfiguration.VectorSearchConfiguration.Filter)
	assert.Nil(t, fake.calls[1].RetrievalConfiguration.VectorSearchConfiguration.Filter)
}

func TestRetrieveContextFallsBackOnZeroResults(t *testing.T) {
	fake := &fakeAgentRuntime{responses: []retrieveResponse{
		{out: &bedrockagentruntime.RetrieveOutput{}},
		{out: &bedrockagentruntime.RetrieveOutput{RetrievalResults: []agenttypes.KnowledgeBaseRetrievalResult{
			s3Result("notes", "s3://bucket/uploads/170880/doc-a/notes.pdf"),
		}}},
	}}
	retriever := NewRetriever(fake, "kb-test", nil)

	chunks, err := retriever.RetrieveContext(context.Background(), "170880", "anything", 4)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
	assert.Len(t, fake.calls, 2)
}

func TestRetrieveContextValidFallbackWhenNothingInScope(t *testing.T) {
	fake := &fakeAgentRuntime{responses: []retrieveResponse{{
		out: &bedrockagentruntime.RetrieveOutput{RetrievalResults: []agenttypes.KnowledgeBaseRetrievalResult{
			s3Result("off-course chunk", "s3://bucket/uploads/999999/doc-a/other.pdf"),
			{Content: &agenttypes.RetrievalResultContent{Text: aws.String("   ")}},
		}},
	}}}
	retriever := NewRetriever(fake, "kb-test", nil)

	chunks, err := retriever.RetrieveContext(context.Background(), "170880", "q", 3)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "off-course chunk", chunks[0].Text)
}

func TestRetrieveContextBothCallsFail(t *testing.T) {
	fake := &fakeAgentRuntime{responses: []retrieveResponse{
		{err: errors.New("filtered boom")},
		{err: errors.New("unfiltered boom")},
	}}
	retriever := NewRetriever(fake, "kb-test", nil)

	_, err := retriever.RetrieveContext(context.Background(), "170880", "q", 3)
	assert.Error(t, err)
}

func TestNumberOfResultsClamp(t *testing.T) {
	assert.Equal(t, int32(50), numberOfResults(1))
	assert.Equal(t, int32(50), numberOfResults(10))
	assert.Equal(t, int32(75), numberOfResults(15))
	assert.Equal(t, int32(100), numberOfResults(20))
	assert.Equal(t, int32(100), numberOfResults(40))
}
