package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"studybuddy/internal/apperr"
	"studybuddy/internal/awssdk"
	"studybuddy/internal/logging"
)

const (
	anthropicVersion  = "bedrock-2023-05-31"
	modelTemperature  = 0.2
	defaultMaxTokens  = 1800
	chatMaxTokens     = 4096
	guardrailMarkName = "INTERVENED"
)

// Invoker posts single-turn messages to the model and parses JSON replies.
type Invoker struct {
	runtime          awssdk.BedrockRuntimeAPI
	modelID          string
	guardrailID      string
	guardrailVersion string
	log              logging.Logger
}

// NewInvoker wires an Invoker. Guardrail identifiers may be empty; they
// are attached only when both id and version are configured.
func NewInvoker(runtime awssdk.BedrockRuntimeAPI, modelID, guardrailID, guardrailVersion string, log logging.Logger) *Invoker {
	return &Invoker{
		runtime:          runtime,
		modelID:          modelID,
		guardrailID:      guardrailID,
		guardrailVersion: guardrailVersion,
		log:              logging.OrNop(log),
	}
}

// DocumentSource is a base64 attachment inside a document content block.
type DocumentSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ContentBlock is one message part: text or an attached document.
type ContentBlock struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Source *DocumentSource `json:"source,omitempty"`
}

// TextBlock builds a plain text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// PDFBlock attaches raw PDF bytes as a base64 document block.
func PDFBlock(data []byte) ContentBlock {
	return ContentBlock{
		Type: "document",
		Source: &DocumentSource{
			Type:      "base64",
			MediaType: "application/pdf",
			Data:      base64.StdEncoding.EncodeToString(data),
		},
	}
}

type modelMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type modelRequest struct {
	AnthropicVersion string         `json:"anthropic_version"`
	MaxTokens        int            `json:"max_tokens"`
	Temperature      float64        `json:"temperature"`
	System           string         `json:"system,omitempty"`
	Messages         []modelMessage `json:"messages"`
}

type modelResponse struct {
	Content []ContentBlock `json:"content"`
	// Both spellings appear depending on how the guardrail intervenes.
	GuardrailAction       string `json:"guardrailAction"`
	BedrockGuardrailTrace string `json:"amazon-bedrock-guardrailAction"`
}

// InvokeText posts prompt (plus optional system prompt) and returns the
// first text block of the reply.
func (i *Invoker) InvokeText(ctx context.Context, prompt, system string, maxTokens int) (string, error) {
	return i.InvokeBlocks(ctx, []ContentBlock{TextBlock(prompt)}, system, maxTokens)
}

// InvokeBlocks posts a single-turn message built from arbitrary content
// blocks and returns the first text block of the reply.
func (i *Invoker) InvokeBlocks(ctx context.Context, blocks []ContentBlock, system string, maxTokens int) (string, error) {
	if i.modelID == "" {
		return "", apperr.NewMisconfigured("BEDROCK_MODEL_ID")
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	body, err := json.Marshal(modelRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		Temperature:      modelTemperature,
		System:           system,
		Messages:         []modelMessage{{Role: "user", Content: blocks}},
	})
	if err != nil {
		return "", err
	}

	input := &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(i.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	}
	if i.guardrailID != "" && i.guardrailVersion != "" {
		input.GuardrailIdentifier = aws.String(i.guardrailID)
		input.GuardrailVersion = aws.String(i.guardrailVersion)
	}

	out, err := i.runtime.InvokeModel(ctx, input)
	if err != nil {
		return "", &Error{Msg: "model invocation failed", Err: err}
	}

	var payload modelResponse
	if err := json.Unmarshal(out.Body, &payload); err != nil {
		return "", newError("model returned unreadable response")
	}
	if payload.GuardrailAction == guardrailMarkName || payload.BedrockGuardrailTrace == guardrailMarkName {
		return "", &apperr.GuardrailBlockedError{}
	}
	for _, block := range payload.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return block.Text, nil
		}
	}
	return "", newError("model returned empty response")
}

// InvokeJSON posts prompt and parses the reply through the JSON ladder.
func (i *Invoker) InvokeJSON(ctx context.Context, prompt, system string, maxTokens int) (any, error) {
	text, err := i.InvokeText(ctx, prompt, system, maxTokens)
	if err != nil {
		return nil, err
	}
	return ParseModelJSON(text)
}

// InvokeJSONBlocks is InvokeJSON over arbitrary content blocks.
func (i *Invoker) InvokeJSONBlocks(ctx context.Context, blocks []ContentBlock, system string, maxTokens int) (any, error) {
	text, err := i.InvokeBlocks(ctx, blocks, system, maxTokens)
	if err != nil {
		return nil, err
	}
	return ParseModelJSON(text)
}
