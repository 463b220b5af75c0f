// Package config assembles the single runtime configuration record from the
// environment at startup. Components receive values explicitly; nothing else
// in the module reads the environment at call time.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultCanvasUserAgent     = "studybuddy-sync/1.0"
	DefaultCORSAllowOrigin     = "*"
	DefaultCORSAllowMethods    = "GET,POST,OPTIONS"
	DefaultCORSAllowHeaders    = "Content-Type,Authorization,X-Amz-Date,X-Api-Key,X-Amz-Security-Token"
	DefaultMaxFileBytes        = 25 * 1024 * 1024
	DefaultMaxFilesPerCourse   = 20
	DefaultMaxFilesTotal       = 100
	DefaultDemoUserID          = "demo-user"
	DefaultTokenMintingPath    = "endpoint"
	defaultAllowedContentTypes = "application/pdf,text/plain"
)

// Config is the full runtime wiring for every component.
type Config struct {
	DemoMode   bool
	DemoUserID string

	CORSAllowOrigin  string
	CORSAllowMethods string
	CORSAllowHeaders string

	CalendarTokensTable string
	CanvasDataTable     string
	DocsTable           string
	CardsTable          string
	UploadsBucket       string

	KnowledgeBaseID           string
	KnowledgeBaseDataSourceID string
	BedrockModelID            string
	BedrockModelARN           string
	BedrockGuardrailID        string
	BedrockGuardrailVersion   string

	IngestStateMachineARN string

	CanvasUserAgent            string
	CanvasMaxFileBytes         int64
	CanvasMaxFilesPerCourse    int
	CanvasMaxFilesTotal        int
	CanvasAllowedContentTypes  []string

	PublicBaseURL           string
	CalendarFixtureFallback bool

	CalendarTokenMintingPath string
	CalendarToken            string
	CalendarTokenUserID      string
}

// Load reads the recognized environment variables into a Config, applying
// defaults and the legacy DATA_SOURCE_ID alias.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("DEMO_MODE", "true")
	v.SetDefault("DEMO_USER_ID", DefaultDemoUserID)
	v.SetDefault("CORS_ALLOW_ORIGIN", DefaultCORSAllowOrigin)
	v.SetDefault("CORS_ALLOW_METHODS", DefaultCORSAllowMethods)
	v.SetDefault("CORS_ALLOW_HEADERS", DefaultCORSAllowHeaders)
	v.SetDefault("CANVAS_USER_AGENT", DefaultCanvasUserAgent)
	v.SetDefault("CANVAS_MAX_FILE_BYTES", DefaultMaxFileBytes)
	v.SetDefault("CANVAS_MAX_FILES_PER_COURSE", DefaultMaxFilesPerCourse)
	v.SetDefault("CANVAS_MAX_FILES_TOTAL", DefaultMaxFilesTotal)
	v.SetDefault("CANVAS_ALLOWED_MATERIAL_CONTENT_TYPES", defaultAllowedContentTypes)
	v.SetDefault("CALENDAR_FIXTURE_FALLBACK", "true")
	v.SetDefault("CALENDAR_TOKEN_MINTING_PATH", DefaultTokenMintingPath)

	dataSourceID := strings.TrimSpace(v.GetString("KNOWLEDGE_BASE_DATA_SOURCE_ID"))
	if dataSourceID == "" {
		// Legacy deployments exported DATA_SOURCE_ID before the rename.
		dataSourceID = strings.TrimSpace(v.GetString("DATA_SOURCE_ID"))
	}

	return &Config{
		DemoMode:   parseBool(v.GetString("DEMO_MODE")),
		DemoUserID: strings.TrimSpace(v.GetString("DEMO_USER_ID")),

		CORSAllowOrigin:  orDefault(v.GetString("CORS_ALLOW_ORIGIN"), DefaultCORSAllowOrigin),
		CORSAllowMethods: orDefault(v.GetString("CORS_ALLOW_METHODS"), DefaultCORSAllowMethods),
		CORSAllowHeaders: orDefault(v.GetString("CORS_ALLOW_HEADERS"), DefaultCORSAllowHeaders),

		CalendarTokensTable: strings.TrimSpace(v.GetString("CALENDAR_TOKENS_TABLE")),
		CanvasDataTable:     strings.TrimSpace(v.GetString("CANVAS_DATA_TABLE")),
		DocsTable:           strings.TrimSpace(v.GetString("DOCS_TABLE")),
		CardsTable:          strings.TrimSpace(v.GetString("CARDS_TABLE")),
		UploadsBucket:       strings.TrimSpace(v.GetString("UPLOADS_BUCKET")),

		KnowledgeBaseID:           strings.TrimSpace(v.GetString("KNOWLEDGE_BASE_ID")),
		KnowledgeBaseDataSourceID: dataSourceID,
		BedrockModelID:            strings.TrimSpace(v.GetString("BEDROCK_MODEL_ID")),
		BedrockModelARN:           strings.TrimSpace(v.GetString("BEDROCK_MODEL_ARN")),
		BedrockGuardrailID:        strings.TrimSpace(v.GetString("BEDROCK_GUARDRAIL_ID")),
		BedrockGuardrailVersion:   strings.TrimSpace(v.GetString("BEDROCK_GUARDRAIL_VERSION")),

		IngestStateMachineARN: strings.TrimSpace(v.GetString("INGEST_STATE_MACHINE_ARN")),

		CanvasUserAgent:           orDefault(v.GetString("CANVAS_USER_AGENT"), DefaultCanvasUserAgent),
		CanvasMaxFileBytes:        v.GetInt64("CANVAS_MAX_FILE_BYTES"),
		CanvasMaxFilesPerCourse:   v.GetInt("CANVAS_MAX_FILES_PER_COURSE"),
		CanvasMaxFilesTotal:       v.GetInt("CANVAS_MAX_FILES_TOTAL"),
		CanvasAllowedContentTypes: splitCSV(v.GetString("CANVAS_ALLOWED_MATERIAL_CONTENT_TYPES")),

		PublicBaseURL:           strings.TrimSpace(v.GetString("PUBLIC_BASE_URL")),
		CalendarFixtureFallback: parseBool(v.GetString("CALENDAR_FIXTURE_FALLBACK")),

		CalendarTokenMintingPath: strings.ToLower(strings.TrimSpace(v.GetString("CALENDAR_TOKEN_MINTING_PATH"))),
		CalendarToken:            strings.TrimSpace(v.GetString("CALENDAR_TOKEN")),
		CalendarTokenUserID:      strings.TrimSpace(v.GetString("CALENDAR_TOKEN_USER_ID")),
	}
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func orDefault(raw, fallback string) string {
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		return trimmed
	}
	return fallback
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
