// Package bootstrap assembles the full service graph from configuration
// and shared AWS clients. Binaries call Build once at startup.
package bootstrap

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/textract"

	"studybuddy/internal/caltoken"
	"studybuddy/internal/config"
	"studybuddy/internal/dispatch"
	"studybuddy/internal/fixtures"
	"studybuddy/internal/generation"
	"studybuddy/internal/ingest"
	"studybuddy/internal/kb"
	"studybuddy/internal/lmssync"
	"studybuddy/internal/logging"
	"studybuddy/internal/schedulerhook"
	"studybuddy/internal/study"
	"studybuddy/internal/uploads"
)

// App is the wired service graph.
type App struct {
	Config *config.Config
	Log    logging.Logger

	Handler   *dispatch.Handler
	Tasks     *ingest.TaskHandlers
	Workflows *ingest.Workflows
}

// Build loads configuration, constructs the AWS clients, and wires every
// service.
func Build(ctx context.Context, component string) (*App, error) {
	cfg := config.Load()
	log := logging.NewComponentLogger(component)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	db := dynamodb.NewFromConfig(awsCfg)
	objects := s3.NewFromConfig(awsCfg)
	presigner := s3.NewPresignClient(objects)
	ocr := textract.NewFromConfig(awsCfg)
	workflows := sfn.NewFromConfig(awsCfg)
	runtime := bedrockruntime.NewFromConfig(awsCfg)
	agent := bedrockagent.NewFromConfig(awsCfg)
	agentRuntime := bedrockagentruntime.NewFromConfig(awsCfg)

	demo, err := fixtures.Load()
	if err != nil {
		return nil, err
	}

	canvasData := lmssync.NewStore(db, cfg.CanvasDataTable)
	jobs := ingest.NewJobStore(db, cfg.DocsTable)
	cards := study.NewCardStore(db, cfg.CardsTable)

	var tokenOpts []caltoken.Option
	if cfg.CalendarTokenMintingPath == caltoken.MintingPathEnv {
		tokenOpts = append(tokenOpts, caltoken.WithSeededToken(cfg.CalendarToken, cfg.CalendarTokenUserID))
	}
	tokens := caltoken.NewService(db, cfg.CalendarTokensTable, log, tokenOpts...)

	trigger := kb.NewTrigger(agent, cfg.KnowledgeBaseID, cfg.KnowledgeBaseDataSourceID, log)
	retriever := kb.NewRetriever(agentRuntime, cfg.KnowledgeBaseID, log)
	invoker := generation.NewInvoker(runtime, cfg.BedrockModelID, cfg.BedrockGuardrailID, cfg.BedrockGuardrailVersion, log)
	gen := generation.NewService(generation.Params{
		Invoker:          invoker,
		Retriever:        retriever,
		AgentRuntime:     agentRuntime,
		Objects:          objects,
		Bucket:           cfg.UploadsBucket,
		KnowledgeBaseID:  cfg.KnowledgeBaseID,
		ModelARN:         cfg.BedrockModelARN,
		GuardrailID:      cfg.BedrockGuardrailID,
		GuardrailVersion: cfg.BedrockGuardrailVersion,
		Logger:           log,
	})

	engine := lmssync.NewEngine(lmssync.EngineParams{
		Store:     canvasData,
		Objects:   objects,
		Bucket:    cfg.UploadsBucket,
		Trigger:   trigger,
		UserAgent: cfg.CanvasUserAgent,
		Limits: lmssync.Limits{
			MaxFileBytes:        cfg.CanvasMaxFileBytes,
			MaxFilesPerCourse:   cfg.CanvasMaxFilesPerCourse,
			MaxFilesTotal:       cfg.CanvasMaxFilesTotal,
			AllowedContentTypes: cfg.CanvasAllowedContentTypes,
		},
		Logger: log,
	})
	connector := lmssync.NewConnector(canvasData, cfg.CanvasUserAgent, nil, log, nil)
	batch := schedulerhook.NewBatch(canvasData, engine, log)

	ingestSvc := ingest.NewService(ingest.ServiceParams{
		Jobs:            jobs,
		Workflows:       workflows,
		StateMachineARN: cfg.IngestStateMachineARN,
		Bucket:          cfg.UploadsBucket,
		Logger:          log,
	})
	tasks := ingest.NewTaskHandlers(ingest.TaskParams{
		Objects:   objects,
		OCR:       ocr,
		Jobs:      jobs,
		Trigger:   trigger,
		Converter: ingest.NewSofficeConverter(log),
		Logger:    log,
	})
	asyncGen := ingest.NewWorkflows(ingest.WorkflowParams{
		Generator:  gen,
		Jobs:       jobs,
		DB:         db,
		CardsTable: cfg.CardsTable,
		Logger:     log,
	})

	handler := dispatch.New(dispatch.Params{
		Config:     cfg,
		Log:        log,
		CanvasData: canvasData,
		Connector:  connector,
		Engine:     engine,
		Batch:      batch,
		Ingest:     ingestSvc,
		Uploads:    uploads.NewService(presigner, cfg.UploadsBucket, log),
		Study:      study.NewService(cards, canvasData, log, nil),
		Generation: gen,
		Tokens:     tokens,
		Fixtures:   demo,
	})

	return &App{
		Config:    cfg,
		Log:       log,
		Handler:   handler,
		Tasks:     tasks,
		Workflows: asyncGen,
	}, nil
}
