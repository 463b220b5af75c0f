// gurt-tasks is the Lambda entrypoint for the step-orchestrator task
// handlers. One deployment per step; TASK_HANDLER selects the step.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"

	"studybuddy/internal/bootstrap"
	"studybuddy/internal/ingest"
)

func handlerFor(app *bootstrap.App, name string) (any, error) {
	switch name {
	case "extract":
		return app.Tasks.Extract, nil
	case "start-ocr":
		return app.Tasks.StartOCR, nil
	case "poll-ocr":
		return app.Tasks.PollOCR, nil
	case "finalize":
		return app.Tasks.Finalize, nil
	case "flashcard-worker":
		return func(ctx context.Context, in ingest.FlashcardJobInput) (ingest.FlashcardJobState, error) {
			return app.Workflows.FlashcardWorker(ctx, in), nil
		}, nil
	case "flashcard-finalize":
		return app.Workflows.FlashcardFinalize, nil
	case "exam-worker":
		return func(ctx context.Context, in ingest.ExamJobInput) (ingest.ExamJobState, error) {
			return app.Workflows.ExamWorker(ctx, in), nil
		}, nil
	case "exam-finalize":
		return app.Workflows.ExamFinalize, nil
	default:
		return nil, fmt.Errorf("unknown TASK_HANDLER %q", name)
	}
}

func main() {
	app, err := bootstrap.Build(context.Background(), "tasks")
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	name := strings.TrimSpace(os.Getenv("TASK_HANDLER"))
	handler, err := handlerFor(app, name)
	if err != nil {
		log.Fatal(err)
	}
	lambda.Start(handler)
}
