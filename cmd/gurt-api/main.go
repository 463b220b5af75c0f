// gurt-api is the Lambda entrypoint for the HTTP API and the scheduled
// sync event.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"studybuddy/internal/bootstrap"
)

func main() {
	app, err := bootstrap.Build(context.Background(), "api")
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	lambda.Start(app.Handler.Handle)
}
