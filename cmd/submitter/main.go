// Command submitter is the Lambda entry point for the submitter role, fed by an SQS
// event source mapping with partial batch responses enabled.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"document-pipeline/internal/app"
	"document-pipeline/internal/config"
	"document-pipeline/internal/worker"
)

func main() {
	deps, err := app.Bootstrap(context.Background(), config.RoleSubmitter)
	if err != nil {
		log.Fatalf("submitter: %v", err)
	}
	defer deps.Close()

	handler, source := deps.Submitter()
	lambda.Start(worker.LambdaHandler(handler, source.Name(), deps.Logger))
}
