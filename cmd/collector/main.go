// Command collector is the Lambda entry point for the collector role, fed by an SQS
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
	deps, err := app.Bootstrap(context.Background(), config.RoleCollector)
	if err != nil {
		log.Fatalf("collector: %v", err)
	}
	defer deps.Close()

	handler, source := deps.Collector()
	lambda.Start(worker.LambdaHandler(handler, source.Name(), deps.Logger))
}
