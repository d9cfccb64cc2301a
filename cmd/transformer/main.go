// Command transformer is the Lambda entry point for the transformer role, fed by an SQS
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
	deps, err := app.Bootstrap(context.Background(), config.RoleTransformer)
	if err != nil {
		log.Fatalf("transformer: %v", err)
	}
	defer deps.Close()

	handler, source := deps.Transformer()
	lambda.Start(worker.LambdaHandler(handler, source.Name(), deps.Logger))
}
