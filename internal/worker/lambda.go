package worker

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"document-pipeline/internal/queue"
)

// LambdaHandler adapts h to an SQS event source with partial batch responses:
// only the records h failed are reported back for redelivery.
func LambdaHandler(h Handler, queueName string, logger *zap.Logger) func(context.Context, events.SQSEvent) (events.SQSEventResponse, error) {
	return func(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
		msgs := make([]queue.Message, 0, len(event.Records))
		for _, rec := range event.Records {
			msgs = append(msgs, queue.Message{
				ID:            rec.MessageId,
				Body:          rec.Body,
				ReceiptHandle: rec.ReceiptHandle,
				ReceiveCount:  queue.ParseReceiveCount(rec.Attributes),
			})
		}

		out := RunBatch(ctx, h, queueName, msgs, logger)
		resp := events.SQSEventResponse{BatchItemFailures: []events.SQSBatchItemFailure{}}
		for _, id := range out.Failed {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
		}
		if logger != nil {
			logger.Info("batch processed",
				zap.Int("records", len(msgs)),
				zap.Int("succeeded", out.Succeeded),
				zap.Int("malformed", out.Malformed),
				zap.Int("failed", len(out.Failed)))
		}
		return resp, nil
	}
}
