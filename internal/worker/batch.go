// Package worker runs message handlers over batches, either inside a Lambda
// invocation or from a long-polling loop.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"document-pipeline/internal/logging"
	"document-pipeline/internal/models"
	"document-pipeline/internal/queue"
	"document-pipeline/internal/telemetry"
)

// Handler processes one message. It acknowledges the message itself; a
// returned error leaves the message for redelivery unless it wraps models.ErrMalformed.
type Handler interface {
	HandleMessage(ctx context.Context, msg queue.Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg queue.Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg queue.Message) error { return f(ctx, msg) }

// Outcome summarises one batch.
type Outcome struct {
	Succeeded int
	Malformed int
	// Failed lists the ids of messages to redeliver.
	Failed []string
}

// RunBatch runs h over msgs in order. A failing message never stops the rest.
// Malformed messages were already acknowledged and are not reported as failed.
func RunBatch(ctx context.Context, h Handler, queueName string, msgs []queue.Message, logger *zap.Logger) Outcome {
	if logger == nil {
		logger = zap.NewNop()
	}
	var out Outcome
	for _, msg := range msgs {
		err := h.HandleMessage(ctx, msg)
		switch {
		case err == nil:
			out.Succeeded++
		case errors.Is(err, models.ErrMalformed):
			out.Malformed++
		default:
			out.Failed = append(out.Failed, msg.ID)
			telemetry.BatchItemFailures.WithLabelValues(queueName).Inc()
			logger.Warn("message left for redelivery",
				zap.String(logging.FieldQueue, queueName),
				zap.String(logging.FieldMessageID, msg.ID),
				zap.Int("receives", msg.ReceiveCount),
				zap.Error(err))
		}
	}
	return out
}
