package queue

import (
	"context"
	"time"
)

// Message is one delivery of a queued body. ReceiptHandle acknowledges this delivery only.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
	ReceiveCount  int
}

// Queue is an at-least-once queue: a received message that is not deleted
// before its visibility window ends is delivered again.
type Queue interface {
	Name() string
	Send(ctx context.Context, body string, delay time.Duration) error
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}
