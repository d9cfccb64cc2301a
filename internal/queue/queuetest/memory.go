// Package queuetest provides an in-memory queue.Queue that records every
// send and delete in a log shared across queues, so tests can assert ordering.
package queuetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"document-pipeline/internal/queue"
)

// Log is an ordered record of queue operations such as "send:results" or "delete:notifications:m1".
type Log struct {
	mu     sync.Mutex
	events []string
}

func (l *Log) add(event string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

// Events returns a copy of the log.
func (l *Log) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// Sent is one accepted Send call.
type Sent struct {
	Body  string
	Delay time.Duration
}

type entry struct {
	msg      queue.Message
	inFlight bool
}

// Queue is an in-memory queue.Queue. Set the *Err fields to make calls fail.
type Queue struct {
	name string
	log  *Log

	mu         sync.Mutex
	SendErr    error
	ReceiveErr error
	DeleteErr  error
	sent       []Sent
	deleted    []string
	entries    []*entry
	seq        int
}

// New returns an empty queue that records into log; log may be nil.
func New(name string, log *Log) *Queue {
	return &Queue{name: name, log: log}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) Send(_ context.Context, body string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.SendErr != nil {
		return q.SendErr
	}
	q.sent = append(q.sent, Sent{Body: body, Delay: delay})
	q.enqueue(body)
	q.log.add("send:" + q.name)
	return nil
}

// Deliver places body on the queue as if it had been received receives times, and returns that delivery.
func (q *Queue) Deliver(body string, receives int) queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.enqueue(body)
	e.inFlight = true
	e.msg.ReceiveCount = receives
	e.msg.ReceiptHandle = fmt.Sprintf("%s#%d", e.msg.ID, receives)
	return e.msg
}

func (q *Queue) enqueue(body string) *entry {
	q.seq++
	e := &entry{msg: queue.Message{ID: fmt.Sprintf("%s-%d", q.name, q.seq), Body: body}}
	q.entries = append(q.entries, e)
	return e
}

// Receive returns up to max messages that are not in flight. Visibility never expires; use Expire.
func (q *Queue) Receive(_ context.Context, max int, _ time.Duration) ([]queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ReceiveErr != nil {
		return nil, q.ReceiveErr
	}
	var out []queue.Message
	for _, e := range q.entries {
		if len(out) == max {
			break
		}
		if e.inFlight {
			continue
		}
		e.inFlight = true
		e.msg.ReceiveCount++
		e.msg.ReceiptHandle = fmt.Sprintf("%s#%d", e.msg.ID, e.msg.ReceiveCount)
		out = append(out, e.msg)
	}
	return out, nil
}

// Expire makes every in-flight message receivable again.
func (q *Queue) Expire() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		e.inFlight = false
	}
}

func (q *Queue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.DeleteErr != nil {
		return q.DeleteErr
	}
	for i, e := range q.entries {
		if e.msg.ReceiptHandle == receiptHandle {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.deleted = append(q.deleted, e.msg.ID)
			q.log.add("delete:" + q.name + ":" + e.msg.ID)
			return nil
		}
	}
	return nil
}

// Sent returns the accepted sends in order.
func (q *Queue) Sent() []Sent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Sent(nil), q.sent...)
}

// Bodies returns the bodies of accepted sends in order.
func (q *Queue) Bodies() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.sent))
	for _, s := range q.sent {
		out = append(out, s.Body)
	}
	return out
}

// Deleted returns the ids of deleted messages in order.
func (q *Queue) Deleted() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.deleted...)
}

// Len is the number of messages not yet deleted.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

var _ queue.Queue = (*Queue)(nil)
