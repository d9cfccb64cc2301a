package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"document-pipeline/internal/queue/queuetest"
)

func TestReceiveBackoffAfterLongOutage(t *testing.T) {
	p := NewPoller(queuetest.New("notifications", nil), nil, 10, 0, zap.NewNop())
	for _, failures := range []int{1, 5, 16, 35, 64, 100000} {
		got := p.receiveBackoff(failures)
		assert.Greater(t, got, time.Duration(0), "failures %d", failures)
		assert.LessOrEqual(t, got, maxReceiveBackoff, "failures %d", failures)
	}
	assert.GreaterOrEqual(t, p.receiveBackoff(100000), maxReceiveBackoff/2)
}
