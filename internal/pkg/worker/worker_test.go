package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"qi_api/internal/pkg/apperr"

	"github.com/stretchr/testify/assert"
)

type recordingHandler struct {
	mu    sync.Mutex
	calls map[string]int
	errs  []error // 依次返回，用尽后返回 nil
	done  chan string
}

func newRecordingHandler(errs ...error) *recordingHandler {
	return &recordingHandler{calls: make(map[string]int), errs: errs, done: make(chan string, 16)}
}

func (h *recordingHandler) ReconcileOrder(ctx context.Context, orderNo string) error {
	h.mu.Lock()
	h.calls[orderNo]++
	var err error
	if len(h.errs) > 0 {
		err, h.errs = h.errs[0], h.errs[1:]
	}
	h.mu.Unlock()
	h.done <- orderNo
	return err
}

func (h *recordingHandler) count(orderNo string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[orderNo]
}

func waitCalls(t *testing.T, h *recordingHandler, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %d calls, got %d", n, i)
		}
	}
}

func TestWorkerPool_RetriesRetryableErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newRecordingHandler(apperr.ErrLockTimeout, apperr.ErrGatewayUnavailable)
	p := NewWorkerPool(1, 4, 3, time.Millisecond, nil)
	p.SetHandler(h)
	p.Start(ctx)

	assert.True(t, p.Enqueue("order_1"))
	waitCalls(t, h, 3)
	assert.Equal(t, 3, h.count("order_1"))

	cancel()
	p.Wait()
}

func TestWorkerPool_NonRetryableGoesToDeadLetter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newRecordingHandler(errors.New("boom"))
	p := NewWorkerPool(1, 4, 3, time.Millisecond, nil)
	p.SetHandler(h)
	p.Start(ctx)

	p.Enqueue("order_1")
	waitCalls(t, h, 1)

	select {
	case <-h.done:
		t.Fatal("non-retryable error must not be retried")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, h.count("order_1"))
}

func TestWorkerPool_EnqueueFull(t *testing.T) {
	p := NewWorkerPool(1, 2, 1, time.Millisecond, nil)

	assert.True(t, p.Enqueue("a"))
	assert.True(t, p.Enqueue("b"))
	assert.False(t, p.Enqueue("c"))
}
