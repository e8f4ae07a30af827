package lock

import (
	"context"
	"sync"
	"time"

	"qi_api/pkg/metrics"
)

// LocalLocker 进程内按键互斥，单实例部署和测试使用
type LocalLocker struct {
	mu          sync.Mutex
	slots       map[string]*slot
	waitTimeout time.Duration
	metrics     *metrics.MetricsCollector
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker(waitTimeout time.Duration, collector *metrics.MetricsCollector) *LocalLocker {
	if waitTimeout <= 0 {
		waitTimeout = 5 * time.Second
	}
	return &LocalLocker{
		slots:       make(map[string]*slot),
		waitTimeout: waitTimeout,
		metrics:     collector,
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	start := time.Now()

	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.waitTimeout)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		l.metrics.RecordLockWait(scopeOf(key), true, time.Since(start))
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.unref(key, s)
			})
		}, nil
	case <-ctx.Done():
	case <-timer.C:
	}

	l.unref(key, s)
	l.metrics.RecordLockWait(scopeOf(key), false, time.Since(start))
	return nil, timeoutErr(key, time.Since(start))
}

func (l *LocalLocker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
