package worker

import (
	"context"
	"sync"
	"time"

	"qi_api/internal/pkg/apperr"
	"qi_api/pkg/logger"
	"qi_api/pkg/metrics"

	"go.uber.org/zap"
)

// ReconcileTask 待补偿对账的订单
type ReconcileTask struct {
	OrderNo string
	Retry   int // 重试次数
}

// TaskHandler 处理一次对账，通常是对账服务
type TaskHandler interface {
	ReconcileOrder(ctx context.Context, orderNo string) error
}

type WorkerPool struct {
	TaskQueue  chan ReconcileTask
	RetryQueue chan ReconcileTask // 重试队列
	WorkerNum  int
	MaxRetry   int           // 最大重试次数
	RetryDelay time.Duration // 第 n 次重试延迟 n*RetryDelay

	handler TaskHandler
	metrics *metrics.MetricsCollector
	wg      sync.WaitGroup
}

func NewWorkerPool(workerNum, bufferSize, maxRetry int, retryDelay time.Duration, collector *metrics.MetricsCollector) *WorkerPool {
	if workerNum <= 0 {
		workerNum = 1
	}
	if bufferSize <= 1 {
		bufferSize = 2
	}
	return &WorkerPool{
		TaskQueue:  make(chan ReconcileTask, bufferSize),
		RetryQueue: make(chan ReconcileTask, bufferSize/2),
		WorkerNum:  workerNum,
		MaxRetry:   maxRetry,
		RetryDelay: retryDelay,
		metrics:    collector,
	}
}

// SetHandler 对账服务依赖队列，队列又回调对账服务，因此在构造后注入
func (p *WorkerPool) SetHandler(h TaskHandler) {
	p.handler = h
}

// Start 启动 worker，ctx 取消后全部退出
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.WorkerNum; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	// 启动重试处理协程
	p.wg.Add(1)
	go p.retryWorker(ctx)
	logger.Log.Info("Reconcile worker pool started", zap.Int("workers", p.WorkerNum))
}

// Wait 等待所有 worker 退出
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.TaskQueue:
			p.process(ctx, id, task)
		}
	}
}

func (p *WorkerPool) process(ctx context.Context, id int, task ReconcileTask) {
	err := p.handler.ReconcileOrder(ctx, task.OrderNo)
	if err == nil {
		p.metrics.RecordRetryTask("done")
		return
	}

	logger.Log.Warn("Reconcile task failed",
		zap.Int("worker", id),
		zap.String("order_no", task.OrderNo),
		zap.Int("retry", task.Retry),
		zap.Error(err))

	if !apperr.IsRetryable(err) {
		p.logFailedTask(task, err)
		return
	}

	// 如果未达到最大重试次数，加入重试队列
	if task.Retry < p.MaxRetry {
		task.Retry++
		select {
		case p.RetryQueue <- task:
			p.metrics.RecordRetryTask("retried")
		default:
			logger.Log.Warn("Retry queue full", zap.String("order_no", task.OrderNo))
			p.logFailedTask(task, err)
		}
		return
	}
	p.logFailedTask(task, err)
}

func (p *WorkerPool) retryWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.RetryQueue:
			// 延迟重试，避免立即重试
			timer := time.NewTimer(time.Duration(task.Retry) * p.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			select {
			case p.TaskQueue <- task:
			default:
				logger.Log.Warn("Task queue full on retry", zap.String("order_no", task.OrderNo))
				p.logFailedTask(task, nil)
			}
		}
	}
}

// logFailedTask 死信：只落日志，订单仍会被超时扫描或人工对账重新发现
func (p *WorkerPool) logFailedTask(task ReconcileTask, err error) {
	p.metrics.RecordRetryTask("dead")
	logger.Log.Error("Reconcile task failed permanently",
		zap.String("order_no", task.OrderNo),
		zap.Int("retry", task.Retry),
		zap.Bool("alert", true),
		zap.Error(err))
}

// Enqueue 非阻塞入队，队列满时返回 false
func (p *WorkerPool) Enqueue(orderNo string) bool {
	select {
	case p.TaskQueue <- ReconcileTask{OrderNo: orderNo}:
		p.metrics.RecordRetryTask("enqueued")
		return true
	default:
		p.metrics.RecordRetryTask("dropped")
		logger.Log.Error("Reconcile queue full, dropping task",
			zap.String("order_no", orderNo), zap.Bool("alert", true))
		return false
	}
}
