package threading

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrProcessTimeout returned by WorkerPool to indicate that there no free goroutines during some period of time.
	ErrProcessTimeout = errors.New("process error: timed out")

	// ErrPoolClosed is returned when submitting to a closed pool.
	ErrPoolClosed = errors.New("process error: worker pool closed")
)

type (
	// WorkerPool runs tasks on at most maxWorkerNum goroutines. Workers are
	// spawned lazily up to the maximum and then live until Close.
	WorkerPool struct {
		workers  chan struct{}
		tasks    chan ITask
		inflight atomic.Int64

		closeOnce sync.Once
		closed    chan struct{}
	}

	trackedTask struct {
		ITask
		pool    *WorkerPool
		settled atomic.Bool
	}
)

func NewWorkerPool(maxWorkerNum int, bufferSize int, spawnWorkerNum int) *WorkerPool {
	if maxWorkerNum <= 0 {
		panic("worker pool needs at least one worker")
	}
	if spawnWorkerNum <= 0 && bufferSize > 0 {
		panic("dead queue configuration detected")
	}
	if spawnWorkerNum > maxWorkerNum {
		panic("spawn worker num larger than max worker num")
	}

	wp := &WorkerPool{
		workers: make(chan struct{}, maxWorkerNum),
		tasks:   make(chan ITask, bufferSize),
		closed:  make(chan struct{}),
	}

	for range spawnWorkerNum {
		wp.workers <- struct{}{}
		NewWorker(strconv.Itoa(len(wp.workers)), wp.tasks, nil)
	}

	return wp
}

// Submit blocks until the task is queued or a worker picks it up.
func (wp *WorkerPool) Submit(task ITask) (TaskCancelFunc, error) {
	return wp.process(context.Background(), task, nil)
}

// SubmitTimeout gives up with ErrProcessTimeout when no slot frees up within timeout.
func (wp *WorkerPool) SubmitTimeout(timeout time.Duration, task ITask) (TaskCancelFunc, error) {
	return wp.process(context.Background(), task, time.After(timeout))
}

// SubmitCtx gives up with the context error when ctx is done before a slot frees up.
func (wp *WorkerPool) SubmitCtx(ctx context.Context, task ITask) (TaskCancelFunc, error) {
	return wp.process(ctx, task, nil)
}

// InFlight counts tasks that were submitted and have not completed yet.
func (wp *WorkerPool) InFlight() int {
	return int(wp.inflight.Load())
}

// Close stops accepting tasks. Workers exit once the buffer is drained.
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() {
		close(wp.closed)
		close(wp.tasks)
	})
}

func (wp *WorkerPool) process(ctx context.Context, task ITask, timeout <-chan time.Time) (cancel TaskCancelFunc, err error) {
	select {
	case <-wp.closed:
		return nil, ErrPoolClosed
	default:
	}

	// Close may race with the sends below; a send on the closed channel is reported as ErrPoolClosed.
	defer func() {
		if r := recover(); r != nil {
			wp.inflight.Add(-1)
			cancel, err = nil, ErrPoolClosed
		}
	}()

	tracked := &trackedTask{ITask: task, pool: wp}
	wp.inflight.Add(1)

	select {
	case <-ctx.Done():
		wp.inflight.Add(-1)
		return nil, ctx.Err()

	case <-timeout:
		wp.inflight.Add(-1)
		return nil, ErrProcessTimeout

	case wp.tasks <- tracked:
		return tracked.Cancel, nil

	case wp.workers <- struct{}{}:
		NewWorker(strconv.Itoa(len(wp.workers)), wp.tasks, tracked)
		return tracked.Cancel, nil
	}
}

func (t *trackedTask) Complete() {
	t.ITask.Complete()
	t.settle()
}

func (t *trackedTask) Cancel() bool {
	if t.ITask.Cancel() {
		t.settle()
		return true
	}
	return false
}

// settle releases the in-flight slot exactly once, whichever of Complete or Cancel wins.
func (t *trackedTask) settle() {
	if t.settled.CompareAndSwap(false, true) {
		t.pool.inflight.Add(-1)
	}
}
