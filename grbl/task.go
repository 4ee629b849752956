package grbl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-grbl/internal/pool"
	"github.com/arloliu/go-grbl/logger"
)

// TaskFunc performs one iteration of a task managed by the TaskManager.
// It returns true to run again, or false to stop the goroutine.
type TaskFunc func() bool

// TaskReadFunc performs one iteration of a reader task with a reusable read buffer.
// It returns true to run again, or false to stop the goroutine.
type TaskReadFunc func(buf []byte) bool

// TaskCancelFunc is called when a goroutine managed by the TaskManager exits.
type TaskCancelFunc func()

// TaskManager manages the goroutines of a connected session: the read loop, the
// status poller and the job driver.
//
// Stop cancels every task; Wait blocks until they have returned and re-arms the
// manager, so the same TaskManager can be used for the next connection.
//
// Example Usage:
//
//	taskMgr := grbl.NewTaskManager(ctx, logger)
//
//	_, _ = taskMgr.StartInterval("statusPoller", func() bool {
//	    _ = link.Write([]byte{'?'})
//	    return true
//	}, 100*time.Millisecond, false)
//
//	taskMgr.Stop()
//	taskMgr.Wait()
type TaskManager struct {
	pctx    context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	count   atomic.Int32
	tickers sync.Map     // map[string]*time.Ticker
	mu      sync.RWMutex // protect ctx and cancel
	taskMu  sync.RWMutex // protect task creation during Wait()
}

// NewTaskManager creates a new TaskManager with the given context as the parent context and logger.
func NewTaskManager(ctx context.Context, l logger.Logger) *TaskManager {
	mgr := &TaskManager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context of the current task generation. It is cancelled by Stop.
func (mgr *TaskManager) Context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start starts a goroutine that calls taskFunc until it returns false or the manager is stopped.
func (mgr *TaskManager) Start(name string, taskFunc TaskFunc) error {
	mgr.logger.Debug("start task", "name", name)

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		mgr.runTaskLoop(name, taskFunc)
	})

	return starter.waitForStart()
}

// StartReader starts a goroutine that calls taskFunc with a read buffer of bufSize bytes.
//
// The cancelFunc, if not nil, is called when the goroutine exits for any reason.
func (mgr *TaskManager) StartReader(name string, bufSize int, taskFunc TaskReadFunc, cancelFunc TaskCancelFunc) error {
	mgr.logger.Debug("start reader task", "name", name, "bufSize", bufSize)

	if bufSize <= 0 {
		return fmt.Errorf("invalid read buffer size: %d", bufSize)
	}

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		if cancelFunc != nil {
			defer cancelFunc()
		}

		buf := make([]byte, bufSize)
		mgr.runTaskLoop(name, func() bool {
			return taskFunc(buf)
		})
	})

	return starter.waitForStart()
}

// StartInterval starts a goroutine that executes taskFunc at the specified interval.
// If runNow is true, taskFunc is executed once before the first tick.
func (mgr *TaskManager) StartInterval(name string, taskFunc TaskFunc, interval time.Duration, runNow bool) (*time.Ticker, error) {
	mgr.logger.Debug("start interval task", "name", name, "interval", interval, "runNow", runNow)

	if interval <= 0 {
		return nil, fmt.Errorf("invalid interval: %v", interval)
	}

	ticker := time.NewTicker(interval)
	if _, loaded := mgr.tickers.LoadOrStore(name, ticker); loaded {
		ticker.Stop()
		return nil, fmt.Errorf("interval task %s already exists", name)
	}

	cleanup := func() {
		ticker.Stop()
		mgr.tickers.Delete(name)
	}

	if runNow && !mgr.callWithRecover(name, taskFunc) {
		cleanup()
		return ticker, nil
	}

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		cleanup()
		return nil, err
	}

	starter.startTask(func() {
		defer cleanup()

		ctx := mgr.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecover(name, taskFunc) {
					return
				}
			}
		}
	})

	if err := starter.waitForStart(); err != nil {
		cleanup()
		return nil, err
	}

	return ticker, nil
}

// callWithRecover calls fn with panic protection; a panic stops the task.
func (mgr *TaskManager) callWithRecover(name string, fn TaskFunc) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			result = false
		}
	}()

	return fn()
}

// Stop signals all running goroutines to terminate.
func (mgr *TaskManager) Stop() {
	mgr.tickers.Range(func(_, value any) bool {
		if ticker, ok := value.(*time.Ticker); ok {
			ticker.Stop()
		}

		return true
	})

	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all goroutines to terminate, then re-arms the manager with a fresh context.
func (mgr *TaskManager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// WaitTimeout is Wait bounded by timeout. It returns false if the goroutines did not
// terminate in time; the manager is left stopped but not re-armed in that case.
func (mgr *TaskManager) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		mgr.Wait()
		close(done)
	}()

	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case <-done:
		return true
	case <-timer.C:
		mgr.logger.Warn("timeout waiting for tasks", "timeout", timeout, "task_count", mgr.TaskCount())
		return false
	}
}

// TaskCount returns the number of currently running goroutines.
func (mgr *TaskManager) TaskCount() int {
	return int(mgr.count.Load())
}

type taskStarter struct {
	mgr     *TaskManager
	name    string
	started chan struct{}
}

func (mgr *TaskManager) newTaskStarter(name string) (*taskStarter, error) {
	select {
	case <-mgr.Context().Done():
		return nil, fmt.Errorf("task manager already stopped")
	default:
	}

	return &taskStarter{mgr: mgr, name: name, started: make(chan struct{})}, nil
}

func (s *taskStarter) startTask(taskBody func()) {
	s.mgr.taskMu.RLock()
	defer s.mgr.taskMu.RUnlock()

	s.mgr.wg.Add(1)
	s.mgr.count.Add(1)

	go func() {
		defer s.mgr.wg.Done()
		defer func() {
			s.mgr.count.Add(-1)
			s.mgr.logger.Debug("task terminated", "name", s.name, "task_count", s.mgr.TaskCount())
		}()

		close(s.started)
		taskBody()
	}()
}

func (s *taskStarter) waitForStart() error {
	timer := pool.GetTimer(5 * time.Second)
	defer pool.PutTimer(timer)

	select {
	case <-s.started:
		return nil
	case <-timer.C:
		return fmt.Errorf("timeout waiting for %s to start", s.name)
	}
}

// runTaskLoop runs a task function in a loop until it returns false or the context is cancelled.
func (mgr *TaskManager) runTaskLoop(name string, taskFunc TaskFunc) {
	ctx := mgr.Context()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !mgr.callWithRecover(name, taskFunc) {
				return
			}
		}
	}
}
