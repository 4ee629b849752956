package session

import (
	"context"
	"sync"
	"time"

	"github.com/arloliu/go-grbl/grbl"
	"github.com/arloliu/go-grbl/internal/queue"
	"github.com/arloliu/go-grbl/logger"
)

// eventDispatcher queues events and delivers them in order from a single goroutine,
// so emitters never block on handlers and handlers may call back into the session.
type eventDispatcher struct {
	mu       sync.Mutex
	queue    queue.Queue[grbl.Event]
	handlers []grbl.EventHandler
	notify   chan struct{}
	taskMgr  *grbl.TaskManager
	logger   logger.Logger
}

func newEventDispatcher(ctx context.Context, l logger.Logger) *eventDispatcher {
	return &eventDispatcher{
		queue:   queue.NewSliceQueue[grbl.Event](16),
		notify:  make(chan struct{}, 1),
		taskMgr: grbl.NewTaskManager(ctx, l),
		logger:  l,
	}
}

func (d *eventDispatcher) start() error {
	return d.taskMgr.Start("eventDispatcher", d.dispatch)
}

func (d *eventDispatcher) addHandler(h grbl.EventHandler) {
	if h == nil {
		return
	}

	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

func (d *eventDispatcher) emit(evt grbl.Event) {
	d.mu.Lock()
	d.queue.Enqueue(evt)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// dispatch is one iteration of the dispatcher task.
func (d *eventDispatcher) dispatch() bool {
	select {
	case <-d.taskMgr.Context().Done():
		d.deliverAll()
		return false
	case <-d.notify:
		d.deliverAll()
		return true
	}
}

func (d *eventDispatcher) deliverAll() {
	for {
		d.mu.Lock()
		evt, ok := d.queue.Dequeue()
		handlers := d.handlers
		d.mu.Unlock()

		if !ok {
			return
		}

		for _, h := range handlers {
			d.deliver(h, evt)
		}
	}
}

func (d *eventDispatcher) deliver(h grbl.EventHandler, evt grbl.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in event handler", "event", evt.EventKind().String(), "panic", r)
		}
	}()

	h(evt)
}

// stop delivers the queued events and stops the dispatcher goroutine.
func (d *eventDispatcher) stop(timeout time.Duration) {
	d.taskMgr.Stop()
	if d.taskMgr.WaitTimeout(timeout) {
		d.deliverAll()
	}
}
