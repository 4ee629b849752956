package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-grbl/grbl"
	"github.com/arloliu/go-grbl/logger"
)

// Session is the machine-control session of one controller link.
//
// All methods are safe for concurrent use.
type Session struct {
	pctx    context.Context
	cfg     *SessionConfig
	link    grbl.Link
	logger  logger.Logger
	metrics Metrics

	connState   grbl.ConnLifecycle
	lifecycleMu sync.Mutex // serializes Connect and Disconnect
	taskMgr     *grbl.TaskManager
	events      *eventDispatcher
	closed      atomic.Bool

	// lossReported guards the unexpected link loss path of the current connection.
	lossReported atomic.Bool
	connGen      atomic.Uint64

	// framer is used only by the read loop.
	framer *grbl.LineFramer

	writeMu sync.Mutex
	ackMu   sync.Mutex
	pending *pendingAck

	stateMu    sync.RWMutex
	state      grbl.MachineState
	spindleDir grbl.SpindleDirection
	// offsetKnown is set once a report of the current connection carried WCO.
	offsetKnown bool

	jobMu sync.Mutex
	job   job
}

var _ grbl.Controller = (*Session)(nil)

// New creates a session over link. The session is not connected; call Connect.
//
// ctx is the parent context of every goroutine the session starts.
func New(ctx context.Context, link grbl.Link, opts ...Option) (*Session, error) {
	if link == nil {
		return nil, errors.New("session: link is nil")
	}

	cfg, err := NewSessionConfig(opts...)
	if err != nil {
		return nil, err
	}

	l := cfg.logger.With("port", link.Info().Name)
	s := &Session{
		pctx:    ctx,
		cfg:     cfg,
		link:    link,
		logger:  l,
		taskMgr: grbl.NewTaskManager(ctx, l),
		events:  newEventDispatcher(ctx, l),
		framer:  grbl.NewLineFramer(cfg.maxLineSize),
		state:   grbl.DefaultMachineState(),
	}

	if err := s.events.start(); err != nil {
		return nil, fmt.Errorf("session: start event dispatcher: %w", err)
	}

	return s, nil
}

// AddEventHandler registers a handler for session events.
func (s *Session) AddEventHandler(handler grbl.EventHandler) {
	s.events.addHandler(handler)
}

// Config returns the session configuration.
func (s *Session) Config() *SessionConfig {
	return s.cfg
}

// Metrics returns the session metrics.
func (s *Session) Metrics() *Metrics {
	return &s.metrics
}

// PortInfo returns the description of the session's link.
func (s *Session) PortInfo() grbl.PortInfo {
	return s.link.Info()
}

// IsConnected reports whether the session is connected.
func (s *Session) IsConnected() bool {
	return s.connState.IsConnected()
}

// MachineState returns the latest known controller state.
func (s *Session) MachineState() grbl.MachineState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	return s.state
}

// Connect opens the link, resets the machine state, starts the read loop and the status
// poller, and emits a ConnectedEvent.
func (s *Session) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return errors.New("session: closed")
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.connState.BeginConnect() {
		return grbl.ErrAlreadyConnected
	}

	info := s.link.Info()
	s.logger.Debug("opening link", "kind", info.Kind, "baud", info.BaudRate)

	if err := s.link.Open(ctx); err != nil {
		s.connState.AbortConnect()

		msg := fmt.Sprintf("failed to open %s: %v", info.Name, err)
		s.logger.Error("session: open link failed", "error", err)
		s.emitLog(grbl.LogError, msg)
		s.emitError(msg, err)

		return fmt.Errorf("session: open link: %w", err)
	}

	s.resetConnectionState()
	s.connState.FinishConnect()

	if err := s.startTasks(); err != nil {
		s.logger.Error("session: start tasks failed", "error", err)
		s.closeLink(grbl.ErrLinkClosed, false)

		return fmt.Errorf("session: start tasks: %w", err)
	}

	s.metrics.incConnectCount()
	s.logger.Info("connected", "kind", info.Kind, "baud", info.BaudRate)
	s.events.emit(grbl.ConnectedEvent{Port: info})

	return nil
}

// Disconnect stops any running job, closes the link and emits a DisconnectedEvent.
// It is idempotent and a no-op when not connected.
func (s *Session) Disconnect() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	return s.closeLink(grbl.ErrStoppedByUser, true)
}

// Close disconnects the session and stops its event dispatcher.
// The session cannot be connected again. Close must not be called from an event handler.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := s.Disconnect()
	s.events.stop(s.cfg.closeTimeout)

	return err
}

func (s *Session) resetConnectionState() {
	s.stateMu.Lock()
	s.state = grbl.DefaultMachineState()
	s.spindleDir = ""
	s.offsetKnown = false
	s.stateMu.Unlock()

	s.framer.Reset()
	s.lossReported.Store(false)
	s.connGen.Add(1)

	s.ackMu.Lock()
	s.pending = nil
	s.ackMu.Unlock()

	s.jobMu.Lock()
	s.job = job{gen: s.job.gen}
	s.jobMu.Unlock()
}

func (s *Session) startTasks() error {
	if err := s.taskMgr.StartReader("readLoop", s.cfg.readBufferSize, s.readLoop, nil); err != nil {
		return err
	}

	_, err := s.taskMgr.StartInterval("statusPoller", s.pollStatus, s.cfg.pollInterval, false)

	return err
}

// closeLink is the common disconnect path. reason is the stop reason of an active job;
// softReset tells whether the controller should be reset before the link is closed.
//
// The caller must hold lifecycleMu.
func (s *Session) closeLink(reason error, softReset bool) error {
	if !s.connState.BeginDisconnect() {
		return nil
	}

	s.abortJob(reason, softReset)
	s.rejectPending(grbl.ErrLinkClosed)

	s.taskMgr.Stop()

	var closeErr error
	if err := s.link.Close(); err != nil {
		s.logger.Warn("session: close link failed", "error", err)
		closeErr = fmt.Errorf("session: close link: %w", err)
	}

	if !s.taskMgr.WaitTimeout(s.cfg.closeTimeout) {
		closeErr = errors.Join(closeErr, fmt.Errorf("session: close timeout after %v", s.cfg.closeTimeout))
	}

	s.jobMu.Lock()
	s.job = job{gen: s.job.gen}
	s.jobMu.Unlock()

	s.connState.FinishDisconnect()

	s.logger.Info("disconnected")
	s.events.emit(grbl.DisconnectedEvent{})

	return closeErr
}

// handleLinkFailure runs the disconnect path after an unexpected read or write failure.
// It is called from session goroutines, so the disconnect runs asynchronously.
func (s *Session) handleLinkFailure(err error) {
	if !s.connState.IsConnected() || !s.lossReported.CompareAndSwap(false, true) {
		return
	}

	msg := fmt.Sprintf("device disconnected unexpectedly: %v", err)
	s.logger.Error("session: link failure", "error", err)
	s.emitLog(grbl.LogError, msg)
	s.emitError(msg, fmt.Errorf("%w: %w", grbl.ErrLinkClosed, err))

	gen := s.connGen.Load()
	go func() {
		s.lifecycleMu.Lock()
		defer s.lifecycleMu.Unlock()

		if s.connGen.Load() != gen {
			return
		}
		_ = s.closeLink(grbl.ErrLinkClosed, false)
	}()
}

func (s *Session) emitLog(kind grbl.LogKind, msg string) {
	s.events.emit(grbl.LogEvent{Kind: kind, Message: msg})
}

func (s *Session) emitError(msg string, err error) {
	s.events.emit(grbl.ErrorEvent{Message: msg, Err: err})
}

func (s *Session) emitProgress(sent, total int) {
	s.events.emit(grbl.ProgressEvent{
		Percentage: grbl.Percentage(sent, total),
		Sent:       sent,
		Total:      total,
	})
}
