package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/interaction-discovery-service/internal/domain"
)

// Errors returned by Manager.Start.
var (
	// ErrTooManyJobs means MaxConcurrentJobs runs are already live.
	ErrTooManyJobs = errors.New("too many concurrent jobs")

	// ErrManagerClosed means the manager has begun shutting down.
	ErrManagerClosed = errors.New("job manager is shut down")

	// ErrJobAlreadyRunning means a run for this job ID is already live.
	ErrJobAlreadyRunning = errors.New("job is already running")
)

// jobHandle tracks one live run.
type jobHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the worker goroutines that execute discovery jobs. Each job
// runs on exactly one goroutine; the manager enforces the concurrency cap
// and provides cancellation and draining.
type Manager struct {
	deps   Dependencies
	config Config
	logger zerolog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	running map[uuid.UUID]*jobHandle
	closed  bool
	wg      sync.WaitGroup
}

// NewManager creates a job manager. Jobs started through it inherit a
// context that dies only on forced shutdown.
func NewManager(deps Dependencies, config Config, logger zerolog.Logger) *Manager {
	config.applyDefaults()
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		deps:       deps,
		config:     config,
		logger:     logger.With().Str("component", "discovery_manager").Logger(),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		running:    make(map[uuid.UUID]*jobHandle),
	}
}

// Start launches the worker goroutine for a pending job. The job record
// must already exist; the worker moves it to running and owns all further
// writes until a terminal status.
func (m *Manager) Start(job *domain.Job) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if _, ok := m.running[job.ID]; ok {
		m.mu.Unlock()
		return ErrJobAlreadyRunning
	}
	if len(m.running) >= m.config.MaxConcurrentJobs {
		m.mu.Unlock()
		return ErrTooManyJobs
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	handle := &jobHandle{cancel: cancel, done: make(chan struct{})}
	m.running[job.ID] = handle
	m.wg.Add(1)
	m.mu.Unlock()

	logger := m.logger.With().
		Str("job_id", job.ID.String()).
		Str("workspace_id", job.WorkspaceID).
		Logger()
	run := newRunner(m.deps, m.config, job, logger)

	go func() {
		defer func() {
			cancel()
			m.mu.Lock()
			delete(m.running, job.ID)
			m.mu.Unlock()
			close(handle.done)
			m.wg.Done()
		}()
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Msg("job worker panicked")
				run.finishFailed(runCtx, fmt.Errorf("internal error: %v", rec))
			}
		}()
		run.run(runCtx)
	}()

	m.logger.Info().
		Str("job_id", job.ID.String()).
		Str("target_variable", job.TargetVariable).
		Msg("job worker started")
	return nil
}

// Stop cancels the live run for a job and reports whether one was live.
// Callers must set the persistent cancel flag first so the run lands on the
// cancelled status rather than being abandoned.
func (m *Manager) Stop(jobID uuid.UUID) bool {
	m.mu.Lock()
	handle, ok := m.running[jobID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	handle.cancel()
	return true
}

// StopAndWait cancels a live run and waits for its goroutine to exit, so
// callers can delete the record without racing its final writes. A job with
// no live run returns immediately.
func (m *Manager) StopAndWait(ctx context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	handle, ok := m.running[jobID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	handle.cancel()
	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a run for the job is currently live.
func (m *Manager) Running(jobID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[jobID]
	return ok
}

// RunningCount returns the number of live runs.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Shutdown stops accepting new jobs and waits for live runs to finish. When
// the context expires first, remaining run contexts are cancelled and the
// runs are awaited; their records stay running and are picked up by
// stuck-job recovery.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	remaining := len(m.running)
	m.mu.Unlock()

	m.logger.Info().Int("running_jobs", remaining).Msg("draining job workers")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info().Msg("all job workers drained")
		return nil
	case <-ctx.Done():
	}

	m.baseCancel()
	<-done
	m.logger.Warn().Msg("job workers force-cancelled during shutdown")
	return ctx.Err()
}
