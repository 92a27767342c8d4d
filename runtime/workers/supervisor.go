package workers

import (
	"context"
	"fmt"
	"log/slog"
	"market-chat/contract"
	"market-chat/errors"
	"sync"
	"time"
)

const DefaultRestartInterval = 200 * time.Millisecond

// Supervisor runs background workers of the gateway in their own goroutines.
// A worker that panics or fails is restarted after restartInterval; a worker
// returning nil is considered done. Cancelling the parent context stops
// everything and Run returns once every goroutine has exited.
type Supervisor struct {
	log             *slog.Logger
	restartInterval time.Duration
	wg              sync.WaitGroup
	workers         []contract.Worker

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewSupervisor(log *slog.Logger, restartInterval time.Duration) *Supervisor {
	if restartInterval <= 0 {
		restartInterval = DefaultRestartInterval
	}
	return &Supervisor{log: log.With("component", "supervisor"), restartInterval: restartInterval}
}

func (s *Supervisor) Run(ctx context.Context) {
	supervisedCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	for _, worker := range s.workers {
		s.Start(supervisedCtx, worker)
	}
	s.wg.Wait()
}

func (s *Supervisor) Add(worker ...contract.Worker) contract.ISupervisor {
	s.workers = append(s.workers, worker...)
	return s
}

// Start runs a worker under supervision. A failure in one worker never
// stops the supervisor itself.
func (s *Supervisor) Start(ctx context.Context, worker contract.Worker) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervise(ctx, worker, contract.GetWorkerName(worker))
	}()
}

func (s *Supervisor) supervise(ctx context.Context, worker contract.Worker, name string) {
	log := s.log.With("worker", name)
	for restarts := 0; ; restarts++ {
		if ctx.Err() != nil {
			log.Info("Worker stopping")
			return
		}
		err := s.runOnce(ctx, worker)
		switch {
		case err == nil:
			log.Info("Worker finished", "restarts", restarts)
			return
		case ctx.Err() != nil:
			log.Info("Worker stopped (context canceled)")
			return
		case errors.Is(err, errors.ErrWorkerPanic):
			log.Error("Worker panicked, restarting", "error", err, "restarts", restarts)
		default:
			log.Warn("Worker crashed, restarting", "error", err, "restarts", restarts)
		}

		timer := time.NewTimer(s.restartInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, worker contract.Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errors.ErrWorkerPanic, r)
		}
	}()
	return worker.Run(ctx)
}

// Stop cancels every supervised worker. Run returns once they have exited.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}
