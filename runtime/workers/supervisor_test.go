package workers

import (
	"context"
	"fmt"
	"log/slog"
	"market-chat/mocks"
	"market-chat/observability"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// runSupervisor starts sup in the background and returns a channel closed
// once Run has returned.
func runSupervisor(ctx context.Context, sup *Supervisor) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, msg)
	}
}

// flakySampler panics on its first run, then records one sample and blocks.
type flakySampler struct {
	monitoring *observability.MonitoringManager
	runs       atomic.Int32
}

func (w *flakySampler) Run(ctx context.Context) error {
	if w.runs.Add(1) == 1 {
		panic("sampler exploded")
	}
	w.monitoring.RecordSample(observability.ProcessSample{Rooms: 3})
	<-ctx.Done()
	return ctx.Err()
}

func TestSupervisor_Restarts_A_Panicking_Sampler(t *testing.T) {
	req := require.New(t)
	monitoring := observability.NewMonitoringManager(slog.Default())
	sampler := &flakySampler{monitoring: monitoring}
	ctx, cancel := context.WithCancel(context.Background())

	// Given a sampler that panics on its first run
	sup := NewSupervisor(slog.Default(), 5*time.Millisecond)
	sup.Add(sampler)
	done := runSupervisor(ctx, sup)

	// Then the second run takes over and samples are recorded
	req.Eventually(func() bool {
		return monitoring.GetLatest().Process.Rooms == 3
	}, time.Second, 5*time.Millisecond)
	req.Equal(int32(2), sampler.runs.Load())

	cancel()
	waitDone(t, done, "Supervisor should return once the context is cancelled")
}

func TestSupervisor_Retries_Until_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	worker := mocks.NewMockWorker(ctrl)

	// Given a worker failing twice then succeeding
	gomock.InOrder(
		worker.EXPECT().Run(gomock.Any()).Return(fmt.Errorf("store unavailable")),
		worker.EXPECT().Run(gomock.Any()).Return(fmt.Errorf("store unavailable")),
		worker.EXPECT().Run(gomock.Any()).Return(nil),
	)

	sup := NewSupervisor(slog.Default(), time.Millisecond)
	sup.Add(worker)

	// Then Run returns on its own after the successful run
	waitDone(t, runSupervisor(context.Background(), sup), "Supervisor should stop after the worker succeeded")
}

func TestSupervisor_Does_Not_Restart_A_Finished_Worker(t *testing.T) {
	ctrl := gomock.NewController(t)
	worker := mocks.NewMockWorker(ctrl)
	worker.EXPECT().Run(gomock.Any()).Return(nil).Times(1)

	sup := NewSupervisor(slog.Default(), 0)
	sup.Add(worker)

	waitDone(t, runSupervisor(context.Background(), sup), "Supervisor should stop after worker success")
}

func TestSupervisor_Stop_Cancels_Every_Worker(t *testing.T) {
	ctrl := gomock.NewController(t)
	var started atomic.Int32
	blocking := func(ctx context.Context) error {
		started.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}
	first := mocks.NewMockWorker(ctrl)
	second := mocks.NewMockWorker(ctrl)
	first.EXPECT().Run(gomock.Any()).DoAndReturn(blocking)
	second.EXPECT().Run(gomock.Any()).DoAndReturn(blocking)

	sup := NewSupervisor(slog.Default(), 0)
	sup.Add(first, second)
	done := runSupervisor(context.Background(), sup)

	require.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, 5*time.Millisecond)
	sup.Stop()
	waitDone(t, done, "Supervisor should return after Stop")
}
