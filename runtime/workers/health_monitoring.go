package workers

import (
	"context"
	"log/slog"
	"market-chat/observability"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

const DefaultMetricInterval = 10 * time.Second

// HealthMonitoringWorker samples the resources of the gateway process and
// publishes them to the monitoring manager.
type HealthMonitoringWorker struct {
	log            *slog.Logger
	monitoring     *observability.MonitoringManager
	rooms          func() int
	metricInterval time.Duration
	pid            int32
}

func NewHealthMonitoringWorker(
	log *slog.Logger,
	monitoring *observability.MonitoringManager,
	rooms func() int,
	metricInterval time.Duration,
) *HealthMonitoringWorker {
	if metricInterval <= 0 {
		metricInterval = DefaultMetricInterval
	}
	return &HealthMonitoringWorker{
		log:            log.With("worker", "health_monitoring"),
		monitoring:     monitoring,
		rooms:          rooms,
		metricInterval: metricInterval,
		pid:            int32(os.Getpid()),
	}
}

func (w *HealthMonitoringWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(w.pid)
	if err != nil {
		return err
	}
	w.sample(p)

	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health sampling")
			return nil
		case <-ticker.C:
			w.sample(p)
		}
	}
}

func (w *HealthMonitoringWorker) sample(p *process.Process) {
	sample := observability.ProcessSample{}
	if mem, err := p.MemoryInfo(); err != nil {
		w.log.Debug("Error while finding process ram usage", "err", err)
	} else {
		sample.RssMb = mem.RSS / 1024 / 1024
	}
	if cpu, err := p.CPUPercent(); err != nil {
		w.log.Debug("Error while finding process cpu usage", "err", err)
	} else {
		sample.CpuPercent = cpu
	}
	if w.rooms != nil {
		sample.Rooms = w.rooms()
	}
	w.monitoring.RecordSample(sample)
}
