package observability

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ProcessSample is one reading of the process resources.
type ProcessSample struct {
	RssMb      uint64  `json:"rss_mb"`
	CpuPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
	AllocMemMb uint64  `json:"alloc_mem_mb"`
	NumGC      uint32  `json:"num_gc"`
	Rooms      int     `json:"rooms"`
	SampledAt  string  `json:"sampled_at,omitempty"`
}

// MonitoringStats aggregates counters and the latest process sample.
type MonitoringStats struct {
	ActiveConnections   int64  `json:"active_connections"`
	ConnectionsOpened   uint64 `json:"connections_opened"`
	ConnectionsRejected uint64 `json:"connections_rejected"`
	MessagesPersisted   uint64 `json:"messages_persisted"`
	PersistenceFailures uint64 `json:"persistence_failures"`
	EventsDelivered     uint64 `json:"events_delivered"`
	SlowConsumers       uint64 `json:"slow_consumers"`
	ErrorsSent          uint64 `json:"errors_sent"`
	UptimeSeconds       int64  `json:"uptime_seconds"`

	Process ProcessSample `json:"process"`
}

// MonitoringManager holds the runtime counters of the gateway.
// Every method is safe on a nil receiver so callers may run without monitoring.
type MonitoringManager struct {
	log       *slog.Logger
	startedAt time.Time

	activeConnections   int64
	connectionsOpened   uint64
	connectionsRejected uint64
	messagesPersisted   uint64
	persistenceFailures uint64
	eventsDelivered     uint64
	slowConsumers       uint64
	errorsSent          uint64

	mu     sync.RWMutex
	sample ProcessSample
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log, startedAt: time.Now()}
}

func (mm *MonitoringManager) ConnectionOpened() {
	if mm == nil {
		return
	}
	atomic.AddUint64(&mm.connectionsOpened, 1)
	atomic.AddInt64(&mm.activeConnections, 1)
}

func (mm *MonitoringManager) ConnectionClosed() {
	if mm == nil {
		return
	}
	atomic.AddInt64(&mm.activeConnections, -1)
}

func (mm *MonitoringManager) IncrRejected() {
	if mm == nil {
		return
	}
	atomic.AddUint64(&mm.connectionsRejected, 1)
}

func (mm *MonitoringManager) IncrPersisted() {
	if mm == nil {
		return
	}
	atomic.AddUint64(&mm.messagesPersisted, 1)
}

func (mm *MonitoringManager) IncrPersistenceFailure() {
	if mm == nil {
		return
	}
	atomic.AddUint64(&mm.persistenceFailures, 1)
}

func (mm *MonitoringManager) IncrDelivered(n int) {
	if mm == nil || n <= 0 {
		return
	}
	atomic.AddUint64(&mm.eventsDelivered, uint64(n))
}

func (mm *MonitoringManager) IncrSlowConsumer() {
	if mm == nil {
		return
	}
	atomic.AddUint64(&mm.slowConsumers, 1)
}

func (mm *MonitoringManager) IncrErrorSent() {
	if mm == nil {
		return
	}
	atomic.AddUint64(&mm.errorsSent, 1)
}

// RecordSample stores the latest process reading, completed with Go runtime stats.
func (mm *MonitoringManager) RecordSample(sample ProcessSample) {
	if mm == nil {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	sample.AllocMemMb = m.Alloc / 1024 / 1024
	sample.NumGC = m.NumGC
	sample.Goroutines = runtime.NumGoroutine()
	if sample.SampledAt == "" {
		sample.SampledAt = time.Now().UTC().Format(time.RFC3339)
	}

	mm.mu.Lock()
	mm.sample = sample
	mm.mu.Unlock()

	mm.log.Debug("Stats updated",
		"rss_mb", sample.RssMb,
		"cpu", sample.CpuPercent,
		"rooms", sample.Rooms,
		"active_connections", atomic.LoadInt64(&mm.activeConnections),
	)
}

func (mm *MonitoringManager) GetLatest() MonitoringStats {
	if mm == nil {
		return MonitoringStats{}
	}
	mm.mu.RLock()
	sample := mm.sample
	mm.mu.RUnlock()

	return MonitoringStats{
		ActiveConnections:   atomic.LoadInt64(&mm.activeConnections),
		ConnectionsOpened:   atomic.LoadUint64(&mm.connectionsOpened),
		ConnectionsRejected: atomic.LoadUint64(&mm.connectionsRejected),
		MessagesPersisted:   atomic.LoadUint64(&mm.messagesPersisted),
		PersistenceFailures: atomic.LoadUint64(&mm.persistenceFailures),
		EventsDelivered:     atomic.LoadUint64(&mm.eventsDelivered),
		SlowConsumers:       atomic.LoadUint64(&mm.slowConsumers),
		ErrorsSent:          atomic.LoadUint64(&mm.errorsSent),
		UptimeSeconds:       int64(time.Since(mm.startedAt).Seconds()),
		Process:             sample,
	}
}
