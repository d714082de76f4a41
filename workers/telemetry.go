package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"chat-relay/relay"
)

// TelemetryWorker periodically logs the relay's own process health (CPU,
// RSS, OS status) alongside routing counters and the live session count.
type TelemetryWorker struct {
	log      *slog.Logger
	registry *relay.Registry
	router   *relay.Router
	interval time.Duration
}

func NewTelemetryWorker(log *slog.Logger, registry *relay.Registry,
	router *relay.Router, interval time.Duration) *TelemetryWorker {
	return &TelemetryWorker{log: log, registry: registry, router: router, interval: interval}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping telemetry")
			return nil
		case <-ticker.C:
			rss, cpu, status, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			stats := w.router.Statistics()
			w.log.Info("relay stats",
				"sessions", w.registry.Len(),
				"delivered", stats.Delivered,
				"dropped", stats.Dropped,
				"target_misses", stats.TargetMisses,
				"cpu_percent", cpu,
				"ram_bytes", rss,
				"status", status,
			)
		}
	}
}

// selfStats retrieves memory, CPU, and OS status for the given process.
func selfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}
	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
