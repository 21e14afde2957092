package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
)

// Stats is one emitted container resource sample. Err is set only on the
// final record a producer sends before closing because the underlying
// engine stream broke mid-read; see LogLine.Err.
type Stats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemUsageMB float64 `json:"mem_usage_mb"`
	MemLimitMB float64 `json:"mem_limit_mb"`
	Err        error   `json:"-"`
}

// rawStats mirrors the subset of the engine's newline-delimited JSON stats
// wire format this package consumes.
type rawStats struct {
	CPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
		OnlineCPUs     uint64 `json:"online_cpus"`
	} `json:"cpu_stats"`
	PreCPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
	} `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
		Limit uint64 `json:"limit"`
	} `json:"memory_stats"`
}

const bytesPerMB = 1 << 20

// StreamStats decodes newline-delimited JSON stats objects from src into
// normalized {cpu_percent, mem_usage_mb, mem_limit_mb} samples, sent on the
// returned channel until ctx is cancelled or src is exhausted. The channel
// is always closed on exit.
func StreamStats(ctx context.Context, src io.Reader) <-chan Stats {
	out := make(chan Stats)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(src)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var raw rawStats
			if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
				continue
			}
			sample := Stats{
				CPUPercent: cpuPercent(raw),
				MemUsageMB: float64(raw.MemoryStats.Usage) / bytesPerMB,
				MemLimitMB: float64(raw.MemoryStats.Limit) / bytesPerMB,
			}
			select {
			case out <- sample:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- Stats{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

// cpuPercent computes clamp(0, 100, (cpuΔ / systemΔ) × onlineCPUs × 100),
// yielding 0 when systemΔ <= 0 (P5: 0 <= cpu_percent <= 100 always holds).
func cpuPercent(raw rawStats) float64 {
	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage) - float64(raw.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(raw.CPUStats.SystemCPUUsage) - float64(raw.PreCPUStats.SystemCPUUsage)
	if systemDelta <= 0 {
		return 0
	}
	online := float64(raw.CPUStats.OnlineCPUs)
	if online <= 0 {
		online = 1
	}
	pct := (cpuDelta / systemDelta) * online * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
