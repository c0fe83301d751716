package monitor

import (
	"context"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostStats is the machine-level context shown next to the schedule so an
// operator can tell a struggling host from a struggling job.
type HostStats struct {
	Hostname        string  `json:"hostname,omitempty"`
	OS              string  `json:"os,omitempty"`
	Platform        string  `json:"platform,omitempty"`
	UptimeSeconds   uint64  `json:"uptimeSeconds,omitempty"`
	Load1           float64 `json:"load1,omitempty"`
	Load5           float64 `json:"load5,omitempty"`
	Load15          float64 `json:"load15,omitempty"`
	MemoryTotal     uint64  `json:"memoryTotalBytes,omitempty"`
	MemoryUsed      uint64  `json:"memoryUsedBytes,omitempty"`
	MemoryUsedRatio float64 `json:"memoryUsedPercent,omitempty"`
}

// CollectHostStats gathers best-effort host statistics. Probes that fail on
// a given platform (load averages on Windows, for one) simply leave their
// fields zero.
func CollectHostStats(ctx context.Context) HostStats {
	var stats HostStats

	if info, err := host.InfoWithContext(ctx); err == nil {
		stats.Hostname = info.Hostname
		stats.OS = info.OS
		stats.Platform = info.Platform
		stats.UptimeSeconds = info.Uptime
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats.Load1 = avg.Load1
		stats.Load5 = avg.Load5
		stats.Load15 = avg.Load15
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryTotal = vm.Total
		stats.MemoryUsed = vm.Used
		stats.MemoryUsedRatio = vm.UsedPercent
	}
	return stats
}
