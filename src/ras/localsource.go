package ras

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// LocalSource samples the host the engine runs on. It reports real
// cpu/memory usage and an empty session list; useful when no remote
// administration endpoint is configured.
type LocalSource struct {
	ClusterID string
}

var _ SessionSource = (*LocalSource)(nil)

func (l *LocalSource) ClusterInfo(ctx context.Context) (ClusterInfo, error) {
	return ClusterInfo{
		ClusterID: l.ClusterID,
		Name:      "localhost",
		Host:      "127.0.0.1",
	}, nil
}

func (l *LocalSource) Sessions(ctx context.Context) ([]Session, float64, float64, error) {
	var cpuPercent float64
	if percents, err := cpu.PercentWithContext(ctx, 250*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}
	var memPercent float64
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memPercent = vm.UsedPercent
	}
	return nil, cpuPercent, memPercent, nil
}
