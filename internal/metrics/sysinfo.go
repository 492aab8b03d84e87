package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// sampleInterval is how often host load is refreshed.
const sampleInterval = 500 * time.Millisecond

// SampleSystem reads one host load sample. Individual probe failures
// leave the corresponding fields at zero rather than failing the whole
// sample.
func SampleSystem(ctx context.Context) SystemMetrics {
	var sys SystemMetrics

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		sys.CPUUsagePercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sys.MemUsagePercent = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		sys.LoadAvg1 = avg.Load1
		sys.LoadAvg5 = avg.Load5
		sys.LoadAvg15 = avg.Load15
	}
	return sys
}

// RunSampler refreshes the aggregator's system metrics on a fixed tick
// until the context is canceled.
func RunSampler(ctx context.Context, agg *Aggregator, log zerolog.Logger) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	log.Debug().Dur("interval", sampleInterval).Msg("system metrics sampler started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			agg.SetSystem(SampleSystem(ctx))
		}
	}
}
