package diagnostics

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceSnapshot is the process and host state recorded with a dump.
// Host fields stay zero when the platform does not expose them.
type ResourceSnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	Goroutines   int       `json:"goroutines"`
	HeapAllocMB  float64   `json:"heap_alloc_mb"`
	HeapInUseMB  float64   `json:"heap_in_use_mb"`
	StackInUseMB float64   `json:"stack_in_use_mb"`
	NumGC        uint32    `json:"num_gc"`

	HostMemTotalMB     float64 `json:"host_mem_total_mb,omitempty"`
	HostMemUsedPercent float64 `json:"host_mem_used_percent,omitempty"`
	HostLoad1          float64 `json:"host_load1,omitempty"`
}

const mb = 1024 * 1024

// TakeSnapshot captures current resource usage.
func TakeSnapshot(now time.Time) ResourceSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap := ResourceSnapshot{
		Timestamp:    now,
		Goroutines:   runtime.NumGoroutine(),
		HeapAllocMB:  float64(ms.HeapAlloc) / mb,
		HeapInUseMB:  float64(ms.HeapInuse) / mb,
		StackInUseMB: float64(ms.StackInuse) / mb,
		NumGC:        ms.NumGC,
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.HostMemTotalMB = float64(vm.Total) / mb
		snap.HostMemUsedPercent = vm.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		snap.HostLoad1 = avg.Load1
	}
	return snap
}
