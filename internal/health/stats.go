package health

import (
	"os"
	"runtime"
	"time"
)

// ProcessStats is a snapshot of the server process, reported by the HTTP
// health endpoint.
type ProcessStats struct {
	PID           int    `json:"pid"`
	Goroutines    int    `json:"goroutines"`
	HeapAllocMB   uint64 `json:"heapAllocMb"`
	HeapSysMB     uint64 `json:"heapSysMb"`
	NumGC         uint32 `json:"numGc"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

var startTime = time.Now()

// ReadProcessStats samples the current process.
func ReadProcessStats() ProcessStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return ProcessStats{
		PID:           os.Getpid(),
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   mem.HeapAlloc / (1024 * 1024),
		HeapSysMB:     mem.HeapSys / (1024 * 1024),
		NumGC:         mem.NumGC,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
	}
}
