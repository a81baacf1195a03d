package pulse

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/pressline/errors"
)

const bytesPerGB = 1024 * 1024 * 1024

// SystemMetrics is host memory usage alongside the executions this process holds
type SystemMetrics struct {
	ExecutionsActive int     `json:"executions_active"`
	MemoryUsedGB     float64 `json:"memory_used_gb"`
	MemoryTotalGB    float64 `json:"memory_total_gb"`
	MemoryPercent    float64 `json:"memory_percent"`
}

// memoryStats is swapped in tests
var memoryStats = func() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// GetSystemMetrics samples host memory. Execution count is filled by the caller.
func GetSystemMetrics() (*SystemMetrics, error) {
	total, available, err := memoryStats()
	if err != nil {
		return nil, err
	}

	m := &SystemMetrics{}
	if total == 0 {
		return m, nil
	}
	used := total - available
	m.MemoryTotalGB = float64(total) / bytesPerGB
	m.MemoryUsedGB = float64(used) / bytesPerGB
	m.MemoryPercent = float64(used) / float64(total) * 100
	return m, nil
}
