package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/surajit20072003/heygemd/internal/database"
	"github.com/surajit20072003/heygemd/internal/engine"
	"github.com/surajit20072003/heygemd/internal/gpu"
	"github.com/surajit20072003/heygemd/pkg/httpclient"
)

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	cbManager *httpclient.CircuitBreakerManager
	db        *database.DB
	engine    *engine.Engine
	registry  *gpu.Registry
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithCircuitBreakerManager sets the circuit breaker manager whose states
// the health response reports.
func (h *HealthHandler) WithCircuitBreakerManager(manager *httpclient.CircuitBreakerManager) *HealthHandler {
	h.cbManager = manager
	return h
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *database.DB) *HealthHandler {
	h.db = db
	return h
}

// WithEngine sets the scheduler whose state the health response reports.
func (h *HealthHandler) WithEngine(eng *engine.Engine, registry *gpu.Registry) *HealthHandler {
	h.engine = eng
	h.registry = registry
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics, scheduler state, and backend circuit breakers",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	cpuInfo := h.getCPUInfo()
	memInfo := h.getMemoryInfo()

	var circuitBreakers []CircuitBreakerStatus
	if h.cbManager != nil {
		stats := h.cbManager.GetAllStats()
		circuitBreakers = make([]CircuitBreakerStatus, 0, len(stats))
		for name, s := range stats {
			circuitBreakers = append(circuitBreakers, CircuitBreakerStatus{
				Name:     name,
				State:    s.State.String(),
				Failures: s.ConsecutiveFailures,
			})
		}
	}

	dbHealth := h.getDatabaseHealth(ctx)
	engHealth := h.getEngineHealth()

	status := "healthy"
	if dbHealth.Status == "error" {
		status = "degraded"
	}

	var hostUptime int64
	if up, err := host.UptimeWithContext(ctx); err == nil {
		hostUptime = int64(up)
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:            status,
			Timestamp:         now.UTC().Format(time.RFC3339),
			Version:           h.version,
			Uptime:            uptime.Round(time.Second).String(),
			UptimeSeconds:     uptime.Seconds(),
			HostUptimeSeconds: hostUptime,
			CPUInfo:           cpuInfo,
			Memory:            memInfo,
			Components: HealthComponents{
				Database:        dbHealth,
				Engine:          engHealth,
				CircuitBreakers: circuitBreakers,
			},
			Checks: map[string]string{
				"database": dbHealth.Status,
				"engine":   engHealth.Status,
			},
		},
	}, nil
}

// getCPUInfo returns CPU load information.
func (h *HealthHandler) getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()

	info := CPUInfo{
		Cores: cores,
	}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15

		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}

	return info
}

// getMemoryInfo returns memory usage information.
func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.FreeMemoryMB = float64(vmStat.Free) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	swapStat, err := mem.SwapMemory()
	if err == nil && swapStat != nil {
		info.SwapTotalMB = float64(swapStat.Total) / 1024 / 1024
		info.SwapUsedMB = float64(swapStat.Used) / 1024 / 1024
	}

	info.ProcessMemory = h.getProcessMemoryInfo(info.TotalMemoryMB)

	return info
}

// getProcessMemoryInfo returns process-tree memory information. Children
// matter here: ffmpeg runs as child processes during staging and concat.
func (h *HealthHandler) getProcessMemoryInfo(totalSystemMB float64) ProcessMemoryInfo {
	info := ProcessMemoryInfo{}

	pid := int32(os.Getpid())
	proc, err := process.NewProcess(pid)
	if err != nil {
		return info
	}

	memInfo, err := proc.MemoryInfo()
	if err == nil && memInfo != nil {
		info.MainProcessMB = float64(memInfo.RSS) / 1024 / 1024
		info.TotalProcessTreeMB = info.MainProcessMB

		if totalSystemMB > 0 {
			info.PercentageOfSystem = (info.MainProcessMB / totalSystemMB) * 100
		}
	}

	children, err := proc.Children()
	if err == nil {
		info.ChildProcessCount = len(children)
		for _, child := range children {
			childMem, err := child.MemoryInfo()
			if err == nil && childMem != nil {
				childMB := float64(childMem.RSS) / 1024 / 1024
				info.ChildProcessesMB += childMB
				info.TotalProcessTreeMB += childMB
			}
		}
	}

	return info
}

// getDatabaseHealth returns database connectivity information.
func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{
		Status:             "ok",
		ResponseTimeStatus: "healthy",
	}

	if h.db == nil {
		health.Status = "unknown"
		return health
	}

	if stats, err := h.db.Stats(); err == nil {
		if v, ok := stats["max_open_connections"].(int); ok {
			health.ConnectionPoolSize = v
		}
		if v, ok := stats["in_use"].(int); ok {
			health.ActiveConnections = v
		}
		if v, ok := stats["idle"].(int); ok {
			health.IdleConnections = v
		}
	}

	start := time.Now()
	err := h.db.Ping(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		health.Status = "error"
		health.ResponseTimeStatus = "error"
	} else if health.ResponseTimeMS > 100 {
		health.ResponseTimeStatus = "slow"
	}

	return health
}

// getEngineHealth returns scheduler state.
func (h *HealthHandler) getEngineHealth() EngineHealth {
	health := EngineHealth{Status: "ok"}

	if h.engine == nil {
		health.Status = "unknown"
		return health
	}

	health.Tasks = len(h.engine.List())
	health.Waiting = h.engine.QueueDepth()
	if h.registry != nil {
		health.GPUs = h.registry.Count()
		health.GPUsFree = h.registry.FreeCount()
	}
	return health
}
