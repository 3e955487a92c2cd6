package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// SystemMetrics is one host sample
type SystemMetrics struct {
	CPUPercent        float64
	ProcessCPUPercent float64 // per core, can exceed 100 on multi-core
	IOWaitPercent     float64 // high means the sink is I/O bound
	MemoryUsedGB      float64
	MemoryPercent     float64
	ProcessRSSMB      float64
	Timestamp         time.Time
}

// Collector samples host resources on an interval, logs them and mirrors
// them into the Prometheus gauges
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	gauges   *Pipeline
	proc     *process.Process

	lastCPU     cpu.TimesStat
	hasLastCPU  bool
	mu          sync.RWMutex
	lastMetrics *SystemMetrics
}

// NewCollector creates a collector. gauges may be nil.
func NewCollector(interval time.Duration, logger *zap.Logger, gauges *Pipeline) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval: interval,
		logger:   logger,
		gauges:   gauges,
		proc:     proc,
	}
}

// Start samples until ctx is cancelled
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// first sample sets the iowait baseline
	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// GetMetrics returns the last sample, or nil before the first one
func (c *Collector) GetMetrics() *SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMetrics
}

func (c *Collector) collect() {
	m := &SystemMetrics{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		m.CPUPercent = pct[0]
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			m.ProcessCPUPercent = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil {
			m.ProcessRSSMB = float64(info.RSS) / (1024 * 1024)
		}
	}
	if times, err := cpu.Times(false); err == nil && len(times) > 0 {
		m.IOWaitPercent = c.ioWait(times[0])
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		m.MemoryPercent = vmem.UsedPercent
		m.MemoryUsedGB = float64(vmem.Used) / (1024 * 1024 * 1024)
	}

	c.mu.Lock()
	c.lastMetrics = m
	c.mu.Unlock()

	c.gauges.setSystem(m)

	c.logger.Info("System metrics",
		zap.Float64("sys_cpu", m.CPUPercent),
		zap.Float64("proc_cpu", m.ProcessCPUPercent),
		zap.Float64("iowait", m.IOWaitPercent),
		zap.Float64("mem_pct", m.MemoryPercent),
		zap.String("mem_used", fmt.Sprintf("%.1f GB", m.MemoryUsedGB)),
		zap.String("rss", fmt.Sprintf("%.1f MB", m.ProcessRSSMB)),
	)
}

// ioWait returns the iowait share of CPU time since the previous sample
func (c *Collector) ioWait(cur cpu.TimesStat) float64 {
	if !c.hasLastCPU {
		c.lastCPU = cur
		c.hasLastCPU = true
		return 0
	}
	last := c.lastCPU
	c.lastCPU = cur
	return ioWaitPercent(last, cur)
}

func ioWaitPercent(last, cur cpu.TimesStat) float64 {
	total := (cur.User - last.User) +
		(cur.System - last.System) +
		(cur.Idle - last.Idle) +
		(cur.Iowait - last.Iowait) +
		(cur.Irq - last.Irq) +
		(cur.Softirq - last.Softirq) +
		(cur.Steal - last.Steal)
	if total <= 0 {
		return 0
	}
	return (cur.Iowait - last.Iowait) / total * 100
}
