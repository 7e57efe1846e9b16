package util

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostInfo describes the machine Blockgate runs on.
type HostInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	GoVersion    string `json:"go_version"`
}

// HostLoad is a point-in-time resource usage sample.
type HostLoad struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	Goroutines    int     `json:"goroutines"`
	HeapMB        uint64  `json:"heap_mb"`
	UptimeSec     int64   `json:"uptime_sec"`
}

var startedAt = time.Now()

// GetHostInfo gathers static host information. Fields gopsutil cannot read
// on the current platform are left empty.
func GetHostInfo() HostInfo {
	info := HostInfo{
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}
	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}
	return info
}

// GetHostLoad samples current resource usage. dataDir selects the disk
// whose usage is reported.
func GetHostLoad(dataDir string) HostLoad {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	load := HostLoad{
		Goroutines: runtime.NumGoroutine(),
		HeapMB:     ms.HeapAlloc / (1024 * 1024),
		UptimeSec:  int64(time.Since(startedAt).Seconds()),
	}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		load.CPUPercent = percentages[0]
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		load.MemoryPercent = memInfo.UsedPercent
	}
	if dataDir == "" {
		dataDir = "."
	}
	if usage, err := disk.Usage(dataDir); err == nil {
		load.DiskPercent = usage.UsedPercent
	}
	return load
}

// Uptime returns how long the process has been running.
func Uptime() time.Duration {
	return time.Since(startedAt)
}
