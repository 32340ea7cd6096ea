package sysinfo

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a point-in-time view of the host, used by the diagnostics
// endpoint to verify the machine can handle capture and analysis.
type Snapshot struct {
	Hostname        string   `json:"hostname"`
	Platform        string   `json:"platform"`
	PlatformVersion string   `json:"platform_version"`
	UptimeSeconds   uint64   `json:"uptime_seconds"`
	CPUCores        int      `json:"cpu_cores"`
	CPUUsagePercent float64  `json:"cpu_usage_percent"`
	MemoryTotalMB   uint64   `json:"memory_total_mb"`
	MemoryUsedMB    uint64   `json:"memory_used_mb"`
	MemoryPercent   float64  `json:"memory_percent"`
	CameraDevices   []string `json:"camera_devices"`
}

// Collect gathers host stats and scans for video capture devices.
func Collect(cameraMaxIndex int) (*Snapshot, error) {
	info, err := host.Info()
	if err != nil {
		return nil, fmt.Errorf("host info: %w", err)
	}

	snap := &Snapshot{
		Hostname:        info.Hostname,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		UptimeSeconds:   info.Uptime,
		CameraDevices:   ScanCameras(cameraMaxIndex),
	}

	if cores, err := cpu.Counts(true); err == nil {
		snap.CPUCores = cores
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUUsagePercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryTotalMB = vm.Total / 1024 / 1024
		snap.MemoryUsedMB = vm.Used / 1024 / 1024
		snap.MemoryPercent = vm.UsedPercent
	}
	return snap, nil
}

// ScanCameras lists the /dev/video* nodes present up to maxIndex.
func ScanCameras(maxIndex int) []string {
	devices := []string{}
	for i := 0; i <= maxIndex; i++ {
		device := fmt.Sprintf("/dev/video%d", i)
		if _, err := os.Stat(device); err == nil {
			devices = append(devices, device)
		}
	}
	return devices
}
