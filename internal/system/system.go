package system

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// HostInfo describes the machine a session runs on. It goes into stream
// headers so recordings can be traced back to the presenting computer.
type HostInfo struct {
	Hostname        string
	OS              string
	Platform        string
	PlatformVersion string
	KernelArch      string
	CPUModel        string
	Cores           int
	MemoryMB        uint64
}

// Describe collects whatever host details are available. Partial results
// are returned together with the combined error.
func Describe(ctx context.Context) (HostInfo, error) {
	info := HostInfo{OS: runtime.GOOS, KernelArch: runtime.GOARCH}
	var errs error

	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
		info.PlatformVersion = h.PlatformVersion
		if h.KernelArch != "" {
			info.KernelArch = h.KernelArch
		}
	} else {
		errs = multierr.Append(errs, fmt.Errorf("host: %w", err))
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	} else if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("cpu: %w", err))
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.Cores = n
	} else {
		info.Cores = runtime.NumCPU()
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryMB = vm.Total / (1 << 20)
	} else {
		errs = multierr.Append(errs, fmt.Errorf("memory: %w", err))
	}

	return info, errs
}

// Map flattens the description for stream headers.
func (h HostInfo) Map() map[string]string {
	m := map[string]string{
		"os":        h.OS,
		"arch":      h.KernelArch,
		"cores":     strconv.Itoa(h.Cores),
		"memory_mb": strconv.FormatUint(h.MemoryMB, 10),
	}
	for k, v := range map[string]string{
		"hostname":         h.Hostname,
		"platform":         h.Platform,
		"platform_version": h.PlatformVersion,
		"cpu":              h.CPUModel,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// Fields renders the description for structured logs.
func (h HostInfo) Fields() []zap.Field {
	return []zap.Field{
		zap.String("hostname", h.Hostname),
		zap.String("platform", h.Platform+" "+h.PlatformVersion),
		zap.String("arch", h.KernelArch),
		zap.String("cpu", h.CPUModel),
		zap.Int("cores", h.Cores),
		zap.Uint64("memory_mb", h.MemoryMB),
	}
}

func (h HostInfo) String() string {
	return fmt.Sprintf("%s (%s/%s) | CPU: %s x%d | RAM: %d MB", h.Hostname, h.OS, h.KernelArch, h.CPUModel, h.Cores, h.MemoryMB)
}
