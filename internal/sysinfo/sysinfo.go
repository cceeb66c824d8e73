// Package sysinfo gathers best-effort host facts attached to every capture.
package sysinfo

import (
	"context"
	"log/slog"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// CPUSampleWindow is how long CPU utilization is measured for.
const CPUSampleWindow = time.Second

// Facts is a snapshot of the host. Zero values mean the fact could not be read.
type Facts struct {
	Timestamp     time.Time `json:"timestamp"`
	Platform      string    `json:"platform"`
	GoVersion     string    `json:"go_version"`
	System        string    `json:"system,omitempty"`
	Release       string    `json:"release,omitempty"`
	Processor     string    `json:"processor,omitempty"`
	Hostname      string    `json:"hostname,omitempty"`
	LocalIP       string    `json:"local_ip,omitempty"`
	CPUPercent    *float64  `json:"cpu_percent,omitempty"`
	MemoryPercent *float64  `json:"memory_percent,omitempty"`
	DiskPercent   *float64  `json:"disk_usage,omitempty"`
}

// Field is one labelled fact, in display order.
type Field struct {
	Key   string
	Value string
}

// Source abstracts the platform readers so collection can be tested.
type Source interface {
	HostInfo(ctx context.Context) (*host.InfoStat, error)
	CPUModel(ctx context.Context) (string, error)
	CPUPercent(ctx context.Context, window time.Duration) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context, path string) (float64, error)
	Hostname() (string, error)
	LocalIP(ctx context.Context, hostname string) (string, error)
}

// Collector gathers Facts from a Source.
type Collector struct {
	src      Source
	diskPath string
	window   time.Duration
	now      func() time.Time
}

// NewCollector creates a collector reading the live host.
func NewCollector() *Collector {
	return NewCollectorWithSource(liveSource{})
}

// NewCollectorWithSource creates a collector over src.
func NewCollectorWithSource(src Source) *Collector {
	return &Collector{src: src, diskPath: rootPath(), window: CPUSampleWindow, now: time.Now}
}

// Collect never fails: every read error is logged at debug level and the
// corresponding fact is left empty.
func (c *Collector) Collect(ctx context.Context) Facts {
	f := Facts{
		Timestamp: c.now(),
		Platform:  runtime.GOOS,
		GoVersion: runtime.Version(),
	}
	log := slog.Default().With("component", "sysinfo")

	if info, err := c.src.HostInfo(ctx); err != nil {
		log.Debug("host info unavailable", "error", err)
	} else if info != nil {
		f.System = info.OS
		f.Release = info.PlatformVersion
		if info.KernelVersion != "" {
			f.Release = info.KernelVersion
		}
		f.Hostname = info.Hostname
	}
	if model, err := c.src.CPUModel(ctx); err != nil {
		log.Debug("cpu model unavailable", "error", err)
	} else {
		f.Processor = model
	}
	if f.Hostname == "" {
		if h, err := c.src.Hostname(); err == nil {
			f.Hostname = h
		}
	}
	if ip, err := c.src.LocalIP(ctx, f.Hostname); err != nil {
		log.Debug("local ip unavailable", "error", err)
	} else {
		f.LocalIP = ip
	}
	if v, err := c.src.CPUPercent(ctx, c.window); err != nil {
		log.Debug("cpu percent unavailable", "error", err)
	} else {
		f.CPUPercent = &v
	}
	if v, err := c.src.MemoryPercent(ctx); err != nil {
		log.Debug("memory percent unavailable", "error", err)
	} else {
		f.MemoryPercent = &v
	}
	if v, err := c.src.DiskPercent(ctx, c.diskPath); err != nil {
		log.Debug("disk percent unavailable", "error", err)
	} else {
		f.DiskPercent = &v
	}
	return f
}

func rootPath() string {
	if runtime.GOOS == "windows" {
		if d := os.Getenv("SystemDrive"); d != "" {
			return d + `\`
		}
		return `C:\`
	}
	return "/"
}

type liveSource struct{}

func (liveSource) HostInfo(ctx context.Context) (*host.InfoStat, error) {
	return host.InfoWithContext(ctx)
}

func (liveSource) CPUModel(ctx context.Context) (string, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return runtime.GOARCH, nil
	}
	return infos[0].ModelName, nil
}

func (liveSource) CPUPercent(ctx context.Context, window time.Duration) (float64, error) {
	vals, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, nil
	}
	return vals[0], nil
}

func (liveSource) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (liveSource) DiskPercent(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

func (liveSource) Hostname() (string, error) {
	return os.Hostname()
}

// LocalIP resolves the hostname first and falls back to the first
// non-loopback interface address.
func (liveSource) LocalIP(ctx context.Context, hostname string) (string, error) {
	if hostname != "" {
		if addrs, err := net.DefaultResolver.LookupIPAddr(ctx, hostname); err == nil {
			for _, a := range addrs {
				if v4 := a.IP.To4(); v4 != nil {
					return v4.String(), nil
				}
			}
		}
	}
	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, a := range ifaceAddrs {
		if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if v4 := ipNet.IP.To4(); v4 != nil {
				return v4.String(), nil
			}
		}
	}
	return "127.0.0.1", nil
}
