package sysinfo

import (
	"fmt"
	"strings"
	"time"
)

// Fields renders the facts as labelled lines in a stable order, skipping
// facts that could not be collected.
func (f Facts) Fields() []Field {
	fields := []Field{
		{"timestamp", f.Timestamp.Format(time.RFC3339)},
		{"platform", f.Platform},
		{"go_version", f.GoVersion},
	}
	add := func(key, value string) {
		if value != "" {
			fields = append(fields, Field{key, value})
		}
	}
	add("system", f.System)
	add("release", f.Release)
	add("processor", f.Processor)
	add("hostname", f.Hostname)
	add("local_ip", f.LocalIP)
	add("cpu_percent", percent(f.CPUPercent))
	add("memory_percent", percent(f.MemoryPercent))
	add("disk_usage", percent(f.DiskPercent))
	return fields
}

// Title turns a snake_case key into "Title Case".
func Title(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func percent(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.1f", *v)
}
