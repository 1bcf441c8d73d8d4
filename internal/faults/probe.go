package faults

import (
	"runtime"
	"runtime/metrics"
	"sync"
)

const mb = 1024 * 1024

// Usage is a snapshot of process resource consumption.
type Usage struct {
	HeapMB     float64
	CPUPercent float64
	Goroutines int
}

// ResourceProbe samples process resource usage.
type ResourceProbe interface {
	Sample() Usage
}

// RuntimeProbe reads usage from the Go runtime. CPU usage is measured
// between consecutive samples.
type RuntimeProbe struct {
	mu        sync.Mutex
	lastTotal float64
	lastIdle  float64
}

// NewRuntimeProbe creates a RuntimeProbe.
func NewRuntimeProbe() *RuntimeProbe {
	return &RuntimeProbe{}
}

// Sample implements ResourceProbe.
func (p *RuntimeProbe) Sample() Usage {
	samples := []metrics.Sample{
		{Name: "/memory/classes/heap/objects:bytes"},
		{Name: "/cpu/classes/total:cpu-seconds"},
		{Name: "/cpu/classes/idle:cpu-seconds"},
	}
	metrics.Read(samples)

	heap := uint64Value(samples[0])
	total := float64Value(samples[1])
	idle := float64Value(samples[2])

	p.mu.Lock()
	dTotal := total - p.lastTotal
	dIdle := idle - p.lastIdle
	p.lastTotal, p.lastIdle = total, idle
	p.mu.Unlock()

	var cpu float64
	if dTotal > 0 {
		cpu = (dTotal - dIdle) / dTotal * 100
	}

	return Usage{
		HeapMB:     float64(heap) / mb,
		CPUPercent: cpu,
		Goroutines: runtime.NumGoroutine(),
	}
}

func uint64Value(s metrics.Sample) uint64 {
	if s.Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s.Value.Uint64()
}

func float64Value(s metrics.Sample) float64 {
	if s.Value.Kind() != metrics.KindFloat64 {
		return 0
	}
	return s.Value.Float64()
}

// StaticProbe reports a fixed usage.
type StaticProbe Usage

// Sample implements ResourceProbe.
func (p StaticProbe) Sample() Usage {
	return Usage(p)
}
