// Package sysinfo sizes worker pools and checks memory headroom for the
// host the tools run on.
package sysinfo

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/bubblelab/bubblenet/internal/errors"
)

// CPUSpec describes the processor.
type CPUSpec struct {
	BrandName     string
	PhysicalCores int
	LogicalCores  int
}

// GetCPUSpec reads the processor description.
func GetCPUSpec() CPUSpec {
	return CPUSpec{
		BrandName:     cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
	}
}

// WorkerCount returns configured when positive. Otherwise it returns the
// physical core count, capped by the CPUs this process may use.
func (c CPUSpec) WorkerCount(configured int) int {
	if configured > 0 {
		return configured
	}
	available := runtime.GOMAXPROCS(0)
	if c.PhysicalCores > 0 {
		return min(c.PhysicalCores, available)
	}
	if c.LogicalCores > 0 {
		return min(c.LogicalCores, available)
	}
	return available
}

// MemoryCheck reports whether required bytes fit in the memory currently
// available.
type MemoryCheck struct {
	Required  uint64
	Available uint64
}

// Sufficient reports whether the requirement fits.
func (m MemoryCheck) Sufficient() bool {
	return m.Required <= m.Available
}

// CheckMemory compares required against available system memory.
func CheckMemory(required uint64) (MemoryCheck, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return MemoryCheck{Required: required}, errors.New(err).
			Component("sysinfo").
			Category(errors.CategorySystem).
			Build()
	}
	return MemoryCheck{Required: required, Available: v.Available}, nil
}

// Float64Bytes is the memory taken by n float64 values.
func Float64Bytes(n int) uint64 {
	if n <= 0 {
		return 0
	}
	return uint64(n) * 8
}
