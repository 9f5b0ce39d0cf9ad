package device

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

// CPUDevice is the host processor.
type CPUDevice struct {
	brand    string
	workers  int
	features []string
}

func (d *CPUDevice) Kind() Kind   { return CPU }
func (d *CPUDevice) Ordinal() int { return 0 }
func (d *CPUDevice) Name() string { return d.brand }
func (d *CPUDevice) Workers() int { return d.workers }

// Features lists the SIMD extensions reported by the processor.
func (d *CPUDevice) Features() []string { return d.features }

func (d *CPUDevice) String() string {
	if len(d.features) == 0 {
		return fmt.Sprintf("cpu:0 (%s, %d workers)", d.brand, d.workers)
	}
	return fmt.Sprintf("cpu:0 (%s, %d workers, %s)", d.brand, d.workers, strings.Join(d.features, " "))
}

type cpuProbe struct{}

func (cpuProbe) Kind() Kind { return CPU }
func (cpuProbe) Count() int { return 1 }

func (cpuProbe) Open(ordinal int) (Device, error) {
	if ordinal != 0 {
		return nil, errors.Errorf("cpu ordinal %d out of range", ordinal)
	}
	return newCPUDevice(), nil
}

func newCPUDevice() *CPUDevice {
	workers := runtime.GOMAXPROCS(0)
	if cores := cpuid.CPU.LogicalCores; cores > 0 && cores < workers {
		workers = cores
	}
	if workers < 1 {
		workers = 1
	}

	brand := strings.TrimSpace(cpuid.CPU.BrandName)
	if brand == "" {
		brand = runtime.GOARCH
	}

	var features []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.AVX512F, "avx512f"},
		{cpuid.AVX2, "avx2"},
		{cpuid.FMA3, "fma3"},
		{cpuid.ASIMD, "asimd"},
	} {
		if cpuid.CPU.Supports(f.id) {
			features = append(features, f.name)
		}
	}

	return &CPUDevice{brand: brand, workers: workers, features: features}
}

// Host returns a CPU device without going through a resolver. Tensors that
// were never placed report this device.
func Host() Device {
	return hostDevice
}

var hostDevice = newCPUDevice()
