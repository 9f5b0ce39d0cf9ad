//go:build cuda

package device

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/cu"
	"k8s.io/klog/v2"
)

func init() {
	Register(&cudaProbe{})
}

// CUDADevice is an NVIDIA device with a primary context created on open.
type CUDADevice struct {
	ordinal  int
	name     string
	totalMem int64
	major    int
	ctx      cu.CUContext
	workers  int
}

func (d *CUDADevice) Kind() Kind   { return CUDA }
func (d *CUDADevice) Ordinal() int { return d.ordinal }
func (d *CUDADevice) Name() string { return d.name }
func (d *CUDADevice) Workers() int { return d.workers }

// TotalMem reports device memory in bytes.
func (d *CUDADevice) TotalMem() int64 { return d.totalMem }

func (d *CUDADevice) String() string {
	return fmt.Sprintf("cuda:%d (%s, sm_%d, %d MiB)", d.ordinal, d.name, d.major, d.totalMem>>20)
}

type cudaProbe struct {
	once  sync.Once
	count int
}

func (p *cudaProbe) Kind() Kind { return CUDA }

func (p *cudaProbe) Count() int {
	p.once.Do(func() {
		n, err := cu.NumDevices()
		if err != nil {
			klog.V(1).Infof("cuda not usable: %v", err)
			return
		}
		p.count = n
		klog.V(1).Infof("cuda version %d, %d device(s)", cu.Version(), n)
	})
	return p.count
}

func (p *cudaProbe) Open(ordinal int) (Device, error) {
	if ordinal < 0 || ordinal >= p.Count() {
		return nil, errors.Errorf("cuda ordinal %d out of range", ordinal)
	}
	dev, err := cu.GetDevice(ordinal)
	if err != nil {
		return nil, errors.Wrap(err, "get device")
	}
	name, err := dev.Name()
	if err != nil {
		return nil, errors.Wrap(err, "device name")
	}
	mem, err := dev.TotalMem()
	if err != nil {
		return nil, errors.Wrap(err, "device memory")
	}
	major, err := dev.Attribute(cu.ComputeCapabilityMajor)
	if err != nil {
		return nil, errors.Wrap(err, "compute capability")
	}
	ctx, err := dev.MakeContext(cu.SchedAuto)
	if err != nil {
		return nil, errors.Wrap(err, "make context")
	}
	return &CUDADevice{
		ordinal:  ordinal,
		name:     name,
		totalMem: mem,
		major:    major,
		ctx:      ctx,
		workers:  newCPUDevice().Workers(),
	}, nil
}
