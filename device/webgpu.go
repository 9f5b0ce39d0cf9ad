//go:build webgpu

package device

import (
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func init() {
	Register(&webgpuProbe{})
}

// WebGPUDevice wraps a WebGPU adapter with its logical device and queue.
type WebGPUDevice struct {
	ordinal int
	name    string
	vendor  string
	device  *wgpu.Device
	queue   *wgpu.Queue
	workers int
}

func (d *WebGPUDevice) Kind() Kind   { return WebGPU }
func (d *WebGPUDevice) Ordinal() int { return d.ordinal }
func (d *WebGPUDevice) Name() string { return d.name }
func (d *WebGPUDevice) Workers() int { return d.workers }

func (d *WebGPUDevice) String() string {
	return fmt.Sprintf("webgpu:%d (%s, %s)", d.ordinal, d.name, d.vendor)
}

type webgpuProbe struct {
	once     sync.Once
	instance *wgpu.Instance
	adapters []*wgpu.Adapter
}

func (p *webgpuProbe) Kind() Kind { return WebGPU }

func (p *webgpuProbe) init() {
	p.once.Do(func() {
		p.instance = wgpu.CreateInstance(nil)
		if p.instance == nil {
			klog.V(1).Info("webgpu instance unavailable")
			return
		}
		p.adapters = p.instance.EnumerateAdapters(nil)
		klog.V(1).Infof("webgpu: %d adapter(s)", len(p.adapters))
	})
}

func (p *webgpuProbe) Count() int {
	p.init()
	return len(p.adapters)
}

func (p *webgpuProbe) Open(ordinal int) (Device, error) {
	if ordinal < 0 || ordinal >= p.Count() {
		return nil, errors.Errorf("webgpu ordinal %d out of range", ordinal)
	}
	adapter := p.adapters[ordinal]
	info := adapter.GetInfo()
	dev, err := adapter.RequestDevice(nil)
	if err != nil {
		return nil, errors.Wrapf(err, "request device on %s", info.Name)
	}
	return &WebGPUDevice{
		ordinal: ordinal,
		name:    info.Name,
		vendor:  info.VendorName,
		device:  dev,
		queue:   dev.GetQueue(),
		workers: newCPUDevice().Workers(),
	}, nil
}
