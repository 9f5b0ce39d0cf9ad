// Package device resolves a user preference such as "auto", "cpu" or "cuda:1"
// into a concrete compute device. Accelerator probes register themselves from
// build-tagged files; the CPU probe is always present.
package device

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrDeviceUnavailable is returned when an explicitly requested device is
	// not present on this host.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrInvalidPreference is returned for malformed preferences, such as a
	// bad ordinal.
	ErrInvalidPreference = errors.New("invalid device preference")
)

// Kind identifies a family of compute devices.
type Kind int

const (
	CPU Kind = iota
	CUDA
	WebGPU
)

func (k Kind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	case WebGPU:
		return "webgpu"
	default:
		return "unknown"
	}
}

// priority orders accelerators for "auto" and "gpu". Higher wins.
func (k Kind) priority() int {
	switch k {
	case CUDA:
		return 2
	case WebGPU:
		return 1
	default:
		return 0
	}
}

// Device is an opened, ready-to-use compute device.
type Device interface {
	Kind() Kind
	Ordinal() int
	Name() string
	// Workers is the parallelism host kernels should use when running
	// numeric work on behalf of this device.
	Workers() int
	String() string
}

// Probe discovers and opens devices of one kind.
type Probe interface {
	Kind() Kind
	Count() int
	Open(ordinal int) (Device, error)
}

// Preference is a parsed device preference.
type Preference struct {
	Auto bool
	// AnyAccelerator selects the best available non-CPU device.
	AnyAccelerator bool
	Kind           Kind
	// Ordinal is -1 when no index was given.
	Ordinal int
}

// ParsePreference parses "auto", "cpu", "gpu", "cuda", "cuda:N", "webgpu"
// and "webgpu:N". Matching is case-insensitive.
func ParsePreference(s string) (Preference, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "auto" {
		return Preference{Auto: true, Ordinal: -1}, nil
	}

	name, idx, hasIdx := strings.Cut(s, ":")
	ordinal := -1
	if hasIdx {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return Preference{}, errors.Wrapf(ErrInvalidPreference, "bad ordinal in %q", s)
		}
		ordinal = n
	}

	switch name {
	case "cpu":
		if hasIdx && ordinal != 0 {
			return Preference{}, errors.Wrapf(ErrInvalidPreference, "cpu has a single ordinal, got %q", s)
		}
		return Preference{Kind: CPU, Ordinal: 0}, nil
	case "gpu":
		if hasIdx {
			return Preference{}, errors.Wrapf(ErrInvalidPreference, "gpu does not take an ordinal, got %q", s)
		}
		return Preference{AnyAccelerator: true, Ordinal: -1}, nil
	case "cuda":
		return Preference{Kind: CUDA, Ordinal: ordinal}, nil
	case "webgpu", "wgpu":
		return Preference{Kind: WebGPU, Ordinal: ordinal}, nil
	default:
		// Well-formed names of devices this build has no probe for.
		return Preference{}, errors.Wrapf(ErrDeviceUnavailable, "unknown device %q", s)
	}
}

func (p Preference) String() string {
	switch {
	case p.Auto:
		return "auto"
	case p.AnyAccelerator:
		return "gpu"
	case p.Ordinal >= 0:
		return fmt.Sprintf("%s:%d", p.Kind, p.Ordinal)
	default:
		return p.Kind.String()
	}
}

type deviceKey struct {
	kind    Kind
	ordinal int
}

// Resolver maps preferences to devices. Opened devices are cached, so
// resolving the same device twice returns the same handle without
// re-initialising the hardware.
type Resolver struct {
	mu     sync.Mutex
	probes map[Kind]Probe
	opened map[deviceKey]Device
}

// NewResolver creates a resolver over the given probes. A CPU probe is
// added if none is supplied.
func NewResolver(probes ...Probe) *Resolver {
	r := &Resolver{
		probes: make(map[Kind]Probe),
		opened: make(map[deviceKey]Device),
	}
	for _, p := range probes {
		r.probes[p.Kind()] = p
	}
	if _, ok := r.probes[CPU]; !ok {
		r.probes[CPU] = cpuProbe{}
	}
	return r
}

// Resolve parses pref and returns the matching device.
func (r *Resolver) Resolve(pref string) (Device, error) {
	p, err := ParsePreference(pref)
	if err != nil {
		return nil, err
	}
	return r.ResolvePreference(p)
}

// ResolvePreference returns the device for an already parsed preference.
func (r *Resolver) ResolvePreference(p Preference) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case p.Auto:
		if dev, ok := r.bestAcceleratorLocked(); ok {
			return dev, nil
		}
		return r.openLocked(CPU, 0)
	case p.AnyAccelerator:
		if dev, ok := r.bestAcceleratorLocked(); ok {
			return dev, nil
		}
		return nil, errors.Wrap(ErrDeviceUnavailable, "no accelerator present")
	}

	probe, ok := r.probes[p.Kind]
	if !ok || probe.Count() == 0 {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "%s", p)
	}
	ordinal := p.Ordinal
	if ordinal < 0 {
		ordinal = 0
	}
	if ordinal >= probe.Count() {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "%s: only %d device(s) present", p, probe.Count())
	}
	return r.openLocked(p.Kind, ordinal)
}

// Available lists every device kind that has at least one device, in
// resolution priority order.
func (r *Resolver) Available() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []Kind
	for k, p := range r.probes {
		if p.Count() > 0 {
			kinds = append(kinds, k)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].priority() > kinds[j].priority() })
	return kinds
}

func (r *Resolver) bestAcceleratorLocked() (Device, bool) {
	var best Probe
	for _, p := range r.probes {
		if p.Kind() == CPU || p.Count() == 0 {
			continue
		}
		if best == nil || p.Kind().priority() > best.Kind().priority() {
			best = p
		}
	}
	if best == nil {
		return nil, false
	}
	dev, err := r.openLocked(best.Kind(), 0)
	if err != nil {
		klog.Warningf("accelerator %s present but failed to open: %v", best.Kind(), err)
		return nil, false
	}
	return dev, true
}

func (r *Resolver) openLocked(kind Kind, ordinal int) (Device, error) {
	key := deviceKey{kind, ordinal}
	if dev, ok := r.opened[key]; ok {
		return dev, nil
	}
	probe, ok := r.probes[kind]
	if !ok {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "%s:%d", kind, ordinal)
	}
	dev, err := probe.Open(ordinal)
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "open %s:%d: %v", kind, ordinal, err)
	}
	klog.V(1).Infof("opened device %s", dev)
	r.opened[key] = dev
	return dev, nil
}

var (
	registryMu     sync.Mutex
	registered     []Probe
	defaultOnce    sync.Once
	defaultResolve *Resolver
)

// Register adds a probe to the process-wide resolver. It must be called
// from init functions, before the first call to Resolve.
func Register(p Probe) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registered = append(registered, p)
}

// Default returns the process-wide resolver built from the registered probes.
func Default() *Resolver {
	defaultOnce.Do(func() {
		registryMu.Lock()
		defer registryMu.Unlock()
		defaultResolve = NewResolver(registered...)
	})
	return defaultResolve
}

// Resolve resolves pref against the process-wide resolver.
func Resolve(pref string) (Device, error) {
	return Default().Resolve(pref)
}
