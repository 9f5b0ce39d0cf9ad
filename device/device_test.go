package device

import (
	"errors"
	"fmt"
	"testing"
)

type fakeDevice struct {
	kind    Kind
	ordinal int
}

func (d *fakeDevice) Kind() Kind     { return d.kind }
func (d *fakeDevice) Ordinal() int   { return d.ordinal }
func (d *fakeDevice) Name() string   { return "fake" }
func (d *fakeDevice) Workers() int   { return 1 }
func (d *fakeDevice) String() string { return fmt.Sprintf("%s:%d", d.kind, d.ordinal) }

type fakeProbe struct {
	kind    Kind
	count   int
	opens   int
	openErr error
}

func (p *fakeProbe) Kind() Kind { return p.kind }
func (p *fakeProbe) Count() int { return p.count }

func (p *fakeProbe) Open(ordinal int) (Device, error) {
	p.opens++
	if p.openErr != nil {
		return nil, p.openErr
	}
	return &fakeDevice{kind: p.kind, ordinal: ordinal}, nil
}

func TestParsePreference(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "auto", false},
		{"AUTO", "auto", false},
		{" cpu ", "cpu:0", false},
		{"cpu:0", "cpu:0", false},
		{"gpu", "gpu", false},
		{"cuda", "cuda", false},
		{"cuda:1", "cuda:1", false},
		{"webgpu:0", "webgpu:0", false},
		{"cuda:x", "", true},
		{"cuda:-1", "", true},
		{"cpu:2", "", true},
		{"gpu:0", "", true},
		{"cuda:", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePreference(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPreference) {
					t.Fatalf("expected ErrInvalidPreference, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.String() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, p.String())
			}
		})
	}
}

func TestResolveAutoFallsBackToCPU(t *testing.T) {
	r := NewResolver(&fakeProbe{kind: CUDA, count: 0}, &fakeProbe{kind: WebGPU, count: 0})

	dev, err := r.Resolve("auto")
	if err != nil {
		t.Fatalf("resolve auto: %v", err)
	}
	if dev.Kind() != CPU {
		t.Errorf("expected cpu, got %s", dev.Kind())
	}
}

func TestResolveAutoPrefersHighestPriority(t *testing.T) {
	r := NewResolver(&fakeProbe{kind: WebGPU, count: 1}, &fakeProbe{kind: CUDA, count: 2})

	dev, err := r.Resolve("auto")
	if err != nil {
		t.Fatalf("resolve auto: %v", err)
	}
	if dev.Kind() != CUDA || dev.Ordinal() != 0 {
		t.Errorf("expected cuda:0, got %s", dev)
	}

	dev, err = r.Resolve("gpu")
	if err != nil {
		t.Fatalf("resolve gpu: %v", err)
	}
	if dev.Kind() != CUDA {
		t.Errorf("expected cuda for gpu preference, got %s", dev)
	}
}

func TestResolveAutoSkipsBrokenAccelerator(t *testing.T) {
	r := NewResolver(&fakeProbe{kind: CUDA, count: 1, openErr: errors.New("driver mismatch")})

	dev, err := r.Resolve("auto")
	if err != nil {
		t.Fatalf("resolve auto: %v", err)
	}
	if dev.Kind() != CPU {
		t.Errorf("expected cpu fallback, got %s", dev)
	}
}

func TestResolveExplicitUnavailable(t *testing.T) {
	r := NewResolver(&fakeProbe{kind: CUDA, count: 1})

	cases := []string{"webgpu", "cuda:3", "gpu", "mps", "metal", "tpu:0"}
	for _, pref := range cases {
		t.Run(pref, func(t *testing.T) {
			if pref == "gpu" {
				r = NewResolver(&fakeProbe{kind: CUDA, count: 0})
			}
			_, err := r.Resolve(pref)
			if !errors.Is(err, ErrDeviceUnavailable) {
				t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
			}
		})
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	probe := &fakeProbe{kind: CUDA, count: 2}
	r := NewResolver(probe)

	first, err := r.Resolve("cuda:1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := r.Resolve("CUDA:1")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if first != second {
		t.Error("expected the same device handle on repeated resolution")
	}
	if probe.opens != 1 {
		t.Errorf("expected 1 open, got %d", probe.opens)
	}
}

func TestAvailableOrder(t *testing.T) {
	r := NewResolver(&fakeProbe{kind: WebGPU, count: 1}, &fakeProbe{kind: CUDA, count: 1})

	kinds := r.Available()
	want := []Kind{CUDA, WebGPU, CPU}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestHostDevice(t *testing.T) {
	h := Host()
	if h.Kind() != CPU {
		t.Errorf("expected cpu host device, got %s", h.Kind())
	}
	if h.Workers() < 1 {
		t.Errorf("expected at least one worker, got %d", h.Workers())
	}
}
