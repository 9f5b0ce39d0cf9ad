// Package async prepares batches in the background so that the next batch is
// usually ready by the time the training loop asks for it.
package async

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-regress/device"
	"github.com/tsawler/go-regress/training"
)

// DefaultPrefetchDepth is the number of batches kept ready when the
// configuration leaves the depth unset.
const DefaultPrefetchDepth = 3

// PrefetcherConfig holds configuration for a Prefetcher.
type PrefetcherConfig struct {
	PrefetchDepth int           // Number of batches to prepare ahead (default: 3)
	Device        device.Device // Optional; batches are copied here in the background
}

type item struct {
	batch *training.Batch
	err   error
}

// Prefetcher wraps a BatchProvider and reads up to PrefetchDepth batches
// ahead of the consumer on a background goroutine. It is itself a
// BatchProvider and yields the source batches in the same order.
//
// HasNext and Next must be called from one goroutine. Stop and Stats may be
// called from anywhere.
type Prefetcher struct {
	source training.BatchProvider
	depth  int
	device device.Device
	parent context.Context

	mutex   sync.Mutex
	cancel  context.CancelFunc
	items   chan item
	wg      sync.WaitGroup
	pending *item
	drained atomic.Bool

	produced atomic.Uint64
	passes   atomic.Uint64
}

// NewPrefetcher creates a Prefetcher over source. Production stops when ctx
// is cancelled; the consumer then sees ctx's error from Next.
func NewPrefetcher(ctx context.Context, source training.BatchProvider, config PrefetcherConfig) (*Prefetcher, error) {
	if source == nil {
		return nil, errors.New("source cannot be nil")
	}
	if config.PrefetchDepth < 0 {
		return nil, errors.Errorf("prefetch depth must not be negative, got %d", config.PrefetchDepth)
	}
	if config.PrefetchDepth == 0 {
		config.PrefetchDepth = DefaultPrefetchDepth
	}
	return &Prefetcher{
		source: source,
		depth:  config.PrefetchDepth,
		device: config.Device,
		parent: ctx,
	}, nil
}

// Len returns the number of batches per pass of the source.
func (p *Prefetcher) Len() int { return p.source.Len() }

// Reset abandons the current pass, resets the source and starts reading the
// next pass in the background.
func (p *Prefetcher) Reset() error {
	p.Stop()

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err := p.source.Reset(); err != nil {
		return errors.Wrap(err, "reset source")
	}
	ctx, cancel := context.WithCancel(p.parent)
	items := make(chan item, p.depth)
	p.cancel = cancel
	p.items = items
	p.pending = nil
	p.drained.Store(false)
	p.passes.Add(1)

	p.wg.Add(1)
	go p.produce(ctx, items)
	klog.V(2).Infof("prefetch pass %d started (depth %d)", p.passes.Load(), p.depth)
	return nil
}

// Stop cancels the background reader and waits for it to exit. Batches
// already prepared are discarded. It is safe to call more than once.
func (p *Prefetcher) Stop() {
	p.mutex.Lock()
	cancel, items := p.cancel, p.items
	p.cancel, p.items = nil, nil
	p.mutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	for range items {
	}
	p.wg.Wait()
}

// HasNext blocks until the next batch is ready or the pass ends.
func (p *Prefetcher) HasNext() bool {
	if p.pending != nil {
		return true
	}
	p.mutex.Lock()
	items := p.items
	p.mutex.Unlock()
	if items == nil {
		return false
	}

	it, ok := <-items
	if !ok {
		// Stopped early because the caller's context ended.
		if !p.drained.Load() && p.parent.Err() != nil {
			p.pending = &item{err: p.parent.Err()}
			return true
		}
		return false
	}
	p.pending = &it
	return true
}

// Next returns the next prepared batch, or nil once the pass is exhausted.
func (p *Prefetcher) Next() (*training.Batch, error) {
	if !p.HasNext() {
		return nil, nil
	}
	it := *p.pending
	p.pending = nil
	return it.batch, it.err
}

func (p *Prefetcher) produce(ctx context.Context, items chan<- item) {
	defer p.wg.Done()
	defer close(items)

	for p.source.HasNext() {
		if ctx.Err() != nil {
			return
		}
		b, err := p.source.Next()
		if err == nil && b != nil && p.device != nil {
			b = &training.Batch{
				Features: b.Features.ToDevice(p.device),
				Labels:   b.Labels.ToDevice(p.device),
			}
		}
		if err == nil && b == nil {
			break
		}

		select {
		case items <- item{batch: b, err: err}:
			p.produced.Add(1)
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
	p.drained.Store(true)
}

// Stats returns statistics about the prefetcher.
func (p *Prefetcher) Stats() PrefetcherStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	s := PrefetcherStats{
		IsRunning:       p.items != nil && !p.drained.Load(),
		BatchesProduced: p.produced.Load(),
		Passes:          p.passes.Load(),
		QueueCapacity:   p.depth,
	}
	if p.items != nil {
		s.QueuedBatches = len(p.items)
	}
	return s
}

// PrefetcherStats provides statistics about the prefetcher.
type PrefetcherStats struct {
	IsRunning       bool
	BatchesProduced uint64
	QueuedBatches   int
	QueueCapacity   int
	Passes          uint64
}
