package training

import "sync"

// EpochMetrics is the record emitted once per completed epoch. It is a plain
// value and safe to share between goroutines. The JSON field order is the
// dashboard wire format.
type EpochMetrics struct {
	EpochIndex    int     `json:"epoch_index"`
	TrainLoss     float64 `json:"train_loss"`
	ValidLoss     float64 `json:"valid_loss"`
	ValidAccuracy float64 `json:"valid_accuracy"`
}

// Observer receives epoch events on the progress goroutine.
type Observer interface {
	OnEpoch(m EpochMetrics)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(m EpochMetrics)

func (f ObserverFunc) OnEpoch(m EpochMetrics) { f(m) }

// Progress delivers epoch events from a single producer to observers on a
// separate goroutine. Emit appends to an unbounded queue and never waits for
// an observer. Events reach every observer in emission order. Emit is a
// no-op while no observer is attached.
type Progress struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []EpochMetrics
	observers []Observer
	channels  []chan EpochMetrics
	started   bool
	closed    bool
	done      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
}

func NewProgress() *Progress {
	p := &Progress{done: make(chan struct{}), closing: make(chan struct{})}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Attach registers an observer. It sees events emitted after it is attached.
func (p *Progress) Attach(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.observers = append(p.observers, o)
	if !p.started {
		p.started = true
		go p.pump()
	}
}

// Channel attaches an observer that forwards events to the returned
// channel. A slow reader only delays the progress goroutine, never the
// producer. The channel is closed by Close once pending events are delivered;
// after Close starts, events that do not fit in the buffer of an unread
// channel are dropped.
func (p *Progress) Channel(buffer int) <-chan EpochMetrics {
	ch := make(chan EpochMetrics, buffer)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		close(ch)
		return ch
	}
	p.channels = append(p.channels, ch)
	p.mu.Unlock()

	p.Attach(ObserverFunc(func(m EpochMetrics) {
		select {
		case ch <- m:
			return
		default:
		}
		select {
		case ch <- m:
		case <-p.closing:
		}
	}))
	return ch
}

// Emit queues m for delivery.
func (p *Progress) Emit(m EpochMetrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.observers) == 0 {
		return
	}
	p.queue = append(p.queue, m)
	p.cond.Signal()
}

// Close delivers every queued event, stops the progress goroutine and
// closes channels returned by Channel. It is safe to call more than once.
func (p *Progress) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		started := p.started
		p.cond.Signal()
		p.mu.Unlock()
		close(p.closing)

		if started {
			<-p.done
		}
		for _, ch := range p.channels {
			close(ch)
		}
	})
}

func (p *Progress) pump() {
	defer close(p.done)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		pending := p.queue
		p.queue = nil
		observers := append([]Observer(nil), p.observers...)
		p.mu.Unlock()

		for _, m := range pending {
			for _, o := range observers {
				o.OnEpoch(m)
			}
		}
	}
}
