// Package training runs the epoch loop: train and validate phases over batch
// providers, sample-weighted losses, pluggable metrics, best-model
// checkpointing and asynchronous progress reporting.
package training

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-regress/checkpoints"
	"github.com/tsawler/go-regress/device"
	"github.com/tsawler/go-regress/tensor"
)

// State is the lifecycle of a Trainer.
type State int32

const (
	Idle State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithProgress emits one EpochMetrics per completed epoch on p.
func WithProgress(p *Progress) Option {
	return func(t *Trainer) { t.progress = p }
}

// WithMetric replaces the validation metric. By default channel-first losses
// get ArgmaxAccuracy and all others ToleranceAccuracy(DefaultTolerance).
func WithMetric(m MetricReducer) Option {
	return func(t *Trainer) { t.metric = m }
}

// WithCheckpointer replaces the binary CheckpointSaver used for best-model
// snapshots.
func WithCheckpointer(c Checkpointer) Option {
	return func(t *Trainer) { t.checkpointer = c }
}

// WithResolver resolves the device preference with r instead of the process
// default resolver.
func WithResolver(r *device.Resolver) Option {
	return func(t *Trainer) { t.resolver = r }
}

// Trainer manages the training process
type Trainer struct {
	model        Model
	optimizer    Optimizer
	criterion    Loss
	device       device.Device
	resolver     *device.Resolver
	metric       MetricReducer
	progress     *Progress
	checkpointer Checkpointer

	state atomic.Int32

	mu            sync.Mutex
	history       []EpochMetrics
	bestValidLoss float64
}

// NewTrainer resolves devicePreference and places the model on the
// resulting device. The device is fixed for the lifetime of the Trainer.
func NewTrainer(model Model, optimizer Optimizer, criterion Loss, devicePreference string, opts ...Option) (*Trainer, error) {
	if model == nil || optimizer == nil || criterion == nil {
		return nil, errors.New("model, optimizer and loss are required")
	}

	t := &Trainer{
		model:         model,
		optimizer:     optimizer,
		criterion:     criterion,
		bestValidLoss: math.Inf(1),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.resolver == nil {
		t.resolver = device.Default()
	}
	if t.metric == nil {
		t.metric = defaultMetric(criterion)
	}
	if t.checkpointer == nil {
		t.checkpointer = checkpoints.NewCheckpointSaver(checkpoints.FormatBinary)
	}

	dev, err := t.resolver.Resolve(devicePreference)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve device %q", devicePreference)
	}
	t.device = dev

	if p, ok := model.(Placer); ok {
		if err := p.To(dev); err != nil {
			return nil, errors.Wrapf(err, "place model on %s", dev)
		}
	}
	klog.V(1).Infof("trainer using %s", dev)
	return t, nil
}

// Device returns the resolved device.
func (t *Trainer) Device() device.Device { return t.device }

// State returns the current lifecycle state. It is safe to call from any
// goroutine.
func (t *Trainer) State() State { return State(t.state.Load()) }

// History returns the metrics of every completed epoch of the last Fit.
func (t *Trainer) History() []EpochMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]EpochMetrics(nil), t.history...)
}

// BestValidLoss returns the smallest validation loss of the last Fit, or
// +Inf before any epoch completed.
func (t *Trainer) BestValidLoss() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bestValidLoss
}

// begin claims the trainer and returns the state it replaced.
func (t *Trainer) begin() (State, bool) {
	for {
		cur := t.state.Load()
		if State(cur) == Running {
			return Running, false
		}
		if t.state.CompareAndSwap(cur, int32(Running)) {
			return State(cur), true
		}
	}
}

// Fit runs epochs train and validate passes. After each epoch it emits the
// epoch's metrics and, when checkpointPath is set, snapshots the model
// whenever the validation loss strictly improves. Any error aborts the run
// with a *PhaseError and leaves the trainer Failed; the epoch in progress is
// not reported. ctx is checked between batches.
func (t *Trainer) Fit(ctx context.Context, train, valid BatchProvider, epochs int, checkpointPath string) error {
	if epochs <= 0 {
		return errors.Errorf("epochs must be positive, got %d", epochs)
	}
	if train == nil || valid == nil {
		return errors.New("train and validation providers are required")
	}
	if _, ok := t.begin(); !ok {
		return ErrTrainerBusy
	}

	t.mu.Lock()
	t.history = nil
	t.bestValidLoss = math.Inf(1)
	t.mu.Unlock()

	if err := t.run(ctx, train, valid, epochs, checkpointPath); err != nil {
		t.state.Store(int32(Failed))
		return err
	}
	t.state.Store(int32(Completed))
	return nil
}

func (t *Trainer) run(ctx context.Context, train, valid BatchProvider, epochs int, checkpointPath string) error {
	ev := &evaluator{model: t.model, loss: t.criterion, device: t.device}
	best := math.Inf(1)

	for epoch := 0; epoch < epochs; epoch++ {
		trainLoss, err := t.trainEpoch(ctx, ev, train, epoch)
		if err != nil {
			return err
		}

		t.model.Eval()
		validLoss, _, batch, err := ev.evaluate(ctx, valid, t.metric)
		if err != nil {
			return &PhaseError{Epoch: epoch, Phase: PhaseValidate, Batch: batch, Err: err}
		}

		m := EpochMetrics{
			EpochIndex:    epoch,
			TrainLoss:     trainLoss,
			ValidLoss:     validLoss,
			ValidAccuracy: t.metric.Value(),
		}
		t.mu.Lock()
		t.history = append(t.history, m)
		t.mu.Unlock()
		if t.progress != nil {
			t.progress.Emit(m)
		}
		klog.Infof("Epoch [%d/%d] - Train Loss: %.4f - Valid Loss: %.4f - Accuracy: %.2f%%",
			epoch+1, epochs, m.TrainLoss, m.ValidLoss, m.ValidAccuracy*100)

		if m.ValidLoss < best {
			best = m.ValidLoss
			t.mu.Lock()
			t.bestValidLoss = best
			t.mu.Unlock()
			if checkpointPath != "" {
				if err := t.saveBest(m, checkpointPath); err != nil {
					return &PhaseError{Epoch: epoch, Phase: PhaseCheckpoint, Batch: -1, Err: err}
				}
				klog.Infof("Model's parameters saved to %s", checkpointPath)
			}
		}
	}
	return nil
}

// trainEpoch runs one training epoch and returns the sample-weighted loss.
func (t *Trainer) trainEpoch(ctx context.Context, ev *evaluator, provider BatchProvider, epoch int) (float64, error) {
	t.model.Train()

	var sum float64
	var count int
	batch, err := forEachBatch(ctx, provider, func(i int, b *Batch) error {
		t.optimizer.ZeroGrad()

		pred, labels, err := ev.reconcile(b)
		if err != nil {
			return err
		}
		loss, err := ev.loss.Forward(pred, labels)
		if err != nil {
			return errors.Wrap(err, "loss")
		}
		value, err := loss.Item()
		if err != nil {
			return errors.Wrap(err, "loss value")
		}
		if err := loss.Backward(); err != nil {
			return errors.Wrap(err, "backward")
		}
		if err := t.optimizer.Step(); err != nil {
			return errors.Wrap(err, "optimizer step")
		}

		n := b.Size()
		sum += value * float64(n)
		count += n
		klog.V(2).Infof("epoch %d batch %d: loss %.6f (%d samples)", epoch, i, value, n)
		return nil
	})
	if err != nil {
		return 0, &PhaseError{Epoch: epoch, Phase: PhaseTrain, Batch: batch, Err: err}
	}
	if count == 0 {
		return 0, &PhaseError{Epoch: epoch, Phase: PhaseTrain, Batch: -1, Err: ErrNoSamples}
	}
	return sum / float64(count), nil
}

// forEachBatch resets p and calls fn for every batch of one pass. On error
// it returns the index of the failing batch, or -1 when the failure is not
// tied to a batch.
func forEachBatch(ctx context.Context, p BatchProvider, fn func(i int, b *Batch) error) (int, error) {
	if err := p.Reset(); err != nil {
		return -1, errors.Wrap(err, "reset provider")
	}
	for i := 0; p.HasNext(); i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		b, err := p.Next()
		if err != nil {
			return i, errors.Wrap(err, "next batch")
		}
		if b == nil {
			break
		}
		if b.Features == nil || b.Labels == nil {
			return i, errors.New("batch without features or labels")
		}
		if err := fn(i, b); err != nil {
			return i, err
		}
	}
	return -1, nil
}

// evaluator holds the per-run pieces shared by training, validation and
// standalone evaluation: where batches go and how predictions are
// reconciled with labels.
type evaluator struct {
	model  Model
	loss   Loss
	device device.Device
	plan   *layoutPlan
}

// reconcile copies b to the device, runs the model and applies the layout
// plan, deriving it from the first batch seen.
func (e *evaluator) reconcile(b *Batch) (*tensor.Tensor, *tensor.Tensor, error) {
	x := b.Features.ToDevice(e.device)
	y := b.Labels.ToDevice(e.device)

	pred, err := forward(e.model, x)
	if err != nil {
		return nil, nil, errors.Wrap(err, "forward")
	}
	if e.plan == nil {
		plan, err := planLayout(e.loss, modelLayout(e.model), pred, y)
		if err != nil {
			return nil, nil, err
		}
		e.plan = plan
		klog.V(1).Infof("layout plan: predictions %v, labels %v, move channel %t, reshape labels %t",
			pred.Shape, y.Shape, plan.moveChannel, plan.reshapeLabels)
	}
	return e.plan.apply(pred, y)
}

// evaluate runs one pass without optimizer steps and returns the
// sample-weighted loss and sample count. The model must already be in eval
// mode. Reducers are reset first.
func (e *evaluator) evaluate(ctx context.Context, p BatchProvider, reducers ...MetricReducer) (float64, int, int, error) {
	for _, r := range reducers {
		r.Reset()
	}

	var sum float64
	var count int
	batch, err := forEachBatch(ctx, p, func(i int, b *Batch) error {
		pred, labels, err := e.reconcile(b)
		if err != nil {
			return err
		}
		loss, err := e.loss.Forward(pred, labels)
		if err != nil {
			return errors.Wrap(err, "loss")
		}
		value, err := loss.Item()
		if err != nil {
			return errors.Wrap(err, "loss value")
		}
		for _, r := range reducers {
			if err := r.Update(pred, labels); err != nil {
				return errors.Wrapf(err, "metric %s", r.Name())
			}
		}
		n := b.Size()
		sum += value * float64(n)
		count += n
		return nil
	})
	if err != nil {
		return 0, count, batch, err
	}
	if count == 0 {
		return 0, 0, -1, ErrNoSamples
	}
	return sum / float64(count), count, -1, nil
}
