package training

import (
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/tensor"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                                                                // Total number of samples
	Get(idx int) (features *tensor.Tensor, label *tensor.Tensor, err error) // Returns a single sample
}

// Batch is one group of samples. Features are [batch, feature_dim...] and
// labels are [batch, ...]. Consumers must not mutate either tensor.
type Batch struct {
	Features *tensor.Tensor
	Labels   *tensor.Tensor
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	if b == nil || b.Features == nil || len(b.Features.Shape) == 0 {
		return 0
	}
	return b.Features.Shape[0]
}

// BatchProvider is a finite, repeatable sequence of batches. Reset starts a
// new pass; every pass must yield the same total number of samples. Next
// returns a nil batch once the pass is exhausted.
type BatchProvider interface {
	Len() int
	Reset() error
	HasNext() bool
	Next() (*Batch, error)
}

// DataLoader provides batching and seeded shuffling over a Dataset. The last
// batch of a pass may be smaller than batchSize.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader. When shuffle is set, each Reset
// permutes the sample order using a generator seeded with seed.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) (*DataLoader, error) {
	if dataset == nil {
		return nil, errors.New("nil dataset")
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// Samples returns the number of samples in an epoch.
func (dl *DataLoader) Samples() int {
	return len(dl.indices)
}

// BatchSize returns the configured batch size.
func (dl *DataLoader) BatchSize() int {
	return dl.batchSize
}

// Reset resets the data loader for a new epoch
func (dl *DataLoader) Reset() error {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
	return nil
}

// HasNext returns true if there are more batches in the current epoch
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// Next returns the next batch or nil if epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil
	}

	end := dl.position + dl.batchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:end]
	dl.position = end

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, errors.Wrap(err, "load batch")
	}
	return batch, nil
}

// loadBatch stacks the samples at indices into batched tensors.
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	firstData, firstLabel, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, errors.Wrapf(err, "sample %d", indices[0])
	}

	n := len(indices)
	dataShape := append([]int{n}, firstData.Shape...)
	labelShape := append([]int{n}, firstLabel.Shape...)
	dataStride, labelStride := len(firstData.Data), len(firstLabel.Data)
	data := make([]float64, 0, n*dataStride)
	labels := make([]float64, 0, n*labelStride)

	for i, idx := range indices {
		x, y := firstData, firstLabel
		if i > 0 {
			x, y, err = dl.dataset.Get(idx)
			if err != nil {
				return nil, errors.Wrapf(err, "sample %d", idx)
			}
		}
		if len(x.Data) != dataStride || len(y.Data) != labelStride {
			return nil, errors.Wrapf(tensor.ErrShape, "sample %d has shapes %v/%v, expected %v/%v",
				idx, x.Shape, y.Shape, firstData.Shape, firstLabel.Shape)
		}
		data = append(data, x.Data...)
		labels = append(labels, y.Data...)
	}

	features, err := tensor.NewTensor(dataShape, data, firstData.Device)
	if err != nil {
		return nil, err
	}
	labelTensor, err := tensor.NewTensor(labelShape, labels, firstLabel.Device)
	if err != nil {
		return nil, err
	}
	return &Batch{Features: features, Labels: labelTensor}, nil
}
