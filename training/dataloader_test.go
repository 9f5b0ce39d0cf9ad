package training

import (
	"sort"
	"testing"

	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/tensor"
)

// rowDataset returns sample i as features [i, -i] and label [i].
type rowDataset struct {
	n      int
	failAt int
	ragged int
}

func (d rowDataset) Len() int { return d.n }

func (d rowDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if d.failAt > 0 && idx == d.failAt {
		return nil, nil, errors.New("unreadable row")
	}
	features := []float64{float64(idx), -float64(idx)}
	if d.ragged > 0 && idx == d.ragged {
		features = append(features, 0)
	}
	x, err := tensor.NewTensor([]int{len(features)}, features, nil)
	if err != nil {
		return nil, nil, err
	}
	y, err := tensor.NewTensor([]int{1}, []float64{float64(idx)}, nil)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func labelsOf(t *testing.T, p BatchProvider) ([]float64, []int) {
	t.Helper()
	if err := p.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	var labels []float64
	var sizes []int
	for p.HasNext() {
		b, err := p.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		labels = append(labels, b.Labels.Data...)
		sizes = append(sizes, b.Size())
	}
	return labels, sizes
}

func TestDataLoaderBatches(t *testing.T) {
	dl, err := NewDataLoader(rowDataset{n: 10}, 4, false, 1)
	if err != nil {
		t.Fatalf("NewDataLoader: %v", err)
	}
	if dl.Len() != 3 || dl.Samples() != 10 || dl.BatchSize() != 4 {
		t.Errorf("unexpected sizes: len=%d samples=%d batch=%d", dl.Len(), dl.Samples(), dl.BatchSize())
	}

	labels, sizes := labelsOf(t, dl)
	if len(sizes) != 3 || sizes[0] != 4 || sizes[1] != 4 || sizes[2] != 2 {
		t.Errorf("expected batch sizes [4 4 2], got %v", sizes)
	}
	for i, l := range labels {
		if l != float64(i) {
			t.Fatalf("expected sequential order without shuffle, got %v", labels)
		}
	}

	if err := dl.Reset(); err != nil {
		t.Fatal(err)
	}
	b, err := dl.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !tensor.ShapesEqual(b.Features.Shape, []int{4, 2}) || !tensor.ShapesEqual(b.Labels.Shape, []int{4, 1}) {
		t.Errorf("unexpected batch shapes %v/%v", b.Features.Shape, b.Labels.Shape)
	}
	if b.Features.Data[2] != 1 || b.Features.Data[3] != -1 {
		t.Errorf("features not stacked row-major: %v", b.Features.Data)
	}

	for dl.HasNext() {
		if _, err := dl.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if b, err := dl.Next(); b != nil || err != nil {
		t.Errorf("expected nil batch after the pass, got %v, %v", b, err)
	}
}

func TestDataLoaderShuffle(t *testing.T) {
	first, err := NewDataLoader(rowDataset{n: 32}, 5, true, 7)
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewDataLoader(rowDataset{n: 32}, 5, true, 7)
	if err != nil {
		t.Fatal(err)
	}

	a, _ := labelsOf(t, first)
	b, _ := labelsOf(t, second)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced different orders:\n%v\n%v", a, b)
		}
	}

	next, _ := labelsOf(t, first)
	same := true
	for i := range a {
		if a[i] != next[i] {
			same = false
		}
	}
	if same {
		t.Error("expected a new permutation on each Reset")
	}

	sorted := append([]float64(nil), next...)
	sort.Float64s(sorted)
	for i, v := range sorted {
		if v != float64(i) {
			t.Fatalf("shuffled pass is not a permutation: %v", next)
		}
	}
}

func TestDataLoaderErrors(t *testing.T) {
	if _, err := NewDataLoader(nil, 4, false, 0); err == nil {
		t.Error("expected error for nil dataset")
	}
	if _, err := NewDataLoader(rowDataset{n: 1}, 0, false, 0); err == nil {
		t.Error("expected error for zero batch size")
	}

	dl, _ := NewDataLoader(rowDataset{n: 4, failAt: 2}, 4, false, 0)
	_ = dl.Reset()
	if _, err := dl.Next(); err == nil {
		t.Error("expected the dataset error to surface")
	}

	dl, _ = NewDataLoader(rowDataset{n: 4, ragged: 3}, 4, false, 0)
	_ = dl.Reset()
	if _, err := dl.Next(); !errors.Is(err, tensor.ErrShape) {
		t.Errorf("expected ErrShape for inconsistent samples, got %v", err)
	}
}

func TestSubsetDataset(t *testing.T) {
	sub, err := NewSubsetDataset(rowDataset{n: 10}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Len() != 3 {
		t.Errorf("expected 3 samples, got %d", sub.Len())
	}
	if _, _, err := sub.Get(3); err == nil {
		t.Error("expected out of bounds error")
	}
	_, y, err := sub.Get(2)
	if err != nil || y.Data[0] != 2 {
		t.Errorf("unexpected sample: %v, %v", y, err)
	}

	clamped, _ := NewSubsetDataset(rowDataset{n: 2}, 10)
	if clamped.Len() != 2 {
		t.Errorf("expected limit clamped to 2, got %d", clamped.Len())
	}
	if _, err := NewSubsetDataset(rowDataset{n: 2}, -1); err == nil {
		t.Error("expected error for negative limit")
	}
	if _, err := NewSubsetDataset(nil, 1); err == nil {
		t.Error("expected error for a nil dataset")
	}

	// A subset feeds a DataLoader like any other dataset.
	dl, err := NewDataLoader(sub, 2, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if dl.Len() != 2 || dl.Samples() != 3 {
		t.Errorf("expected 2 batches over 3 samples, got %d/%d", dl.Len(), dl.Samples())
	}
}

func TestBatchSize(t *testing.T) {
	var nilBatch *Batch
	if nilBatch.Size() != 0 {
		t.Error("nil batch should have size 0")
	}
	b := &Batch{Features: mustTensor(t, []int{3, 2}, make([]float64, 6))}
	if b.Size() != 3 {
		t.Errorf("expected 3, got %d", b.Size())
	}
}
