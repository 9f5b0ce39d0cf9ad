package dataset

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options controls Prepare.
type Options struct {
	Path      string
	Columns   []string // defaults to BostonColumns
	Target    string
	Format    Format
	TestRatio float64
	Seed      int64
}

// Prepared holds standardized train and test splits.
type Prepared struct {
	Train    *TabularDataset
	Test     *TabularDataset
	Scaler   *StandardScaler
	Features []string
}

// Prepare loads a table, splits it, fits a StandardScaler on the training
// rows and applies it to both splits. Targets are left unscaled.
func Prepare(opts Options) (*Prepared, error) {
	columns := opts.Columns
	if columns == nil {
		columns = BostonColumns
	}
	table, err := LoadTable(opts.Path, columns, opts.Format)
	if err != nil {
		return nil, err
	}

	x, y, features, err := table.XY(opts.Target)
	if err != nil {
		return nil, err
	}
	xTrain, xTest, yTrain, yTest, err := SplitTrainTest(x, y, opts.TestRatio, opts.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "split")
	}

	scaler := &StandardScaler{}
	if xTrain, err = scaler.FitTransform(xTrain); err != nil {
		return nil, errors.Wrap(err, "scale train")
	}
	if xTest, err = scaler.Transform(xTest); err != nil {
		return nil, errors.Wrap(err, "scale test")
	}

	train, err := NewTabularDataset(xTrain, yTrain)
	if err != nil {
		return nil, err
	}
	test, err := NewTabularDataset(xTest, yTest)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("loaded %s: %d rows, %d features, %d train / %d test", opts.Path, table.Len(), len(features), train.Len(), test.Len())
	return &Prepared{Train: train, Test: test, Scaler: scaler, Features: features}, nil
}
