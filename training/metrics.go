package training

import (
	"math"

	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/tensor"
)

// DefaultTolerance is the absolute error under which a regression
// prediction counts as correct.
const DefaultTolerance = 3.0

// MetricReducer accumulates a quality metric over an epoch. Update receives
// reconciled predictions and labels, the same tensors the loss sees.
type MetricReducer interface {
	Name() string
	Reset()
	Update(predictions, labels *tensor.Tensor) error
	Value() float64
}

// defaultMetric picks argmax accuracy for channel-first losses and tolerance
// accuracy for everything else.
func defaultMetric(l Loss) MetricReducer {
	if isChannelFirst(l) {
		return NewArgmaxAccuracy()
	}
	return NewToleranceAccuracy(DefaultTolerance)
}

// ArgmaxAccuracy counts elements whose argmax over axis 1 equals the label.
// Accuracy is correct elements over total elements for the whole epoch.
type ArgmaxAccuracy struct {
	correct, total int
}

func NewArgmaxAccuracy() *ArgmaxAccuracy { return &ArgmaxAccuracy{} }

func (a *ArgmaxAccuracy) Name() string { return "accuracy" }

func (a *ArgmaxAccuracy) Reset() { a.correct, a.total = 0, 0 }

func (a *ArgmaxAccuracy) Update(predictions, labels *tensor.Tensor) error {
	if len(predictions.Shape) < 2 {
		return errors.Wrapf(ErrShapeMismatch, "argmax accuracy needs rank >= 2 predictions, got %v", predictions.Shape)
	}
	predicted, err := tensor.Argmax(predictions, 1)
	if err != nil {
		return err
	}
	if predicted.Numel() != labels.Numel() {
		return errors.Wrapf(ErrShapeMismatch, "argmax of %v against labels %v", predictions.Shape, labels.Shape)
	}
	for i, p := range predicted.Data {
		if p == labels.Data[i] {
			a.correct++
		}
	}
	a.total += labels.Numel()
	return nil
}

func (a *ArgmaxAccuracy) Value() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.correct) / float64(a.total)
}

// ToleranceAccuracy counts predictions within tolerance of the label.
type ToleranceAccuracy struct {
	tolerance      float64
	correct, total int
}

func NewToleranceAccuracy(tolerance float64) *ToleranceAccuracy {
	return &ToleranceAccuracy{tolerance: tolerance}
}

func (a *ToleranceAccuracy) Name() string { return "accuracy" }

func (a *ToleranceAccuracy) Reset() { a.correct, a.total = 0, 0 }

func (a *ToleranceAccuracy) Update(predictions, labels *tensor.Tensor) error {
	if predictions.Numel() != labels.Numel() {
		return errors.Wrapf(ErrShapeMismatch, "predictions %v against labels %v", predictions.Shape, labels.Shape)
	}
	for i, p := range predictions.Data {
		if math.Abs(p-labels.Data[i]) <= a.tolerance {
			a.correct++
		}
	}
	a.total += labels.Numel()
	return nil
}

func (a *ToleranceAccuracy) Value() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.correct) / float64(a.total)
}

// errorSums accumulates the sums shared by the regression reducers.
type errorSums struct {
	n                  int
	sumAbs, sumSq      float64
	sumTrue, sumTrueSq float64
}

func (s *errorSums) reset() { *s = errorSums{} }

func (s *errorSums) add(predictions, labels *tensor.Tensor) error {
	if predictions.Numel() != labels.Numel() {
		return errors.Wrapf(ErrShapeMismatch, "predictions %v against labels %v", predictions.Shape, labels.Shape)
	}
	for i, p := range predictions.Data {
		y := labels.Data[i]
		d := p - y
		s.sumAbs += math.Abs(d)
		s.sumSq += d * d
		s.sumTrue += y
		s.sumTrueSq += y * y
	}
	s.n += labels.Numel()
	return nil
}

// MAE is the mean absolute error.
type MAE struct{ s errorSums }

func NewMAE() *MAE { return &MAE{} }

func (m *MAE) Name() string { return "mae" }
func (m *MAE) Reset()       { m.s.reset() }
func (m *MAE) Update(predictions, labels *tensor.Tensor) error {
	return m.s.add(predictions, labels)
}
func (m *MAE) Value() float64 {
	if m.s.n == 0 {
		return 0
	}
	return m.s.sumAbs / float64(m.s.n)
}

// RMSE is the root mean squared error.
type RMSE struct{ s errorSums }

func NewRMSE() *RMSE { return &RMSE{} }

func (m *RMSE) Name() string { return "rmse" }
func (m *RMSE) Reset()       { m.s.reset() }
func (m *RMSE) Update(predictions, labels *tensor.Tensor) error {
	return m.s.add(predictions, labels)
}
func (m *RMSE) Value() float64 {
	if m.s.n == 0 {
		return 0
	}
	return math.Sqrt(m.s.sumSq / float64(m.s.n))
}

// R2 is the coefficient of determination. It is 0 when the labels have no
// variance.
type R2 struct{ s errorSums }

func NewR2() *R2 { return &R2{} }

func (m *R2) Name() string { return "r2" }
func (m *R2) Reset()       { m.s.reset() }
func (m *R2) Update(predictions, labels *tensor.Tensor) error {
	return m.s.add(predictions, labels)
}
func (m *R2) Value() float64 {
	if m.s.n == 0 {
		return 0
	}
	n := float64(m.s.n)
	mean := m.s.sumTrue / n
	sst := m.s.sumTrueSq - n*mean*mean
	if sst <= 0 {
		return 0
	}
	return 1 - m.s.sumSq/sst
}

// RegressionMetrics holds comprehensive regression evaluation metrics
type RegressionMetrics struct {
	MAE  float64 // Mean Absolute Error
	MSE  float64 // Mean Squared Error
	RMSE float64 // Root Mean Squared Error
	R2   float64 // R-squared
	NMAE float64 // MAE normalised by the range of the true values
}

// CalculateRegressionMetrics computes regression metrics over paired
// predictions and true values.
func CalculateRegressionMetrics(predictions, trueValues []float64) (*RegressionMetrics, error) {
	if len(predictions) != len(trueValues) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d predictions against %d true values", len(predictions), len(trueValues))
	}
	if len(predictions) == 0 {
		return nil, ErrNoSamples
	}

	n := float64(len(predictions))
	meanTrue := 0.0
	for _, y := range trueValues {
		meanTrue += y
	}
	meanTrue /= n

	sumAbsErr, sumSqErr, sumSqTotal := 0.0, 0.0, 0.0
	minTrue, maxTrue := math.Inf(1), math.Inf(-1)
	for i, pred := range predictions {
		y := trueValues[i]
		sumAbsErr += math.Abs(pred - y)
		sumSqErr += (pred - y) * (pred - y)
		sumSqTotal += (y - meanTrue) * (y - meanTrue)
		minTrue = math.Min(minTrue, y)
		maxTrue = math.Max(maxTrue, y)
	}

	m := &RegressionMetrics{
		MAE: sumAbsErr / n,
		MSE: sumSqErr / n,
	}
	m.RMSE = math.Sqrt(m.MSE)
	if sumSqTotal > 0 {
		m.R2 = 1.0 - sumSqErr/sumSqTotal
	}
	if maxTrue > minTrue {
		m.NMAE = m.MAE / (maxTrue - minTrue)
	}
	return m, nil
}
