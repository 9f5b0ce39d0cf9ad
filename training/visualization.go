package training

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	TrainingCurves    PlotType = "training_curves"
	RegressionScatter PlotType = "regression_scatter"
	ResidualPlot      PlotType = "residual_plot"
)

// PlotData represents the universal JSON format for the dashboard service
type PlotData struct {
	PlotType  PlotType  `json:"plot_type"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	ModelName string    `json:"model_name"`

	Series []SeriesData `json:"series"`
	Config PlotConfig   `json:"config"`

	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name  string                 `json:"name"`
	Type  string                 `json:"type"` // "line" or "scatter"
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
}

// DataPoint represents a single data point
type DataPoint struct {
	X     interface{} `json:"x"`
	Y     interface{} `json:"y"`
	Label string      `json:"label,omitempty"`
}

// AxisRange is a fixed [Min, Max] axis window.
type AxisRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel  string     `json:"x_axis_label"`
	YAxisLabel  string     `json:"y_axis_label"`
	XAxisScale  string     `json:"x_axis_scale"` // "linear", "log"
	YAxisScale  string     `json:"y_axis_scale"` // "linear", "log"
	XRange      *AxisRange `json:"x_range,omitempty"`
	YRange      *AxisRange `json:"y_range,omitempty"`
	ShowLegend  bool       `json:"show_legend"`
	ShowGrid    bool       `json:"show_grid"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	Interactive bool       `json:"interactive"`
}

// VisualizationCollector gathers epoch metrics and regression results and
// turns them into PlotData. It is an Observer and safe for concurrent use.
type VisualizationCollector struct {
	modelName string

	mu                 sync.Mutex
	epochs             []int
	trainingLoss       []float64
	validationLoss     []float64
	validationAccuracy []float64

	predictions []float64
	trueValues  []float64
	residuals   []float64
}

// NewVisualizationCollector creates a new visualization collector
func NewVisualizationCollector(modelName string) *VisualizationCollector {
	return &VisualizationCollector{modelName: modelName}
}

func (vc *VisualizationCollector) OnEpoch(m EpochMetrics) {
	vc.RecordEpoch(m)
}

// RecordEpoch records epoch-level metrics
func (vc *VisualizationCollector) RecordEpoch(m EpochMetrics) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.epochs = append(vc.epochs, m.EpochIndex)
	vc.trainingLoss = append(vc.trainingLoss, m.TrainLoss)
	vc.validationLoss = append(vc.validationLoss, m.ValidLoss)
	vc.validationAccuracy = append(vc.validationAccuracy, m.ValidAccuracy)
}

// Epochs returns the number of recorded epochs.
func (vc *VisualizationCollector) Epochs() int {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return len(vc.epochs)
}

// RecordRegressionData records regression predictions and true values
func (vc *VisualizationCollector) RecordRegressionData(predictions, trueValues []float64) error {
	if len(predictions) != len(trueValues) {
		return errors.Errorf("%d predictions against %d true values", len(predictions), len(trueValues))
	}
	vc.mu.Lock()
	defer vc.mu.Unlock()

	vc.predictions = append([]float64(nil), predictions...)
	vc.trueValues = append([]float64(nil), trueValues...)
	vc.residuals = make([]float64, len(predictions))
	for i := range predictions {
		vc.residuals[i] = predictions[i] - trueValues[i]
	}
	return nil
}

// GenerateTrainingCurvesPlot plots train and validation loss per epoch. The
// x axis spans [0, last epoch * 1.1] and the y axis spans the training loss
// from min*0.9 to max*1.1.
func (vc *VisualizationCollector) GenerateTrainingCurvesPlot() PlotData {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	train := SeriesData{
		Name: "Train Loss",
		Type: "line",
		Data: make([]DataPoint, len(vc.epochs)),
		Style: map[string]interface{}{
			"color":      "#FF6B6B",
			"line_width": 2,
		},
	}
	valid := SeriesData{
		Name: "Test Loss",
		Type: "line",
		Data: make([]DataPoint, len(vc.epochs)),
		Style: map[string]interface{}{
			"color":      "#FF9F43",
			"line_width": 2,
			"line_style": "dashed",
		},
	}
	for i, epoch := range vc.epochs {
		train.Data[i] = DataPoint{X: epoch, Y: vc.trainingLoss[i]}
		valid.Data[i] = DataPoint{X: epoch, Y: vc.validationLoss[i]}
	}

	config := PlotConfig{
		XAxisLabel:  "Epoch",
		YAxisLabel:  "Loss",
		XAxisScale:  "linear",
		YAxisScale:  "linear",
		ShowLegend:  true,
		ShowGrid:    true,
		Width:       800,
		Height:      400,
		Interactive: true,
	}
	metrics := map[string]interface{}{}
	if n := len(vc.epochs); n > 0 {
		config.XRange = &AxisRange{Min: 0, Max: float64(vc.epochs[n-1]) * 1.1}
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range vc.trainingLoss {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		config.YRange = &AxisRange{Min: lo * 0.9, Max: hi * 1.1}
		metrics["final_valid_accuracy"] = vc.validationAccuracy[n-1]
	}

	return PlotData{
		PlotType:  TrainingCurves,
		Title:     fmt.Sprintf("Training Curves - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    []SeriesData{train, valid},
		Config:    config,
		Metrics:   metrics,
	}
}

// GenerateRegressionScatterPlot generates regression scatter plot data
func (vc *VisualizationCollector) GenerateRegressionScatterPlot() PlotData {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if len(vc.predictions) == 0 {
		return PlotData{}
	}

	scatterData := make([]DataPoint, len(vc.predictions))
	for i := range vc.predictions {
		scatterData[i] = DataPoint{X: vc.trueValues[i], Y: vc.predictions[i]}
	}
	minVal, maxVal := minMax(vc.trueValues)

	series := []SeriesData{
		{
			Name: "Predictions",
			Type: "scatter",
			Data: scatterData,
			Style: map[string]interface{}{
				"color": "#4ECDC4",
				"alpha": 0.6,
			},
		},
		{
			Name: "Perfect Prediction",
			Type: "line",
			Data: []DataPoint{{X: minVal, Y: minVal}, {X: maxVal, Y: maxVal}},
			Style: map[string]interface{}{
				"color":      "#FF6B6B",
				"line_width": 2,
				"line_style": "dashed",
			},
		},
	}

	return PlotData{
		PlotType:  RegressionScatter,
		Title:     fmt.Sprintf("Regression Scatter Plot - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    series,
		Config: PlotConfig{
			XAxisLabel:  "True Values",
			YAxisLabel:  "Predicted Values",
			XAxisScale:  "linear",
			YAxisScale:  "linear",
			ShowLegend:  true,
			ShowGrid:    true,
			Width:       600,
			Height:      600,
			Interactive: true,
		},
	}
}

// GenerateResidualPlot generates residual plot data
func (vc *VisualizationCollector) GenerateResidualPlot() PlotData {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if len(vc.residuals) == 0 {
		return PlotData{}
	}

	residualData := make([]DataPoint, len(vc.residuals))
	for i := range vc.residuals {
		residualData[i] = DataPoint{X: vc.predictions[i], Y: vc.residuals[i]}
	}
	minPred, maxPred := minMax(vc.predictions)

	series := []SeriesData{
		{
			Name: "Residuals",
			Type: "scatter",
			Data: residualData,
			Style: map[string]interface{}{
				"color": "#FF9F43",
				"alpha": 0.6,
			},
		},
		{
			Name: "Zero Line",
			Type: "line",
			Data: []DataPoint{{X: minPred, Y: 0.0}, {X: maxPred, Y: 0.0}},
			Style: map[string]interface{}{
				"color":      "#95A5A6",
				"line_width": 1,
				"line_style": "dashed",
			},
		},
	}

	return PlotData{
		PlotType:  ResidualPlot,
		Title:     fmt.Sprintf("Residual Plot - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    series,
		Config: PlotConfig{
			XAxisLabel:  "Predicted Values",
			YAxisLabel:  "Residuals",
			XAxisScale:  "linear",
			YAxisScale:  "linear",
			ShowLegend:  true,
			ShowGrid:    true,
			Width:       600,
			Height:      600,
			Interactive: true,
		},
	}
}

// ToJSON converts plot data to JSON string
func (pd PlotData) ToJSON() (string, error) {
	jsonData, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshal plot data")
	}
	return string(jsonData), nil
}

// Clear resets all collected data
func (vc *VisualizationCollector) Clear() {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.epochs = nil
	vc.trainingLoss = nil
	vc.validationLoss = nil
	vc.validationAccuracy = nil
	vc.predictions = nil
	vc.trueValues = nil
	vc.residuals = nil
}

func minMax(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}
