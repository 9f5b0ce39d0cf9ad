package training

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PlottingService posts plot data to a remote dashboard.
type PlottingService struct {
	baseURL    string
	httpClient *http.Client
	config     PlottingServiceConfig
}

// PlottingServiceConfig contains configuration for the plotting service
type PlottingServiceConfig struct {
	BaseURL       string        `json:"base_url"`
	Timeout       time.Duration `json:"timeout"`
	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"`
}

// PlottingResponse represents the response from the plotting service
type PlottingResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	PlotURL      string `json:"plot_url,omitempty"`
	ViewURL      string `json:"view_url,omitempty"`
	PlotID       string `json:"plot_id,omitempty"`
	BatchID      string `json:"batch_id,omitempty"`
	DashboardURL string `json:"dashboard_url,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
}

// BatchPlottingResponse represents the response from the batch plotting endpoint
type BatchPlottingResponse struct {
	Success      bool              `json:"success"`
	Message      string            `json:"message"`
	BatchID      string            `json:"batch_id,omitempty"`
	Results      []BatchPlotResult `json:"results,omitempty"`
	DashboardURL string            `json:"dashboard_url,omitempty"`
	Summary      BatchSummary      `json:"summary,omitempty"`
}

// BatchPlotResult represents a single plot result within a batch response
type BatchPlotResult struct {
	Success   bool   `json:"success"`
	PlotID    string `json:"plot_id,omitempty"`
	PlotURL   string `json:"plot_url,omitempty"`
	PlotType  string `json:"plot_type,omitempty"`
	Message   string `json:"message,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// BatchSummary represents the summary of a batch operation
type BatchSummary struct {
	TotalPlots int `json:"total_plots"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// DefaultPlottingServiceConfig returns default configuration for the plotting service
func DefaultPlottingServiceConfig() PlottingServiceConfig {
	return PlottingServiceConfig{
		BaseURL:       "http://localhost:8080",
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    1 * time.Second,
	}
}

// NewPlottingService creates a new plotting service client
func NewPlottingService(config PlottingServiceConfig) *PlottingService {
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	return &PlottingService{
		baseURL:    config.BaseURL,
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
	}
}

// SendPlotData sends plot data to the dashboard once.
func (ps *PlottingService) SendPlotData(ctx context.Context, plotData PlotData) (*PlottingResponse, error) {
	var plotResponse PlottingResponse
	if err := ps.post(ctx, "/api/plot", plotData, &plotResponse); err != nil {
		return nil, err
	}
	return &plotResponse, nil
}

// SendPlotDataWithRetry sends plot data, retrying up to the configured
// number of attempts with a fixed delay.
func (ps *PlottingService) SendPlotDataWithRetry(ctx context.Context, plotData PlotData) (*PlottingResponse, error) {
	var lastErr error
	for attempt := 0; attempt < ps.config.RetryAttempts; attempt++ {
		resp, err := ps.SendPlotData(ctx, plotData)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		klog.V(1).Infof("plot upload attempt %d/%d failed: %v", attempt+1, ps.config.RetryAttempts, err)

		if attempt < ps.config.RetryAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(ps.config.RetryDelay):
			}
		}
	}
	return nil, errors.Wrapf(lastErr, "send plot data after %d attempts", ps.config.RetryAttempts)
}

// CheckHealth checks if the plotting service is available
func (ps *PlottingService) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ps.baseURL+"/health", nil)
	if err != nil {
		return errors.Wrap(err, "create health check request")
	}
	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "health check")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// GenerateAndSendPlot generates a plot from collector and sends it.
func (ps *PlottingService) GenerateAndSendPlot(ctx context.Context, collector *VisualizationCollector, plotType PlotType) (*PlottingResponse, error) {
	var plotData PlotData
	switch plotType {
	case TrainingCurves:
		plotData = collector.GenerateTrainingCurvesPlot()
	case RegressionScatter:
		plotData = collector.GenerateRegressionScatterPlot()
	case ResidualPlot:
		plotData = collector.GenerateResidualPlot()
	default:
		return nil, errors.Errorf("unsupported plot type: %s", plotType)
	}

	if len(plotData.Series) == 0 {
		return &PlottingResponse{
			Success: false,
			Message: fmt.Sprintf("No data available for plot type: %s", plotType),
		}, nil
	}
	return ps.SendPlotDataWithRetry(ctx, plotData)
}

// BatchSendPlots sends multiple plots in a single request
func (ps *PlottingService) BatchSendPlots(ctx context.Context, plotDataList []PlotData) (*BatchPlottingResponse, error) {
	payload := map[string]interface{}{
		"plots": plotDataList,
		"batch": true,
	}
	var batchResponse BatchPlottingResponse
	if err := ps.post(ctx, "/api/batch-plot", payload, &batchResponse); err != nil {
		return nil, err
	}
	return &batchResponse, nil
}

func (ps *PlottingService) post(ctx context.Context, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal plot data")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ps.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return errors.Wrap(err, "create HTTP request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "go-regress-training")

	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "send HTTP request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("%s failed with status %d: %s", path, resp.StatusCode, bytes.TrimSpace(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrap(err, "parse response JSON")
	}
	return nil
}

// DashboardObserver records every epoch in a VisualizationCollector and
// pushes the refreshed training curves to the dashboard. Upload failures are
// logged and never reach the trainer.
type DashboardObserver struct {
	ctx       context.Context
	service   *PlottingService
	collector *VisualizationCollector
}

func NewDashboardObserver(ctx context.Context, service *PlottingService, collector *VisualizationCollector) *DashboardObserver {
	return &DashboardObserver{ctx: ctx, service: service, collector: collector}
}

func (d *DashboardObserver) OnEpoch(m EpochMetrics) {
	d.collector.RecordEpoch(m)
	if _, err := d.service.GenerateAndSendPlot(d.ctx, d.collector, TrainingCurves); err != nil {
		klog.Warningf("dashboard update for epoch %d failed: %v", m.EpochIndex, err)
	}
}
