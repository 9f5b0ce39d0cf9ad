package training

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testService(url string, attempts int) *PlottingService {
	return NewPlottingService(PlottingServiceConfig{
		BaseURL:       url,
		Timeout:       5 * time.Second,
		RetryAttempts: attempts,
		RetryDelay:    time.Millisecond,
	})
}

func TestDefaultPlottingServiceConfig(t *testing.T) {
	config := DefaultPlottingServiceConfig()
	if config.BaseURL != "http://localhost:8080" {
		t.Errorf("Expected BaseURL http://localhost:8080, got %s", config.BaseURL)
	}
	if config.Timeout != 30*time.Second || config.RetryAttempts != 3 || config.RetryDelay != time.Second {
		t.Errorf("unexpected defaults %+v", config)
	}

	ps := NewPlottingService(PlottingServiceConfig{BaseURL: "http://test:9090"})
	if ps.config.RetryAttempts != 1 {
		t.Errorf("expected at least one attempt, got %d", ps.config.RetryAttempts)
	}
}

func TestSendPlotData(t *testing.T) {
	var got PlotData
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/plot" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(PlottingResponse{Success: true, PlotID: "p1"})
	}))
	defer server.Close()

	vc := NewVisualizationCollector("mlp")
	vc.RecordEpoch(EpochMetrics{EpochIndex: 0, TrainLoss: 1, ValidLoss: 2})

	resp, err := testService(server.URL, 1).SendPlotData(context.Background(), vc.GenerateTrainingCurvesPlot())
	if err != nil {
		t.Fatalf("SendPlotData: %v", err)
	}
	if !resp.Success || resp.PlotID != "p1" {
		t.Errorf("unexpected response %+v", resp)
	}
	if got.PlotType != TrainingCurves || len(got.Series) != 2 {
		t.Errorf("server received %+v", got)
	}
}

func TestSendPlotDataWithRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(PlottingResponse{Success: true})
	}))
	defer server.Close()

	t.Run("succeeds on last attempt", func(t *testing.T) {
		calls.Store(0)
		resp, err := testService(server.URL, 3).SendPlotDataWithRetry(context.Background(), PlotData{})
		if err != nil || !resp.Success {
			t.Fatalf("expected success on the third attempt, got %v, %v", resp, err)
		}
		if calls.Load() != 3 {
			t.Errorf("expected 3 calls, got %d", calls.Load())
		}
	})

	t.Run("gives up", func(t *testing.T) {
		calls.Store(0)
		if _, err := testService(server.URL, 2).SendPlotDataWithRetry(context.Background(), PlotData{}); err == nil {
			t.Fatal("expected failure after 2 attempts")
		}
		if calls.Load() != 2 {
			t.Errorf("expected 2 calls, got %d", calls.Load())
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		calls.Store(0)
		ps := NewPlottingService(PlottingServiceConfig{BaseURL: server.URL, RetryAttempts: 5, RetryDelay: time.Hour})
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if _, err := ps.SendPlotDataWithRetry(ctx, PlotData{}); err != context.DeadlineExceeded {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestCheckHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	ps := testService(server.URL, 1)
	if err := ps.CheckHealth(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
	healthy.Store(false)
	if err := ps.CheckHealth(context.Background()); err == nil {
		t.Error("expected unhealthy error")
	}
}

func TestGenerateAndSendPlot(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(PlottingResponse{Success: true})
	}))
	defer server.Close()

	ps := testService(server.URL, 1)
	vc := NewVisualizationCollector("mlp")

	resp, err := ps.GenerateAndSendPlot(context.Background(), vc, RegressionScatter)
	if err != nil || resp.Success {
		t.Errorf("expected an unsuccessful response without data, got %+v, %v", resp, err)
	}
	if calls.Load() != 0 {
		t.Error("nothing should be sent without data")
	}
	if _, err := ps.GenerateAndSendPlot(context.Background(), vc, PlotType("pie")); err == nil {
		t.Error("expected error for unsupported plot type")
	}

	_ = vc.RecordRegressionData([]float64{1}, []float64{2})
	resp, err = ps.GenerateAndSendPlot(context.Background(), vc, ResidualPlot)
	if err != nil || !resp.Success || calls.Load() != 1 {
		t.Errorf("expected one successful upload, got %+v, %v (%d calls)", resp, err, calls.Load())
	}
}

func TestBatchSendPlots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Plots []PlotData `json:"plots"`
			Batch bool       `json:"batch"`
		}
		if r.URL.Path != "/api/batch-plot" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&payload)
		json.NewEncoder(w).Encode(BatchPlottingResponse{
			Success: payload.Batch,
			Summary: BatchSummary{TotalPlots: len(payload.Plots), Successful: len(payload.Plots)},
		})
	}))
	defer server.Close()

	resp, err := testService(server.URL, 1).BatchSendPlots(context.Background(), []PlotData{{}, {}})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Summary.TotalPlots != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestDashboardObserver(t *testing.T) {
	var mu sync.Mutex
	var received []PlotData
	fail := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		var p PlotData
		json.NewDecoder(r.Body).Decode(&p)
		received = append(received, p)
		json.NewEncoder(w).Encode(PlottingResponse{Success: true})
	}))
	defer server.Close()

	vc := NewVisualizationCollector("mlp")
	progress := NewProgress()
	progress.Attach(NewDashboardObserver(context.Background(), testService(server.URL, 1), vc))
	for i := 0; i < 3; i++ {
		progress.Emit(EpochMetrics{EpochIndex: i, TrainLoss: float64(3 - i), ValidLoss: float64(4 - i)})
	}
	progress.Close()

	if vc.Epochs() != 3 {
		t.Errorf("expected 3 recorded epochs, got %d", vc.Epochs())
	}
	mu.Lock()
	defer mu.Unlock()
	// The first upload fails and is only logged.
	if len(received) != 2 {
		t.Fatalf("expected 2 uploads, got %d", len(received))
	}
	if n := len(received[1].Series[0].Data); n != 3 {
		t.Errorf("expected the last upload to carry 3 epochs, got %d", n)
	}
}
