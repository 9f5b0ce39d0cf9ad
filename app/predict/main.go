// Command predict restores the best checkpoint written by train, predicts
// one test sample and reports metrics over the whole test split.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-regress/config"
	"github.com/tsawler/go-regress/dataset"
	"github.com/tsawler/go-regress/layers"
	"github.com/tsawler/go-regress/tensor"
	"github.com/tsawler/go-regress/training"
)

func main() {
	klog.InitFlags(nil)
	cfgPath := flag.String("config", "", "Path to JSON config (defaults are used when empty)")
	dataPath := flag.String("data", "", "Override the data file")
	modelPath := flag.String("model", "", "Checkpoint path")
	accelerator := flag.String("accelerator", "", "Device preference")
	sample := flag.Int("sample", -1, "Test sample to predict; -1 picks one at random")
	dashboard := flag.String("dashboard", "", "Plot dashboard base URL for scatter and residual plots")
	flag.Parse()
	defer klog.Flush()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			klog.Exitf("failed to load config: %v", err)
		}
	}
	cfg.ApplyOverrides(config.Overrides{
		DataPath:     *dataPath,
		ModelPath:    *modelPath,
		Accelerator:  *accelerator,
		DashboardURL: *dashboard,
	})
	if err := cfg.Validate(); err != nil {
		klog.Exitf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *sample); err != nil {
		klog.Exitf("prediction failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, sample int) error {
	format, _ := dataset.ParseFormat(cfg.DataFormat)
	// Same seed and ratio as training, so the scaler and test split match.
	data, err := dataset.Prepare(dataset.Options{
		Path:      cfg.DataPath,
		Columns:   cfg.Columns,
		Target:    cfg.Target,
		Format:    format,
		TestRatio: cfg.TestRatio,
		Seed:      cfg.Seed,
	})
	if err != nil {
		return errors.Wrap(err, "prepare data")
	}

	model, err := layers.NewRegressionModel(data.Test.Features(), cfg.HiddenUnits, 1, cfg.Dropout, cfg.Seed)
	if err != nil {
		return errors.Wrap(err, "build model")
	}
	mi, err := training.NewModelInferencer(model, cfg.Accelerator)
	if err != nil {
		return err
	}
	ckpt, err := mi.LoadCheckpoint(cfg.ModelPath)
	if err != nil {
		return errors.Wrapf(err, "load %s", cfg.ModelPath)
	}
	fmt.Printf("Loaded %s (epoch %d, validation loss %.4f) on %s\n",
		cfg.ModelPath, ckpt.TrainingState.Epoch, ckpt.TrainingState.BestLoss, mi.Device())

	if sample < 0 {
		sample = rand.New(rand.NewSource(time.Now().UnixNano())).Intn(data.Test.Len())
	}
	if sample >= data.Test.Len() {
		return errors.Errorf("sample %d out of range, test split has %d rows", sample, data.Test.Len())
	}
	features, actual := data.Test.Row(sample)
	x, err := tensor.NewTensor([]int{len(features)}, features, nil)
	if err != nil {
		return err
	}
	out, err := mi.Predict(x)
	if err != nil {
		return err
	}
	predicted := out.Data[0]
	fmt.Printf("Predicted value: %.4f, Actual value: %.4f\n", predicted, actual)
	if math.Abs(predicted-actual) < cfg.Tolerance {
		fmt.Println("Successfully!")
	} else {
		fmt.Println("Unsuccessfully!")
	}

	loader, err := training.NewDataLoader(data.Test, cfg.BatchSize, false, cfg.Seed)
	if err != nil {
		return err
	}
	preds, targets, err := mi.PredictProvider(ctx, loader)
	if err != nil {
		return err
	}
	m, err := training.CalculateRegressionMetrics(preds, targets)
	if err != nil {
		return err
	}
	fmt.Printf("Test split (%d samples): MAE %.4f, MSE %.4f, RMSE %.4f, R2 %.4f, NMAE %.4f\n",
		len(preds), m.MAE, m.MSE, m.RMSE, m.R2, m.NMAE)

	if cfg.DashboardURL == "" {
		return nil
	}
	collector := training.NewVisualizationCollector("RegressionModel")
	if err := collector.RecordRegressionData(preds, targets); err != nil {
		return err
	}
	pc := training.DefaultPlottingServiceConfig()
	pc.BaseURL = cfg.DashboardURL
	resp, err := training.NewPlottingService(pc).BatchSendPlots(ctx, []training.PlotData{
		collector.GenerateRegressionScatterPlot(),
		collector.GenerateResidualPlot(),
	})
	if err != nil {
		klog.Warningf("dashboard upload failed: %v", err)
		return nil
	}
	if resp.DashboardURL != "" {
		fmt.Printf("Plots: %s\n", resp.DashboardURL)
	}
	return nil
}
