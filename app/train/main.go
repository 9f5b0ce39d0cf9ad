// Command train fits the housing price regression model and keeps the
// checkpoint with the best validation loss.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-regress/async"
	"github.com/tsawler/go-regress/checkpoints"
	"github.com/tsawler/go-regress/config"
	"github.com/tsawler/go-regress/dataset"
	"github.com/tsawler/go-regress/history"
	"github.com/tsawler/go-regress/layers"
	"github.com/tsawler/go-regress/optimizer"
	"github.com/tsawler/go-regress/training"
)

func main() {
	klog.InitFlags(nil)
	cfgPath := flag.String("config", "", "Path to JSON config (defaults are used when empty)")
	dataPath := flag.String("data", "", "Override the data file")
	epochs := flag.Int("epochs", 0, "Number of epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	lr := flag.Float64("lr", 0, "Learning rate")
	opt := flag.String("optimizer", "", "Optimizer: adam, sgd or rmsprop")
	accelerator := flag.String("accelerator", "", "Device preference: auto, cpu, gpu, cuda[:N], webgpu[:N]")
	modelPath := flag.String("model", "", "Checkpoint path")
	seed := flag.Int64("seed", 0, "PRNG seed")
	limit := flag.Int("limit", 0, "Train on at most N samples (0 uses the whole split)")
	historyPath := flag.String("history", "", "SQLite run history database")
	dashboard := flag.String("dashboard", "", "Plot dashboard base URL")
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
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		LearningRate: *lr,
		Optimizer:    *opt,
		Accelerator:  *accelerator,
		ModelPath:    *modelPath,
		Seed:         *seed,
		TrainLimit:   *limit,
		HistoryPath:  *historyPath,
		DashboardURL: *dashboard,
	})
	if err := cfg.Validate(); err != nil {
		klog.Exitf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		klog.Exitf("training failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	format, _ := dataset.ParseFormat(cfg.DataFormat)
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

	model, err := layers.NewRegressionModel(data.Train.Features(), cfg.HiddenUnits, 1, cfg.Dropout, cfg.Seed)
	if err != nil {
		return errors.Wrap(err, "build model")
	}
	layers.NewArchitecturePrinter("RegressionModel", os.Stdout).Print(model.Spec())

	opt, err := optimizer.New(optimizer.Config{Name: cfg.Optimizer, LearningRate: cfg.LearningRate}, model.Parameters())
	if err != nil {
		return err
	}
	ckptFormat, _ := checkpoints.ParseFormat(cfg.CheckpointFormat)

	progress := training.NewProgress()
	defer progress.Close()

	trainer, err := training.NewTrainer(model, opt, training.NewMSELoss("mean"), cfg.Accelerator,
		training.WithProgress(progress),
		training.WithMetric(training.NewToleranceAccuracy(cfg.Tolerance)),
		training.WithCheckpointer(checkpoints.NewCheckpointSaver(ckptFormat)),
	)
	if err != nil {
		return err
	}
	fmt.Printf("Device: %s\n\n", trainer.Device())

	var trainSet training.Dataset = data.Train
	if cfg.TrainLimit > 0 {
		if trainSet, err = training.NewSubsetDataset(data.Train, cfg.TrainLimit); err != nil {
			return err
		}
		klog.Infof("training on %d of %d samples", trainSet.Len(), data.Train.Len())
	}
	trainLoader, err := training.NewDataLoader(trainSet, cfg.BatchSize, cfg.Shuffle, cfg.Seed)
	if err != nil {
		return err
	}
	testLoader, err := training.NewDataLoader(data.Test, cfg.BatchSize, false, cfg.Seed)
	if err != nil {
		return err
	}
	prefetcher, err := async.NewPrefetcher(ctx, trainLoader, async.PrefetcherConfig{
		PrefetchDepth: cfg.PrefetchDepth,
		Device:        trainer.Device(),
	})
	if err != nil {
		return err
	}
	defer prefetcher.Stop()

	progress.Attach(training.NewProgressBar(os.Stdout, "Training", cfg.Epochs))

	if cfg.HistoryPath != "" {
		store, herr := history.Open(cfg.HistoryPath)
		if herr != nil {
			return herr
		}
		defer store.Close()
		rec, herr := store.BeginRun(ctx, history.RunInfo{
			Name:   filepath.Base(cfg.DataPath),
			Device: trainer.Device().String(),
			Config: cfg.JSON(),
		})
		if herr != nil {
			return herr
		}
		progress.Attach(rec)
		defer func() {
			// Deliver queued epochs before the run is closed.
			progress.Close()
			if ferr := rec.Finish(context.Background(), err); ferr != nil {
				klog.Errorf("%v", ferr)
			}
		}()
	}

	if cfg.DashboardURL != "" {
		pc := training.DefaultPlottingServiceConfig()
		pc.BaseURL = cfg.DashboardURL
		pc.Timeout = 5 * time.Second
		service := training.NewPlottingService(pc)
		if herr := service.CheckHealth(ctx); herr != nil {
			klog.Warningf("dashboard at %s is not healthy: %v", cfg.DashboardURL, herr)
		}
		progress.Attach(training.NewDashboardObserver(ctx, service, training.NewVisualizationCollector("RegressionModel")))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.ModelPath), 0o755); err != nil {
		return errors.Wrap(err, "create model directory")
	}

	start := time.Now()
	if err := trainer.Fit(ctx, prefetcher, testLoader, cfg.Epochs, cfg.ModelPath); err != nil {
		return err
	}
	progress.Close()

	fmt.Printf("\nTraining finished in %s. Best validation loss %.4f saved to %s\n",
		time.Since(start).Round(time.Millisecond), trainer.BestValidLoss(), cfg.ModelPath)

	if _, err := training.RestoreCheckpoint(model, cfg.ModelPath); err != nil {
		return errors.Wrap(err, "restore best checkpoint")
	}
	res, err := trainer.Evaluate(ctx, testLoader, training.NewMAE(), training.NewRMSE(), training.NewR2())
	if err != nil {
		return errors.Wrap(err, "evaluate")
	}
	fmt.Printf("Best model on %d test samples: MSE %.4f, MAE %.4f, RMSE %.4f, R2 %.4f\n",
		res.Samples, res.Loss, res.Metrics["mae"], res.Metrics["rmse"], res.Metrics["r2"])
	return nil
}
