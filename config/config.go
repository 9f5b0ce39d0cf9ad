// Package config holds the runtime knobs for training and prediction runs.
package config

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/checkpoints"
	"github.com/tsawler/go-regress/dataset"
	"github.com/tsawler/go-regress/device"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	DataPath         string   `json:"data_path"`
	DataFormat       string   `json:"data_format"`
	Columns          []string `json:"columns"`
	Target           string   `json:"target"`
	TestRatio        float64  `json:"test_ratio"`
	BatchSize        int      `json:"batch_size"`
	Shuffle          bool     `json:"shuffle"`
	HiddenUnits      int      `json:"hidden_units"`
	Dropout          float64  `json:"dropout"`
	Optimizer        string   `json:"optimizer"`
	LearningRate     float64  `json:"learning_rate"`
	Epochs           int      `json:"epochs"`
	Accelerator      string   `json:"accelerator"`
	ModelPath        string   `json:"model_path"`
	CheckpointFormat string   `json:"checkpoint_format"`
	Tolerance        float64  `json:"accuracy_tolerance"`
	Seed             int64    `json:"seed"`
	PrefetchDepth    int      `json:"prefetch_depth"`
	TrainLimit       int      `json:"train_limit"` // 0 trains on the whole split
	HistoryPath      string   `json:"history_path"`
	DashboardURL     string   `json:"dashboard_url"`
}

// Overrides captures CLI supplied values. Zero values leave the config
// untouched.
type Overrides struct {
	DataPath     string
	Epochs       int
	BatchSize    int
	LearningRate float64
	Optimizer    string
	Accelerator  string
	ModelPath    string
	Seed         int64
	TrainLimit   int
	HistoryPath  string
	DashboardURL string
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DataPath:         "data/housing.data",
		DataFormat:       "auto",
		Columns:          append([]string(nil), dataset.BostonColumns...),
		Target:           "MEDV",
		TestRatio:        0.2,
		BatchSize:        32,
		Shuffle:          true,
		HiddenUnits:      64,
		Dropout:          0.3,
		Optimizer:        "adam",
		LearningRate:     1e-3,
		Epochs:           100,
		Accelerator:      "auto",
		ModelPath:        "models/model.ckpt",
		CheckpointFormat: "binary",
		Tolerance:        3,
		Seed:             27,
		PrefetchDepth:    3,
	}
}

// Load reads a JSON config on top of Default and validates it. Unknown keys
// are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	cfg := Default()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataPath != "" {
		c.DataPath = o.DataPath
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Optimizer != "" {
		c.Optimizer = o.Optimizer
	}
	if o.Accelerator != "" {
		c.Accelerator = o.Accelerator
	}
	if o.ModelPath != "" {
		c.ModelPath = o.ModelPath
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.TrainLimit > 0 {
		c.TrainLimit = o.TrainLimit
	}
	if o.HistoryPath != "" {
		c.HistoryPath = o.HistoryPath
	}
	if o.DashboardURL != "" {
		c.DashboardURL = o.DashboardURL
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.DataPath == "" {
		return errors.New("data_path must be set")
	}
	if _, err := dataset.ParseFormat(c.DataFormat); err != nil {
		return err
	}
	if c.Target == "" {
		return errors.New("target must be set")
	}
	if c.Columns != nil && !contains(c.Columns, c.Target) {
		return errors.Errorf("target %q is not one of the columns %v", c.Target, c.Columns)
	}
	if c.TestRatio <= 0 || c.TestRatio >= 1 {
		return errors.Errorf("test_ratio must be in (0, 1) (got %v)", c.TestRatio)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.HiddenUnits <= 0 {
		return errors.Errorf("hidden_units must be > 0 (got %d)", c.HiddenUnits)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return errors.Errorf("dropout must be in [0, 1) (got %v)", c.Dropout)
	}
	switch strings.ToLower(c.Optimizer) {
	case "adam", "sgd", "rmsprop":
	default:
		return errors.Errorf("optimizer must be adam, sgd or rmsprop (got %q)", c.Optimizer)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be > 0 (got %v)", c.LearningRate)
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if _, err := device.ParsePreference(c.Accelerator); err != nil {
		return err
	}
	if _, err := checkpoints.ParseFormat(c.CheckpointFormat); err != nil {
		return err
	}
	if c.Tolerance < 0 {
		return errors.Errorf("accuracy_tolerance must be >= 0 (got %v)", c.Tolerance)
	}
	if c.PrefetchDepth < 0 {
		return errors.Errorf("prefetch_depth must be >= 0 (got %d)", c.PrefetchDepth)
	}
	if c.TrainLimit < 0 {
		return errors.Errorf("train_limit must be >= 0 (got %d)", c.TrainLimit)
	}
	return nil
}

// JSON returns the config as indented JSON, for run records.
func (c *Config) JSON() string {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
