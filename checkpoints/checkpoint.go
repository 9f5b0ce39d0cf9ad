package checkpoints

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrPersistence is returned when a checkpoint cannot be written.
	ErrPersistence = errors.New("checkpoint persistence failed")
	// ErrNotFound is returned when a checkpoint file does not exist.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrCorruptData is returned when a checkpoint cannot be decoded or its
	// contents are inconsistent.
	ErrCorruptData = errors.New("checkpoint data corrupt")
)

const (
	frameworkName    = "go-regress"
	frameworkVersion = "1.0.0"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatBinary CheckpointFormat = iota
	FormatJSON
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatBinary:
		return "binary"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Extension returns the conventional file extension for the format.
func (cf CheckpointFormat) Extension() string {
	if cf == FormatJSON {
		return ".json"
	}
	return ".ckpt"
}

// ParseFormat maps "binary" or "json" to a format.
func ParseFormat(s string) (CheckpointFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "binary", "bin", "ckpt":
		return FormatBinary, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, errors.Errorf("unsupported checkpoint format %q", s)
	}
}

// WeightTensor is one named parameter.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Validate checks that Data matches Shape.
func (w WeightTensor) Validate() error {
	n := 1
	for _, d := range w.Shape {
		if d < 0 {
			return errors.Errorf("%s: negative dimension in shape %v", w.Name, w.Shape)
		}
		n *= d
	}
	if n != len(w.Data) {
		return errors.Errorf("%s: shape %v needs %d values, have %d", w.Name, w.Shape, n, len(w.Data))
	}
	return nil
}

// StateDict is an ordered set of named parameters.
type StateDict []WeightTensor

// Clone returns a deep copy.
func (sd StateDict) Clone() StateDict {
	out := make(StateDict, len(sd))
	for i, w := range sd {
		out[i] = WeightTensor{
			Name:  w.Name,
			Shape: append([]int(nil), w.Shape...),
			Data:  append([]float64(nil), w.Data...),
		}
	}
	return out
}

// Lookup returns the tensor named name.
func (sd StateDict) Lookup(name string) (WeightTensor, bool) {
	for _, w := range sd {
		if w.Name == name {
			return w, true
		}
	}
	return WeightTensor{}, false
}

// Validate checks every tensor and rejects duplicate names.
func (sd StateDict) Validate() error {
	seen := make(map[string]bool, len(sd))
	for _, w := range sd {
		if seen[w.Name] {
			return errors.Errorf("duplicate parameter %q", w.Name)
		}
		seen[w.Name] = true
		if err := w.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TrainingState captures progress at the time the checkpoint was taken.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	LearningRate float64 `json:"learning_rate"`
	BestLoss     float64 `json:"best_loss"`
	BestAccuracy float64 `json:"best_accuracy"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Checkpoint is a parameter snapshot plus the state it was taken in.
type Checkpoint struct {
	Weights       StateDict          `json:"weights"`
	TrainingState TrainingState      `json:"training_state"`
	Metadata      CheckpointMetadata `json:"metadata"`
}

// CheckpointSaver writes and reads checkpoints in one format. Reads accept
// either format.
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{format: format}
}

func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// Save persists a bare parameter snapshot to path, replacing any previous file.
func (cs *CheckpointSaver) Save(params StateDict, path string) error {
	return cs.SaveCheckpoint(&Checkpoint{Weights: params}, path)
}

// Load restores the parameter snapshot stored at path.
func (cs *CheckpointSaver) Load(path string) (StateDict, error) {
	c, err := cs.LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	return c.Weights, nil
}

// SaveCheckpoint atomically writes a checkpoint. Either the new file is fully
// in place or the previous file is untouched.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint == nil {
		return errors.Wrap(ErrPersistence, "nil checkpoint")
	}
	if err := checkpoint.Weights.Validate(); err != nil {
		return errors.Wrapf(ErrPersistence, "invalid weights: %v", err)
	}

	c := *checkpoint
	if c.Metadata.Framework == "" {
		c.Metadata.Framework = frameworkName
		c.Metadata.Version = frameworkVersion
	}
	if c.Metadata.CreatedAt.IsZero() {
		c.Metadata.CreatedAt = time.Now()
	}

	var (
		data []byte
		err  error
	)
	switch cs.format {
	case FormatBinary:
		data = marshalBinary(&c)
	case FormatJSON:
		data, err = json.MarshalIndent(&c, "", "  ")
		if err != nil {
			return errors.Wrapf(ErrPersistence, "encode checkpoint: %v", err)
		}
	default:
		return errors.Wrapf(ErrPersistence, "unsupported checkpoint format: %s", cs.format)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	klog.V(1).Infof("wrote %s checkpoint %s (%d bytes)", cs.format, path, len(data))
	return nil
}

// LoadCheckpoint reads the checkpoint at path, detecting its format.
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotFound, path)
		}
		return nil, errors.Wrapf(ErrPersistence, "read %s: %v", path, err)
	}

	var c *Checkpoint
	if bytes.HasPrefix(data, binaryMagic) {
		c, err = unmarshalBinary(data)
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptData, "%s: %v", path, err)
		}
	} else {
		c = &Checkpoint{}
		if err := json.Unmarshal(data, c); err != nil {
			return nil, errors.Wrapf(ErrCorruptData, "%s: %v", path, err)
		}
	}

	if err := c.Weights.Validate(); err != nil {
		return nil, errors.Wrapf(ErrCorruptData, "%s: %v", path, err)
	}
	return c, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(ErrPersistence, "create temp file in %s: %v", dir, err)
	}
	tmpName := tmp.Name()
	fail := func(op string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(ErrPersistence, "%s %s: %v", op, path, err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(ErrPersistence, "close %s: %v", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(ErrPersistence, "rename into %s: %v", path, err)
	}
	return nil
}
