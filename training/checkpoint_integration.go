package training

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/tsawler/go-regress/checkpoints"
)

// Checkpointer persists a checkpoint at path, replacing any previous file.
// checkpoints.CheckpointSaver satisfies it.
type Checkpointer interface {
	SaveCheckpoint(c *checkpoints.Checkpoint, path string) error
}

// saveBest snapshots the model after the epoch described by m.
func (t *Trainer) saveBest(m EpochMetrics, path string) error {
	c := &checkpoints.Checkpoint{
		Weights: t.model.StateDict(),
		TrainingState: checkpoints.TrainingState{
			Epoch:        m.EpochIndex,
			LearningRate: learningRate(t.optimizer),
			BestLoss:     m.ValidLoss,
			BestAccuracy: m.ValidAccuracy,
		},
		Metadata: checkpoints.CheckpointMetadata{
			Description: fmt.Sprintf("best validation loss at epoch %d", m.EpochIndex),
			Tags:        []string{"best"},
		},
	}
	return t.checkpointer.SaveCheckpoint(c, path)
}

// RestoreCheckpoint loads the checkpoint at path into model. A checkpoint
// whose tensors do not fit the model is reported as corrupt.
func RestoreCheckpoint(model Model, path string) (*checkpoints.Checkpoint, error) {
	saver := checkpoints.NewCheckpointSaver(checkpoints.FormatBinary)
	c, err := saver.LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	if err := model.LoadStateDict(c.Weights); err != nil {
		return nil, errors.Wrapf(checkpoints.ErrCorruptData, "%s does not match the model: %v", path, err)
	}
	return c, nil
}
