package training

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrShapeMismatch is returned when predictions and labels cannot be
	// reconciled into the layout the loss expects.
	ErrShapeMismatch = errors.New("prediction and label shapes cannot be reconciled")
	// ErrNoSamples is returned when a phase sees no samples.
	ErrNoSamples = errors.New("no samples")
	// ErrTrainerBusy is returned by Fit while another Fit is running.
	ErrTrainerBusy = errors.New("trainer is already running")
)

// Phase names the part of an epoch an error occurred in.
type Phase string

const (
	PhaseSetup      Phase = "setup"
	PhaseTrain      Phase = "train"
	PhaseValidate   Phase = "validate"
	PhaseCheckpoint Phase = "checkpoint"
)

// PhaseError is returned by Fit. Batch is -1 when the error is not tied to
// a batch.
type PhaseError struct {
	Epoch int
	Phase Phase
	Batch int
	Err   error
}

func (e *PhaseError) Error() string {
	if e.Batch >= 0 {
		return fmt.Sprintf("epoch %d %s batch %d: %v", e.Epoch, e.Phase, e.Batch, e.Err)
	}
	return fmt.Sprintf("epoch %d %s: %v", e.Epoch, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Cause supports errors.Cause from github.com/pkg/errors.
func (e *PhaseError) Cause() error { return e.Err }
