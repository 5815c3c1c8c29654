// Package selection implements the sequential selection environment: a
// finite-horizon, deterministic state machine that walks a dataset one row
// at a time and pays out rewards for select/skip decisions.
package selection

import (
	"errors"
	"fmt"

	"github.com/evgrid/stationselect/internal/dataset"
)

// #region actions-rewards

// Actions the environment accepts.
const (
	ActionSkip   = 0
	ActionSelect = 1
)

// Reward schedule. Selecting a positive row pays well, selecting a negative
// row costs a little, and skipping is always free. The free skip means an
// always-skip policy collects exactly zero reward; that asymmetry is part of
// the reward design and is kept as-is.
const (
	RewardTruePositive  = 10.0
	RewardFalsePositive = -0.5
	RewardSkip          = 0.0
)

// #endregion actions-rewards

// #region errors

var (
	// ErrEmptyDataset is returned by Reset when the dataset has no rows.
	ErrEmptyDataset = errors.New("selection: empty dataset")
	// ErrInvalidState is returned by Step after the episode has terminated.
	ErrInvalidState = errors.New("selection: step on terminated environment")
)

// #endregion errors

// #region env

// Env steps through the dataset in row order. Lifecycle: Reset puts it at
// row 0 in the Ready state; each Step consumes the current row and advances;
// consuming the last row terminates the episode. Deterministic given the
// dataset and the action sequence.
type Env struct {
	ds         *dataset.Dataset
	position   int
	terminated bool
}

// NewEnv creates an environment over ds. Call Reset before stepping.
func NewEnv(ds *dataset.Dataset) *Env {
	return &Env{ds: ds, terminated: true}
}

// Reset rewinds to row 0 and returns its feature vector as the first
// observation. Fails with ErrEmptyDataset on a zero-row dataset.
func (e *Env) Reset() ([]float64, error) {
	if e.ds.N() == 0 {
		return nil, ErrEmptyDataset
	}
	e.position = 0
	e.terminated = false
	return e.ds.Row(0), nil
}

// Step applies action to the row at the current position and advances.
// Returns the next observation (nil when done), the reward, and whether the
// episode terminated. Stepping a terminated environment fails with
// ErrInvalidState.
func (e *Env) Step(action int) (obs []float64, reward float64, done bool, err error) {
	if e.terminated {
		return nil, 0, true, ErrInvalidState
	}
	if action != ActionSkip && action != ActionSelect {
		return nil, 0, false, fmt.Errorf("selection: invalid action %d, want 0 or 1", action)
	}

	switch {
	case action == ActionSkip:
		reward = RewardSkip
	case e.ds.Label(e.position) == 1:
		reward = RewardTruePositive
	default:
		reward = RewardFalsePositive
	}

	e.position++
	if e.position == e.ds.N() {
		e.terminated = true
		return nil, reward, true, nil
	}
	return e.ds.Row(e.position), reward, false, nil
}

// Position returns the current row index, in [0, N].
func (e *Env) Position() int {
	return e.position
}

// Terminated reports whether the current episode has ended.
func (e *Env) Terminated() bool {
	return e.terminated
}

// #endregion env
