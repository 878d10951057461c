// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a recording.
type State string

const (
	StateCapturing          State = "capturing"
	StateConverting         State = "converting"
	StateFinalized          State = "finalized"
	StateFinalizedWithError State = "finalized_with_error"
	StateDeleted            State = "deleted"
)

// ErrInvalidTransition is returned for an edge not in the transition table.
var ErrInvalidTransition = errors.New("vod: invalid state transition")

type transition struct {
	From State
	To   State
}

var transitionsTable = []transition{
	// Capture ended
	{From: StateCapturing, To: StateConverting},
	{From: StateCapturing, To: StateFinalizedWithError},

	// Post-processing
	{From: StateConverting, To: StateFinalized},
	{From: StateConverting, To: StateFinalizedWithError},

	// Gone upstream
	{From: StateFinalized, To: StateDeleted},
	{From: StateFinalizedWithError, To: StateDeleted},
}

// CanTransition reports whether from → to is an allowed edge.
func CanTransition(from, to State) bool {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.To == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsFinal is true for both finalized states.
func (s State) IsFinal() bool {
	return s == StateFinalized || s == StateFinalizedWithError
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateCapturing, StateConverting, StateFinalized, StateFinalizedWithError, StateDeleted:
		return true
	}
	return false
}
