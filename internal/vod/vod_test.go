// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	states := []State{StateCapturing, StateConverting, StateFinalized, StateFinalizedWithError, StateDeleted}
	allowed := map[[2]State]bool{
		{StateCapturing, StateConverting}:          true,
		{StateCapturing, StateFinalizedWithError}:  true,
		{StateConverting, StateFinalized}:          true,
		{StateConverting, StateFinalizedWithError}: true,
		{StateFinalized, StateDeleted}:             true,
		{StateFinalizedWithError, StateDeleted}:    true,
	}
	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]State{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)

			v := &VOD{State: from}
			err := v.Transition(to)
			if want {
				require.NoError(t, err)
				assert.Equal(t, to, v.State)
			} else {
				require.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, from, v.State)
			}
		}
	}
}

func TestAddSegmentKeepsSize(t *testing.T) {
	v := &VOD{Basename: "b", State: StateCapturing}
	for _, size := range []int64{100, 2500, 0, 7} {
		require.NoError(t, v.AddSegment(Segment{Path: "p", Size: size}))
		assert.True(t, v.sizeConsistent())
	}
	assert.EqualValues(t, 2607, v.Size)
	require.Error(t, v.AddSegment(Segment{Size: -1}))

	require.NoError(t, v.Transition(StateConverting))
	err := v.AddSegment(Segment{Path: "late", Size: 1})
	require.ErrorIs(t, err, ErrNotCapturing)
	assert.Len(t, v.Segments, 4)
	assert.True(t, v.sizeConsistent())
}

func TestBasename(t *testing.T) {
	at := time.Date(2024, 3, 9, 12, 4, 5, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "streamer_2024-03-09T11_04_05Z", Basename("Streamer", at))
}

func TestDuration(t *testing.T) {
	start := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	v := VOD{StartedAt: start, Segments: []Segment{{Duration: time.Minute}, {Duration: 2 * time.Minute}}}
	assert.Equal(t, 3*time.Minute, v.Duration())
	v.EndedAt = start.Add(time.Hour)
	assert.Equal(t, time.Hour, v.Duration())
}

func TestParseProviderDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{in: "1h2m3s", want: time.Hour + 2*time.Minute + 3*time.Second},
		{in: "45m10s", want: 45*time.Minute + 10*time.Second},
		{in: "59s", want: 59 * time.Second},
		{in: "3h", want: 3 * time.Hour},
		{in: "10h0m0s", want: 10 * time.Hour},
		{in: "", err: true},
		{in: "1d", err: true},
		{in: "1s2m", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProviderDuration(tt.in)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
