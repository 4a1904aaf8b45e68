package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	s := StateIdle

	next, err := Transition(s, EventSegmentStart)
	require.NoError(t, err)
	require.Equal(t, StateCapturing, next)

	next, err = Transition(next, EventSegmentAccepted)
	require.NoError(t, err)
	require.Equal(t, StateRecognizing, next)

	next, err = Transition(next, EventRecognizeText)
	require.NoError(t, err)
	require.Equal(t, StateRewriting, next)

	next, err = Transition(next, EventRewriteText)
	require.NoError(t, err)
	require.Equal(t, StateSynthesizing, next)

	next, err = Transition(next, EventFirstChunk)
	require.NoError(t, err)
	require.Equal(t, StatePlayingBack, next)

	next, err = Transition(next, EventPlaybackAck)
	require.NoError(t, err)
	require.Equal(t, StateCleanup, next)

	next, err = Transition(next, EventGuardElapsed)
	require.NoError(t, err)
	require.Equal(t, StateIdle, next)
}

func TestTransitionEmptyTranscriptShortCircuits(t *testing.T) {
	next, err := Transition(StateRecognizing, EventRecognizeEmpty)
	require.NoError(t, err)
	require.Equal(t, StateCleanup, next)
}

func TestTransitionRewriteRetryThenFallback(t *testing.T) {
	next, err := Transition(StateRewriting, EventRewriteRetry)
	require.NoError(t, err)
	require.Equal(t, StateRewriting, next)

	next, err = Transition(next, EventRewriteFallback)
	require.NoError(t, err)
	require.Equal(t, StateSynthesizing, next)
}

func TestTransitionFailFromAnyStateGoesErrorTimeout(t *testing.T) {
	states := []State{
		StateIdle, StateCapturing, StateRecognizing, StateRewriting,
		StateSynthesizing, StatePlayingBack, StateCleanup, StateErrorTimeout,
	}
	for _, state := range states {
		next, err := Transition(state, EventFail)
		require.NoError(t, err)
		require.Equal(t, StateErrorTimeout, next)
	}
}

func TestTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		event   Event
		want    State
		wantErr bool
	}{
		{name: "idle segment-accepted invalid", state: StateIdle, event: EventSegmentAccepted, want: StateIdle, wantErr: true},
		{name: "capturing recognize-text invalid", state: StateCapturing, event: EventRecognizeText, want: StateCapturing, wantErr: true},
		{name: "recognizing rewrite-text invalid", state: StateRecognizing, event: EventRewriteText, want: StateRecognizing, wantErr: true},
		{name: "rewriting first-chunk invalid", state: StateRewriting, event: EventFirstChunk, want: StateRewriting, wantErr: true},
		{name: "synthesizing playback-ack invalid", state: StateSynthesizing, event: EventPlaybackAck, want: StateSynthesizing, wantErr: true},
		{name: "playing-back guard-elapsed invalid", state: StatePlayingBack, event: EventGuardElapsed, want: StatePlayingBack, wantErr: true},
		{name: "cleanup segment-start invalid", state: StateCleanup, event: EventSegmentStart, want: StateCleanup, wantErr: true},
		{name: "error-timeout segment-start invalid", state: StateErrorTimeout, event: EventSegmentStart, want: StateErrorTimeout, wantErr: true},
		{name: "error-timeout guard-elapsed valid", state: StateErrorTimeout, event: EventGuardElapsed, want: StateIdle, wantErr: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.state, tc.event)
			require.Equal(t, tc.want, next)
			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), "invalid transition")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	next, err := Transition(State("mystery"), EventSegmentStart)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, State("mystery"), next)
}
