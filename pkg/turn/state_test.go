package turn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from State
		on   Event
		want State
	}{
		{StateIdle, EventTrigger, StateRecording},
		{StateRecording, EventClipReady, StateTranscribing},
		{StateRecording, EventFailed, StateErrorReporting},
		{StateTranscribing, EventText, StateQuerying},
		{StateTranscribing, EventFailed, StateErrorReporting},
		{StateQuerying, EventReply, StateSynthesizing},
		{StateQuerying, EventFailed, StateErrorReporting},
		{StateSynthesizing, EventAudio, StatePlaying},
		{StateSynthesizing, EventFailed, StateErrorReporting},
		{StatePlaying, EventPlaybackComplete, StateIdle},
		{StatePlaying, EventFailed, StateErrorReporting},
		{StateErrorReporting, EventReported, StateIdle},
		{StateQuerying, EventCancelled, StateIdle},
		{StateErrorReporting, EventCancelled, StateIdle},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.on), func(t *testing.T) {
			got, err := Transition(tt.from, tt.on)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestTransition_TriggerWhileBusyIsDropped(t *testing.T) {
	for _, s := range []State{StateRecording, StateTranscribing, StateQuerying, StateSynthesizing, StatePlaying, StateErrorReporting} {
		got, err := Transition(s, EventTrigger)
		require.ErrorIs(t, err, ErrBusy)
		require.Equal(t, s, got)
	}
}

func TestTransition_Invalid(t *testing.T) {
	got, err := Transition(StateIdle, EventReply)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StateIdle, got)

	_, err = Transition(StateIdle, EventCancelled)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = Transition(StateRecording, EventReply)
	require.ErrorIs(t, err, ErrInvalidTransition)
}
