package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/lessonbox/internal/app/playback"
)

func TestEncode_FlattensSnapshot(t *testing.T) {
	deadline := time.Date(2026, 10, 19, 9, 0, 3, 0, time.UTC)
	snap := playback.Snapshot{
		LessonID: "lesson-1",
		Playback: playback.PlaybackState{
			CurrentTimeSeconds: 150,
			DurationSeconds:    600,
			IsPlaying:          true,
			RequestedPlaying:   true,
			Volume:             0.8,
			IsMuted:            true,
			PlaybackRate:       1.5,
		},
		Controls: playback.ControlsVisibility{
			State:               playback.ControlsHidingArmed,
			PendingHideDeadline: deadline,
		},
		Watermark: playback.WatermarkSpec{Text: "Ada • 2026-10-19", Position: playback.BottomRight, Opacity: 0.7},
		LastError: "media command play failed: denied",
	}

	st, err := Encode("time_updated", snap)
	require.NoError(t, err)

	f := st.GetFields()
	assert.Equal(t, "time_updated", f["event"].GetStringValue())
	assert.Equal(t, "lesson-1", f["lesson_id"].GetStringValue())
	assert.Equal(t, 25.0, f["percentage"].GetNumberValue())
	assert.Equal(t, "2:30", f["current_time_text"].GetStringValue())
	assert.Equal(t, "10:00", f["duration_text"].GetStringValue())
	assert.Equal(t, 0.8, f["volume"].GetNumberValue())
	assert.Equal(t, 0.0, f["effective_volume"].GetNumberValue())
	assert.True(t, f["is_muted"].GetBoolValue())
	assert.True(t, f["controls_visible"].GetBoolValue())
	assert.Equal(t, "hiding_armed", f["controls_state"].GetStringValue())
	assert.Equal(t, "2026-10-19T09:00:03Z", f["hide_deadline"].GetStringValue())
	assert.Equal(t, "bottom-right", f["watermark_position"].GetStringValue())
	assert.NotContains(t, f, "sequence_no")
}

func TestDecode_ReadsEncodedSnapshot(t *testing.T) {
	snap := playback.Snapshot{
		LessonID: "lesson-2",
		Playback: playback.PlaybackState{DurationSeconds: 90, Volume: 1, PlaybackRate: 2},
		Controls: playback.ControlsVisibility{State: playback.ControlsVisible},
	}
	st, err := Encode(EventSnapshot, snap)
	require.NoError(t, err)

	m := NewManager()
	s := &fakeStream{}
	m.Subscribe(s)
	m.Broadcast(st)

	w, err := Decode(s.Received()[0])
	require.NoError(t, err)
	assert.Equal(t, EventSnapshot, w.Event)
	assert.Equal(t, 1.0, w.SequenceNo)
	assert.Equal(t, "lesson-2", w.LessonID)
	assert.Equal(t, 2.0, w.PlaybackRate)
	assert.Equal(t, "", w.HideDeadline)
	assert.Equal(t, "1:30", w.DurationText)
}

func TestDecode_Nil(t *testing.T) {
	_, err := Decode(nil)
	assert.Error(t, err)
}

func TestEventMessage(t *testing.T) {
	w, err := Decode(EventMessage(EventLessonClosed))
	require.NoError(t, err)
	assert.Equal(t, EventLessonClosed, w.Event)
	assert.Empty(t, w.LessonID)
}
