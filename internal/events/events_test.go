package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playlist-zipper/internal/domain"
	"playlist-zipper/internal/events"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestEventJSON(t *testing.T) {
	tests := []struct {
		e    events.Event
		want string
	}{
		{events.StatusEvent{Message: "Searching 3 tracks..."}, `{"type":"status","message":"Searching 3 tracks..."}`},
		{events.NewProgress(1, 3), `{"type":"progress","completed":1,"total":3,"percent":33}`},
		{events.TrackUpdateEvent{TrackID: "abc", Position: 2, Status: domain.TrackStatusNotFound}, `{"type":"track_update","trackId":"abc","position":2,"status":"Not Found"}`},
		{events.ZippingEvent{}, `{"type":"zipping"}`},
		{events.ReadyEvent{URL: "/api/file/j1"}, `{"type":"ready","url":"/api/file/j1"}`},
		{events.ErrorEvent{Message: "no tracks found"}, `{"type":"error","message":"no tracks found"}`},
	}
	for _, tt := range tests {
		t.Run(tt.e.Type(), func(t *testing.T) {
			b, err := json.Marshal(tt.e)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))
		})
	}
}

func TestNewProgress(t *testing.T) {
	assert.Equal(t, 67, events.NewProgress(2, 3).Percent)
	assert.Equal(t, 100, events.NewProgress(3, 3).Percent)
	assert.Equal(t, 0, events.NewProgress(0, 0).Percent)
}

func collect(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var out []events.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatal("subscription did not end")
			return out
		}
	}
}

func TestHub_LateSubscriberReplays(t *testing.T) {
	hub := events.NewHub(quietLogger())
	hub.Emit("j1", events.StatusEvent{Message: "a"})
	hub.Emit("j1", events.NewProgress(1, 1))
	hub.Emit("j1", events.ReadyEvent{URL: "/x"})
	hub.Emit("j1", events.StatusEvent{Message: "late"})

	got := collect(t, hub.Subscribe(context.Background(), "j1"))
	require.Len(t, got, 3)
	assert.Equal(t, events.TypeStatus, got[0].Type())
	assert.Equal(t, events.TypeReady, got[2].Type())
}

func TestHub_LiveOrdering(t *testing.T) {
	hub := events.NewHub(quietLogger())
	sub := hub.Subscribe(context.Background(), "j1")

	go func() {
		for i := 1; i <= 50; i++ {
			hub.Emit("j1", events.NewProgress(i, 50))
		}
		hub.Emit("j1", events.ErrorEvent{Message: "boom"})
	}()

	got := collect(t, sub)
	require.Len(t, got, 51)
	for i := 0; i < 50; i++ {
		assert.Equal(t, i+1, got[i].(events.ProgressEvent).Completed)
	}
	assert.Equal(t, events.ErrorEvent{Message: "boom"}, got[50])
}

func TestHub_JobsAreIsolated(t *testing.T) {
	hub := events.NewHub(quietLogger())
	hub.Emit("a", events.StatusEvent{Message: "a"})
	hub.Emit("b", events.StatusEvent{Message: "b"})
	assert.Equal(t, []events.Event{events.StatusEvent{Message: "a"}}, hub.Events("a"))
}

func TestHub_ForgetReleasesSubscribers(t *testing.T) {
	hub := events.NewHub(quietLogger())
	hub.Emit("j1", events.StatusEvent{Message: "a"})
	sub := hub.Subscribe(context.Background(), "j1")

	first := <-sub
	assert.Equal(t, events.StatusEvent{Message: "a"}, first)

	hub.Forget("j1")
	assert.Empty(t, collect(t, sub))
	assert.Nil(t, hub.Events("j1"))
}

func TestHub_ContextCancel(t *testing.T) {
	hub := events.NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	sub := hub.Subscribe(ctx, "j1")
	cancel()
	assert.Empty(t, collect(t, sub))
}
