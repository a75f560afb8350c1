// Package events defines the progress events a job emits and delivers them
// to observers.
package events

import (
	"encoding/json"

	"playlist-zipper/internal/domain"
)

const (
	TypeStatus      = "status"
	TypeProgress    = "progress"
	TypeTrackUpdate = "track_update"
	TypeZipping     = "zipping"
	TypeReady       = "ready"
	TypeError       = "error"
)

// Event is one of the variants declared in this package.
type Event interface {
	Type() string
	// Terminal reports whether the job emits nothing after this event.
	Terminal() bool
	event()
}

// Sink receives the events of every job, in the order each job produced them.
type Sink interface {
	Emit(jobID string, e Event)
}

type StatusEvent struct {
	Message string
}

type ProgressEvent struct {
	Completed int
	Total     int
	Percent   int
}

// NewProgress computes the rounded percentage for completed of total.
func NewProgress(completed, total int) ProgressEvent {
	p := 0
	if total > 0 {
		p = (completed*100 + total/2) / total
	}
	return ProgressEvent{Completed: completed, Total: total, Percent: p}
}

type TrackUpdateEvent struct {
	TrackID  string
	Position int
	Status   domain.TrackStatus
}

type ZippingEvent struct{}

type ReadyEvent struct {
	URL string
}

type ErrorEvent struct {
	Message string
}

func (StatusEvent) Type() string      { return TypeStatus }
func (ProgressEvent) Type() string    { return TypeProgress }
func (TrackUpdateEvent) Type() string { return TypeTrackUpdate }
func (ZippingEvent) Type() string     { return TypeZipping }
func (ReadyEvent) Type() string       { return TypeReady }
func (ErrorEvent) Type() string       { return TypeError }

func (StatusEvent) Terminal() bool      { return false }
func (ProgressEvent) Terminal() bool    { return false }
func (TrackUpdateEvent) Terminal() bool { return false }
func (ZippingEvent) Terminal() bool     { return false }
func (ReadyEvent) Terminal() bool       { return true }
func (ErrorEvent) Terminal() bool       { return true }

func (StatusEvent) event()      {}
func (ProgressEvent) event()    {}
func (TrackUpdateEvent) event() {}
func (ZippingEvent) event()     {}
func (ReadyEvent) event()       {}
func (ErrorEvent) event()       {}

func (e StatusEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{TypeStatus, e.Message})
}

func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		Completed int    `json:"completed"`
		Total     int    `json:"total"`
		Percent   int    `json:"percent"`
	}{TypeProgress, e.Completed, e.Total, e.Percent})
}

func (e TrackUpdateEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string             `json:"type"`
		TrackID  string             `json:"trackId"`
		Position int                `json:"position"`
		Status   domain.TrackStatus `json:"status"`
	}{TypeTrackUpdate, e.TrackID, e.Position, e.Status})
}

func (ZippingEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{TypeZipping})
}

func (e ReadyEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	}{TypeReady, e.URL})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{TypeError, e.Message})
}
