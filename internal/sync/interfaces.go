// Package sync implements the bidirectional reconciliation between a local
// event's calendar entries and the user's Google Calendar. It lists remote
// events in a fixed window, pushes new and locally edited entries, pulls
// remotely edited and previously unknown events, and resolves conflicts by
// last-modified-wins.
//
// The package contains two main components:
//
//   - [Reconciler] runs one request-scoped pass per call.
//   - [Engine] wraps the Reconciler with tracing and metrics for callers.
package sync

import (
	"context"

	"github.com/njoerd114/calendarrelay/internal/gcal"
	"github.com/njoerd114/calendarrelay/internal/model"
)

// Provider performs calendar operations against Google on behalf of a user.
// Implemented by [gcal.Adapter].
type Provider interface {
	CreateEvent(ctx context.Context, userID string, f model.EntryFields) (*model.RemoteEvent, error)
	UpdateEvent(ctx context.Context, userID, remoteID string, f model.EntryFields) (*model.RemoteEvent, error)
	DeleteEvent(ctx context.Context, userID, remoteID string) (bool, error)
	ListEvents(ctx context.Context, userID string, opts gcal.ListOptions) ([]model.RemoteEvent, error)
}

// EntryStore provides access to local calendar entries.
// Implemented by [state.Store].
type EntryStore interface {
	ListEntriesByEvent(ctx context.Context, eventID string) ([]*model.Entry, error)
	GetEntry(ctx context.Context, id string) (*model.Entry, error)
	InsertEntry(ctx context.Context, e *model.Entry) error
	UpdateEntry(ctx context.Context, e *model.Entry) error
	DeleteEntry(ctx context.Context, id string) error
}
