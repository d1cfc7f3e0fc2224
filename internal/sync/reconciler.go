package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/njoerd114/calendarrelay/internal/gcal"
	"github.com/njoerd114/calendarrelay/internal/model"
)

const (
	// windowPast and windowFuture bound the remote listing around now.
	windowPast   = 30 * 24 * time.Hour
	windowFuture = 180 * 24 * time.Hour

	// maxRemoteEvents caps the remote listing.
	maxRemoteEvents = 250
)

// ErrEntryNotFound is returned when an entry id does not exist locally.
var ErrEntryNotFound = errors.New("calendar entry not found")

// action describes the directional mutation chosen for a linked entry.
type action int

const (
	actionNone action = iota
	actionPush        // local wins → patch the remote event
	actionPull        // remote wins → overwrite the local entry
)

func (a action) String() string {
	switch a {
	case actionPush:
		return "push"
	case actionPull:
		return "pull"
	default:
		return "none"
	}
}

// SyncResult reports what one reconcile pass did. Errors holds one message
// per failed individual operation.
type SyncResult struct {
	PushedToGoogle   int      `json:"pushedToGoogle"`
	PulledFromGoogle int      `json:"pulledFromGoogle"`
	Conflicts        int      `json:"conflicts"`
	Errors           []string `json:"errors"`
}

func newSyncResult() SyncResult {
	return SyncResult{Errors: []string{}}
}

// Reconciler performs request-scoped sync passes. It is stateless between
// calls; every user and event is passed explicitly.
type Reconciler struct {
	provider Provider
	store    EntryStore
	log      *slog.Logger
	now      func() time.Time
}

// NewReconciler creates a Reconciler wired to the given provider and store.
func NewReconciler(provider Provider, store EntryStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		provider: provider,
		store:    store,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SyncCalendarEvents reconciles every entry of eventID with the user's
// calendar. Per-entry failures are collected in the result and never abort
// the pass; an error is returned only when the local entries cannot be
// loaded.
func (r *Reconciler) SyncCalendarEvents(ctx context.Context, userID, eventID string) (SyncResult, error) {
	result := newSyncResult()

	entries, err := r.store.ListEntriesByEvent(ctx, eventID)
	if err != nil {
		return result, fmt.Errorf("loading entries for event %q: %w", eventID, err)
	}

	now := r.now()
	remotes, err := r.provider.ListEvents(ctx, userID, gcal.ListOptions{
		TimeMin:    now.Add(-windowPast),
		TimeMax:    now.Add(windowFuture),
		MaxResults: maxRemoteEvents,
	})
	if err != nil {
		// Treated as an empty calendar; nothing is deleted on either side.
		r.log.Warn("listing google events failed, continuing without remote events",
			"user_id", userID, "event_id", eventID, "error", err)
		remotes = nil
	}

	remoteByID := make(map[string]*model.RemoteEvent, len(remotes))
	for i := range remotes {
		remoteByID[remotes[i].ID] = &remotes[i]
	}

	r.log.Debug("reconciling event",
		"user_id", userID, "event_id", eventID,
		"local", len(entries), "remote", len(remotes))

	// 1. Local entries.
	linked := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.Synced() {
			r.pushNew(ctx, userID, e, &result)
			if e.Synced() {
				linked[e.GoogleEventID] = true
			}
			continue
		}

		linked[e.GoogleEventID] = true
		remote, ok := remoteByID[e.GoogleEventID]
		if !ok {
			// Deleted remotely or outside the window; left untouched.
			r.log.Debug("linked google event not in window",
				"entry_id", e.ID, "google_event_id", e.GoogleEventID)
			continue
		}
		r.reconcileLinked(ctx, userID, e, remote, &result)
	}

	// 2. Remote events with no local counterpart.
	for i := range remotes {
		remote := &remotes[i]
		if linked[remote.ID] {
			continue
		}
		entry := &model.Entry{EventID: eventID}
		entry.ApplyRemote(remote, r.now())
		if err := r.store.InsertEntry(ctx, entry); err != nil {
			r.log.Error("failed to pull google event",
				"google_event_id", remote.ID, "title", remote.Title, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("failed to pull %s: %v", remote.Title, err))
			continue
		}
		r.log.Info("pulled new google event", "google_event_id", remote.ID, "title", remote.Title)
		result.PulledFromGoogle++
	}

	r.log.Info("sync complete",
		"user_id", userID,
		"event_id", eventID,
		"pushed", result.PushedToGoogle,
		"pulled", result.PulledFromGoogle,
		"conflicts", result.Conflicts,
		"errors", len(result.Errors),
	)
	return result, nil
}

// pushNew creates a never-synced entry on Google with a Meet link request.
func (r *Reconciler) pushNew(ctx context.Context, userID string, e *model.Entry, result *SyncResult) {
	if err := r.create(ctx, userID, e); err != nil {
		r.log.Error("failed to push entry", "entry_id", e.ID, "title", e.Title, "error", err)
		result.Errors = append(result.Errors, fmt.Sprintf("failed to push %s: %v", e.Title, err))
		return
	}
	r.log.Info("pushed new entry", "entry_id", e.ID, "google_event_id", e.GoogleEventID)
	result.PushedToGoogle++
}

// create performs the provider create and persists the push metadata. On a
// failed local write e is restored so the caller sees it unsynced.
func (r *Reconciler) create(ctx context.Context, userID string, e *model.Entry) error {
	f := model.FieldsFromEntry(e)
	f.AddMeetLink = true
	remote, err := r.provider.CreateEvent(ctx, userID, f)
	if err != nil {
		return err
	}

	before := *e
	e.MarkSynced(remote, r.now())
	if err := r.store.UpdateEntry(ctx, e); err != nil {
		*e = before
		return fmt.Errorf("recording google event %q: %w", remote.ID, err)
	}
	return nil
}

// reconcileLinked handles an entry whose remote counterpart was listed.
// Failures here are logged but not added to result.Errors.
func (r *Reconciler) reconcileLinked(ctx context.Context, userID string, e *model.Entry, remote *model.RemoteEvent, result *SyncResult) {
	act, conflict := r.decide(e, remote)
	if conflict {
		result.Conflicts++
	}

	switch act {
	case actionNone:
		return

	case actionPush:
		patched, err := r.provider.UpdateEvent(ctx, userID, e.GoogleEventID, model.FieldsFromEntry(e))
		if err != nil {
			r.log.Warn("failed to push entry update", "entry_id", e.ID, "google_event_id", e.GoogleEventID, "error", err)
			return
		}
		e.MarkSynced(patched, r.now())
		if err := r.store.UpdateEntry(ctx, e); err != nil {
			r.log.Error("recording push failed", "entry_id", e.ID, "error", err)
			return
		}
		r.log.Info("pushed entry update", "entry_id", e.ID, "google_event_id", e.GoogleEventID)
		result.PushedToGoogle++

	case actionPull:
		e.ApplyRemote(remote, r.now())
		if err := r.store.UpdateEntry(ctx, e); err != nil {
			r.log.Error("failed to pull google update", "entry_id", e.ID, "google_event_id", e.GoogleEventID, "error", err)
			return
		}
		r.log.Info("pulled google update", "entry_id", e.ID, "google_event_id", e.GoogleEventID)
		result.PulledFromGoogle++
	}
}

// decide compares local updated_at and remote updated against synced_at.
// A remote stamp equal to the one recorded at the last sync is not a change,
// even when it is later than synced_at.
func (r *Reconciler) decide(e *model.Entry, remote *model.RemoteEvent) (action, bool) {
	localChanged := e.ModifiedSinceSync()
	remoteChanged := remote.Updated.After(e.SyncedAt) && !remote.Updated.Equal(e.GoogleUpdatedAt)

	switch {
	case localChanged && remoteChanged:
		r.log.Info("conflict detected",
			"entry_id", e.ID,
			"local_updated", e.UpdatedAt,
			"google_updated", remote.Updated,
		)
		// Equal timestamps favour the local entry.
		if remote.Updated.After(e.UpdatedAt) {
			return actionPull, true
		}
		return actionPush, true
	case localChanged:
		return actionPush, false
	case remoteChanged:
		return actionPull, false
	default:
		return actionNone, false
	}
}

// AddMeetLinkToEvent returns the Meet link for entryID, creating the remote
// event with a conference when the entry was never synced. An entry that is
// already synced keeps its current link, which may be empty.
func (r *Reconciler) AddMeetLinkToEvent(ctx context.Context, userID, entryID string) (string, error) {
	e, err := r.store.GetEntry(ctx, entryID)
	if err != nil {
		return "", fmt.Errorf("loading entry %q: %w", entryID, err)
	}
	if e == nil {
		return "", ErrEntryNotFound
	}

	if e.Synced() {
		return e.GoogleMeetLink, nil
	}

	if err := r.create(ctx, userID, e); err != nil {
		r.log.Error("failed to create google event with meet link", "entry_id", entryID, "error", err)
		return "", err
	}
	r.log.Info("created google event with meet link",
		"entry_id", entryID, "google_event_id", e.GoogleEventID, "meet_link", e.GoogleMeetLink)
	return e.GoogleMeetLink, nil
}

// RemoveEntry deletes entryID locally, deleting its Google event first when
// it is linked. If the remote delete fails the local entry is kept.
func (r *Reconciler) RemoveEntry(ctx context.Context, userID, entryID string) error {
	e, err := r.store.GetEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("loading entry %q: %w", entryID, err)
	}
	if e == nil {
		return ErrEntryNotFound
	}

	if e.Synced() {
		ok, err := r.provider.DeleteEvent(ctx, userID, e.GoogleEventID)
		if err != nil {
			return fmt.Errorf("deleting google event %q: %w", e.GoogleEventID, err)
		}
		if !ok {
			return fmt.Errorf("deleting google event %q: not deleted", e.GoogleEventID)
		}
	}

	if err := r.store.DeleteEntry(ctx, entryID); err != nil {
		return err
	}
	r.log.Info("removed entry", "entry_id", entryID, "google_event_id", e.GoogleEventID)
	return nil
}
