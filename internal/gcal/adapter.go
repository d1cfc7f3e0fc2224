// Package gcal wraps the Google Calendar v3 API for the sync engine. It
// provides an [Adapter] whose methods resolve a per-user access token first
// and fail closed, conversion between Calendar API events and
// [model.RemoteEvent], and a retry helper for transient provider errors.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/njoerd114/calendarrelay/internal/auth"
	"github.com/njoerd114/calendarrelay/internal/model"
)

var (
	// ErrNoToken means no usable access token could be obtained for the user.
	ErrNoToken = errors.New("no google access token")

	// ErrProvider means Google answered with a non-2xx status.
	ErrProvider = errors.New("google calendar api error")

	// ErrTransport means the request never got a response.
	ErrTransport = errors.New("google calendar transport error")
)

// TokenSource resolves a valid access token for a user. Implemented by
// [auth.Refresher].
type TokenSource interface {
	ValidToken(ctx context.Context, userID string) (auth.Access, error)
}

// ListOptions bounds a ListEvents call.
type ListOptions struct {
	TimeMin    time.Time
	TimeMax    time.Time
	MaxResults int64
}

// Adapter performs Calendar API calls on behalf of users.
type Adapter struct {
	tokens   TokenSource
	endpoint string
	base     http.RoundTripper
	log      *slog.Logger

	// maxAttempts bounds retries of idempotent calls.
	maxAttempts int
}

// NewAdapter creates an Adapter talking to the public Calendar API, or to
// endpoint when it is non-empty.
func NewAdapter(tokens TokenSource, endpoint string, logger *slog.Logger) *Adapter {
	return NewAdapterWithTransport(tokens, endpoint, http.DefaultTransport, logger)
}

// NewAdapterWithTransport creates an Adapter that sends requests through
// base. Use in tests to inject a custom transport.
func NewAdapterWithTransport(tokens TokenSource, endpoint string, base http.RoundTripper, logger *slog.Logger) *Adapter {
	return &Adapter{
		tokens:      tokens,
		endpoint:    endpoint,
		base:        base,
		log:         logger,
		maxAttempts: defaultMaxAttempts,
	}
}

// --- Operations --------------------------------------------------------------

// CreateEvent inserts a new event built from f, which must have every field
// set. When f.AddMeetLink is true a Meet conference is requested.
func (a *Adapter) CreateEvent(ctx context.Context, userID string, f model.EntryFields) (*model.RemoteEvent, error) {
	svc, calID, err := a.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	call := svc.Events.Insert(calID, toEvent(f)).Context(ctx)
	if f.AddMeetLink {
		call = call.ConferenceDataVersion(1)
	}
	created, err := call.Do()
	if err != nil {
		return nil, a.fail("create event", userID, "", err)
	}
	return a.convert(created)
}

// UpdateEvent patches remoteID with the fields present in f. Absent fields
// are left untouched on Google's side.
func (a *Adapter) UpdateEvent(ctx context.Context, userID, remoteID string, f model.EntryFields) (*model.RemoteEvent, error) {
	svc, calID, err := a.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	var patched *calendar.Event
	err = retry(ctx, a.maxAttempts, func() error {
		call := svc.Events.Patch(calID, remoteID, toEvent(f)).Context(ctx)
		if f.AddMeetLink {
			call = call.ConferenceDataVersion(1)
		}
		var callErr error
		patched, callErr = call.Do()
		return callErr
	})
	if err != nil {
		return nil, a.fail("update event", userID, remoteID, err)
	}
	return a.convert(patched)
}

// DeleteEvent removes remoteID. An event that is already gone (404 or 410)
// counts as deleted.
func (a *Adapter) DeleteEvent(ctx context.Context, userID, remoteID string) (bool, error) {
	svc, calID, err := a.service(ctx, userID)
	if err != nil {
		return false, err
	}

	err = retry(ctx, a.maxAttempts, func() error {
		return svc.Events.Delete(calID, remoteID).Context(ctx).Do()
	})
	if err != nil {
		if isGone(err) {
			a.log.Debug("google event already deleted", "user_id", userID, "google_event_id", remoteID)
			return true, nil
		}
		return false, a.fail("delete event", userID, remoteID, err)
	}
	return true, nil
}

// ListEvents returns the events in [opts.TimeMin, opts.TimeMax), with
// recurring events expanded into single occurrences. Cancelled occurrences
// and events that fail to convert are skipped.
func (a *Adapter) ListEvents(ctx context.Context, userID string, opts ListOptions) ([]model.RemoteEvent, error) {
	svc, calID, err := a.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	var resp *calendar.Events
	err = retry(ctx, a.maxAttempts, func() error {
		call := svc.Events.List(calID).
			Context(ctx).
			TimeMin(opts.TimeMin.UTC().Format(time.RFC3339)).
			TimeMax(opts.TimeMax.UTC().Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime")
		if opts.MaxResults > 0 {
			call = call.MaxResults(opts.MaxResults)
		}
		var callErr error
		resp, callErr = call.Do()
		return callErr
	})
	if err != nil {
		return nil, a.fail("list events", userID, "", err)
	}

	events := make([]model.RemoteEvent, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item == nil || item.Status == "cancelled" {
			continue
		}
		ev, err := fromEvent(item)
		if err != nil {
			a.log.Warn("skipping unreadable google event", "user_id", userID, "error", err)
			continue
		}
		events = append(events, *ev)
	}
	return events, nil
}

// --- Helpers -----------------------------------------------------------------

// service builds a Calendar client authorised with the user's current token.
func (a *Adapter) service(ctx context.Context, userID string) (*calendar.Service, string, error) {
	acc, err := a.tokens.ValidToken(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrNoToken, err)
	}

	hc := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: acc.Token, TokenType: "Bearer"}),
			Base:   a.base,
		},
	}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}

	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("%w: creating calendar service: %w", ErrTransport, err)
	}
	return svc, acc.CalendarID, nil
}

func (a *Adapter) convert(ev *calendar.Event) (*model.RemoteEvent, error) {
	r, err := fromEvent(ev)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	return r, nil
}

// fail logs err with the raw provider body and returns it reduced to one of
// the sentinel kinds.
func (a *Adapter) fail(op, userID, remoteID string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		a.log.Error("google calendar call failed",
			"op", op, "user_id", userID, "google_event_id", remoteID,
			"status", gerr.Code, "body", gerr.Body)
		return fmt.Errorf("%s: %w (HTTP %d)", op, ErrProvider, gerr.Code)
	}
	a.log.Error("google calendar call failed",
		"op", op, "user_id", userID, "google_event_id", remoteID, "error", err)
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}

// isGone reports whether err is a 404 or 410 from the API.
func isGone(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
}
