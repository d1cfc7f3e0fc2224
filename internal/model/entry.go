// Package model defines the types shared by the sync engine, the Google
// Calendar adapter, and the state store.
package model

import (
	"time"
)

// PrimaryCalendarID is Google's sentinel for the user's default calendar.
const PrimaryCalendarID = "primary"

// DateLayout is the date-only wire format used for all-day events.
const DateLayout = "2006-01-02"

// Credential holds a user's Google OAuth tokens and target calendar. There
// is exactly one Credential per user.
type Credential struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time

	// CalendarID is the Google calendar to read and write. Empty means
	// [PrimaryCalendarID].
	CalendarID string
}

// Calendar returns the calendar ID to use for provider calls.
func (c *Credential) Calendar() string {
	if c.CalendarID == "" {
		return PrimaryCalendarID
	}
	return c.CalendarID
}

// Entry is a local calendar entry belonging to an event. Zero values stand
// in for SQL NULL: an empty GoogleEventID means the entry was never pushed
// or pulled, and a zero SyncedAt means it was never reconciled.
type Entry struct {
	ID      string
	EventID string

	Title       string
	Description string
	Location    string

	StartTime time.Time
	EndTime   time.Time
	IsAllDay  bool

	GoogleEventID   string
	GoogleMeetLink  string
	SyncedAt        time.Time
	GoogleUpdatedAt time.Time

	// UpdatedAt is the local last-modification time.
	UpdatedAt time.Time
}

// Synced reports whether the entry is linked to a Google event.
func (e *Entry) Synced() bool {
	return e.GoogleEventID != ""
}

// ModifiedSinceSync reports whether the entry was edited locally after the
// last reconciliation.
func (e *Entry) ModifiedSinceSync() bool {
	return e.UpdatedAt.After(e.SyncedAt)
}

// MarkSynced records the outcome of a successful push. The meet link is only
// overwritten when the provider returned one.
func (e *Entry) MarkSynced(remote *RemoteEvent, now time.Time) {
	e.GoogleEventID = remote.ID
	if remote.MeetLink != "" {
		e.GoogleMeetLink = remote.MeetLink
	}
	e.SyncedAt = now
	e.GoogleUpdatedAt = remote.Updated
}

// ApplyRemote overwrites the entry's display and time fields with the remote
// event's and stamps the sync metadata. UpdatedAt is set to now so that the
// pull itself does not read as a local edit on the next pass.
func (e *Entry) ApplyRemote(remote *RemoteEvent, now time.Time) {
	e.Title = remote.Title
	e.Description = remote.Description
	e.Location = remote.Location
	e.StartTime = remote.Start
	e.EndTime = remote.End
	e.IsAllDay = remote.AllDay
	e.GoogleEventID = remote.ID
	e.GoogleMeetLink = remote.MeetLink
	e.SyncedAt = now
	e.GoogleUpdatedAt = remote.Updated
	e.UpdatedAt = now
}

// EntryFields is the set of entry fields sent to the provider. Nil pointers
// are omitted from a patch; a create expects every field to be set.
type EntryFields struct {
	Title       *string
	Description *string
	Location    *string
	StartTime   *time.Time
	EndTime     *time.Time
	IsAllDay    *bool

	// AddMeetLink requests a Google Meet conference on create or patch.
	AddMeetLink bool
}

// FieldsFromEntry returns a fully populated EntryFields for e.
func FieldsFromEntry(e *Entry) EntryFields {
	title, desc, loc := e.Title, e.Description, e.Location
	start, end := e.StartTime, e.EndTime
	allDay := e.IsAllDay
	return EntryFields{
		Title:       &title,
		Description: &desc,
		Location:    &loc,
		StartTime:   &start,
		EndTime:     &end,
		IsAllDay:    &allDay,
	}
}

// RemoteEvent is a Google Calendar event as seen by the sync engine. It is
// fetched per sync call and never persisted.
type RemoteEvent struct {
	ID          string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool

	// Updated is Google's last-modification timestamp.
	Updated time.Time

	// MeetLink is the first video entry point URI, empty if none.
	MeetLink string
}

// --- All-day normalisation ---------------------------------------------------

// AllDayStart returns the local sentinel for the first instant of day:
// midnight UTC.
func AllDayStart(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AllDayEnd returns the local sentinel for the last second of day:
// 23:59:59 UTC.
func AllDayEnd(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

// FormatDate renders t as a date-only string in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
