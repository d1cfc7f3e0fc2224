package gcal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"

	"github.com/njoerd114/calendarrelay/internal/model"
)

// meetSolution is the conference solution type for Google Meet.
const meetSolution = "hangoutsMeet"

// videoEntryPoint is the entry point type that carries the join URL.
const videoEntryPoint = "video"

// toEvent maps f onto a Calendar API event. Only the fields set in f are
// written; empty strings are sent explicitly so a patch can clear a field.
func toEvent(f model.EntryFields) *calendar.Event {
	ev := &calendar.Event{}
	if f.Title != nil {
		ev.Summary = *f.Title
		ev.ForceSendFields = append(ev.ForceSendFields, "Summary")
	}
	if f.Description != nil {
		ev.Description = *f.Description
		ev.ForceSendFields = append(ev.ForceSendFields, "Description")
	}
	if f.Location != nil {
		ev.Location = *f.Location
		ev.ForceSendFields = append(ev.ForceSendFields, "Location")
	}

	allDay := f.IsAllDay != nil && *f.IsAllDay
	if f.StartTime != nil {
		ev.Start = toEventDateTime(*f.StartTime, allDay, false)
	}
	if f.EndTime != nil {
		ev.End = toEventDateTime(*f.EndTime, allDay, true)
	}

	if f.AddMeetLink {
		ev.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             uuid.NewString(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: meetSolution},
			},
		}
	}
	return ev
}

// toEventDateTime renders t as a date-only or date-time value. Google treats
// an all-day end date as exclusive, so the end is moved to the next day.
// The other representation is nulled so a patch can switch between the two.
func toEventDateTime(t time.Time, allDay, end bool) *calendar.EventDateTime {
	if allDay {
		day := t.UTC()
		if end {
			day = day.AddDate(0, 0, 1)
		}
		return &calendar.EventDateTime{
			Date:       model.FormatDate(day),
			NullFields: []string{"DateTime"},
		}
	}
	return &calendar.EventDateTime{
		DateTime:   t.Format(time.RFC3339),
		NullFields: []string{"Date"},
	}
}

// fromEvent converts a Calendar API event into a [model.RemoteEvent].
// Date-only bounds become the local all-day sentinels: start at 00:00:00Z,
// end at 23:59:59Z of the last (inclusive) day.
func fromEvent(ev *calendar.Event) (*model.RemoteEvent, error) {
	if ev == nil {
		return nil, fmt.Errorf("nil event")
	}
	r := &model.RemoteEvent{
		ID:          ev.Id,
		Title:       ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		MeetLink:    ExtractMeetLink(ev),
	}

	if ev.Updated != "" {
		updated, err := time.Parse(time.RFC3339, ev.Updated)
		if err != nil {
			return nil, fmt.Errorf("event %q: parsing updated %q: %w", ev.Id, ev.Updated, err)
		}
		r.Updated = updated.UTC()
	}

	if ev.Start == nil || ev.End == nil {
		return nil, fmt.Errorf("event %q: missing start or end", ev.Id)
	}

	if ev.Start.Date != "" {
		start, err := time.Parse(model.DateLayout, ev.Start.Date)
		if err != nil {
			return nil, fmt.Errorf("event %q: parsing start date: %w", ev.Id, err)
		}
		lastDay := start
		if ev.End.Date != "" {
			end, err := time.Parse(model.DateLayout, ev.End.Date)
			if err != nil {
				return nil, fmt.Errorf("event %q: parsing end date: %w", ev.Id, err)
			}
			if prev := end.AddDate(0, 0, -1); prev.After(start) {
				lastDay = prev
			}
		}
		r.AllDay = true
		r.Start = model.AllDayStart(start)
		r.End = model.AllDayEnd(lastDay)
		return r, nil
	}

	start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
	if err != nil {
		return nil, fmt.Errorf("event %q: parsing start: %w", ev.Id, err)
	}
	end, err := time.Parse(time.RFC3339, ev.End.DateTime)
	if err != nil {
		return nil, fmt.Errorf("event %q: parsing end: %w", ev.Id, err)
	}
	r.Start = start.UTC()
	r.End = end.UTC()
	return r, nil
}

// ExtractMeetLink returns the URI of the first video entry point in the
// event's conference data, or "" if there is none.
func ExtractMeetLink(ev *calendar.Event) string {
	if ev == nil || ev.ConferenceData == nil {
		return ""
	}
	for _, ep := range ev.ConferenceData.EntryPoints {
		if ep != nil && ep.EntryPointType == videoEntryPoint && ep.Uri != "" {
			return ep.Uri
		}
	}
	return ""
}
