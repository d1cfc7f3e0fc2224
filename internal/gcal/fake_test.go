package gcal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/njoerd114/calendarrelay/internal/auth"
)

// --- staticTokens ------------------------------------------------------------

type staticTokens struct {
	access auth.Access
	err    error
	calls  int
}

func (s *staticTokens) ValidToken(_ context.Context, _ string) (auth.Access, error) {
	s.calls++
	return s.access, s.err
}

// --- fakeCalendar ------------------------------------------------------------

// request is one recorded call against the fake API.
type request struct {
	Method string
	Path   string
	Query  url.Values
	Auth   string
	Body   map[string]any
}

// fakeCalendar is an in-memory Calendar v3 events endpoint for a single
// calendar. It assigns ids and updated stamps, and answers conference create
// requests with a Meet video entry point.
type fakeCalendar struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	events   map[string]*calendar.Event
	order    []string
	requests []request
	nextID   int

	// status, when non-empty, is popped per request and answered as an
	// error instead of handling it.
	status []int
}

func newFakeCalendar(t *testing.T) *fakeCalendar {
	t.Helper()
	f := &fakeCalendar{t: t, events: make(map[string]*calendar.Event)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /calendar/v3/calendars/{cal}/events", f.list)
	mux.HandleFunc("POST /calendar/v3/calendars/{cal}/events", f.insert)
	mux.HandleFunc("PATCH /calendar/v3/calendars/{cal}/events/{id}", f.patch)
	mux.HandleFunc("DELETE /calendar/v3/calendars/{cal}/events/{id}", f.delete)

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if code, ok := f.popStatus(); ok {
			writeError(w, code)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

// endpoint is the base URL to hand to the adapter.
func (f *fakeCalendar) endpoint() string {
	return f.srv.URL + "/calendar/v3/"
}

func (f *fakeCalendar) failNext(codes ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = append(f.status, codes...)
}

func (f *fakeCalendar) popStatus() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.status) == 0 {
		return 0, false
	}
	code := f.status[0]
	f.status = f.status[1:]
	return code, true
}

func (f *fakeCalendar) record(r *http.Request) {
	body := map[string]any{}
	if r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				f.t.Errorf("decoding request body: %v", err)
			}
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Auth:   r.Header.Get("Authorization"),
		Body:   body,
	})
}

func (f *fakeCalendar) lastRequest() request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		f.t.Fatal("no requests recorded")
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeCalendar) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// put seeds an event directly.
func (f *fakeCalendar) put(ev *calendar.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[ev.Id]; !ok {
		f.order = append(f.order, ev.Id)
	}
	f.events[ev.Id] = ev
}

func (f *fakeCalendar) list(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	items := make([]*calendar.Event, 0, len(f.order))
	for _, id := range f.order {
		if ev, ok := f.events[id]; ok {
			items = append(items, ev)
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, &calendar.Events{Items: items})
}

func (f *fakeCalendar) insert(w http.ResponseWriter, r *http.Request) {
	var ev calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.nextID++
	ev.Id = fmt.Sprintf("g-%d", f.nextID)
	f.mu.Unlock()

	ev.Updated = time.Now().UTC().Format(time.RFC3339Nano)
	if ev.ConferenceData != nil && ev.ConferenceData.CreateRequest != nil &&
		r.URL.Query().Get("conferenceDataVersion") == "1" {
		ev.ConferenceData.EntryPoints = []*calendar.EntryPoint{
			{EntryPointType: "phone", Uri: "tel:+1-555-0100"},
			{EntryPointType: "video", Uri: "https://meet.google.com/" + ev.Id},
		}
	}
	f.put(&ev)
	writeJSON(w, http.StatusOK, &ev)
}

func (f *fakeCalendar) patch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f.mu.Lock()
	ev, ok := f.events[id]
	f.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound)
		return
	}

	var p calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}
	if p.Summary != "" {
		ev.Summary = p.Summary
	}
	if p.Description != "" {
		ev.Description = p.Description
	}
	if p.Location != "" {
		ev.Location = p.Location
	}
	if p.Start != nil {
		ev.Start = p.Start
	}
	if p.End != nil {
		ev.End = p.End
	}
	ev.Updated = time.Now().UTC().Format(time.RFC3339Nano)
	writeJSON(w, http.StatusOK, ev)
}

func (f *fakeCalendar) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f.mu.Lock()
	_, ok := f.events[id]
	delete(f.events, id)
	f.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{"code": code, "message": http.StatusText(code)},
	})
}

// --- helpers -----------------------------------------------------------------

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeCalendar, *staticTokens) {
	t.Helper()
	fc := newFakeCalendar(t)
	tokens := &staticTokens{access: auth.Access{Token: "tok-1", CalendarID: "primary"}}
	return NewAdapter(tokens, fc.endpoint(), discardLogger()), fc, tokens
}
