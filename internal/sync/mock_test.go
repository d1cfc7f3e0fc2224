package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/njoerd114/calendarrelay/internal/gcal"
	"github.com/njoerd114/calendarrelay/internal/model"
)

// --- Mock Provider -----------------------------------------------------------

type mockProvider struct {
	mu      sync.Mutex
	events  map[string]*model.RemoteEvent
	order   []string
	nextID  int
	clock   func() time.Time
	creates []model.EntryFields
	updates []model.EntryFields
	deletes []string
	lists   int

	listErr   error
	createErr map[string]error // title → error
	updateErr error
	deleteErr error
}

func newMockProvider(clock func() time.Time, events ...model.RemoteEvent) *mockProvider {
	m := &mockProvider{
		events:    make(map[string]*model.RemoteEvent),
		clock:     clock,
		createErr: make(map[string]error),
	}
	for _, ev := range events {
		m.put(ev)
	}
	return m
}

func (m *mockProvider) put(ev model.RemoteEvent) {
	if _, ok := m.events[ev.ID]; !ok {
		m.order = append(m.order, ev.ID)
	}
	cp := ev
	m.events[ev.ID] = &cp
}

func (m *mockProvider) ListEvents(_ context.Context, _ string, _ gcal.ListOptions) ([]model.RemoteEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]model.RemoteEvent, 0, len(m.order))
	for _, id := range m.order {
		if ev, ok := m.events[id]; ok {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (m *mockProvider) CreateEvent(_ context.Context, _ string, f model.EntryFields) (*model.RemoteEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates = append(m.creates, f)
	if err := m.createErr[*f.Title]; err != nil {
		return nil, err
	}

	m.nextID++
	ev := model.RemoteEvent{
		ID:      fmt.Sprintf("g-%d", m.nextID),
		Updated: m.clock(),
	}
	applyFields(&ev, f)
	if f.AddMeetLink {
		ev.MeetLink = "https://meet.google.com/" + ev.ID
	}
	m.put(ev)
	cp := ev
	return &cp, nil
}

func (m *mockProvider) UpdateEvent(_ context.Context, _ string, remoteID string, f model.EntryFields) (*model.RemoteEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, f)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	ev, ok := m.events[remoteID]
	if !ok {
		return nil, fmt.Errorf("%w: 404", gcal.ErrProvider)
	}
	applyFields(ev, f)
	ev.Updated = m.clock()
	cp := *ev
	return &cp, nil
}

func (m *mockProvider) DeleteEvent(_ context.Context, _ string, remoteID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, remoteID)
	if m.deleteErr != nil {
		return false, m.deleteErr
	}
	delete(m.events, remoteID)
	return true, nil
}

func (m *mockProvider) get(id string) *model.RemoteEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[id]; ok {
		cp := *ev
		return &cp
	}
	return nil
}

// mutations counts every call that changes the remote calendar.
func (m *mockProvider) mutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.creates) + len(m.updates) + len(m.deletes)
}

func applyFields(ev *model.RemoteEvent, f model.EntryFields) {
	if f.Title != nil {
		ev.Title = *f.Title
	}
	if f.Description != nil {
		ev.Description = *f.Description
	}
	if f.Location != nil {
		ev.Location = *f.Location
	}
	if f.StartTime != nil {
		ev.Start = *f.StartTime
	}
	if f.EndTime != nil {
		ev.End = *f.EndTime
	}
	if f.IsAllDay != nil {
		ev.AllDay = *f.IsAllDay
	}
}

// --- Mock Entry Store --------------------------------------------------------

var errStoreDown = errors.New("database is locked")

type mockStore struct {
	mu      sync.Mutex
	entries map[string]*model.Entry
	order   []string
	nextID  int
	writes  int

	listErr   error
	insertErr error
	updateErr error
}

func newMockStore(entries ...*model.Entry) *mockStore {
	m := &mockStore{entries: make(map[string]*model.Entry)}
	for _, e := range entries {
		m.add(e)
	}
	return m
}

func (m *mockStore) add(e *model.Entry) {
	if e.ID == "" {
		m.nextID++
		e.ID = fmt.Sprintf("entry-%d", m.nextID)
	}
	cp := *e
	m.entries[e.ID] = &cp
	m.order = append(m.order, e.ID)
}

func (m *mockStore) ListEntriesByEvent(_ context.Context, eventID string) ([]*model.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var result []*model.Entry
	for _, id := range m.order {
		e, ok := m.entries[id]
		if ok && e.EventID == eventID {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockStore) GetEntry(_ context.Context, id string) (*model.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *mockStore) InsertEntry(_ context.Context, e *model.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.writes++
	m.add(e)
	return nil
}

func (m *mockStore) UpdateEntry(_ context.Context, e *model.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.entries[e.ID]; !ok {
		return fmt.Errorf("entry %q not found", e.ID)
	}
	if e.GoogleEventID != "" && e.SyncedAt.IsZero() {
		return fmt.Errorf("entry %q: google_event_id without synced_at", e.ID)
	}
	m.writes++
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *mockStore) DeleteEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	delete(m.entries, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockStore) get(id string) *model.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		cp := *e
		return &cp
	}
	return nil
}

func (m *mockStore) all() []*model.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Entry, 0, len(m.order))
	for _, id := range m.order {
		cp := *m.entries[id]
		out = append(out, &cp)
	}
	return out
}

func (m *mockStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
