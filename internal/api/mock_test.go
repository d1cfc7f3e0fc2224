package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/njoerd114/calendarrelay/internal/auth"
	"github.com/njoerd114/calendarrelay/internal/model"
	calsync "github.com/njoerd114/calendarrelay/internal/sync"
)

// --- Mock Syncer -------------------------------------------------------------

type syncCall struct {
	op, userID, id string
}

type mockSyncer struct {
	mu    sync.Mutex
	calls []syncCall

	result    calsync.SyncResult
	syncErr   error
	link      string
	linkErr   error
	removeErr error
}

func (m *mockSyncer) record(op, userID, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, syncCall{op, userID, id})
}

func (m *mockSyncer) Sync(_ context.Context, userID, eventID string) (calsync.SyncResult, error) {
	m.record("sync", userID, eventID)
	return m.result, m.syncErr
}

func (m *mockSyncer) AddMeetLink(_ context.Context, userID, entryID string) (string, error) {
	m.record("meet-link", userID, entryID)
	return m.link, m.linkErr
}

func (m *mockSyncer) Remove(_ context.Context, userID, entryID string) error {
	m.record("remove", userID, entryID)
	return m.removeErr
}

func (m *mockSyncer) lastCall() syncCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return syncCall{}
	}
	return m.calls[len(m.calls)-1]
}

// --- Mock Connector ----------------------------------------------------------

type exchangeCall struct {
	userID, code, calendarID string
}

type mockConnector struct {
	mu           sync.Mutex
	configured   bool
	exchanges    []exchangeCall
	disconnected []string
	exchangeErr  error
}

func (m *mockConnector) AuthCodeURL(state string) (string, error) {
	if !m.configured {
		return "", auth.ErrNotConfigured
	}
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state), nil
}

func (m *mockConnector) Exchange(_ context.Context, userID, code, calendarID string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = append(m.exchanges, exchangeCall{userID, code, calendarID})
	if m.exchangeErr != nil {
		return nil, m.exchangeErr
	}
	return &model.Credential{UserID: userID, AccessToken: "tok", CalendarID: calendarID}, nil
}

func (m *mockConnector) Disconnect(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = append(m.disconnected, userID)
	return nil
}

// --- Mock Entry Store --------------------------------------------------------

var errDBClosed = errors.New("sql: database is closed")

type mockEntries struct {
	mu      sync.Mutex
	entries map[string]*model.Entry
	nextID  int
	now     time.Time
	listErr error
}

func newMockEntries(now time.Time, entries ...*model.Entry) *mockEntries {
	m := &mockEntries{entries: make(map[string]*model.Entry), now: now}
	for _, e := range entries {
		cp := *e
		m.entries[e.ID] = &cp
	}
	return m
}

func (m *mockEntries) ListEntriesByEvent(_ context.Context, eventID string) ([]*model.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.Entry
	for _, e := range m.entries {
		if e.EventID == eventID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockEntries) GetEntry(_ context.Context, id string) (*model.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *mockEntries) CreateEntry(_ context.Context, e *model.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = fmt.Sprintf("entry-%d", m.nextID)
	e.UpdatedAt = m.now
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *mockEntries) EditEntry(_ context.Context, e *model.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.ID]; !ok {
		return fmt.Errorf("entry %q not found", e.ID)
	}
	e.UpdatedAt = m.now
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *mockEntries) get(id string) *model.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		cp := *e
		return &cp
	}
	return nil
}
