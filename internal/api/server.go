// Package api exposes the sync engine over HTTP with gin. Authorisation of
// the user and event pair is the embedding application's job; this layer
// only checks an optional API key.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/njoerd114/calendarrelay/internal/model"
	calsync "github.com/njoerd114/calendarrelay/internal/sync"
)

// oauthStateTTL bounds how long a consent redirect may take.
const oauthStateTTL = 10 * time.Minute

// Syncer runs sync operations. Implemented by [calsync.Engine].
type Syncer interface {
	Sync(ctx context.Context, userID, eventID string) (calsync.SyncResult, error)
	AddMeetLink(ctx context.Context, userID, entryID string) (string, error)
	Remove(ctx context.Context, userID, entryID string) error
}

// Connector runs the OAuth consent flow. Implemented by [auth.Connector].
type Connector interface {
	AuthCodeURL(state string) (string, error)
	Exchange(ctx context.Context, userID, code, calendarID string) (*model.Credential, error)
	Disconnect(ctx context.Context, userID string) error
}

// EntryStore is the local entry access the API needs. Implemented by
// [state.Store].
type EntryStore interface {
	ListEntriesByEvent(ctx context.Context, eventID string) ([]*model.Entry, error)
	GetEntry(ctx context.Context, id string) (*model.Entry, error)
	CreateEntry(ctx context.Context, e *model.Entry) error
	EditEntry(ctx context.Context, e *model.Entry) error
}

// pendingAuth is a consent redirect waiting for its callback.
type pendingAuth struct {
	userID     string
	calendarID string
	expires    time.Time
}

// Server is the HTTP API.
type Server struct {
	router    *gin.Engine
	syncer    Syncer
	connector Connector
	entries   EntryStore
	apiKeys   []string
	log       *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	states map[string]pendingAuth
}

// NewServer creates a Server and registers its routes. An empty apiKeys
// disables the API key check.
func NewServer(syncer Syncer, connector Connector, entries EntryStore, apiKeys []string, logger *slog.Logger) *Server {
	s := &Server{
		router:    gin.New(),
		syncer:    syncer,
		connector: connector,
		entries:   entries,
		apiKeys:   apiKeys,
		log:       logger,
		now:       time.Now,
		states:    make(map[string]pendingAuth),
	}
	s.router.HandleMethodNotAllowed = true
	s.router.Use(gin.Recovery())
	s.router.Use(loggingMiddleware(logger))
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	// The consent callback is reached by the user's browser, which carries
	// no API key; the state parameter authenticates it instead.
	s.router.GET("/oauth/google/callback", s.handleOAuthCallback)

	authed := s.router.Group("")
	authed.Use(APIKeyAuth(s.apiKeys, s.log))
	{
		authed.GET("/oauth/google/start", s.handleOAuthStart)
		authed.DELETE("/users/:userID/calendar", s.handleDisconnect)

		authed.POST("/users/:userID/events/:eventID/sync", s.handleSync)
		authed.GET("/users/:userID/events/:eventID/entries", s.handleListEntries)
		authed.POST("/users/:userID/events/:eventID/entries", s.handleCreateEntry)

		authed.PATCH("/users/:userID/entries/:entryID", s.handleEditEntry)
		authed.POST("/users/:userID/entries/:entryID/meet-link", s.handleMeetLink)
		authed.DELETE("/users/:userID/entries/:entryID", s.handleRemoveEntry)
	}
}

// loggingMiddleware logs one line per request.
func loggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request completed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- OAuth state -------------------------------------------------------------

func (s *Server) putState(state string, p pendingAuth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.states {
		if now.After(v.expires) {
			delete(s.states, k)
		}
	}
	s.states[state] = p
}

// takeState removes and returns the pending consent for state. Expired or
// unknown states report false.
func (s *Server) takeState(state string) (pendingAuth, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.states[state]
	if !ok {
		return pendingAuth{}, false
	}
	delete(s.states, state)
	if s.now().After(p.expires) {
		return pendingAuth{}, false
	}
	return p, true
}
