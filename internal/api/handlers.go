package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/njoerd114/calendarrelay/internal/auth"
	"github.com/njoerd114/calendarrelay/internal/gcal"
	"github.com/njoerd114/calendarrelay/internal/model"
	calsync "github.com/njoerd114/calendarrelay/internal/sync"
)

// EntryResponse is the JSON form of a local entry.
type EntryResponse struct {
	ID             string     `json:"id"`
	EventID        string     `json:"eventId"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Location       string     `json:"location"`
	StartTime      time.Time  `json:"startTime"`
	EndTime        time.Time  `json:"endTime"`
	IsAllDay       bool       `json:"isAllDay"`
	GoogleEventID  string     `json:"googleEventId,omitempty"`
	GoogleMeetLink string     `json:"googleMeetLink,omitempty"`
	SyncedAt       *time.Time `json:"syncedAt,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func toEntryResponse(e *model.Entry) EntryResponse {
	r := EntryResponse{
		ID:             e.ID,
		EventID:        e.EventID,
		Title:          e.Title,
		Description:    e.Description,
		Location:       e.Location,
		StartTime:      e.StartTime,
		EndTime:        e.EndTime,
		IsAllDay:       e.IsAllDay,
		GoogleEventID:  e.GoogleEventID,
		GoogleMeetLink: e.GoogleMeetLink,
		UpdatedAt:      e.UpdatedAt,
	}
	if !e.SyncedAt.IsZero() {
		synced := e.SyncedAt
		r.SyncedAt = &synced
	}
	return r
}

// CreateEntryRequest is the body of a local entry create.
type CreateEntryRequest struct {
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartTime   time.Time `json:"startTime" binding:"required"`
	EndTime     time.Time `json:"endTime" binding:"required"`
	IsAllDay    bool      `json:"isAllDay"`
}

// EditEntryRequest is the body of a local entry edit. Absent fields keep
// their stored value.
type EditEntryRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
	StartTime   *time.Time `json:"startTime"`
	EndTime     *time.Time `json:"endTime"`
	IsAllDay    *bool      `json:"isAllDay"`
}

// --- OAuth -------------------------------------------------------------------

func (s *Server) handleOAuthStart(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		badRequest(c, "user_id is required")
		return
	}

	state := uuid.NewString()
	url, err := s.connector.AuthCodeURL(state)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.putState(state, pendingAuth{
		userID:     userID,
		calendarID: c.Query("calendar_id"),
		expires:    s.now().Add(oauthStateTTL),
	})
	c.Redirect(http.StatusFound, url)
}

func (s *Server) handleOAuthCallback(c *gin.Context) {
	if reason := c.Query("error"); reason != "" {
		badRequest(c, "consent was not granted: "+reason)
		return
	}
	code := c.Query("code")
	if code == "" {
		badRequest(c, "code is required")
		return
	}
	pending, ok := s.takeState(c.Query("state"))
	if !ok {
		badRequest(c, "unknown or expired state")
		return
	}

	cred, err := s.connector.Exchange(c.Request.Context(), pending.userID, code, pending.calendarID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.log.Info("google calendar connected", "user_id", cred.UserID, "calendar_id", cred.Calendar())
	c.JSON(http.StatusOK, gin.H{
		"connected":  true,
		"userId":     cred.UserID,
		"calendarId": cred.Calendar(),
	})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	if err := s.connector.Disconnect(c.Request.Context(), c.Param("userID")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Sync --------------------------------------------------------------------

func (s *Server) handleSync(c *gin.Context) {
	result, err := s.syncer.Sync(c.Request.Context(), c.Param("userID"), c.Param("eventID"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleMeetLink(c *gin.Context) {
	link, err := s.syncer.AddMeetLink(c.Request.Context(), c.Param("userID"), c.Param("entryID"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	var body struct {
		MeetLink *string `json:"meetLink"`
	}
	if link != "" {
		body.MeetLink = &link
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleRemoveEntry(c *gin.Context) {
	if err := s.syncer.Remove(c.Request.Context(), c.Param("userID"), c.Param("entryID")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Local entries -----------------------------------------------------------

func (s *Server) handleListEntries(c *gin.Context) {
	entries, err := s.entries.ListEntriesByEvent(c.Request.Context(), c.Param("eventID"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreateEntry(c *gin.Context) {
	var req CreateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	e := &model.Entry{
		EventID:     c.Param("eventID"),
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		IsAllDay:    req.IsAllDay,
	}
	if err := s.entries.CreateEntry(c.Request.Context(), e); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toEntryResponse(e))
}

func (s *Server) handleEditEntry(c *gin.Context) {
	var req EditEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	e, err := s.entries.GetEntry(ctx, c.Param("entryID"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if e == nil {
		s.respondError(c, calsync.ErrEntryNotFound)
		return
	}

	if req.Title != nil {
		e.Title = *req.Title
	}
	if req.Description != nil {
		e.Description = *req.Description
	}
	if req.Location != nil {
		e.Location = *req.Location
	}
	if req.StartTime != nil {
		e.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		e.EndTime = *req.EndTime
	}
	if req.IsAllDay != nil {
		e.IsAllDay = *req.IsAllDay
	}

	if err := s.entries.EditEntry(ctx, e); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toEntryResponse(e))
}

// --- Errors ------------------------------------------------------------------

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: msg})
}

// respondError maps err onto a status code. Unknown errors are logged and
// reported as 500 without detail.
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, calsync.ErrEntryNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, auth.ErrNotConfigured):
		status, code = http.StatusServiceUnavailable, "not_configured"
	case errors.Is(err, auth.ErrNotConnected), errors.Is(err, gcal.ErrNoToken):
		status, code = http.StatusConflict, "not_connected"
	case errors.Is(err, gcal.ErrProvider), errors.Is(err, gcal.ErrTransport), errors.Is(err, auth.ErrExchange):
		status, code = http.StatusBadGateway, "upstream"
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: msg})
}
