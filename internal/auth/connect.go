package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/njoerd114/calendarrelay/internal/model"
)

// Connector runs the OAuth consent flow that creates a user's credential,
// and removes it again on disconnect.
type Connector struct {
	store CredentialStore
	oauth *oauth2.Config
	hc    *http.Client
	log   *slog.Logger
}

// NewConnector creates a Connector. hc is used for the code exchange; nil
// means [http.DefaultClient].
func NewConnector(store CredentialStore, oauthCfg *oauth2.Config, hc *http.Client, logger *slog.Logger) *Connector {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Connector{store: store, oauth: oauthCfg, hc: hc, log: logger}
}

// AuthCodeURL returns the consent page URL for state. Offline access and a
// forced consent prompt make Google issue a refresh token every time.
func (c *Connector) AuthCodeURL(state string) (string, error) {
	if !c.configured() {
		return "", ErrNotConfigured
	}
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades an authorization code for tokens and upserts the user's
// credential. An empty calendarID targets the primary calendar.
func (c *Connector) Exchange(ctx context.Context, userID, code, calendarID string) (*model.Credential, error) {
	if !c.configured() {
		return nil, ErrNotConfigured
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.hc)
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		c.log.Error("oauth code exchange failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrExchange, err)
	}

	cred := &model.Credential{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenExpiry:  tok.Expiry,
		CalendarID:   calendarID,
	}
	if err := c.store.UpsertCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("storing credential: %w", err)
	}

	c.log.Info("google calendar connected", "user_id", userID, "calendar_id", cred.Calendar())
	return cred, nil
}

// Disconnect deletes the user's credential. Remote events are left as they
// are.
func (c *Connector) Disconnect(ctx context.Context, userID string) error {
	if err := c.store.DeleteCredential(ctx, userID); err != nil {
		return fmt.Errorf("disconnecting user %q: %w", userID, err)
	}
	c.log.Info("google calendar disconnected", "user_id", userID)
	return nil
}

func (c *Connector) configured() bool {
	return c.oauth != nil && c.oauth.ClientID != "" && c.oauth.ClientSecret != ""
}
