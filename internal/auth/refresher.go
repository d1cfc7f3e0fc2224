// Package auth owns the per-user Google OAuth credentials: it hands out
// valid access tokens, refreshing them when they are about to expire, and
// runs the consent flow that creates and removes credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/njoerd114/calendarrelay/internal/config"
	"github.com/njoerd114/calendarrelay/internal/model"
)

// ExpiryMargin is how long before TokenExpiry a cached token is considered
// stale and refreshed.
const ExpiryMargin = 5 * time.Minute

var (
	// ErrNotConnected means the user has no stored credential.
	ErrNotConnected = errors.New("google calendar not connected")

	// ErrNotConfigured means the OAuth client id or secret is missing.
	ErrNotConfigured = errors.New("google oauth client not configured")

	// ErrRefresh means the token endpoint rejected the refresh or could not
	// be reached.
	ErrRefresh = errors.New("google token refresh failed")

	// ErrExchange means the authorization code could not be traded for
	// tokens.
	ErrExchange = errors.New("google authorization code exchange failed")
)

// CredentialStore persists credentials. Implemented by [state.Store].
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string) (*model.Credential, error)
	UpsertCredential(ctx context.Context, c *model.Credential) error
	UpdateToken(ctx context.Context, userID string, prevExpiry time.Time, accessToken, refreshToken string, expiry time.Time) (bool, error)
	DeleteCredential(ctx context.Context, userID string) error
}

// Access is a usable access token together with the calendar it is meant
// for.
type Access struct {
	Token      string
	CalendarID string
}

// NewOAuthConfig builds the oauth2 client configuration from cfg, applying
// endpoint overrides on top of Google's defaults.
func NewOAuthConfig(cfg config.GoogleConfig) *oauth2.Config {
	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
		Endpoint:     endpoint,
	}
}

// Refresher returns valid access tokens for users. It holds no per-user
// state; every call reads the credential row.
type Refresher struct {
	store CredentialStore
	oauth *oauth2.Config
	hc    *http.Client
	log   *slog.Logger
	now   func() time.Time
}

// NewRefresher creates a Refresher. hc is used for token endpoint calls; nil
// means [http.DefaultClient].
func NewRefresher(store CredentialStore, oauthCfg *oauth2.Config, hc *http.Client, logger *slog.Logger) *Refresher {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Refresher{store: store, oauth: oauthCfg, hc: hc, log: logger, now: time.Now}
}

// ValidToken returns an access token for userID that is valid for at least
// [ExpiryMargin]. A cached token is returned without any network call or
// write; otherwise the token is refreshed and persisted exactly once.
// Failures are logged and returned; ValidToken never panics on bad input.
func (r *Refresher) ValidToken(ctx context.Context, userID string) (Access, error) {
	cred, err := r.store.GetCredential(ctx, userID)
	if err != nil {
		r.log.Error("loading credential failed", "user_id", userID, "error", err)
		return Access{}, fmt.Errorf("loading credential: %w", err)
	}
	if cred == nil {
		return Access{}, ErrNotConnected
	}

	now := r.now()
	if now.Before(cred.TokenExpiry.Add(-ExpiryMargin)) {
		return Access{Token: cred.AccessToken, CalendarID: cred.Calendar()}, nil
	}

	if r.oauth == nil || r.oauth.ClientID == "" || r.oauth.ClientSecret == "" {
		r.log.Error("cannot refresh google token: client id/secret missing", "user_id", userID)
		return Access{}, ErrNotConfigured
	}
	if cred.RefreshToken == "" {
		r.log.Error("cannot refresh google token: no refresh token stored", "user_id", userID)
		return Access{}, fmt.Errorf("%w: no refresh token stored", ErrRefresh)
	}

	tok, err := r.refresh(ctx, cred.RefreshToken)
	if err != nil {
		r.log.Error("google token refresh failed", "user_id", userID, "error", err)
		return Access{}, fmt.Errorf("%w: %w", ErrRefresh, err)
	}

	swapped, err := r.store.UpdateToken(ctx, userID, cred.TokenExpiry, tok.AccessToken, tok.RefreshToken, tok.Expiry)
	if err != nil {
		// The fresh token is still good for this request.
		r.log.Error("persisting refreshed token failed", "user_id", userID, "error", err)
		return Access{Token: tok.AccessToken, CalendarID: cred.Calendar()}, nil
	}
	if !swapped {
		// A concurrent refresh won the race; prefer its token so both
		// callers converge on the stored one.
		r.log.Debug("concurrent token refresh detected", "user_id", userID)
		if winner, err := r.store.GetCredential(ctx, userID); err == nil && winner != nil &&
			now.Before(winner.TokenExpiry.Add(-ExpiryMargin)) {
			return Access{Token: winner.AccessToken, CalendarID: winner.Calendar()}, nil
		}
	}

	r.log.Debug("google token refreshed", "user_id", userID, "expiry", tok.Expiry)
	return Access{Token: tok.AccessToken, CalendarID: cred.Calendar()}, nil
}

// refresh exchanges refreshToken for a new access token at the token
// endpoint. The returned token's Expiry is now + expires_in.
func (r *Refresher) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.hc)
	ts := r.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("token endpoint returned no access token")
	}
	return tok, nil
}
