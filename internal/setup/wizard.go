package setup

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/njoerd114/calendarrelay/internal/config"
)

// Scope choices offered by the wizard. The first is the default.
var scopeOptions = []struct {
	label string
	scope string
}{
	{"Events only (recommended)", "https://www.googleapis.com/auth/calendar.events"},
	{"Full calendar access", "https://www.googleapis.com/auth/calendar"},
}

// Wizard guides the user through first-run configuration.
type Wizard struct {
	prompt  *Prompter
	logger  *slog.Logger
	w       io.Writer
	cfgPath string
}

// NewWizard creates a Wizard that writes the config to cfgPath.
func NewWizard(r io.Reader, w io.Writer, cfgPath string, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt:  NewPrompter(r, w),
		logger:  logger,
		w:       w,
		cfgPath: cfgPath,
	}
}

// Run executes the interactive setup wizard: OAuth client, HTTP listener,
// API key, then the config file. The client secret goes to a .env file next
// to the config when the user asks for it.
func (wiz *Wizard) Run() error {
	fmt.Fprintf(wiz.w, "\nWelcome to CalendarRelay Setup!\n")
	fmt.Fprintf(wiz.w, "This wizard writes the configuration for the Google Calendar sync service.\n\n")

	if _, statErr := os.Stat(wiz.cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", wiz.cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return nil
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	// Step 1: OAuth client.
	fmt.Fprintf(wiz.w, "Step 1/4: Google OAuth Client\n")
	fmt.Fprintf(wiz.w, "  Create a \"Web application\" client in the Google Cloud console.\n")

	clientID := wiz.prompt.String("Client ID", "")
	clientSecret := wiz.prompt.Secret("Client secret")
	if !strings.HasSuffix(clientID, ".apps.googleusercontent.com") {
		fmt.Fprintf(wiz.w, "  (client IDs usually end in .apps.googleusercontent.com)\n")
	}

	idx, err := wiz.prompt.Select("Calendar access", scopeLabels())
	if err != nil {
		return fmt.Errorf("selecting scope: %w", err)
	}
	scope := scopeOptions[idx].scope
	fmt.Fprintf(wiz.w, "\n")

	// Step 2: HTTP listener and redirect.
	fmt.Fprintf(wiz.w, "Step 2/4: HTTP API\n")

	listenAddr := wiz.prompt.String("Listen address", config.DefaultListenAddr)
	redirectURL := wiz.prompt.String("OAuth redirect URL", "http://"+listenAddr+"/oauth/google/callback")
	fmt.Fprintf(wiz.w, "  Add this redirect URL to the OAuth client's authorised redirect URIs.\n\n")

	// Step 3: API key.
	fmt.Fprintf(wiz.w, "Step 3/4: API Key\n")

	var apiKeys []string
	if wiz.prompt.Confirm("Generate an API key for the HTTP API?", true) {
		key := uuid.NewString()
		apiKeys = append(apiKeys, key)
		fmt.Fprintf(wiz.w, "  API key: %s\n", key)
		fmt.Fprintf(wiz.w, "  Send it in the X-API-Key header.\n")
	} else {
		fmt.Fprintf(wiz.w, "  ⚠ The API will accept unauthenticated requests.\n")
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 4: Write config.
	fmt.Fprintf(wiz.w, "Step 4/4: Save Configuration\n")

	dbPath := wiz.prompt.Optional("State database path")

	cfg := &config.Config{
		Google: config.GoogleConfig{
			RedirectURL: redirectURL,
			Scopes:      []string{scope},
		},
		DBPath:     dbPath,
		ListenAddr: listenAddr,
		APIKeys:    apiKeys,
	}

	if wiz.prompt.Confirm("Store the client secret in a separate .env file?", true) {
		if err := config.WriteEnv(wiz.cfgPath, clientID, clientSecret); err != nil {
			return err
		}
		fmt.Fprintf(wiz.w, "  ✓ Credentials written to %s\n", config.EnvPath(wiz.cfgPath))
	} else {
		cfg.Google.ClientID = clientID
		cfg.Google.ClientSecret = clientSecret
	}

	if err := cfg.Write(wiz.cfgPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	wiz.logger.Debug("config written", "path", wiz.cfgPath)
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", wiz.cfgPath)

	fmt.Fprintf(wiz.w, "Setup complete!\n")
	fmt.Fprintf(wiz.w, "  Start the API:    calendarrelay serve\n")
	fmt.Fprintf(wiz.w, "  Connect a user:   calendarrelay connect <user-id>\n")
	fmt.Fprintf(wiz.w, "  Check a user:     calendarrelay status <user-id>\n\n")
	return nil
}

func scopeLabels() []string {
	labels := make([]string, len(scopeOptions))
	for i, o := range scopeOptions {
		labels[i] = o.label
	}
	return labels
}
