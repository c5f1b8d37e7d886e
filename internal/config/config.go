// Package config loads the process-wide configuration from environment
// variables once at startup and validates it structurally. Secret values are
// never part of this struct; only references (secret names, parameter paths)
// live here.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jun/meetwatch/internal/faults"
	"github.com/jun/meetwatch/internal/model"
)

// Default folder-name aliases, ordered by priority: the English canonical
// name first, then known localized equivalents.
var defaultAliases = []string{
	"Meet Recordings",
	"Meet 記録",
	"Meet-Aufzeichnungen",
	"Enregistrements Meet",
	"Grabaciones de Meet",
	"Gravações do Meet",
}

// Default keywords for the substring fallback search.
var defaultKeywords = []string{"meet", "recording", "record", "記録", "録画"}

// Config is the full configuration surface.
type Config struct {
	ProjectID  string `validate:"required"`
	WebhookURL string `validate:"required,url"`

	Users []model.MonitoredUser `validate:"required,min=1,dive"`

	// Credential strategy references; any subset may be set, the chain
	// order is fixed: secret-manager, managed-delegation, local-file.
	SecretName        string
	DelegationAccount string `validate:"omitempty,email"`
	KeyFile           string

	RenewalHorizon time.Duration `validate:"required"`
	WatchTTL       time.Duration `validate:"required"`
	SweepSchedule  string

	FolderAliases  []string `validate:"required,min=1"`
	FolderKeywords []string
	AcceptedMIMEs  []string `validate:"required,min=1"`

	PubSubTopic string

	WatchChannelsTable string
	UserLeasesTable    string

	WebhookTokenParam   string
	AdminJWTSecretParam string

	DevMode bool
}

// HasStrategy reports whether at least one credential strategy is configured.
func (c *Config) HasStrategy() bool {
	return c.SecretName != "" || c.DelegationAccount != "" || c.KeyFile != ""
}

// Strategies lists the configured strategies in chain order.
func (c *Config) Strategies() []model.CredentialStrategy {
	var out []model.CredentialStrategy
	if c.SecretName != "" {
		out = append(out, model.StrategySecretManager)
	}
	if c.DelegationAccount != "" {
		out = append(out, model.StrategyManagedDelegation)
	}
	if c.KeyFile != "" {
		out = append(out, model.StrategyLocalFile)
	}
	return out
}

// Load reads and validates configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		ProjectID:           os.Getenv("GOOGLE_CLOUD_PROJECT"),
		WebhookURL:          os.Getenv("WEBHOOK_URL"),
		SecretName:          os.Getenv("SERVICE_ACCOUNT_SECRET_NAME"),
		DelegationAccount:   os.Getenv("DELEGATION_SERVICE_ACCOUNT"),
		KeyFile:             os.Getenv("SERVICE_ACCOUNT_FILE"),
		SweepSchedule:       envOr("SWEEP_SCHEDULE", "@every 6h"),
		PubSubTopic:         os.Getenv("PUBSUB_TOPIC"),
		WatchChannelsTable:  envOr("WATCH_CHANNELS_TABLE", "WatchChannels"),
		UserLeasesTable:     envOr("USER_LEASES_TABLE", "UserLeases"),
		WebhookTokenParam:   envOr("WEBHOOK_TOKEN_PARAM", "/meetwatch/webhook-token"),
		AdminJWTSecretParam: envOr("ADMIN_JWT_SECRET_PARAM", "/meetwatch/admin-jwt-secret"),
		DevMode:             os.Getenv("DEV_MODE") == "true",
	}

	var err error
	if cfg.Users, err = parseUsers(os.Getenv("MONITORED_USERS")); err != nil {
		return nil, err
	}
	if cfg.RenewalHorizon, err = envDuration("RENEWAL_HORIZON", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.WatchTTL, err = envDuration("WATCH_TTL", 168*time.Hour); err != nil {
		return nil, err
	}

	cfg.FolderAliases = envList("FOLDER_ALIASES", defaultAliases)
	cfg.FolderKeywords = envList("FOLDER_KEYWORDS", defaultKeywords)
	cfg.AcceptedMIMEs = envList("ACCEPTED_MIME_TYPES",
		[]string{"application/vnd.google-apps.document"})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural validity without touching any remote system.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return faults.Wrap(faults.KindConfiguration, "config.load",
			"invalid configuration", err)
	}
	if !c.DevMode && !c.HasStrategy() {
		return faults.New(faults.KindConfiguration, "config.load",
			"no credential strategy configured: set SERVICE_ACCOUNT_SECRET_NAME, "+
				"DELEGATION_SERVICE_ACCOUNT or SERVICE_ACCOUNT_FILE")
	}
	return nil
}

// UserByEmail returns the monitored user for email, if any.
func (c *Config) UserByEmail(email string) (model.MonitoredUser, bool) {
	for _, u := range c.Users {
		if strings.EqualFold(u.Email, email) {
			return u, true
		}
	}
	return model.MonitoredUser{}, false
}

func parseUsers(raw string) ([]model.MonitoredUser, error) {
	if raw == "" {
		return nil, faults.New(faults.KindConfiguration, "config.load",
			"MONITORED_USERS environment variable is required")
	}

	var users []model.MonitoredUser
	if strings.HasPrefix(strings.TrimSpace(raw), "[") {
		if err := json.Unmarshal([]byte(raw), &users); err != nil {
			return nil, faults.Wrap(faults.KindConfiguration, "config.load",
				"MONITORED_USERS is not a valid JSON array", err)
		}
		return users, nil
	}

	// Comma-separated emails also accepted for simple setups.
	for _, e := range strings.Split(raw, ",") {
		if e = strings.TrimSpace(e); e != "" {
			users = append(users, model.MonitoredUser{Email: e})
		}
	}
	return users, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envList(key string, def []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, faults.Wrap(faults.KindConfiguration, "config.load",
			fmt.Sprintf("%s is not a valid duration", key), err)
	}
	return d, nil
}
