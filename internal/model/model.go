package model

import (
	"time"

	"golang.org/x/oauth2"
)

// CredentialStrategy identifies which strategy produced a credential.
type CredentialStrategy string

const (
	StrategySecretManager     CredentialStrategy = "secret-manager"
	StrategyManagedDelegation CredentialStrategy = "managed-delegation"
	StrategyLocalFile         CredentialStrategy = "local-file"
)

// MonitoredUser is one identity under watch. The set of monitored users is
// process-wide configuration, loaded once at startup.
type MonitoredUser struct {
	Email string `json:"email" validate:"required,email"`
	// FolderID, when set, skips folder-name resolution entirely.
	FolderID string `json:"folder_id,omitempty"`
}

// Credential is an authenticated, time-bounded identity impersonating a
// monitored user. It lives only in memory and must never be persisted; only
// Subject and Strategy are safe to log.
type Credential struct {
	Subject  string
	Strategy CredentialStrategy
	// Insecure marks credentials read from a local key file.
	Insecure bool
	Expiry   time.Time
	Source   oauth2.TokenSource
}

// Valid reports whether the credential can still be used at t, keeping a
// safety margin before expiry.
func (c *Credential) Valid(t time.Time, margin time.Duration) bool {
	if c == nil || c.Source == nil {
		return false
	}
	return c.Expiry.IsZero() || t.Add(margin).Before(c.Expiry)
}

// WatchChannel is one active Drive change-notification subscription.
// At most one exists per monitored user; the registry key is the email.
type WatchChannel struct {
	UserEmail  string `json:"user_email" dynamodbav:"user_email"`
	ChannelID  string `json:"channel_id" dynamodbav:"channel_id"`
	ResourceID string `json:"resource_id" dynamodbav:"resource_id"`
	// FolderID is the resolved target folder the channel monitors.
	FolderID   string `json:"folder_id" dynamodbav:"folder_id"`
	WebhookURL string `json:"webhook_url" dynamodbav:"webhook_url"`
	// Cursor is the change-log start page token marking the last processed
	// point; advanced only after resolved changes were handed off.
	Cursor    string `json:"cursor" dynamodbav:"cursor"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"` // Unix seconds
	CreatedAt int64  `json:"created_at" dynamodbav:"created_at"` // Unix seconds
}

// Expiration returns the channel expiry as a time.Time.
func (w *WatchChannel) Expiration() time.Time {
	return time.Unix(w.ExpiresAt, 0).UTC()
}

// ExpiresWithin reports whether the channel expires before now+horizon.
func (w *WatchChannel) ExpiresWithin(now time.Time, horizon time.Duration) bool {
	return !w.Expiration().After(now.Add(horizon))
}

// ResourceState is the kind of event a push notification represents.
type ResourceState string

const (
	StateSync   ResourceState = "sync"
	StateAdd    ResourceState = "add"
	StateUpdate ResourceState = "update"
	StateExists ResourceState = "exists"
	StateChange ResourceState = "change"
)

// NotificationEvent is one inbound webhook payload. It exists only for the
// duration of handling a single request.
type NotificationEvent struct {
	ChannelID     string
	ResourceID    string
	ResourceState ResourceState
	// MessageNumber is Google's per-channel delivery counter, used together
	// with the channel id as the deduplication key.
	MessageNumber string
	Token         string
}

// DedupKey identifies a delivery within the retransmission window.
func (e NotificationEvent) DedupKey() string {
	return e.ChannelID + "#" + e.MessageNumber
}

// ResolvedChange is one newly added document confirmed to sit inside the
// user's target folder with an accepted content type. The engine's
// responsibility ends once this value is handed to the processor.
type ResolvedChange struct {
	FileID       string    `json:"file_id"`
	FileName     string    `json:"file_name"`
	MimeType     string    `json:"mime_type"`
	FolderID     string    `json:"folder_id"`
	UserEmail    string    `json:"user_email"`
	WebViewLink  string    `json:"web_view_link,omitempty"`
	CreatedTime  time.Time `json:"created_time"`
	ModifiedTime time.Time `json:"modified_time"`
}
