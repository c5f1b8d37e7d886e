// Package watch owns the lifecycle of Drive change-notification channels:
// creating them, renewing them before expiry and replacing corrupted ones.
// A sweep walks every monitored user in parallel; per-user leases keep a
// sweep from racing an in-flight webhook for the same user.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	drivev3 "google.golang.org/api/drive/v3"

	"github.com/jun/meetwatch/internal/drive"
	"github.com/jun/meetwatch/internal/faults"
	"github.com/jun/meetwatch/internal/guard"
	"github.com/jun/meetwatch/internal/model"
	"github.com/jun/meetwatch/internal/registry"
)

// perUserTimeout bounds one user's renewal so a stuck call cannot stall the
// whole sweep.
const perUserTimeout = 2 * time.Minute

// Outcome summarizes what a sweep did for one user.
type Outcome string

const (
	OutcomeRenewed      Outcome = "renewed"
	OutcomeAlreadyValid Outcome = "already-valid"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeFailed       Outcome = "failed"
)

// UserResult is the per-user record a sweep returns.
type UserResult struct {
	Email     string  `json:"email"`
	Outcome   Outcome `json:"outcome"`
	ChannelID string  `json:"channel_id,omitempty"`
	ExpiresAt int64   `json:"expires_at,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// CredentialSource yields an impersonated credential for a user.
type CredentialSource interface {
	Resolve(ctx context.Context, userEmail string) (*model.Credential, error)
}

// FolderLocator finds the user's monitored folder.
type FolderLocator interface {
	Locate(ctx context.Context, api drive.API, user model.MonitoredUser) (string, error)
}

// Renewer creates and renews watch channels for the configured users.
type Renewer struct {
	users      []model.MonitoredUser
	registry   registry.Registry
	leases     guard.Leases
	creds      CredentialSource
	connector  drive.Connector
	locator    FolderLocator
	webhookURL string
	token      string
	ttl        time.Duration
	horizon    time.Duration
	logger     *slog.Logger

	owner string
	now   func() time.Time
	newID func() string
}

// Config carries the Renewer's collaborators and tuning.
type Config struct {
	Users      []model.MonitoredUser
	Registry   registry.Registry
	Leases     guard.Leases
	Creds      CredentialSource
	Connector  drive.Connector
	Locator    FolderLocator
	WebhookURL string
	// Token is echoed back by Google on every notification and checked by
	// the webhook handler.
	Token   string
	TTL     time.Duration
	Horizon time.Duration
	Logger  *slog.Logger
}

// NewRenewer builds a Renewer.
func NewRenewer(c Config) *Renewer {
	return &Renewer{
		users:      c.Users,
		registry:   c.Registry,
		leases:     c.Leases,
		creds:      c.Creds,
		connector:  c.Connector,
		locator:    c.Locator,
		webhookURL: c.WebhookURL,
		token:      c.Token,
		ttl:        c.TTL,
		horizon:    c.Horizon,
		logger:     c.Logger.With("component", "watch"),
		owner:      uuid.NewString(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// SweepAll checks every monitored user and renews channels that are missing
// or expiring within the horizon. One user's failure never aborts the sweep;
// results report each user individually.
func (r *Renewer) SweepAll(ctx context.Context) []UserResult {
	results := make([]UserResult, len(r.users))
	var wg sync.WaitGroup
	for i, u := range r.users {
		wg.Add(1)
		go func(i int, u model.MonitoredUser) {
			defer wg.Done()
			uctx, cancel := context.WithTimeout(ctx, perUserTimeout)
			defer cancel()
			results[i] = r.sweepUser(uctx, u, false)
		}(i, u)
	}
	wg.Wait()
	return results
}

// RenewUser force-renews one user's channel, replacing any existing one.
// The webhook handler calls this after dropping a corrupted channel.
func (r *Renewer) RenewUser(ctx context.Context, email string) UserResult {
	for _, u := range r.users {
		if u.Email == email {
			return r.sweepUser(ctx, u, true)
		}
	}
	return UserResult{Email: email, Outcome: OutcomeFailed, Reason: "not a monitored user"}
}

func (r *Renewer) sweepUser(ctx context.Context, user model.MonitoredUser, force bool) UserResult {
	res := UserResult{Email: user.Email}

	ok, err := r.leases.Acquire(ctx, user.Email, r.owner)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Reason = "lease acquisition failed: " + faults.ReasonOf(err)
		return res
	}
	if !ok {
		res.Outcome = OutcomeSkipped
		res.Reason = "user busy, another instance holds the lease"
		return res
	}
	defer func() {
		if err := r.leases.Release(context.WithoutCancel(ctx), user.Email, r.owner); err != nil {
			r.logger.Warn("lease release failed", "user", user.Email, "error", err)
		}
	}()

	prev, err := r.registry.Get(ctx, user.Email)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Reason = "registry lookup failed: " + faults.ReasonOf(err)
		return res
	}
	if !force && prev != nil && !prev.ExpiresWithin(r.now(), r.horizon) {
		res.Outcome = OutcomeAlreadyValid
		res.ChannelID = prev.ChannelID
		res.ExpiresAt = prev.ExpiresAt
		return res
	}

	ch, err := r.renew(ctx, user, prev)
	if err != nil {
		r.logger.Error("channel renewal failed",
			"user", user.Email,
			"kind", faults.KindOf(err).String(),
			"reason", faults.ReasonOf(err))
		res.Outcome = OutcomeFailed
		res.Reason = faults.ReasonOf(err)
		return res
	}

	r.logger.Info("channel renewed",
		"user", user.Email,
		"channel_id", ch.ChannelID,
		"folder_id", ch.FolderID,
		"expires_at", ch.Expiration().Format(time.RFC3339))
	res.Outcome = OutcomeRenewed
	res.ChannelID = ch.ChannelID
	res.ExpiresAt = ch.ExpiresAt
	return res
}

// renew creates a replacement channel for user and registers it, then makes a
// best-effort attempt to stop the superseded one. The old channel stays live
// until the new registration lands, so no notification gap opens up.
func (r *Renewer) renew(ctx context.Context, user model.MonitoredUser, prev *model.WatchChannel) (*model.WatchChannel, error) {
	cred, err := r.creds.Resolve(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	api, err := r.connector.ForUser(ctx, cred)
	if err != nil {
		return nil, faults.Wrap(faults.KindAuth, "watch.renew", "unable to build Drive client", err)
	}

	folderID, err := r.locator.Locate(ctx, api, user)
	if err != nil {
		return nil, err
	}

	var created *model.WatchChannel
	op := func() error {
		ch, err := r.createChannel(ctx, api, user, folderID)
		if err != nil {
			if faults.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		created = ch
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}

	superseded, err := r.registry.Put(ctx, *created)
	if err != nil {
		return nil, faults.Wrap(faults.Classify(err), "watch.renew", "unable to register channel", err)
	}
	if superseded == nil && prev != nil && prev.ChannelID != created.ChannelID {
		superseded = prev
	}
	if superseded != nil {
		if err := api.StopChannel(ctx, superseded.ChannelID, superseded.ResourceID); err != nil {
			// Best effort; the old channel expires on its own.
			r.logger.Warn("unable to stop superseded channel",
				"user", user.Email, "channel_id", superseded.ChannelID, "error", err)
		}
	}
	return created, nil
}

// createChannel subscribes a fresh channel to the user's change log and pins
// its cursor at the current end of the log.
func (r *Renewer) createChannel(ctx context.Context, api drive.API, user model.MonitoredUser, folderID string) (*model.WatchChannel, error) {
	startToken, err := api.StartPageToken(ctx)
	if err != nil {
		return nil, faults.Wrap(faults.Classify(err), "watch.create", "unable to get start page token", err)
	}

	now := r.now()
	req := &drivev3.Channel{
		Id:         r.newID(),
		Type:       "web_hook",
		Address:    r.webhookURL,
		Token:      r.token,
		Expiration: now.Add(r.ttl).UnixMilli(),
	}
	got, err := api.WatchChanges(ctx, startToken, req)
	if err != nil {
		return nil, faults.Wrap(faults.Classify(err), "watch.create", "changes.watch failed", err)
	}

	expiresAt := got.Expiration / 1000
	if expiresAt == 0 {
		expiresAt = now.Add(r.ttl).Unix()
	}
	return &model.WatchChannel{
		UserEmail:  user.Email,
		ChannelID:  got.Id,
		ResourceID: got.ResourceId,
		FolderID:   folderID,
		WebhookURL: r.webhookURL,
		Cursor:     startToken,
		ExpiresAt:  expiresAt,
		CreatedAt:  now.Unix(),
	}, nil
}
