// Package drive wraps the Drive v3 operations this service needs: folder
// listing, change-notification subscriptions and cursor-scoped change
// listing. Every call is rate limited and carries the caller's context.
package drive

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jun/meetwatch/internal/model"
)

const (
	MimeTypeFolder = "application/vnd.google-apps.folder"
	MimeTypeDoc    = "application/vnd.google-apps.document"
)

// Folder is the slice of file metadata the locator works with.
type Folder struct {
	ID           string
	Name         string
	ModifiedTime time.Time
}

// API is the surface the locator, renewer and resolver depend on; fakes
// implement it in tests.
type API interface {
	ListFolders(ctx context.Context) ([]Folder, error)
	StartPageToken(ctx context.Context) (string, error)
	WatchChanges(ctx context.Context, startToken string, ch *drivev3.Channel) (*drivev3.Channel, error)
	StopChannel(ctx context.Context, channelID, resourceID string) error
	// ListChanges returns all changes since cursor plus the new start page
	// token to store once those changes were handed off.
	ListChanges(ctx context.Context, cursor string) ([]*drivev3.Change, string, error)
}

// Connector builds a per-user API from a resolved credential.
type Connector interface {
	ForUser(ctx context.Context, cred *model.Credential) (API, error)
}

// Service implements API over a real Drive client.
type Service struct {
	svc     *drivev3.Service
	limiter *rate.Limiter
}

// Google allows 10 requests/sec/user on Drive; stay under it.
var driveLimit = rate.NewLimiter(rate.Limit(8), 10)

// NewService builds a rate-limited Drive client for one credential.
func NewService(ctx context.Context, cred *model.Credential) (*Service, error) {
	svc, err := drivev3.NewService(ctx, option.WithTokenSource(cred.Source))
	if err != nil {
		return nil, fmt.Errorf("unable to build Drive client: %w", err)
	}
	return &Service{svc: svc, limiter: driveLimit}, nil
}

func (s *Service) wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

// ListFolders lists all non-trashed folders visible to the user.
func (s *Service) ListFolders(ctx context.Context) ([]Folder, error) {
	var out []Folder
	call := s.svc.Files.List().
		Q("mimeType = '" + MimeTypeFolder + "' and trashed = false").
		Fields(googleapi.Field("nextPageToken, files(id, name, modifiedTime)")).
		PageSize(100).
		Context(ctx)

	pageToken := ""
	for {
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
		r, err := call.PageToken(pageToken).Do()
		if err != nil {
			return nil, fmt.Errorf("unable to list folders: %w", err)
		}
		for _, f := range r.Files {
			modTime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
			out = append(out, Folder{ID: f.Id, Name: f.Name, ModifiedTime: modTime})
		}
		if r.NextPageToken == "" {
			return out, nil
		}
		pageToken = r.NextPageToken
	}
}

// StartPageToken fetches a fresh change-log cursor for a new channel.
func (s *Service) StartPageToken(ctx context.Context) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	r, err := s.svc.Changes.GetStartPageToken().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to get start page token: %w", err)
	}
	return r.StartPageToken, nil
}

// WatchChanges subscribes ch to the user's change log starting at startToken.
func (s *Service) WatchChanges(ctx context.Context, startToken string, ch *drivev3.Channel) (*drivev3.Channel, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	got, err := s.svc.Changes.Watch(startToken, ch).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to create watch channel: %w", err)
	}
	return got, nil
}

// StopChannel asks the remote side to stop delivering for a channel.
func (s *Service) StopChannel(ctx context.Context, channelID, resourceID string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	err := s.svc.Channels.Stop(&drivev3.Channel{Id: channelID, ResourceId: resourceID}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to stop channel %s: %w", channelID, err)
	}
	return nil
}

// ListChanges pages the change log from cursor to its current end.
func (s *Service) ListChanges(ctx context.Context, cursor string) ([]*drivev3.Change, string, error) {
	var out []*drivev3.Change
	pageToken := cursor
	for {
		if err := s.wait(ctx); err != nil {
			return nil, "", err
		}
		r, err := s.svc.Changes.List(pageToken).
			Fields(googleapi.Field("nextPageToken, newStartPageToken, " +
				"changes(changeType, fileId, removed, file(id, name, mimeType, parents, trashed, createdTime, modifiedTime, webViewLink))")).
			PageSize(100).
			IncludeRemoved(true).
			Context(ctx).Do()
		if err != nil {
			return nil, "", fmt.Errorf("unable to list changes: %w", err)
		}
		out = append(out, r.Changes...)
		if r.NewStartPageToken != "" {
			return out, r.NewStartPageToken, nil
		}
		if r.NextPageToken == "" {
			// No token of either kind: keep the old cursor.
			return out, cursor, nil
		}
		pageToken = r.NextPageToken
	}
}

// CredentialConnector is the production Connector.
type CredentialConnector struct{}

func (CredentialConnector) ForUser(ctx context.Context, cred *model.Credential) (API, error) {
	return NewService(ctx, cred)
}
