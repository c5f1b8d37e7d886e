// Package resolver turns a change-notification ping into the concrete set of
// newly added documents inside the user's monitored folder. A notification
// carries no file information; the change log, read from the channel's stored
// cursor, is the only source of truth.
package resolver

import (
	"context"
	"log/slog"
	"time"

	drivev3 "google.golang.org/api/drive/v3"

	"github.com/jun/meetwatch/internal/drive"
	"github.com/jun/meetwatch/internal/faults"
	"github.com/jun/meetwatch/internal/model"
)

// ChangeResolver filters raw change-log entries down to accepted additions.
type ChangeResolver struct {
	accepted map[string]bool
	logger   *slog.Logger
}

// New builds a ChangeResolver that keeps only files of the given MIME types.
func New(acceptedMimeTypes []string, logger *slog.Logger) *ChangeResolver {
	accepted := make(map[string]bool, len(acceptedMimeTypes))
	for _, m := range acceptedMimeTypes {
		accepted[m] = true
	}
	return &ChangeResolver{
		accepted: accepted,
		logger:   logger.With("component", "resolver"),
	}
}

// Resolve lists all changes since the channel's cursor and returns the ones
// that are accepted documents inside the channel's folder, together with the
// next cursor. The caller advances the stored cursor only after the returned
// changes were handed off, so a crash between listing and handoff re-delivers
// rather than drops.
func (r *ChangeResolver) Resolve(ctx context.Context, api drive.API, ch *model.WatchChannel, user model.MonitoredUser) ([]model.ResolvedChange, string, error) {
	changes, nextCursor, err := api.ListChanges(ctx, ch.Cursor)
	if err != nil {
		kind := faults.ClassifyChangeList(err)
		if kind == faults.KindChannelCorruption {
			return nil, "", faults.Wrap(kind, "resolver.Resolve", "stored cursor rejected by change log", err)
		}
		return nil, "", faults.Wrap(kind, "resolver.Resolve", "unable to list changes", err)
	}

	var out []model.ResolvedChange
	for _, c := range changes {
		if !r.keep(c, ch.FolderID) {
			continue
		}
		created, _ := time.Parse(time.RFC3339, c.File.CreatedTime)
		modified, _ := time.Parse(time.RFC3339, c.File.ModifiedTime)
		out = append(out, model.ResolvedChange{
			FileID:       c.File.Id,
			FileName:     c.File.Name,
			MimeType:     c.File.MimeType,
			FolderID:     ch.FolderID,
			UserEmail:    user.Email,
			WebViewLink:  c.File.WebViewLink,
			CreatedTime:  created,
			ModifiedTime: modified,
		})
	}

	r.logger.Debug("resolved changes",
		"user", user.Email,
		"listed", len(changes),
		"kept", len(out))
	return out, nextCursor, nil
}

// keep reports whether a change entry is a live, accepted document parented
// in folderID. Removals, trashed files and entries without file metadata are
// noise from this service's point of view.
func (r *ChangeResolver) keep(c *drivev3.Change, folderID string) bool {
	if c.Removed || c.File == nil || c.File.Trashed {
		return false
	}
	if !r.accepted[c.File.MimeType] {
		return false
	}
	for _, p := range c.File.Parents {
		if p == folderID {
			return true
		}
	}
	return false
}
