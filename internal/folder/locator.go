// Package folder finds each monitored user's meeting-recordings folder,
// tolerating localized and renamed variants: an exact alias match first,
// then a keyword-substring fallback.
package folder

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jun/meetwatch/internal/drive"
	"github.com/jun/meetwatch/internal/faults"
	"github.com/jun/meetwatch/internal/model"
)

// cacheTTL bounds how long a located folder id is trusted before the search
// re-runs, so renames and deletions are eventually noticed.
const cacheTTL = time.Hour

type matchOutcome int

const (
	matchNotFound matchOutcome = iota
	matchFound
	matchAmbiguous
)

// Locator resolves target folders with a per-user cache.
type Locator struct {
	aliases  []string
	keywords []string
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedFolder
}

type cachedFolder struct {
	id      string
	located time.Time
}

// NewLocator builds a locator. Aliases are tried in order; keywords drive
// the substring fallback.
func NewLocator(aliases, keywords []string, logger *slog.Logger) *Locator {
	return &Locator{
		aliases:  aliases,
		keywords: keywords,
		logger:   logger.With("component", "folder"),
		now:      time.Now,
		cache:    make(map[string]cachedFolder),
	}
}

// Locate returns the folder id for user. An explicit folder id on the user
// wins outright; otherwise the user's folders are searched.
func (l *Locator) Locate(ctx context.Context, api drive.API, user model.MonitoredUser) (string, error) {
	if user.FolderID != "" {
		return user.FolderID, nil
	}

	key := strings.ToLower(user.Email)
	l.mu.Lock()
	if c, ok := l.cache[key]; ok && l.now().Sub(c.located) < cacheTTL {
		l.mu.Unlock()
		return c.id, nil
	}
	l.mu.Unlock()

	folders, err := api.ListFolders(ctx)
	if err != nil {
		kind := faults.Classify(err)
		if kind == faults.KindUnknown {
			kind = faults.KindTransient
		}
		return "", faults.Wrap(kind, "folder.locate", "folder listing failed", err)
	}

	found, outcome := match(folders, l.aliases, l.keywords)
	switch outcome {
	case matchNotFound:
		return "", &faults.Error{
			Kind:   faults.KindFolderNotFound,
			Op:     "folder.locate",
			User:   user.Email,
			Reason: "no folder matched aliases [" + strings.Join(l.aliases, ", ") + "] or keywords",
		}
	case matchAmbiguous:
		l.logger.Warn("multiple folders matched keyword fallback, picked most recently modified",
			"user", user.Email, "folder_id", found.ID, "folder_name", found.Name)
	}

	l.mu.Lock()
	l.cache[key] = cachedFolder{id: found.ID, located: l.now()}
	l.mu.Unlock()
	return found.ID, nil
}

// Invalidate drops the cached folder for a user, forcing a fresh search.
func (l *Locator) Invalidate(email string) {
	l.mu.Lock()
	delete(l.cache, strings.ToLower(email))
	l.mu.Unlock()
}

// match runs the matcher pipeline: exact alias lookup in alias priority
// order, then keyword-substring fallback picking the most recently modified
// candidate.
func match(folders []drive.Folder, aliases, keywords []string) (drive.Folder, matchOutcome) {
	for _, alias := range aliases {
		for _, f := range folders {
			if strings.EqualFold(f.Name, alias) {
				return f, matchFound
			}
		}
	}

	var candidates []drive.Folder
	for _, f := range folders {
		name := strings.ToLower(f.Name)
		for _, kw := range keywords {
			if strings.Contains(name, strings.ToLower(kw)) {
				candidates = append(candidates, f)
				break
			}
		}
	}

	switch len(candidates) {
	case 0:
		return drive.Folder{}, matchNotFound
	case 1:
		return candidates[0], matchFound
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.ModifiedTime.After(best.ModifiedTime) {
			best = c
		}
	}
	return best, matchAmbiguous
}
