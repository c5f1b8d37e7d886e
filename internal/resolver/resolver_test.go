package resolver

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/jun/meetwatch/internal/drive"
	"github.com/jun/meetwatch/internal/faults"
	"github.com/jun/meetwatch/internal/model"
)

type fakeChangeLister struct {
	changes    []*drivev3.Change
	nextCursor string
	err        error
	gotCursor  string
}

func (f *fakeChangeLister) ListChanges(_ context.Context, cursor string) ([]*drivev3.Change, string, error) {
	f.gotCursor = cursor
	if f.err != nil {
		return nil, "", f.err
	}
	return f.changes, f.nextCursor, nil
}

func (f *fakeChangeLister) ListFolders(context.Context) ([]drive.Folder, error) { return nil, nil }
func (f *fakeChangeLister) StartPageToken(context.Context) (string, error)      { return "", nil }
func (f *fakeChangeLister) WatchChanges(context.Context, string, *drivev3.Channel) (*drivev3.Channel, error) {
	return nil, nil
}
func (f *fakeChangeLister) StopChannel(context.Context, string, string) error { return nil }

func doc(id, name, parent string) *drivev3.Change {
	return &drivev3.Change{
		FileId: id,
		File: &drivev3.File{
			Id:           id,
			Name:         name,
			MimeType:     drive.MimeTypeDoc,
			Parents:      []string{parent},
			CreatedTime:  "2026-03-01T10:00:00Z",
			ModifiedTime: "2026-03-01T10:05:00Z",
			WebViewLink:  "https://docs.google.com/document/d/" + id,
		},
	}
}

func newResolver() *ChangeResolver {
	return New([]string{drive.MimeTypeDoc}, slog.Default())
}

var (
	testChannel = &model.WatchChannel{
		UserEmail: "alice@example.com",
		ChannelID: "ch-1",
		FolderID:  "folder-1",
		Cursor:    "cursor-10",
	}
	testUser = model.MonitoredUser{Email: "alice@example.com"}
)

func TestResolve_KeepsOnlyAcceptedDocsInFolder(t *testing.T) {
	spreadsheet := doc("f-2", "Budget", "folder-1")
	spreadsheet.File.MimeType = "application/vnd.google-apps.spreadsheet"
	trashed := doc("f-3", "Old notes", "folder-1")
	trashed.File.Trashed = true

	api := &fakeChangeLister{
		changes: []*drivev3.Change{
			doc("f-1", "Meeting notes 2026-03-01", "folder-1"),
			spreadsheet,
			trashed,
			doc("f-4", "Unrelated", "folder-other"),
			{FileId: "f-5", Removed: true},
			{FileId: "f-6"}, // no file metadata
		},
		nextCursor: "cursor-11",
	}

	got, cursor, err := newResolver().Resolve(context.Background(), api, testChannel, testUser)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if api.gotCursor != "cursor-10" {
		t.Errorf("listed from cursor %q, want the channel's stored cursor", api.gotCursor)
	}
	if cursor != "cursor-11" {
		t.Errorf("next cursor = %q, want cursor-11", cursor)
	}
	if len(got) != 1 {
		t.Fatalf("resolved %d changes, want 1: %+v", len(got), got)
	}
	rc := got[0]
	if rc.FileID != "f-1" || rc.FileName != "Meeting notes 2026-03-01" {
		t.Errorf("unexpected resolved file: %+v", rc)
	}
	if rc.UserEmail != "alice@example.com" || rc.FolderID != "folder-1" {
		t.Errorf("resolved change missing channel attribution: %+v", rc)
	}
	if rc.CreatedTime.IsZero() || rc.ModifiedTime.IsZero() {
		t.Error("timestamps should be parsed from the change entry")
	}
}

func TestResolve_EmptyChangeLog(t *testing.T) {
	api := &fakeChangeLister{nextCursor: "cursor-10"}

	got, cursor, err := newResolver().Resolve(context.Background(), api, testChannel, testUser)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("resolved %d changes, want 0", len(got))
	}
	if cursor != "cursor-10" {
		t.Errorf("cursor = %q, want unchanged cursor-10", cursor)
	}
}

func TestResolve_RejectedCursorIsCorruption(t *testing.T) {
	api := &fakeChangeLister{
		err: &googleapi.Error{Code: http.StatusNotFound, Message: "Page token expired"},
	}

	_, _, err := newResolver().Resolve(context.Background(), api, testChannel, testUser)
	if err == nil {
		t.Fatal("expected an error for a rejected cursor")
	}
	if kind := faults.KindOf(err); kind != faults.KindChannelCorruption {
		t.Errorf("error kind = %v, want channel-corruption", kind)
	}
}

func TestResolve_ServerErrorIsTransient(t *testing.T) {
	api := &fakeChangeLister{
		err: &googleapi.Error{Code: http.StatusServiceUnavailable},
	}

	_, _, err := newResolver().Resolve(context.Background(), api, testChannel, testUser)
	if !faults.IsTransient(err) {
		t.Errorf("error kind = %v, want transient", faults.KindOf(err))
	}
}
