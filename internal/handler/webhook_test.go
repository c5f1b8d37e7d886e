package handler

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	drivev3 "google.golang.org/api/drive/v3"

	"github.com/jun/meetwatch/internal/dedup"
	"github.com/jun/meetwatch/internal/drive"
	"github.com/jun/meetwatch/internal/faults"
	"github.com/jun/meetwatch/internal/model"
	"github.com/jun/meetwatch/internal/registry"
	"github.com/jun/meetwatch/internal/resolver"
	"github.com/jun/meetwatch/internal/watch"
)

type fakeCreds struct{ calls int }

func (f *fakeCreds) Resolve(_ context.Context, email string) (*model.Credential, error) {
	f.calls++
	return &model.Credential{Subject: email, Strategy: model.StrategySecretManager}, nil
}

type fakeAPI struct {
	changes    []*drivev3.Change
	nextCursor string
	listErr    error
	listCalls  int
}

func (f *fakeAPI) ListFolders(context.Context) ([]drive.Folder, error) { return nil, nil }
func (f *fakeAPI) StartPageToken(context.Context) (string, error)      { return "start", nil }
func (f *fakeAPI) WatchChanges(_ context.Context, _ string, ch *drivev3.Channel) (*drivev3.Channel, error) {
	return ch, nil
}
func (f *fakeAPI) StopChannel(context.Context, string, string) error { return nil }

func (f *fakeAPI) ListChanges(_ context.Context, cursor string) ([]*drivev3.Change, string, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	if f.nextCursor == "" {
		return f.changes, cursor, nil
	}
	return f.changes, f.nextCursor, nil
}

type fakeConnector struct{ api *fakeAPI }

func (f *fakeConnector) ForUser(context.Context, *model.Credential) (drive.API, error) {
	return f.api, nil
}

type fakeProcessor struct {
	processed []model.ResolvedChange
	err       error
}

func (f *fakeProcessor) Process(_ context.Context, c model.ResolvedChange) error {
	if f.err != nil {
		return f.err
	}
	f.processed = append(f.processed, c)
	return nil
}

type fakeRenewer struct {
	renewed []string
	outcome watch.Outcome
}

func (f *fakeRenewer) RenewUser(_ context.Context, email string) watch.UserResult {
	f.renewed = append(f.renewed, email)
	out := f.outcome
	if out == "" {
		out = watch.OutcomeRenewed
	}
	return watch.UserResult{Email: email, Outcome: out}
}

type fixture struct {
	handler   *WebhookHandler
	registry  *registry.Memory
	api       *fakeAPI
	processor *fakeProcessor
	renewer   *fakeRenewer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.NewMemory()
	_, _ = reg.Put(context.Background(), model.WatchChannel{
		UserEmail: "alice@example.com",
		ChannelID: "ch-1",
		FolderID:  "folder-1",
		Cursor:    "cursor-10",
		ExpiresAt: 4102444800,
	})

	api := &fakeAPI{}
	proc := &fakeProcessor{}
	ren := &fakeRenewer{}
	users := func(email string) (model.MonitoredUser, bool) {
		if email == "alice@example.com" {
			return model.MonitoredUser{Email: email}, true
		}
		return model.MonitoredUser{}, false
	}
	h := NewWebhookHandler(reg, users, &fakeCreds{}, &fakeConnector{api: api},
		resolver.New([]string{drive.MimeTypeDoc}, slog.Default()),
		proc, ren, dedup.NewWindow(0, 0), "tok-123", slog.Default())

	return &fixture{handler: h, registry: reg, api: api, processor: proc, renewer: ren}
}

func notification(channelID, state, msgNum string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		Path:       "/webhook",
		HTTPMethod: "POST",
		Headers: map[string]string{
			"X-Goog-Channel-ID":     channelID,
			"X-Goog-Resource-ID":    "res-1",
			"X-Goog-Resource-State": state,
			"X-Goog-Message-Number": msgNum,
			"X-Goog-Channel-Token":  "tok-123",
		},
	}
}

func addedDoc(id, name string) *drivev3.Change {
	return &drivev3.Change{
		FileId: id,
		File: &drivev3.File{
			Id:           id,
			Name:         name,
			MimeType:     drive.MimeTypeDoc,
			Parents:      []string{"folder-1"},
			CreatedTime:  "2026-03-01T10:00:00Z",
			ModifiedTime: "2026-03-01T10:00:00Z",
		},
	}
}

func TestHandle_DispatchesAddedDocument(t *testing.T) {
	f := newFixture(t)
	f.api.changes = []*drivev3.Change{addedDoc("f-1", "Meeting notes")}
	f.api.nextCursor = "cursor-11"

	resp, err := f.handler.Handle(context.Background(), notification("ch-1", "add", "2"))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("Handle = %d, %v; want 200", resp.StatusCode, err)
	}
	if len(f.processor.processed) != 1 || f.processor.processed[0].FileID != "f-1" {
		t.Fatalf("processed = %+v, want f-1", f.processor.processed)
	}

	ch, _ := f.registry.Get(context.Background(), "alice@example.com")
	if ch.Cursor != "cursor-11" {
		t.Errorf("cursor = %q, want advanced to cursor-11", ch.Cursor)
	}
}

func TestHandle_MissingHeaders(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.handler.Handle(context.Background(), events.APIGatewayProxyRequest{
		Path: "/webhook", HTTPMethod: "POST",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandle_InvalidToken(t *testing.T) {
	f := newFixture(t)
	req := notification("ch-1", "add", "2")
	req.Headers["X-Goog-Channel-Token"] = "wrong"

	resp, _ := f.handler.Handle(context.Background(), req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if f.api.listCalls != 0 {
		t.Error("an unauthenticated notification must not reach the change log")
	}
}

func TestHandle_SyncAckedWithoutResolution(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.handler.Handle(context.Background(), notification("ch-1", "sync", "1"))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if f.api.listCalls != 0 {
		t.Error("sync must not trigger change resolution")
	}
}

func TestHandle_DuplicateDeliveryResolvedOnce(t *testing.T) {
	f := newFixture(t)
	f.api.changes = []*drivev3.Change{addedDoc("f-1", "Meeting notes")}
	f.api.nextCursor = "cursor-11"

	req := notification("ch-1", "add", "7")
	if resp, _ := f.handler.Handle(context.Background(), req); resp.StatusCode != http.StatusOK {
		t.Fatalf("first delivery status = %d", resp.StatusCode)
	}
	if resp, _ := f.handler.Handle(context.Background(), req); resp.StatusCode != http.StatusOK {
		t.Fatalf("retransmission status = %d", resp.StatusCode)
	}
	if f.api.listCalls != 1 {
		t.Errorf("change log listed %d times, want 1", f.api.listCalls)
	}
	if len(f.processor.processed) != 1 {
		t.Errorf("processed %d changes, want 1", len(f.processor.processed))
	}
}

func TestHandle_UnknownChannelAckedQuietly(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.handler.Handle(context.Background(), notification("ch-ghost", "add", "2"))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 so retransmissions stop", resp.StatusCode)
	}
	if f.api.listCalls != 0 || len(f.processor.processed) != 0 {
		t.Error("unknown channel must not trigger any resolution")
	}
}

func TestHandle_CorruptedCursorDropsAndRenews(t *testing.T) {
	f := newFixture(t)
	f.api.listErr = faults.New(faults.KindChannelCorruption, "resolver.Resolve", "cursor rejected")

	resp, _ := f.handler.Handle(context.Background(), notification("ch-1", "change", "3"))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ch, _ := f.registry.Get(context.Background(), "alice@example.com"); ch != nil {
		t.Error("corrupted channel should be dropped from the registry")
	}
	if len(f.renewer.renewed) != 1 || f.renewer.renewed[0] != "alice@example.com" {
		t.Errorf("renewed = %v, want a forced renewal for alice", f.renewer.renewed)
	}
}

func TestHandle_HandoffFailureRetriedOnRetransmission(t *testing.T) {
	f := newFixture(t)
	f.api.changes = []*drivev3.Change{addedDoc("f-1", "Meeting notes")}
	f.api.nextCursor = "cursor-11"
	f.processor.err = faults.New(faults.KindTransient, "processor.publish", "publish failed")

	req := notification("ch-1", "add", "9")
	resp, _ := f.handler.Handle(context.Background(), req)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 so Google retransmits", resp.StatusCode)
	}
	ch, _ := f.registry.Get(context.Background(), "alice@example.com")
	if ch.Cursor != "cursor-10" {
		t.Errorf("cursor = %q, must not advance past an unprocessed change", ch.Cursor)
	}

	// The retransmission must not be swallowed by the dedup window.
	f.processor.err = nil
	resp, _ = f.handler.Handle(context.Background(), req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retransmission status = %d, want 200", resp.StatusCode)
	}
	if len(f.processor.processed) != 1 {
		t.Errorf("processed %d changes, want 1", len(f.processor.processed))
	}
}
