package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/meetwatch/internal/dedup"
	"github.com/jun/meetwatch/internal/drive"
	"github.com/jun/meetwatch/internal/faults"
	"github.com/jun/meetwatch/internal/model"
	"github.com/jun/meetwatch/internal/processor"
	"github.com/jun/meetwatch/internal/registry"
	"github.com/jun/meetwatch/internal/watch"
)

// ChangeResolver resolves a notification into the concrete added documents.
type ChangeResolver interface {
	Resolve(ctx context.Context, api drive.API, ch *model.WatchChannel, user model.MonitoredUser) ([]model.ResolvedChange, string, error)
}

// ChannelRenewer replaces a user's channel after corruption.
type ChannelRenewer interface {
	RenewUser(ctx context.Context, email string) watch.UserResult
}

// UserLookup maps an email to its monitored-user config.
type UserLookup func(email string) (model.MonitoredUser, bool)

// dispatchTimeout bounds resolution and handoff for one notification.
const dispatchTimeout = time.Minute

// WebhookHandler handles inbound Drive push notifications.
type WebhookHandler struct {
	registry  registry.Registry
	users     UserLookup
	creds     watch.CredentialSource
	connector drive.Connector
	resolver  ChangeResolver
	processor processor.Processor
	renewer   ChannelRenewer
	dedup     *dedup.Window
	token     string
	logger    *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(reg registry.Registry, users UserLookup, creds watch.CredentialSource,
	connector drive.Connector, res ChangeResolver, proc processor.Processor,
	renewer ChannelRenewer, window *dedup.Window, token string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		registry:  reg,
		users:     users,
		creds:     creds,
		connector: connector,
		resolver:  res,
		processor: proc,
		renewer:   renewer,
		dedup:     window,
		token:     token,
		logger:    logger.With("component", "webhook"),
	}
}

// Handle validates, deduplicates and dispatches one push notification. Google
// retransmits on any non-2xx response, so transient failures return 500 while
// everything the service chooses to ignore still acks with 200.
func (h *WebhookHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ev := model.NotificationEvent{
		ChannelID:     getHeader(req, "X-Goog-Channel-ID"),
		ResourceID:    getHeader(req, "X-Goog-Resource-ID"),
		ResourceState: model.ResourceState(getHeader(req, "X-Goog-Resource-State")),
		MessageNumber: getHeader(req, "X-Goog-Message-Number"),
		Token:         getHeader(req, "X-Goog-Channel-Token"),
	}

	if ev.ChannelID == "" || ev.ResourceState == "" {
		return errorResponse(http.StatusBadRequest, "missing notification headers"), nil
	}
	if h.token != "" && ev.Token != h.token {
		h.logger.Warn("notification with invalid channel token", "channel_id", ev.ChannelID)
		return errorResponse(http.StatusUnauthorized, "invalid channel token"), nil
	}

	// The initial sync message confirms channel creation and carries no
	// change information.
	if ev.ResourceState == model.StateSync {
		h.logger.Info("channel sync confirmed", "channel_id", ev.ChannelID)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: "OK"}, nil
	}

	if h.dedup.Seen(ev.DedupKey()) {
		h.logger.Debug("duplicate notification ignored",
			"channel_id", ev.ChannelID, "message_number", ev.MessageNumber)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: "OK"}, nil
	}

	ch, err := h.registry.FindByChannelID(ctx, ev.ChannelID)
	if err != nil {
		h.dedup.Forget(ev.DedupKey())
		h.logger.Error("channel lookup failed", "channel_id", ev.ChannelID, "error", err)
		return errorResponse(http.StatusInternalServerError, "channel lookup failed"), nil
	}
	if ch == nil {
		// A superseded or foreign channel; ack so Google stops retransmitting.
		h.logger.Warn("notification for unknown channel", "channel_id", ev.ChannelID)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: "OK"}, nil
	}

	user, ok := h.users(ch.UserEmail)
	if !ok {
		h.logger.Warn("channel belongs to a user no longer monitored",
			"channel_id", ev.ChannelID, "user", ch.UserEmail)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: "OK"}, nil
	}

	if err := h.dispatch(ctx, ch, user); err != nil {
		if faults.KindOf(err) == faults.KindChannelCorruption {
			h.recover(ctx, ch)
			return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: "OK"}, nil
		}
		h.dedup.Forget(ev.DedupKey())
		h.logger.Error("notification dispatch failed",
			"channel_id", ev.ChannelID, "user", ch.UserEmail,
			"kind", faults.KindOf(err).String(), "reason", faults.ReasonOf(err))
		return errorResponse(http.StatusInternalServerError, "dispatch failed"), nil
	}

	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: "OK"}, nil
}

// dispatch resolves the channel's pending changes, hands each one off and
// advances the cursor only after every handoff succeeded.
func (h *WebhookHandler) dispatch(ctx context.Context, ch *model.WatchChannel, user model.MonitoredUser) error {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	cred, err := h.creds.Resolve(ctx, user.Email)
	if err != nil {
		return err
	}
	api, err := h.connector.ForUser(ctx, cred)
	if err != nil {
		return faults.Wrap(faults.KindAuth, "webhook.dispatch", "unable to build Drive client", err)
	}

	changes, nextCursor, err := h.resolver.Resolve(ctx, api, ch, user)
	if err != nil {
		return err
	}

	for _, change := range changes {
		if err := h.processor.Process(ctx, change); err != nil {
			return err
		}
	}

	if nextCursor != ch.Cursor {
		if err := h.registry.AdvanceCursor(ctx, ch.UserEmail, ch.ChannelID, nextCursor); err != nil {
			return faults.Wrap(faults.Classify(err), "webhook.dispatch", "unable to advance cursor", err)
		}
	}

	h.logger.Info("notification dispatched",
		"channel_id", ch.ChannelID, "user", ch.UserEmail, "changes", len(changes))
	return nil
}

// recover drops a corrupted channel and provisions a replacement.
func (h *WebhookHandler) recover(ctx context.Context, ch *model.WatchChannel) {
	h.logger.Warn("channel corrupted, replacing",
		"channel_id", ch.ChannelID, "user", ch.UserEmail)

	if err := h.registry.Delete(ctx, ch.UserEmail, ch.ChannelID); err != nil {
		h.logger.Error("unable to drop corrupted channel",
			"channel_id", ch.ChannelID, "user", ch.UserEmail, "error", err)
	}

	res := h.renewer.RenewUser(ctx, ch.UserEmail)
	if res.Outcome != watch.OutcomeRenewed {
		h.logger.Error("replacement channel not created",
			"user", ch.UserEmail, "outcome", string(res.Outcome), "reason", res.Reason)
	}
}
