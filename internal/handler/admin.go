package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/meetwatch/internal/config"
	"github.com/jun/meetwatch/internal/drive"
	"github.com/jun/meetwatch/internal/faults"
	"github.com/jun/meetwatch/internal/model"
	"github.com/jun/meetwatch/internal/watch"
)

// WatchSweeper runs the full renewal sweep on demand.
type WatchSweeper interface {
	SweepAll(ctx context.Context) []watch.UserResult
}

// CredentialTester resolves credentials and reports the active chain.
type CredentialTester interface {
	Resolve(ctx context.Context, userEmail string) (*model.Credential, error)
	ActiveStrategies() []model.CredentialStrategy
}

// AdminHandler serves the operational endpoints. Every operation requires an
// admin Bearer token.
type AdminHandler struct {
	cfg       *config.Config
	sweeper   WatchSweeper
	creds     CredentialTester
	connector drive.Connector
	locator   watch.FolderLocator
	jwtSecret string
	logger    *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(cfg *config.Config, sweeper WatchSweeper, creds CredentialTester,
	connector drive.Connector, locator watch.FolderLocator, jwtSecret string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		cfg:       cfg,
		sweeper:   sweeper,
		creds:     creds,
		connector: connector,
		locator:   locator,
		jwtSecret: jwtSecret,
		logger:    logger.With("component", "admin"),
	}
}

func (h *AdminHandler) authorize(req events.APIGatewayProxyRequest) (string, bool) {
	sub, err := GetAdminSubject(req, h.jwtSecret)
	if err != nil {
		return "", false
	}
	return sub, true
}

// RenewAll triggers a sweep over every monitored user and reports the
// per-user outcomes.
func (h *AdminHandler) RenewAll(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	admin, ok := h.authorize(req)
	if !ok {
		return errorResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}
	h.logger.Info("manual sweep requested", "admin", admin)

	results := h.sweeper.SweepAll(ctx)
	renewed, failed := 0, 0
	for _, r := range results {
		switch r.Outcome {
		case watch.OutcomeRenewed:
			renewed++
		case watch.OutcomeFailed:
			failed++
		}
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"renewed": renewed,
		"failed":  failed,
		"results": results,
	}), nil
}

type userRequest struct {
	Email string `json:"email"`
}

func (h *AdminHandler) parseUser(req events.APIGatewayProxyRequest) (model.MonitoredUser, *events.APIGatewayProxyResponse) {
	var body userRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil || body.Email == "" {
		resp := errorResponse(http.StatusBadRequest, "body must be {\"email\": ...}")
		return model.MonitoredUser{}, &resp
	}
	user, ok := h.cfg.UserByEmail(body.Email)
	if !ok {
		resp := errorResponse(http.StatusNotFound, "not a monitored user")
		return model.MonitoredUser{}, &resp
	}
	return user, nil
}

// TestAuthentication resolves a credential for one user and reports which
// strategy served it. No credential material is ever included.
func (h *AdminHandler) TestAuthentication(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, ok := h.authorize(req); !ok {
		return errorResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}
	user, errResp := h.parseUser(req)
	if errResp != nil {
		return *errResp, nil
	}

	cred, err := h.creds.Resolve(ctx, user.Email)
	if err != nil {
		return jsonResponse(http.StatusOK, map[string]any{
			"user":   user.Email,
			"ok":     false,
			"kind":   faults.KindOf(err).String(),
			"reason": faults.ReasonOf(err),
			"chain":  h.creds.ActiveStrategies(),
		}), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"user":     user.Email,
		"ok":       true,
		"strategy": string(cred.Strategy),
		"chain":    h.creds.ActiveStrategies(),
	}), nil
}

// TestFolderCheck resolves a credential and locates the user's monitored
// folder.
func (h *AdminHandler) TestFolderCheck(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, ok := h.authorize(req); !ok {
		return errorResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}
	user, errResp := h.parseUser(req)
	if errResp != nil {
		return *errResp, nil
	}

	cred, err := h.creds.Resolve(ctx, user.Email)
	if err != nil {
		return jsonResponse(http.StatusOK, map[string]any{
			"user": user.Email, "ok": false,
			"stage": "credential", "reason": faults.ReasonOf(err),
		}), nil
	}
	api, err := h.connector.ForUser(ctx, cred)
	if err != nil {
		return jsonResponse(http.StatusOK, map[string]any{
			"user": user.Email, "ok": false,
			"stage": "drive", "reason": faults.ReasonOf(err),
		}), nil
	}
	folderID, err := h.locator.Locate(ctx, api, user)
	if err != nil {
		return jsonResponse(http.StatusOK, map[string]any{
			"user": user.Email, "ok": false,
			"stage": "folder", "reason": faults.ReasonOf(err),
		}), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"user": user.Email, "ok": true, "folder_id": folderID,
	}), nil
}

// Config echoes the non-sensitive configuration for diagnostics. Secret
// values never appear here, only the references to them.
func (h *AdminHandler) Config(_ context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, ok := h.authorize(req); !ok {
		return errorResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}

	emails := make([]string, 0, len(h.cfg.Users))
	for _, u := range h.cfg.Users {
		emails = append(emails, u.Email)
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"project_id":      h.cfg.ProjectID,
		"webhook_url":     h.cfg.WebhookURL,
		"monitored_users": emails,
		"strategies":      h.cfg.Strategies(),
		"renewal_horizon": h.cfg.RenewalHorizon.String(),
		"watch_ttl":       h.cfg.WatchTTL.String(),
		"sweep_schedule":  h.cfg.SweepSchedule,
		"folder_aliases":  h.cfg.FolderAliases,
		"accepted_mimes":  h.cfg.AcceptedMIMEs,
		"dev_mode":        h.cfg.DevMode,
	}), nil
}
