package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/meetwatch/internal/config"
	"github.com/jun/meetwatch/internal/model"
	"github.com/jun/meetwatch/internal/registry"
)

// StrategyLister reports the configured credential chain.
type StrategyLister interface {
	ActiveStrategies() []model.CredentialStrategy
}

// HealthHandler reports readiness: configured strategies, structural config
// validity and registry reachability. No auth; no secret values.
type HealthHandler struct {
	cfg      *config.Config
	creds    StrategyLister
	registry registry.Registry
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, creds StrategyLister, reg registry.Registry) *HealthHandler {
	return &HealthHandler{cfg: cfg, creds: creds, registry: reg}
}

// Check answers 200 when the service can do useful work, 503 otherwise.
func (h *HealthHandler) Check(ctx context.Context, _ events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	status := "ok"
	code := http.StatusOK
	var problems []string

	if err := h.cfg.Validate(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		problems = append(problems, "configuration invalid")
	}

	strategies := h.creds.ActiveStrategies()
	if len(strategies) == 0 && !h.cfg.DevMode {
		status = "degraded"
		code = http.StatusServiceUnavailable
		problems = append(problems, "no credential strategy configured")
	}

	channels, err := h.registry.ExpiringBefore(ctx, time.Now().Add(100*365*24*time.Hour))
	registered := len(channels)
	if err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		problems = append(problems, "registry unreachable")
	}

	body := map[string]any{
		"status":              status,
		"time":                time.Now().UTC().Format(time.RFC3339),
		"strategies":          strategies,
		"monitored_users":     len(h.cfg.Users),
		"registered_channels": registered,
	}
	if len(problems) > 0 {
		body["problems"] = problems
	}
	return jsonResponse(code, body), nil
}
