// Package app wires the engine together and routes API Gateway requests.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"github.com/aws/aws-lambda-go/events"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/jun/meetwatch/internal/config"
	"github.com/jun/meetwatch/internal/credential"
	"github.com/jun/meetwatch/internal/dedup"
	"github.com/jun/meetwatch/internal/drive"
	"github.com/jun/meetwatch/internal/folder"
	"github.com/jun/meetwatch/internal/guard"
	"github.com/jun/meetwatch/internal/handler"
	"github.com/jun/meetwatch/internal/processor"
	"github.com/jun/meetwatch/internal/registry"
	"github.com/jun/meetwatch/internal/resolver"
	"github.com/jun/meetwatch/internal/secret"
	"github.com/jun/meetwatch/internal/watch"
)

// App holds the dependencies for the Lambda function.
type App struct {
	cfg            *config.Config
	renewer        *watch.Renewer
	webhookHandler *handler.WebhookHandler
	adminHandler   *handler.AdminHandler
	healthHandler  *handler.HealthHandler
	logger         *slog.Logger
}

// NewApp initializes the application dependencies.
func NewApp(ctx context.Context) *App {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("unable to load configuration: %v", err))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		panic(fmt.Sprintf("unable to load SDK config: %v", err))
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	// Registry and leases
	var reg registry.Registry
	var leases guard.Leases
	if cfg.DevMode {
		reg = registry.NewMemory()
		leases = guard.NewMemoryLeases()
		logger.Info("using in-memory registry and leases (DEV_MODE=true)")
	} else {
		reg = registry.NewDynamo(dynamoClient, cfg.WatchChannelsTable)
		leases = guard.NewDynamoLeases(dynamoClient, cfg.UserLeasesTable)
	}

	// Secret resolver for operational secrets (webhook token, admin JWT)
	var secrets secret.Resolver
	if cfg.DevMode {
		secrets = secret.NewEnvResolver()
		logger.Info("using EnvResolver (DEV_MODE=true)")
	} else {
		secrets = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
	}

	webhookToken, err := secrets.GetSecret(ctx, cfg.WebhookTokenParam)
	if err != nil {
		// Without a token, notifications are accepted unauthenticated; keep
		// that loud in the logs.
		logger.Warn("webhook token not resolved, channel token check disabled",
			"param", cfg.WebhookTokenParam, "error", err)
	}

	adminJWTSecret, err := secrets.GetSecret(ctx, cfg.AdminJWTSecretParam)
	if err != nil {
		if !cfg.DevMode {
			panic(fmt.Sprintf("unable to resolve admin JWT secret: %v", err))
		}
		logger.Warn("admin JWT secret not resolved, using dev default")
		adminJWTSecret = "default-dev-secret"
	}

	// Credential strategy chain, in fixed priority order.
	var strategies []credential.Strategy
	if cfg.SecretName != "" {
		smClient, err := secretmanager.NewClient(ctx)
		if err != nil {
			panic(fmt.Sprintf("unable to create Secret Manager client: %v", err))
		}
		strategies = append(strategies,
			credential.NewSecretManagerStrategy(smClient, cfg.ProjectID, cfg.SecretName, credential.DriveScopes))
	}
	if cfg.DelegationAccount != "" {
		strategies = append(strategies,
			credential.NewDelegationStrategy(cfg.DelegationAccount, credential.DriveScopes))
	}
	if cfg.KeyFile != "" {
		strategies = append(strategies,
			credential.NewLocalFileStrategy(cfg.KeyFile, credential.DriveScopes))
	}
	creds := credential.NewResolver(strategies, logger)

	connector := drive.CredentialConnector{}
	locator := folder.NewLocator(cfg.FolderAliases, cfg.FolderKeywords, logger)
	changeResolver := resolver.New(cfg.AcceptedMIMEs, logger)

	// Downstream handoff
	var proc processor.Processor
	if cfg.PubSubTopic != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			panic(fmt.Sprintf("unable to create Pub/Sub client: %v", err))
		}
		proc = processor.NewPubSub(psClient.Topic(cfg.PubSubTopic), logger)
	} else {
		proc = processor.NewLog(logger)
		logger.Info("no PUBSUB_TOPIC configured, resolved changes are only logged")
	}

	renewer := watch.NewRenewer(watch.Config{
		Users:      cfg.Users,
		Registry:   reg,
		Leases:     leases,
		Creds:      creds,
		Connector:  connector,
		Locator:    locator,
		WebhookURL: cfg.WebhookURL,
		Token:      webhookToken,
		TTL:        cfg.WatchTTL,
		Horizon:    cfg.RenewalHorizon,
		Logger:     logger,
	})

	webhookHandler := handler.NewWebhookHandler(reg, cfg.UserByEmail, creds, connector,
		changeResolver, proc, renewer, dedup.NewWindow(0, 0), webhookToken, logger)
	adminHandler := handler.NewAdminHandler(cfg, renewer, creds, connector, locator,
		adminJWTSecret, logger)
	healthHandler := handler.NewHealthHandler(cfg, creds, reg)

	return &App{
		cfg:            cfg,
		renewer:        renewer,
		webhookHandler: webhookHandler,
		adminHandler:   adminHandler,
		healthHandler:  healthHandler,
		logger:         logger,
	}
}

// SweepSchedule returns the cron spec for scheduled renewal sweeps.
func (app *App) SweepSchedule() string { return app.cfg.SweepSchedule }

// Sweep runs one renewal sweep over all monitored users.
func (app *App) Sweep(ctx context.Context) []watch.UserResult {
	return app.renewer.SweepAll(ctx)
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := req.Path
	method := req.HTTPMethod

	// Strip /api prefix if present (for CloudFront proxying)
	path = strings.TrimPrefix(path, "/api")

	switch {
	case path == "/webhook" && method == "POST":
		return must(app.webhookHandler.Handle(ctx, req)), nil
	case path == "/health" && method == "GET":
		return must(app.healthHandler.Check(ctx, req)), nil
	case path == "/renew-all-watches" && method == "POST":
		return must(app.adminHandler.RenewAll(ctx, req)), nil
	case path == "/test-authentication" && method == "POST":
		return must(app.adminHandler.TestAuthentication(ctx, req)), nil
	case path == "/test-folder-check" && method == "POST":
		return must(app.adminHandler.TestFolderCheck(ctx, req)), nil
	case path == "/config" && method == "GET":
		return must(app.adminHandler.Config(ctx, req)), nil
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, path),
	}, nil
}

// must unwraps a handler response, ignoring the error.
func must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		slog.Error("handler error", "error", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}
