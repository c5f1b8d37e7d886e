// Package secret retrieves the service's own operational secrets (the
// webhook verification token and the admin JWT signing secret) from SSM
// Parameter Store, or from environment variables in dev mode. Google
// service-account keys are deliberately not resolved here; they belong to
// the credential strategy chain which carries its own validation.
package secret

import (
	"context"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/jun/meetwatch/internal/faults"
)

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver retrieves secret values by parameter name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMResolver fetches SecureString parameters with decryption.
type SSMResolver struct {
	client SSMClient
}

// NewSSMResolver returns a Resolver backed by SSM Parameter Store.
func NewSSMResolver(client SSMClient) *SSMResolver {
	return &SSMResolver{client: client}
}

func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", faults.Wrap(faults.KindTransient, "secret.get",
			"parameter "+name+" unavailable", err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", faults.New(faults.KindConfiguration, "secret.get",
			"parameter "+name+" has no value")
	}
	return *out.Parameter.Value, nil
}

// EnvResolver reads secrets from environment variables, mapping a parameter
// path to a variable name by its last segment: "/meetwatch/webhook-token"
// becomes "WEBHOOK_TOKEN". Dev mode only.
type EnvResolver struct{}

func NewEnvResolver() *EnvResolver { return &EnvResolver{} }

func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := envVarFor(name)
	val := os.Getenv(envName)
	if val == "" {
		return "", faults.New(faults.KindConfiguration, "secret.get",
			"environment variable "+envName+" (from parameter "+name+") is not set")
	}
	return val, nil
}

func envVarFor(name string) string {
	parts := strings.Split(name, "/")
	last := parts[len(parts)-1]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}
