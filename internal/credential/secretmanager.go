package credential

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"

	"github.com/jun/meetwatch/internal/faults"
	"github.com/jun/meetwatch/internal/model"
)

// SecretAccessor is the subset of the Secret Manager client used here.
type SecretAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

var secretNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateSecretName rejects values that are not a bare secret name. A full
// resource path or a pasted key blob is an operator mistake that must not be
// mistaken for "Secret Manager unavailable", and must never hit the network.
func ValidateSecretName(name string) error {
	switch {
	case name == "":
		return faults.New(faults.KindConfiguration, "credential.secret-manager",
			"secret name is empty")
	case strings.Contains(name, "{"):
		return faults.New(faults.KindConfiguration, "credential.secret-manager",
			"secret name looks like a raw service-account key; configure the Secret Manager secret name instead")
	case strings.Contains(name, "/"):
		return faults.New(faults.KindConfiguration, "credential.secret-manager",
			"secret name looks like a full resource path; configure only the bare secret name")
	case !secretNameRe.MatchString(name):
		return faults.New(faults.KindConfiguration, "credential.secret-manager",
			"secret name contains characters outside [A-Za-z0-9_-]")
	}
	return nil
}

// SecretManagerStrategy fetches a service-account key from Secret Manager
// and impersonates the target user via domain-wide delegation.
type SecretManagerStrategy struct {
	client     SecretAccessor
	projectID  string
	secretName string
	scopes     []string
}

// NewSecretManagerStrategy builds the strategy. The secret name is validated
// on every resolve so a bad value fails fast with a configuration error.
func NewSecretManagerStrategy(client SecretAccessor, projectID, secretName string, scopes []string) *SecretManagerStrategy {
	return &SecretManagerStrategy{
		client:     client,
		projectID:  projectID,
		secretName: secretName,
		scopes:     scopes,
	}
}

func (s *SecretManagerStrategy) Name() model.CredentialStrategy {
	return model.StrategySecretManager
}

func (s *SecretManagerStrategy) Resolve(ctx context.Context, userEmail string) (*model.Credential, error) {
	if err := ValidateSecretName(s.secretName); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, s.secretName)
	res, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		kind := faults.Classify(err)
		if kind == faults.KindUnknown {
			kind = faults.KindAuth
		}
		return nil, faults.Wrap(kind, "credential.secret-manager",
			"secret "+s.secretName+" unavailable", err)
	}

	return fromServiceAccountKey(ctx, res.GetPayload().GetData(), userEmail,
		s.scopes, model.StrategySecretManager, false)
}
