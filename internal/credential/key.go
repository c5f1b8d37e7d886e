package credential

import (
	"context"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jun/meetwatch/internal/faults"
	"github.com/jun/meetwatch/internal/model"
)

// fromServiceAccountKey parses a service-account key blob, checks its
// required fields, and builds a delegated credential for userEmail. The blob
// itself is discarded once the token source is constructed; it never appears
// in errors or logs.
func fromServiceAccountKey(ctx context.Context, blob []byte, userEmail string, scopes []string, strategy model.CredentialStrategy, insecure bool) (*model.Credential, error) {
	op := "credential." + string(strategy)

	cfg, err := google.JWTConfigFromJSON(blob, scopes...)
	if err != nil {
		return nil, faults.Wrap(faults.KindConfiguration, op,
			"key blob is not a valid service-account credential", err)
	}
	if cfg.Email == "" {
		return nil, faults.New(faults.KindConfiguration, op,
			"service-account credential is missing client_email")
	}
	if len(cfg.PrivateKey) == 0 {
		return nil, faults.New(faults.KindConfiguration, op,
			"service-account credential is missing private_key")
	}

	cfg.Subject = userEmail
	ts := cfg.TokenSource(ctx)

	// Fetch one token eagerly so impersonation failures surface here, at
	// resolution time, instead of inside an unrelated Drive call.
	tok, err := ts.Token()
	if err != nil {
		kind := faults.Classify(err)
		if kind == faults.KindUnknown {
			kind = faults.KindAuth
		}
		return nil, faults.Wrap(kind, op,
			"domain-wide delegation token for "+userEmail+" rejected", err)
	}

	return &model.Credential{
		Subject:  userEmail,
		Strategy: strategy,
		Insecure: insecure,
		Expiry:   tok.Expiry,
		Source:   oauth2.ReuseTokenSource(tok, ts),
	}, nil
}

// LocalFileStrategy reads a service-account key from a local path. Intended
// for non-production use; resulting credentials are flagged insecure.
type LocalFileStrategy struct {
	path   string
	scopes []string
}

func NewLocalFileStrategy(path string, scopes []string) *LocalFileStrategy {
	return &LocalFileStrategy{path: path, scopes: scopes}
}

func (s *LocalFileStrategy) Name() model.CredentialStrategy {
	return model.StrategyLocalFile
}

func (s *LocalFileStrategy) Resolve(ctx context.Context, userEmail string) (*model.Credential, error) {
	blob, err := os.ReadFile(s.path)
	if err != nil {
		return nil, faults.Wrap(faults.KindConfiguration, "credential.local-file",
			"cannot read key file at configured path", err)
	}
	return fromServiceAccountKey(ctx, blob, userEmail, s.scopes, model.StrategyLocalFile, true)
}
