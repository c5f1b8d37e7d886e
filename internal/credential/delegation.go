package credential

import (
	"context"
	"time"

	"google.golang.org/api/impersonate"

	"github.com/jun/meetwatch/internal/faults"
	"github.com/jun/meetwatch/internal/model"
)

// DelegationStrategy impersonates users through a Google-managed service
// identity configured for domain-wide delegation. No key material is ever
// fetched or held by this process.
type DelegationStrategy struct {
	targetPrincipal string
	scopes          []string
	lifetime        time.Duration
}

func NewDelegationStrategy(targetPrincipal string, scopes []string) *DelegationStrategy {
	return &DelegationStrategy{
		targetPrincipal: targetPrincipal,
		scopes:          scopes,
		lifetime:        time.Hour,
	}
}

func (s *DelegationStrategy) Name() model.CredentialStrategy {
	return model.StrategyManagedDelegation
}

func (s *DelegationStrategy) Resolve(ctx context.Context, userEmail string) (*model.Credential, error) {
	ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
		TargetPrincipal: s.targetPrincipal,
		Scopes:          s.scopes,
		Subject:         userEmail,
		Lifetime:        s.lifetime,
	})
	if err != nil {
		return nil, faults.Wrap(faults.KindConfiguration, "credential.managed-delegation",
			"impersonation source for "+s.targetPrincipal+" could not be constructed", err)
	}

	tok, err := ts.Token()
	if err != nil {
		kind := faults.Classify(err)
		if kind == faults.KindUnknown {
			kind = faults.KindAuth
		}
		return nil, faults.Wrap(kind, "credential.managed-delegation",
			"delegated token for "+userEmail+" rejected", err)
	}

	return &model.Credential{
		Subject:  userEmail,
		Strategy: model.StrategyManagedDelegation,
		Expiry:   tok.Expiry,
		Source:   ts,
	}, nil
}
