// Package credential produces authenticated identities impersonating
// monitored users through an ordered chain of strategies: a service-account
// key fetched from Secret Manager, a Google-managed delegation identity, or
// a local key file. There is no silent fallback to ambient application
// default credentials: domain-wide delegation is unavailable with implicit
// defaults, so an unimpersonated identity would only fail later and worse.
package credential

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jun/meetwatch/internal/faults"
	"github.com/jun/meetwatch/internal/model"
)

// DriveScopes are the OAuth scopes requested for every impersonated identity.
var DriveScopes = []string{
	"https://www.googleapis.com/auth/drive.readonly",
	"https://www.googleapis.com/auth/drive.metadata.readonly",
}

// expiryMargin is how long before token expiry a cached credential stops
// being a cache hit.
const expiryMargin = 5 * time.Minute

// Strategy resolves a credential impersonating one target user.
type Strategy interface {
	Name() model.CredentialStrategy
	Resolve(ctx context.Context, userEmail string) (*model.Credential, error)
}

// Resolver tries strategies in order and caches successful resolutions per
// user until shortly before expiry.
type Resolver struct {
	strategies []Strategy
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]*model.Credential
}

// NewResolver builds a resolver over the given strategy chain.
func NewResolver(strategies []Strategy, logger *slog.Logger) *Resolver {
	return &Resolver{
		strategies: strategies,
		logger:     logger.With("component", "credential"),
		now:        time.Now,
		cache:      make(map[string]*model.Credential),
	}
}

// ActiveStrategies lists the chain for diagnostics.
func (r *Resolver) ActiveStrategies() []model.CredentialStrategy {
	out := make([]model.CredentialStrategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s.Name())
	}
	return out
}

// Resolve returns a credential for userEmail, reusing a cached one while it
// is still comfortably inside its lifetime. A configuration error from any
// strategy stops the chain immediately; other failures fall through to the
// next strategy.
func (r *Resolver) Resolve(ctx context.Context, userEmail string) (*model.Credential, error) {
	r.mu.Lock()
	cached := r.cache[strings.ToLower(userEmail)]
	r.mu.Unlock()

	if cached.Valid(r.now(), expiryMargin) {
		return cached, nil
	}

	if len(r.strategies) == 0 {
		return nil, faults.New(faults.KindConfiguration, "credential.resolve",
			"no credential strategy configured")
	}

	var attempts []string
	for _, s := range r.strategies {
		cred, err := s.Resolve(ctx, userEmail)
		if err == nil {
			if cred.Insecure {
				r.logger.Warn("resolved credential from local key file, not for production",
					"user", userEmail, "strategy", string(cred.Strategy))
			}
			r.mu.Lock()
			r.cache[strings.ToLower(userEmail)] = cred
			r.mu.Unlock()
			return cred, nil
		}

		if faults.IsConfiguration(err) {
			// A misconfigured strategy is an operator problem, not a reason
			// to degrade to a different identity.
			return nil, err
		}

		reason := faults.ReasonOf(err)
		r.logger.Warn("credential strategy failed",
			"user", userEmail, "strategy", string(s.Name()),
			"kind", faults.KindOf(err).String(), "reason", reason)
		attempts = append(attempts, fmt.Sprintf("%s: %s", s.Name(), reason))
	}

	return nil, faults.New(faults.KindAuth, "credential.resolve",
		"all strategies failed for "+userEmail+" ("+strings.Join(attempts, "; ")+")")
}

// Invalidate drops the cached credential for userEmail.
func (r *Resolver) Invalidate(userEmail string) {
	r.mu.Lock()
	delete(r.cache, strings.ToLower(userEmail))
	r.mu.Unlock()
}
