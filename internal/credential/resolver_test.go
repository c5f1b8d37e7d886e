package credential

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/oauth2"

	"github.com/jun/meetwatch/internal/faults"
	"github.com/jun/meetwatch/internal/model"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStrategy struct {
	name  model.CredentialStrategy
	cred  *model.Credential
	err   error
	calls int
}

func (f *fakeStrategy) Name() model.CredentialStrategy { return f.name }

func (f *fakeStrategy) Resolve(_ context.Context, userEmail string) (*model.Credential, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cred := *f.cred
	cred.Subject = userEmail
	return &cred, nil
}

func staticCred(strategy model.CredentialStrategy, expiry time.Time) *model.Credential {
	return &model.Credential{
		Strategy: strategy,
		Expiry:   expiry,
		Source:   oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"}),
	}
}

func TestResolve_FirstStrategyWins(t *testing.T) {
	first := &fakeStrategy{
		name: model.StrategySecretManager,
		cred: staticCred(model.StrategySecretManager, time.Now().Add(time.Hour)),
	}
	second := &fakeStrategy{
		name: model.StrategyManagedDelegation,
		cred: staticCred(model.StrategyManagedDelegation, time.Now().Add(time.Hour)),
	}
	r := NewResolver([]Strategy{first, second}, discard())

	cred, err := r.Resolve(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Strategy != model.StrategySecretManager {
		t.Errorf("expected secret-manager credential, got %s", cred.Strategy)
	}
	if second.calls != 0 {
		t.Errorf("second strategy should not be tried, got %d calls", second.calls)
	}
}

func TestResolve_TransientFailureFallsThrough(t *testing.T) {
	first := &fakeStrategy{
		name: model.StrategySecretManager,
		err:  faults.New(faults.KindTransient, "credential.secret-manager", "secret manager unreachable"),
	}
	second := &fakeStrategy{
		name: model.StrategyManagedDelegation,
		cred: staticCred(model.StrategyManagedDelegation, time.Now().Add(time.Hour)),
	}
	r := NewResolver([]Strategy{first, second}, discard())

	cred, err := r.Resolve(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Strategy != model.StrategyManagedDelegation {
		t.Errorf("expected fallback to managed-delegation, got %s", cred.Strategy)
	}
}

func TestResolve_ConfigurationErrorStopsChain(t *testing.T) {
	first := &fakeStrategy{
		name: model.StrategySecretManager,
		err:  faults.New(faults.KindConfiguration, "credential.secret-manager", "secret name rejected"),
	}
	second := &fakeStrategy{
		name: model.StrategyManagedDelegation,
		cred: staticCred(model.StrategyManagedDelegation, time.Now().Add(time.Hour)),
	}
	r := NewResolver([]Strategy{first, second}, discard())

	_, err := r.Resolve(context.Background(), "alice@example.com")
	if !faults.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if second.calls != 0 {
		t.Error("configuration error must not fall through to another identity")
	}
}

func TestResolve_AllExhaustedIsAuthError(t *testing.T) {
	first := &fakeStrategy{
		name: model.StrategySecretManager,
		err:  faults.New(faults.KindTransient, "credential.secret-manager", "unreachable"),
	}
	second := &fakeStrategy{
		name: model.StrategyManagedDelegation,
		err:  faults.New(faults.KindAuth, "credential.managed-delegation", "delegation rejected"),
	}
	r := NewResolver([]Strategy{first, second}, discard())

	_, err := r.Resolve(context.Background(), "alice@example.com")
	if faults.KindOf(err) != faults.KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestResolve_NoStrategiesConfigured(t *testing.T) {
	r := NewResolver(nil, discard())
	_, err := r.Resolve(context.Background(), "alice@example.com")
	if !faults.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestResolve_CacheHit(t *testing.T) {
	s := &fakeStrategy{
		name: model.StrategySecretManager,
		cred: staticCred(model.StrategySecretManager, time.Now().Add(time.Hour)),
	}
	r := NewResolver([]Strategy{s}, discard())

	for range 3 {
		if _, err := r.Resolve(context.Background(), "alice@example.com"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if s.calls != 1 {
		t.Errorf("expected one resolution with cache hits after, got %d calls", s.calls)
	}
}

func TestResolve_ExpiredCacheRefetches(t *testing.T) {
	s := &fakeStrategy{
		name: model.StrategySecretManager,
		cred: staticCred(model.StrategySecretManager, time.Now().Add(time.Minute)),
	}
	r := NewResolver([]Strategy{s}, discard())

	if _, err := r.Resolve(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Cached credential expires inside the safety margin.
	s.cred = staticCred(model.StrategySecretManager, time.Now().Add(time.Hour))
	if _, err := r.Resolve(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.calls != 2 {
		t.Errorf("expected a re-fetch for a near-expiry credential, got %d calls", s.calls)
	}
}

type countingAccessor struct {
	calls int
}

func (c *countingAccessor) AccessSecretVersion(_ context.Context, _ *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.calls++
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte("{}")},
	}, nil
}

func TestSecretManager_RawJSONNameFailsWithoutNetwork(t *testing.T) {
	client := &countingAccessor{}
	s := NewSecretManagerStrategy(client, "demo-project", `{"type":"service_account"}`, DriveScopes)

	_, err := s.Resolve(context.Background(), "alice@example.com")
	if !faults.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if client.calls != 0 {
		t.Errorf("no Secret Manager call may be attempted, got %d", client.calls)
	}
}

func TestValidateSecretName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"drive-watcher-key", true},
		{"drive_watcher_key2", true},
		{"", false},
		{`{"type":"service_account"}`, false},
		{"projects/p/secrets/s/versions/latest", false},
		{"has space", false},
	}

	for _, tc := range tests {
		err := ValidateSecretName(tc.name)
		if tc.ok && err != nil {
			t.Errorf("ValidateSecretName(%q) = %v, want nil", tc.name, err)
		}
		if !tc.ok && !faults.IsConfiguration(err) {
			t.Errorf("ValidateSecretName(%q) = %v, want configuration error", tc.name, err)
		}
	}
}
