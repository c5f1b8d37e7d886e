// Package guard serializes per-user work across concurrently running
// instances: a renewal and an in-flight change resolution for the same user
// must not interleave. Leases are short-lived DynamoDB rows with a TTL;
// different users' work never blocks on each other.
package guard

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a crashed holder can block a user's work.
const DefaultTTL = 2 * time.Minute

// Lease is one per-user work claim.
type Lease struct {
	UserEmail string `dynamodbav:"user_email"`
	Owner     string `dynamodbav:"owner"`
	ExpiresAt int64  `dynamodbav:"expires_at"` // Unix seconds, table TTL attribute
}

// Leases grants and releases per-user work claims.
type Leases interface {
	// Acquire claims email for owner. Returns false when another live owner
	// holds it; re-acquiring one's own lease extends it.
	Acquire(ctx context.Context, email, owner string) (bool, error)

	// Release drops the claim if owner still holds it.
	Release(ctx context.Context, email, owner string) error
}
