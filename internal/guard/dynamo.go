package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoLeases implements Leases over a DynamoDB table with TTL on
// expires_at.
type DynamoLeases struct {
	client    *dynamodb.Client
	tableName string
	ttl       time.Duration
}

// NewDynamoLeases returns a Leases backed by a DynamoDB table.
func NewDynamoLeases(client *dynamodb.Client, tableName string) *DynamoLeases {
	return &DynamoLeases{client: client, tableName: tableName, ttl: DefaultTTL}
}

// Acquire succeeds when no lease row exists, the existing one has expired,
// or owner already holds it (extending the TTL).
func (l *DynamoLeases) Acquire(ctx context.Context, email, owner string) (bool, error) {
	now := time.Now().Unix()
	lease := Lease{
		UserEmail: email,
		Owner:     owner,
		ExpiresAt: now + int64(l.ttl.Seconds()),
	}

	item, err := attributevalue.MarshalMap(lease)
	if err != nil {
		return false, fmt.Errorf("failed to marshal lease: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item:      item,
		ConditionExpression: aws.String(
			"attribute_not_exists(user_email) OR expires_at < :now OR #own = :owner",
		),
		ExpressionAttributeNames: map[string]string{
			"#own": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now)},
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lease for %s: %w", email, err)
	}
	return true, nil
}

// Release drops the lease if owner still holds it; a lost or expired lease
// is not an error.
func (l *DynamoLeases) Release(ctx context.Context, email, owner string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"user_email": &types.AttributeValueMemberS{Value: email},
		},
		ConditionExpression: aws.String("#own = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#own": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return nil
		}
		return fmt.Errorf("failed to release lease for %s: %w", email, err)
	}
	return nil
}
