package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jun/meetwatch/internal/model"
)

// Dynamo is the durable Registry. The table's partition key is user_email;
// conditional expressions on channel_id keep cursor advancement and deletion
// from racing a concurrent renewal.
type Dynamo struct {
	client    *dynamodb.Client
	tableName string
}

// NewDynamo returns a Registry backed by a DynamoDB table.
func NewDynamo(client *dynamodb.Client, tableName string) *Dynamo {
	return &Dynamo{client: client, tableName: tableName}
}

func (d *Dynamo) Get(ctx context.Context, email string) (*model.WatchChannel, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"user_email": &types.AttributeValueMemberS{Value: email},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get channel for %s: %w", email, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var ch model.WatchChannel
	if err := attributevalue.UnmarshalMap(out.Item, &ch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channel: %w", err)
	}
	return &ch, nil
}

// FindByChannelID scans the table. The table holds one row per monitored
// user, so a scan stays cheap at this cardinality.
func (d *Dynamo) FindByChannelID(ctx context.Context, channelID string) (*model.WatchChannel, error) {
	out, err := d.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(d.tableName),
		FilterExpression: aws.String("channel_id = :cid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: channelID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan for channel %s: %w", channelID, err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}

	var ch model.WatchChannel
	if err := attributevalue.UnmarshalMap(out.Items[0], &ch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channel: %w", err)
	}
	return &ch, nil
}

func (d *Dynamo) Put(ctx context.Context, ch model.WatchChannel) (*model.WatchChannel, error) {
	prev, err := d.Get(ctx, ch.UserEmail)
	if err != nil {
		return nil, err
	}

	item, err := attributevalue.MarshalMap(ch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal channel: %w", err)
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	}); err != nil {
		return nil, fmt.Errorf("failed to put channel for %s: %w", ch.UserEmail, err)
	}
	if prev != nil && prev.ChannelID == ch.ChannelID {
		return nil, nil
	}
	return prev, nil
}

func (d *Dynamo) Delete(ctx context.Context, email, channelID string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"user_email": &types.AttributeValueMemberS{Value: email},
		},
		ConditionExpression: aws.String("channel_id = :cid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: channelID},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			// Already superseded or gone.
			return nil
		}
		return fmt.Errorf("failed to delete channel for %s: %w", email, err)
	}
	return nil
}

func (d *Dynamo) AdvanceCursor(ctx context.Context, email, channelID, cursor string) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"user_email": &types.AttributeValueMemberS{Value: email},
		},
		UpdateExpression:    aws.String("SET #cur = :cursor"),
		ConditionExpression: aws.String("channel_id = :cid"),
		ExpressionAttributeNames: map[string]string{
			"#cur": "cursor",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cursor": &types.AttributeValueMemberS{Value: cursor},
			":cid":    &types.AttributeValueMemberS{Value: channelID},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return nil
		}
		return fmt.Errorf("failed to advance cursor for %s: %w", email, err)
	}
	return nil
}

func (d *Dynamo) ExpiringBefore(ctx context.Context, horizon time.Time) ([]model.WatchChannel, error) {
	out, err := d.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(d.tableName),
		FilterExpression: aws.String("expires_at < :h"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", horizon.Unix())},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan expiring channels: %w", err)
	}

	var channels []model.WatchChannel
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &channels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].ExpiresAt < channels[j].ExpiresAt
	})
	return channels, nil
}
