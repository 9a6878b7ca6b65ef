package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dayloop/dayloop-server/internal/domain"
)

// CredentialRepo provides typed DynamoDB operations for the credentials table.
// PK: jti. Rows are only ever mutated by setting revoked_at; never deleted.
type CredentialRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewCredentialRepo(client *dynamodb.Client, tableName string) *CredentialRepo {
	return &CredentialRepo{client: client, tableName: tableName}
}

func (r *CredentialRepo) Put(ctx context.Context, c *domain.Credential) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *CredentialRepo) Get(ctx context.Context, jti string) (*domain.Credential, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("jti", jti),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("credential not found: %w", domain.ErrNotFound)
	}
	var c domain.Credential
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Revoke sets revoked_at on a credential, conditioned on it not already being
// set. Under concurrent rotation of the same jti, exactly one caller succeeds;
// the loser gets ErrTokenRevoked.
func (r *CredentialRepo) Revoke(ctx context.Context, jti string, at time.Time) error {
	av, err := attributevalue.Marshal(at)
	if err != nil {
		return fmt.Errorf("marshal revoked_at: %w", err)
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("jti", jti),
		UpdateExpression:    aws.String("SET revoked_at = :at"),
		ConditionExpression: aws.String("attribute_exists(jti) AND attribute_not_exists(revoked_at)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at": av,
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("credential already revoked or missing: %w", domain.ErrTokenRevoked)
		}
		return err
	}
	return nil
}

// ListActiveByUser returns all credentials for a user that are neither
// revoked nor expired, via the user_id GSI.
func (r *CredentialRepo) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]domain.Credential, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("user_id-index"),
		KeyConditionExpression: aws.String("user_id = :uid"),
		FilterExpression:       aws.String("attribute_not_exists(revoked_at) AND expires_at > :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	})
	if err != nil {
		return nil, err
	}
	var creds []domain.Credential
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &creds); err != nil {
		return nil, err
	}
	return creds, nil
}
