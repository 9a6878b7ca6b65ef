package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dayloop/dayloop-server/internal/domain"
)

// OTPRepo manages one-time codes. PK: email, SK: code_id (ULID), so a
// descending query returns codes newest-first. Expired rows age out via TTL.
type OTPRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewOTPRepo(client *dynamodb.Client, tableName string) *OTPRepo {
	return &OTPRepo{client: client, tableName: tableName}
}

func (r *OTPRepo) Put(ctx context.Context, c *domain.OneTimeCode) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal one-time code: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

// GetLatestMatch returns the most recently created unused, unexpired code for
// email matching the submitted value and purpose. Older live codes are
// ignored only in the sense that the newest match wins; they remain valid
// for their own submissions until expiry.
func (r *OTPRepo) GetLatestMatch(ctx context.Context, email, code, otpType string, now int64) (*domain.OneTimeCode, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("email = :e"),
		FilterExpression:       aws.String("code = :c AND #t = :t AND used = :f AND expires_at > :now"),
		ExpressionAttributeNames: map[string]string{
			"#t": "type",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":e":   &types.AttributeValueMemberS{Value: email},
			":c":   &types.AttributeValueMemberS{Value: code},
			":t":   &types.AttributeValueMemberS{Value: otpType},
			":f":   &types.AttributeValueMemberBOOL{Value: false},
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now)},
		},
		ScanIndexForward: aws.Bool(false), // newest first
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("code not found: %w", domain.ErrNotFound)
	}
	var c domain.OneTimeCode
	if err := attributevalue.UnmarshalMap(out.Items[0], &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkUsed flips the used flag, conditioned on it still being false, so two
// concurrent verifications of the same code cannot both succeed.
func (r *OTPRepo) MarkUsed(ctx context.Context, email, codeID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 compositeKey("email", email, "code_id", codeID),
		UpdateExpression:    aws.String("SET used = :t"),
		ConditionExpression: aws.String("used = :f"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberBOOL{Value: true},
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("code already used: %w", domain.ErrInvalidOTP)
		}
		return err
	}
	return nil
}
