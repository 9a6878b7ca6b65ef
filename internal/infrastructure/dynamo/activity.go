package dynamo

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dayloop/dayloop-server/internal/domain"
)

// ActivityRepo is the read-only view of completed focus sessions the weekly
// report trigger aggregates over.
type ActivityRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewActivityRepo(client *dynamodb.Client, tableName string) *ActivityRepo {
	return &ActivityRepo{client: client, tableName: tableName}
}

// ListCompletedSince returns focus sessions completed at or after since.
// completed_at is stored as an RFC3339 string, which compares correctly
// lexicographically for UTC timestamps.
func (r *ActivityRepo) ListCompletedSince(ctx context.Context, since time.Time) ([]domain.FocusSession, error) {
	var sessions []domain.FocusSession
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(r.tableName),
			FilterExpression: aws.String("completed_at >= :s"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":s": &types.AttributeValueMemberS{Value: since.UTC().Format(time.RFC3339Nano)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		var page []domain.FocusSession
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		sessions = append(sessions, page...)
		if out.LastEvaluatedKey == nil {
			return sessions, nil
		}
		startKey = out.LastEvaluatedKey
	}
}
