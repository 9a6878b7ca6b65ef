package dynamo

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dayloop/dayloop-server/internal/domain"
)

// TaskRepo is the read-only view of the tasks table the scheduled triggers
// use. The task CRUD module owns writes.
type TaskRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewTaskRepo(client *dynamodb.Client, tableName string) *TaskRepo {
	return &TaskRepo{client: client, tableName: tableName}
}

// ListIncompleteDueOn returns not-yet-completed tasks due on exactly the
// given date (domain.DateLayout).
func (r *TaskRepo) ListIncompleteDueOn(ctx context.Context, date string) ([]domain.Task, error) {
	return r.scanIncomplete(ctx, "due_date = :d", date)
}

// ListIncompleteDueBefore returns not-yet-completed tasks due strictly
// before the given date.
func (r *TaskRepo) ListIncompleteDueBefore(ctx context.Context, date string) ([]domain.Task, error) {
	return r.scanIncomplete(ctx, "due_date < :d", date)
}

func (r *TaskRepo) scanIncomplete(ctx context.Context, dueCond, date string) ([]domain.Task, error) {
	var tasks []domain.Task
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(r.tableName),
			FilterExpression: aws.String(dueCond + " AND completed = :f"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":d": &types.AttributeValueMemberS{Value: date},
				":f": &types.AttributeValueMemberBOOL{Value: false},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		var page []domain.Task
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		tasks = append(tasks, page...)
		if out.LastEvaluatedKey == nil {
			return tasks, nil
		}
		startKey = out.LastEvaluatedKey
	}
}
