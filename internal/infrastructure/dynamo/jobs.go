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

// JobRepo is the durable buffer behind the delivery queue.
// PK: job_id. The queue_status/queue_key GSI partitions rows by state and
// sorts queued rows by priority band then enqueue order, so draining the
// index ascending gives the delivery order.
type JobRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewJobRepo(client *dynamodb.Client, tableName string) *JobRepo {
	return &JobRepo{client: client, tableName: tableName}
}

func (r *JobRepo) Put(ctx context.Context, j *domain.DeliveryJob) error {
	item, err := attributevalue.MarshalMap(j)
	if err != nil {
		return fmt.Errorf("marshal delivery job: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

// NextQueued returns the highest-urgency queued job whose backoff gate has
// passed, or ErrNotFound when the queue is drained. Pages are followed until
// a visible job turns up, so rows inside their backoff window never mask one
// ranked behind them. The caller still has to win the Claim before
// processing it.
func (r *JobRepo) NextQueued(ctx context.Context, now int64) (*domain.DeliveryJob, error) {
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			IndexName:              aws.String("queue_status-queue_key-index"),
			KeyConditionExpression: aws.String("queue_status = :q"),
			FilterExpression:       aws.String("visible_at <= :now"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":q":   &types.AttributeValueMemberS{Value: domain.JobStatusQueued},
				":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now)},
			},
			ScanIndexForward:  aws.Bool(true), // lowest priority number first, FIFO within band
			Limit:             aws.Int32(25),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		if len(out.Items) > 0 {
			var j domain.DeliveryJob
			if err := attributevalue.UnmarshalMap(out.Items[0], &j); err != nil {
				return nil, err
			}
			return &j, nil
		}
		if out.LastEvaluatedKey == nil {
			return nil, fmt.Errorf("no queued jobs: %w", domain.ErrNotFound)
		}
		startKey = out.LastEvaluatedKey
	}
}

// Claim moves a job queued→processing, conditioned on it still being queued.
// Concurrent workers racing for the same job: one wins, the rest get
// ErrConflict and move on. leaseUntil is written into visible_at; a
// processing row whose lease has passed is treated as abandoned by its
// worker and becomes eligible for reclaim.
func (r *JobRepo) Claim(ctx context.Context, jobID string, leaseUntil int64) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("job_id", jobID),
		UpdateExpression:    aws.String("SET queue_status = :p, visible_at = :lease"),
		ConditionExpression: aws.String("queue_status = :q"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p":     &types.AttributeValueMemberS{Value: domain.JobStatusProcessing},
			":q":     &types.AttributeValueMemberS{Value: domain.JobStatusQueued},
			":lease": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", leaseUntil)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("job claimed elsewhere: %w", domain.ErrConflict)
		}
		return err
	}
	return nil
}

// ListExpiredProcessing returns processing jobs whose claim lease has passed:
// their worker died (or lost its lease) between Claim and the attempt's
// outcome, so nothing in-process will ever resolve them.
func (r *JobRepo) ListExpiredProcessing(ctx context.Context, now int64) ([]domain.DeliveryJob, error) {
	var jobs []domain.DeliveryJob
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			IndexName:              aws.String("queue_status-queue_key-index"),
			KeyConditionExpression: aws.String("queue_status = :p"),
			FilterExpression:       aws.String("visible_at <= :now"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":p":   &types.AttributeValueMemberS{Value: domain.JobStatusProcessing},
				":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		var page []domain.DeliveryJob
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		jobs = append(jobs, page...)
		if out.LastEvaluatedKey == nil {
			return jobs, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// Reclaim transitions an abandoned processing job to status (queued for
// another attempt, or failed when the budget is spent), conditioned on the
// row still being processing. The condition loses against a worker that
// resolved the job in the meantime, and against a concurrent reclaimer;
// either way the row is settled and ErrConflict tells the caller to move on.
// An unconditional update here could resurrect a delivered-and-deleted job
// as a partial row.
func (r *JobRepo) Reclaim(ctx context.Context, jobID, status string, attempts int, lastErr string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("job_id", jobID),
		UpdateExpression:    aws.String("SET queue_status = :s, attempts_made = :a, visible_at = :v, last_error = :e"),
		ConditionExpression: aws.String("queue_status = :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: status},
			":a": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", attempts)},
			":v": &types.AttributeValueMemberN{Value: "0"},
			":e": &types.AttributeValueMemberS{Value: lastErr},
			":p": &types.AttributeValueMemberS{Value: domain.JobStatusProcessing},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("job no longer processing: %w", domain.ErrConflict)
		}
		return err
	}
	return nil
}

// Release puts a failed job back in the queued band with its updated attempt
// count and a visible_at gate in the future (the retry backoff).
func (r *JobRepo) Release(ctx context.Context, jobID string, attempts int, visibleAt int64, lastErr string) error {
	return r.update(ctx, jobID, map[string]interface{}{
		"queue_status":  domain.JobStatusQueued,
		"attempts_made": attempts,
		"visible_at":    visibleAt,
		"last_error":    lastErr,
	})
}

// Fail marks a job permanently failed. The row is retained for operator
// inspection and never picked up again.
func (r *JobRepo) Fail(ctx context.Context, jobID string, attempts int, lastErr string) error {
	return r.update(ctx, jobID, map[string]interface{}{
		"queue_status":  domain.JobStatusFailed,
		"attempts_made": attempts,
		"last_error":    lastErr,
	})
}

// Delete removes a completed job.
func (r *JobRepo) Delete(ctx context.Context, jobID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("job_id", jobID),
	})
	return err
}

// ListFailed returns permanently failed jobs for operator inspection.
func (r *JobRepo) ListFailed(ctx context.Context) ([]domain.DeliveryJob, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("queue_status-queue_key-index"),
		KeyConditionExpression: aws.String("queue_status = :f"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":f": &types.AttributeValueMemberS{Value: domain.JobStatusFailed},
		},
	})
	if err != nil {
		return nil, err
	}
	var jobs []domain.DeliveryJob
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *JobRepo) update(ctx context.Context, jobID string, updates map[string]interface{}) error {
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("job_id", jobID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	return err
}
