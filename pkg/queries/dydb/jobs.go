package dydb

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mra-mines/map-ingestion-service/pkg/models/mapschema"
)

// JobProgress is the counter snapshot after an increment.
type JobProgress struct {
	Processed int64
	Failed    int64
	BatchSize int64
}

// Done reports whether every map of the batch is accounted for.
func (p JobProgress) Done() bool {
	return p.BatchSize > 0 && p.Processed+p.Failed >= p.BatchSize
}

// CreateJob writes the job record for a batch upload. Returns false without
// error when the job already exists, which is normal: every file of a batch
// races to create the shared record.
func (q *Queries) CreateJob(ctx context.Context, tableName string, job mapschema.JobTable) (bool, error) {
	data, err := attributevalue.MarshalMap(job)
	if err != nil {
		return false, fmt.Errorf("MarshalMap: %w", err)
	}

	_, err = q.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(tableName),
		Item:                data,
		ConditionExpression: aws.String("attribute_not_exists(jobId)"),
	})
	if err != nil {
		if conditionalCheckFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("PutItem: %w", err)
	}

	return true, nil
}

// GetJob returns a single job record.
func (q *Queries) GetJob(ctx context.Context, tableName string, jobId string) (*mapschema.JobTable, error) {
	result, err := q.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(tableName),
		Key:       jobKey(jobId),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem: %w", err)
	}
	if result.Item == nil {
		return nil, &JobNotFoundError{JobId: jobId}
	}

	job := mapschema.JobTable{}
	if err := attributevalue.UnmarshalMap(result.Item, &job); err != nil {
		return nil, fmt.Errorf("UnmarshalMap: %w", err)
	}

	return &job, nil
}

// GetJobsForOwner lists the jobs submitted by a user, newest first.
func (q *Queries) GetJobsForOwner(ctx context.Context, tableName string, submittedBy string,
	limit int32, startKey map[string]types.AttributeValue) ([]mapschema.JobTable, map[string]types.AttributeValue, error) {

	result, err := q.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(tableName),
		IndexName:              aws.String(OwnerJobIndex),
		KeyConditionExpression: aws.String("submittedBy = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: submittedBy},
		},
		Limit:             aws.Int32(limit),
		ExclusiveStartKey: startKey,
		ScanIndexForward:  aws.Bool(false),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("Query: %w", err)
	}

	var jobs []mapschema.JobTable
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &jobs); err != nil {
		return nil, nil, fmt.Errorf("UnmarshalListOfMaps: %w", err)
	}

	return jobs, result.LastEvaluatedKey, nil
}

// UpdateJobStatus moves a job to a new state, optionally setting extra
// string attributes in the same update.
func (q *Queries) UpdateJobStatus(ctx context.Context, tableName string, jobId string,
	status mapschema.JobStatus, timestamp string, extra map[string]string) error {

	updateExpr := "SET #status = :status, updatedAt = :updated"
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{
		":status":  &types.AttributeValueMemberS{Value: status.String()},
		":updated": &types.AttributeValueMemberS{Value: timestamp},
	}

	index := 0
	for key, value := range extra {
		attrName := fmt.Sprintf("#attr_%d", index)
		attrValue := fmt.Sprintf(":val_%d", index)
		updateExpr += fmt.Sprintf(", %s = %s", attrName, attrValue)
		names[attrName] = key
		values[attrValue] = &types.AttributeValueMemberS{Value: value}
		index++
	}

	_, err := q.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(tableName),
		Key:                       jobKey(jobId),
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("UpdateItem: %w", err)
	}

	return nil
}

// IncrementJobCounts atomically bumps the processed or failed counter and
// returns the fresh snapshot. Safe for concurrent processors; the returned
// counts decide batch completion exactly once.
func (q *Queries) IncrementJobCounts(ctx context.Context, tableName string, jobId string,
	failed bool, timestamp string) (*JobProgress, error) {

	counter := "processedCount"
	if failed {
		counter = "failedCount"
	}

	result, err := q.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(tableName),
		Key:       jobKey(jobId),
		UpdateExpression: aws.String(fmt.Sprintf(
			"SET %s = if_not_exists(%s, :zero) + :inc, updatedAt = :updated", counter, counter)),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inc":     &types.AttributeValueMemberN{Value: "1"},
			":zero":    &types.AttributeValueMemberN{Value: "0"},
			":updated": &types.AttributeValueMemberS{Value: timestamp},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("UpdateItem: %w", err)
	}

	return progressFromAttributes(result.Attributes), nil
}

// ResolveJobIfComplete increments the counters for one finished map and, if
// that completed the batch, resolves the job to its terminal status.
// Returns the terminal status and true when the batch is done.
func (q *Queries) ResolveJobIfComplete(ctx context.Context, tableName string, jobId string,
	failed bool, timestamp string) (mapschema.JobStatus, bool, error) {

	progress, err := q.IncrementJobCounts(ctx, tableName, jobId, failed, timestamp)
	if err != nil {
		return mapschema.JobProcessing, false, err
	}

	if !progress.Done() {
		return mapschema.JobProcessing, false, nil
	}

	finalStatus := mapschema.ResolveJob(int(progress.Processed), int(progress.Failed))
	if err := q.UpdateJobStatus(ctx, tableName, jobId, finalStatus, timestamp, nil); err != nil {
		return finalStatus, true, err
	}

	return finalStatus, true, nil
}

// DeleteJob removes a job record. Used by the cascade when the last map of a
// batch is deleted.
func (q *Queries) DeleteJob(ctx context.Context, tableName string, jobId string) error {
	_, err := q.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(tableName),
		Key:       jobKey(jobId),
	})
	if err != nil {
		return fmt.Errorf("DeleteItem: %w", err)
	}

	return nil
}

func progressFromAttributes(attrs map[string]types.AttributeValue) *JobProgress {
	progress := JobProgress{}
	progress.Processed = numericAttr(attrs, "processedCount")
	progress.Failed = numericAttr(attrs, "failedCount")
	progress.BatchSize = numericAttr(attrs, "batchSize")
	return &progress
}

func numericAttr(attrs map[string]types.AttributeValue, name string) int64 {
	if member, ok := attrs[name].(*types.AttributeValueMemberN); ok {
		if v, err := strconv.ParseInt(member.Value, 10, 64); err == nil {
			return v
		}
	}
	return 0
}

func jobKey(jobId string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"jobId": &types.AttributeValueMemberS{Value: jobId},
	}
}
