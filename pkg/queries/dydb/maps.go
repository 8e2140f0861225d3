package dydb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mra-mines/map-ingestion-service/pkg/models/mapschema"
)

// Timing metric fields set by the ECS state handler.
const (
	TimingTaskStarted = "taskStartedAt"
	TimingTaskStopped = "taskStoppedAt"
)

// CreateMap atomically reserves the map identity. The condition enforces the
// invariant of at most one record per (mapId, mapName); losing the race
// returns a MapExistsError so the caller can consult the retry policy.
func (q *Queries) CreateMap(ctx context.Context, tableName string, record mapschema.MapTable) error {
	data, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("MarshalMap: %w", err)
	}

	_, err = q.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(tableName),
		Item:                data,
		ConditionExpression: aws.String("attribute_not_exists(mapId) AND attribute_not_exists(mapName)"),
	})
	if err != nil {
		if conditionalCheckFailed(err) {
			return &MapExistsError{MapId: record.MapId, MapName: record.MapName}
		}
		return fmt.Errorf("PutItem: %w", err)
	}

	return nil
}

// ResetMapForRetry takes over an existing record for a permitted re-upload:
// status back to the given state, new job linkage, retry counter bumped and
// any stale error cleared.
func (q *Queries) ResetMapForRetry(ctx context.Context, tableName string, key mapschema.MapPrimaryKey,
	jobId string, status mapschema.Status, timestamp string) error {

	_, err := q.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(tableName),
		Key:       mapKey(key),
		UpdateExpression: aws.String("SET #status = :status, jobId = :jobId, updatedAt = :updated, " +
			"#retry = if_not_exists(#retry, :zero) + :inc REMOVE errorMessage"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
			"#retry":  "retryCount",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: status.String()},
			":jobId":   &types.AttributeValueMemberS{Value: jobId},
			":updated": &types.AttributeValueMemberS{Value: timestamp},
			":inc":     &types.AttributeValueMemberN{Value: "1"},
			":zero":    &types.AttributeValueMemberN{Value: "0"},
		},
	})
	if err != nil {
		return fmt.Errorf("UpdateItem: %w", err)
	}

	return nil
}

// GetMap returns a single map record.
func (q *Queries) GetMap(ctx context.Context, tableName string, mapId string, mapName string) (*mapschema.MapTable, error) {
	result, err := q.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(tableName),
		Key:       mapKey(mapschema.MapPrimaryKey{MapId: mapId, MapName: mapName}),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem: %w", err)
	}
	if result.Item == nil {
		return nil, &MapNotFoundError{MapId: mapId, MapName: mapName}
	}

	record := mapschema.MapTable{}
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("UnmarshalMap: %w", err)
	}

	return &record, nil
}

// GetMapsById returns every record sharing a mapId. Distinct file names of
// identical content show up as separate records under the same hash.
func (q *Queries) GetMapsById(ctx context.Context, tableName string, mapId string) ([]mapschema.MapTable, error) {
	result, err := q.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(tableName),
		KeyConditionExpression: aws.String("mapId = :mapId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":mapId": &types.AttributeValueMemberS{Value: mapId},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}

	var records []mapschema.MapTable
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &records); err != nil {
		return nil, fmt.Errorf("UnmarshalListOfMaps: %w", err)
	}

	return records, nil
}

// GetMapsForOwner returns a page of map records for the dashboard, keyed on
// the owner index, optionally filtered by status.
func (q *Queries) GetMapsForOwner(ctx context.Context, tableName string, ownerEmail string,
	status sql.NullString, limit int32, startKey map[string]types.AttributeValue) ([]mapschema.MapTable, map[string]types.AttributeValue, error) {

	queryInput := dynamodb.QueryInput{
		TableName:              aws.String(tableName),
		IndexName:              aws.String(OwnerMapIndex),
		KeyConditionExpression: aws.String("ownerEmail = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: ownerEmail},
		},
		Limit:             aws.Int32(limit),
		ExclusiveStartKey: startKey,
		ScanIndexForward:  aws.Bool(false),
	}

	if status.Valid {
		queryInput.FilterExpression = aws.String("#status = :status")
		queryInput.ExpressionAttributeNames = map[string]string{"#status": "status"}
		queryInput.ExpressionAttributeValues[":status"] = &types.AttributeValueMemberS{Value: status.String}
	}

	result, err := q.db.Query(ctx, &queryInput)
	if err != nil {
		return nil, nil, fmt.Errorf("Query: %w", err)
	}

	var records []mapschema.MapTable
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &records); err != nil {
		return nil, nil, fmt.Errorf("UnmarshalListOfMaps: %w", err)
	}

	return records, result.LastEvaluatedKey, nil
}

// UpdateMapStatus moves a map record to a new state.
func (q *Queries) UpdateMapStatus(ctx context.Context, tableName string, key mapschema.MapPrimaryKey,
	status mapschema.Status, timestamp string) error {

	_, err := q.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(tableName),
		Key:                      mapKey(key),
		UpdateExpression:         aws.String("SET #status = :status, updatedAt = :updated"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: status.String()},
			":updated": &types.AttributeValueMemberS{Value: timestamp},
		},
	})
	if err != nil {
		return fmt.Errorf("UpdateItem: %w", err)
	}

	return nil
}

// SetMapOutput marks a map COMPLETED with the location of its result.
func (q *Queries) SetMapOutput(ctx context.Context, tableName string, key mapschema.MapPrimaryKey,
	output mapschema.S3Output, timestamp string) error {

	outputData, err := attributevalue.Marshal(output)
	if err != nil {
		return fmt.Errorf("Marshal: %w", err)
	}

	_, err = q.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(tableName),
		Key:       mapKey(key),
		UpdateExpression: aws.String(
			"SET s3Output = :output, #status = :status, processedAt = :processed, updatedAt = :updated"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":output":    outputData,
			":status":    &types.AttributeValueMemberS{Value: mapschema.Completed.String()},
			":processed": &types.AttributeValueMemberS{Value: timestamp},
			":updated":   &types.AttributeValueMemberS{Value: timestamp},
		},
	})
	if err != nil {
		return fmt.Errorf("UpdateItem: %w", err)
	}

	return nil
}

// SetMapFailure marks a map FAILED with a truncated error message.
func (q *Queries) SetMapFailure(ctx context.Context, tableName string, key mapschema.MapPrimaryKey,
	message string, timestamp string) error {

	_, err := q.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(tableName),
		Key:                      mapKey(key),
		UpdateExpression:         aws.String("SET #status = :status, errorMessage = :error, updatedAt = :updated"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: mapschema.Failed.String()},
			":error":   &types.AttributeValueMemberS{Value: mapschema.TruncateError(message)},
			":updated": &types.AttributeValueMemberS{Value: timestamp},
		},
	})
	if err != nil {
		return fmt.Errorf("UpdateItem: %w", err)
	}

	return nil
}

// SetMapTiming records a task timing metric (TimingTaskStarted or
// TimingTaskStopped) and optionally the task ARN.
func (q *Queries) SetMapTiming(ctx context.Context, tableName string, key mapschema.MapPrimaryKey,
	field string, timestamp string, taskArn string) error {

	if field != TimingTaskStarted && field != TimingTaskStopped {
		return fmt.Errorf("unknown timing field: %s", field)
	}

	updateExpr := fmt.Sprintf("SET %s = :ts, updatedAt = :updated", field)
	values := map[string]types.AttributeValue{
		":ts":      &types.AttributeValueMemberS{Value: timestamp},
		":updated": &types.AttributeValueMemberS{Value: timestamp},
	}
	if taskArn != "" {
		updateExpr += ", taskArn = :taskArn"
		values[":taskArn"] = &types.AttributeValueMemberS{Value: taskArn}
	}

	_, err := q.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(tableName),
		Key:                       mapKey(key),
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("UpdateItem: %w", err)
	}

	return nil
}

// DeleteMap removes a map record and returns what was stored, so the caller
// can clean up S3 objects and cascade to the job.
func (q *Queries) DeleteMap(ctx context.Context, tableName string, key mapschema.MapPrimaryKey) (*mapschema.MapTable, error) {
	result, err := q.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(tableName),
		Key:          mapKey(key),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, fmt.Errorf("DeleteItem: %w", err)
	}
	if result.Attributes == nil {
		return nil, &MapNotFoundError{MapId: key.MapId, MapName: key.MapName}
	}

	record := mapschema.MapTable{}
	if err := attributevalue.UnmarshalMap(result.Attributes, &record); err != nil {
		return nil, fmt.Errorf("UnmarshalMap: %w", err)
	}

	return &record, nil
}

// CountMapsForJob reports whether any maps still reference a job. Used for
// the cascade delete; one remaining record is enough to keep the job.
func (q *Queries) CountMapsForJob(ctx context.Context, tableName string, jobId string) (int, error) {
	result, err := q.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(tableName),
		IndexName:              aws.String(JobMapIndex),
		KeyConditionExpression: aws.String("jobId = :jobId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":jobId": &types.AttributeValueMemberS{Value: jobId},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("Query: %w", err)
	}

	return len(result.Items), nil
}

// GetExpiredReservations walks the maps table for RESERVED records whose
// upload url expired before the cutoff. Paginates through the full table;
// reservations are rare and short-lived so the scan stays small.
func (q *Queries) GetExpiredReservations(ctx context.Context, tableName string, cutoff string) ([]mapschema.MapTable, error) {
	var records []mapschema.MapTable
	var startKey map[string]types.AttributeValue

	for {
		result, err := q.db.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(tableName),
			FilterExpression: aws.String("#status = :reserved AND " +
				"((attribute_not_exists(updatedAt) AND createdAt < :cutoff) OR updatedAt < :cutoff)"),
			ExpressionAttributeNames: map[string]string{
				"#status": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":reserved": &types.AttributeValueMemberS{Value: mapschema.Reserved.String()},
				":cutoff":   &types.AttributeValueMemberS{Value: cutoff},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}

		var page []mapschema.MapTable
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("UnmarshalListOfMaps: %w", err)
		}
		records = append(records, page...)

		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	return records, nil
}

func mapKey(key mapschema.MapPrimaryKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"mapId":   &types.AttributeValueMemberS{Value: key.MapId},
		"mapName": &types.AttributeValueMemberS{Value: key.MapName},
	}
}
