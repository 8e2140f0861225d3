package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"

	"github.com/mra-mines/map-ingestion-service/pkg/models/mapschema"
	"github.com/mra-mines/map-ingestion-service/pkg/test"
)

func finalizeMocks(jobStatus mapschema.JobStatus) (*test.MockDB, *test.MockS3, *test.MockSNS, *[]*dynamodb.UpdateItemInput) {
	job := mapschema.JobTable{
		JobId:       "JobId-batch-1",
		SubmittedBy: "surveyor@example.com",
		Status:      jobStatus.String(),
		CreatedAt:   "2026-03-14T09:26:53.589Z",
		BatchSize:   1,
	}
	item, _ := attributevalue.MarshalMap(job)

	var updates []*dynamodb.UpdateItemInput
	db := &test.MockDB{
		GetItemFn: func(ctx context.Context, params *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: item}, nil
		},
		UpdateItemFn: func(ctx context.Context, params *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			updates = append(updates, params)
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	mockS3 := &test.MockS3{Metadata: map[string]string{"jobid": "JobId-batch-1"}}
	mockSNS := &test.MockSNS{}
	store = NewFinalizeStore(db, mockS3, mockSNS, "jobs-table", "arn:aws:sns:eu-west-2:000000000000:map-notify")
	return db, mockS3, mockSNS, &updates
}

func outputEvent(key string) events.S3Event {
	return events.S3Event{
		Records: []events.S3EventRecord{
			{
				S3: events.S3Entity{
					Bucket: events.S3Bucket{Name: "output-bucket"},
					Object: events.S3Object{Key: key},
				},
			},
		},
	}
}

func TestFinalize(t *testing.T) {
	for scenario, fn := range map[string]func(tt *testing.T){
		"completes job and notifies":         testFinalizeSuccess,
		"keeps terminal status":              testFinalizeKeepsTerminal,
		"records failed notification":        testFinalizeNotifyFailure,
		"skips objects without job metadata": testFinalizeNoMetadata,
	} {
		t.Run(scenario, fn)
	}
}

func testFinalizeSuccess(t *testing.T) {
	_, _, mockSNS, updates := finalizeMocks(mapschema.JobProcessing)

	err := Handler(context.Background(), outputEvent("output/16516_433857.zip"))
	assert.NoError(t, err)

	assert.Len(t, mockSNS.Published, 1)
	var msg notification
	assert.NoError(t, json.Unmarshal([]byte(mockSNS.Published[0]), &msg))
	assert.Equal(t, "JobId-batch-1", msg.JobId)
	assert.Equal(t, mapschema.JobCompleted.String(), msg.Status)
	assert.Equal(t, "output-bucket", msg.OutputBucket)
	assert.Equal(t, "output/16516_433857.zip", msg.OutputKey)

	assert.Len(t, *updates, 1)
	values := (*updates)[0].ExpressionAttributeValues
	assert.Equal(t, &types.AttributeValueMemberS{Value: mapschema.JobCompleted.String()}, values[":status"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "SENT"}, findValue(t, (*updates)[0], "notificationStatus"))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "output-bucket"}, findValue(t, (*updates)[0], "outputBucket"))
}

// findValue resolves the placeholder bound to an attribute name in a
// generated update expression.
func findValue(t *testing.T, input *dynamodb.UpdateItemInput, attr string) types.AttributeValue {
	for placeholder, name := range input.ExpressionAttributeNames {
		if name != attr {
			continue
		}
		valuePlaceholder := ":val" + placeholder[len("#attr"):]
		if v, found := input.ExpressionAttributeValues[valuePlaceholder]; found {
			return v
		}
	}
	t.Fatalf("no value bound for attribute %s", attr)
	return nil
}

func testFinalizeKeepsTerminal(t *testing.T) {
	// Counters already resolved the batch to PARTIAL_SUCCESS; landing
	// output must not overwrite that.
	_, _, mockSNS, _ := finalizeMocks(mapschema.JobPartialSuccess)

	err := Handler(context.Background(), outputEvent("output/16516_433857.zip"))
	assert.NoError(t, err)

	var msg notification
	assert.NoError(t, json.Unmarshal([]byte(mockSNS.Published[0]), &msg))
	assert.Equal(t, mapschema.JobPartialSuccess.String(), msg.Status)
}

func testFinalizeNotifyFailure(t *testing.T) {
	_, _, _, updates := finalizeMocks(mapschema.JobProcessing)
	store.topicArn = ""

	err := Handler(context.Background(), outputEvent("output/16516_433857.zip"))
	assert.NoError(t, err)

	assert.Len(t, *updates, 1)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "FAILED"}, findValue(t, (*updates)[0], "notificationStatus"))
}

func testFinalizeNoMetadata(t *testing.T) {
	_, mockS3, mockSNS, updates := finalizeMocks(mapschema.JobProcessing)
	mockS3.Metadata = nil

	// The handler logs and moves on; nothing is updated or published.
	err := Handler(context.Background(), outputEvent("output/16516_433857.zip"))
	assert.NoError(t, err)
	assert.Empty(t, mockSNS.Published)
	assert.Empty(t, *updates)
}
