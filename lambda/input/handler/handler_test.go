package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"

	"github.com/mra-mines/map-ingestion-service/pkg/test"
)

var uploadedMetadata = map[string]string{
	"mapid":       "map_9f86d081884c",
	"jobid":       "JobId-batch-1",
	"submittedby": "surveyor@example.com",
	"batchsize":   "3",
}

func newDispatchMocks(db *test.MockDB) (*test.MockS3, *test.MockECS, *test.MockLambda) {
	mockS3 := &test.MockS3{Metadata: uploadedMetadata}
	mockECS := &test.MockECS{}
	mockLambda := &test.MockLambda{}
	store = NewDispatchStore(db, mockS3, mockECS, mockLambda,
		TableNames{Maps: "maps-table", Jobs: "jobs-table"},
		EcsConfig{
			Cluster:        "arn:aws:ecs:eu-west-2:000000000000:cluster/test",
			TaskDefinition: "arn:aws:ecs:eu-west-2:000000000000:task-definition/processor:1",
			Subnets:        []string{"subnet-1", "subnet-2"},
			SecurityGroup:  "sg-1",
			ContainerName:  "processor",
		},
		"map-processor-fallback",
	)
	return mockS3, mockECS, mockLambda
}

func sqsEventForKey(key string) events.SQSEvent {
	s3Event := events.S3Event{
		Records: []events.S3EventRecord{
			{
				S3: events.S3Entity{
					Bucket: events.S3Bucket{Name: "upload-bucket"},
					Object: events.S3Object{Key: key, Size: 2048},
				},
			},
		},
	}
	body, _ := json.Marshal(s3Event)
	return events.SQSEvent{
		Records: []events.SQSMessage{
			{MessageId: "msg-1", Body: string(body)},
		},
	}
}

func TestDispatch(t *testing.T) {
	for scenario, fn := range map[string]func(tt *testing.T){
		"dispatches an uploaded archive":    testDispatchHappyPath,
		"falls back to lambda processor":    testDispatchFallback,
		"launch failure marks map failed":   testDispatchFailure,
		"defaults when metadata is missing": testMissingMetadata,
		"bad message reported to sqs":       testBadMessage,
	} {
		t.Run(scenario, fn)
	}
}

func testDispatchHappyPath(t *testing.T) {
	var putConditions []string
	db := &test.MockDB{
		PutItemFn: func(ctx context.Context, params *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			if params.ConditionExpression != nil {
				putConditions = append(putConditions, *params.ConditionExpression)
			}
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	_, mockECS, mockLambda := newDispatchMocks(db)

	response, err := Handler(context.Background(), sqsEventForKey("JobId-batch-1/16516_433857.zip"))
	assert.NoError(t, err)
	assert.Empty(t, response.BatchItemFailures)

	// Job and map records were both conditionally created.
	assert.Len(t, putConditions, 2)

	assert.Len(t, mockECS.LaunchedEnvs, 1)
	env := mockECS.LaunchedEnvs[0]
	assert.Equal(t, "JobId-batch-1", env["JOB_ID"])
	assert.Equal(t, "map_9f86d081884c", env["MAP_ID"])
	assert.Equal(t, "JobId-batch-1/16516_433857.zip", env["INPUT_KEY"])
	assert.Equal(t, "16516_433857.zip", env["MAP_NAME"])
	assert.Empty(t, mockLambda.Payloads)
}

func testDispatchFallback(t *testing.T) {
	db := &test.MockDB{}
	_, mockECS, mockLambda := newDispatchMocks(db)
	mockECS.RunTaskErr = fmt.Errorf("capacity unavailable")

	response, err := Handler(context.Background(), sqsEventForKey("JobId-batch-1/16516_433857.zip"))
	assert.NoError(t, err)
	assert.Empty(t, response.BatchItemFailures)

	assert.Len(t, mockLambda.Payloads, 1)
	var payload fallbackEvent
	assert.NoError(t, json.Unmarshal(mockLambda.Payloads[0], &payload))
	assert.Equal(t, "JobId-batch-1", payload.JobId)
	assert.Equal(t, "map_9f86d081884c", payload.MapId)
	assert.Equal(t, "upload-bucket", payload.Bucket)
	assert.Equal(t, "JobId-batch-1/16516_433857.zip", payload.Key)
}

func testDispatchFailure(t *testing.T) {
	var updateExprs []string
	db := &test.MockDB{
		UpdateItemFn: func(ctx context.Context, params *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			updateExprs = append(updateExprs, *params.UpdateExpression)
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	_, mockECS, mockLambda := newDispatchMocks(db)
	mockECS.RunTaskErr = fmt.Errorf("capacity unavailable")
	mockLambda.InvokeErr = fmt.Errorf("function not found")

	response, err := Handler(context.Background(), sqsEventForKey("JobId-batch-1/16516_433857.zip"))
	assert.NoError(t, err)
	assert.Len(t, response.BatchItemFailures, 1)
	assert.Equal(t, "msg-1", response.BatchItemFailures[0].ItemIdentifier)

	// Map failure plus job failure were recorded.
	assert.Len(t, updateExprs, 2)
	assert.Contains(t, updateExprs[0], "errorMessage = :error")
}

func testMissingMetadata(t *testing.T) {
	var mapItem map[string]types.AttributeValue
	db := &test.MockDB{
		PutItemFn: func(ctx context.Context, params *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			if _, isMap := params.Item["mapName"]; isMap {
				mapItem = params.Item
			}
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	mockS3, mockECS, _ := newDispatchMocks(db)
	mockS3.Metadata = nil

	response, err := Handler(context.Background(), sqsEventForKey("out-of-band/16516_433857.zip"))
	assert.NoError(t, err)
	assert.Empty(t, response.BatchItemFailures)

	owner := mapItem["ownerEmail"].(*types.AttributeValueMemberS).Value
	assert.Equal(t, "system", owner)
	mapId := mapItem["mapId"].(*types.AttributeValueMemberS).Value
	assert.Regexp(t, `^map_[0-9a-f]{12}$`, mapId)

	env := mockECS.LaunchedEnvs[0]
	assert.Regexp(t, `^JobId-`, env["JOB_ID"])
	assert.Equal(t, "16516_433857.zip", env["MAP_NAME"])
}

func testBadMessage(t *testing.T) {
	newDispatchMocks(&test.MockDB{})

	response, err := Handler(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{
			{MessageId: "msg-bad", Body: "{not json"},
		},
	})
	assert.NoError(t, err)
	assert.Len(t, response.BatchItemFailures, 1)
	assert.Equal(t, "msg-bad", response.BatchItemFailures[0].ItemIdentifier)
}
