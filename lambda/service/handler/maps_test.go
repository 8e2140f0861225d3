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

func storedMap(status mapschema.Status, owner string) mapschema.MapTable {
	record := mapschema.MapTable{
		MapId:      testMapId,
		MapName:    "16516_433857.zip",
		Status:     status.String(),
		OwnerEmail: owner,
		JobId:      "JobId-batch-1",
		CreatedAt:  "2026-03-14T09:26:53.589Z",
		SizeBytes:  2048,
	}
	if status == mapschema.Completed {
		record.S3Output = &mapschema.S3Output{
			Bucket: "output-bucket",
			Key:    "output/16516_433857.zip",
			Url:    "https://s3.amazonaws.com/output-bucket/output/16516_433857.zip",
		}
	}
	return record
}

func queryReturning(records ...mapschema.MapTable) func(ctx context.Context, params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
	return func(ctx context.Context, params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
		output := &dynamodb.QueryOutput{}
		for _, r := range records {
			item, _ := attributevalue.MarshalMap(r)
			output.Items = append(output.Items, item)
		}
		return output, nil
	}
}

func TestGetMapsRoute(t *testing.T) {
	for scenario, fn := range map[string]func(tt *testing.T){
		"lists the caller's maps":         testListMaps,
		"pages with continuation tokens":  testListMapsPagination,
		"rejects bad paging parameters":   testListMapsBadParams,
		"single map honors access rules":  testGetMapAccess,
		"download requires completed map": testDownloadRoute,
		"delete cascades to job and s3":   testDeleteRoute,
		"lists the caller's jobs":         testListJobs,
	} {
		t.Run(scenario, fn)
	}
}

func testListMaps(t *testing.T) {
	db := &test.MockDB{QueryFn: queryReturning(storedMap(mapschema.Processing, testUserEmail))}
	newTestStore(db)

	response, err := Handler(context.Background(), authorizedRequest("GET", "/maps", ""))
	assert.NoError(t, err)
	assert.Equal(t, 200, response.StatusCode)

	var resp GetMapsResponse
	assert.NoError(t, json.Unmarshal([]byte(response.Body), &resp))
	assert.Len(t, resp.Maps, 1)
	assert.Equal(t, testMapId, resp.Maps[0].MapId)
	assert.Equal(t, mapschema.Processing.String(), resp.Maps[0].Status)
	assert.Empty(t, resp.ContinuationToken)
}

func testListMapsPagination(t *testing.T) {
	var seenStartKey map[string]types.AttributeValue
	db := &test.MockDB{
		QueryFn: func(ctx context.Context, params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			seenStartKey = params.ExclusiveStartKey
			item, _ := attributevalue.MarshalMap(storedMap(mapschema.Queued, testUserEmail))
			return &dynamodb.QueryOutput{
				Items:            []map[string]types.AttributeValue{item},
				LastEvaluatedKey: item,
			}, nil
		},
	}
	newTestStore(db)

	response, err := Handler(context.Background(), authorizedRequest("GET", "/maps", ""))
	assert.NoError(t, err)

	var resp GetMapsResponse
	assert.NoError(t, json.Unmarshal([]byte(response.Body), &resp))
	assert.NotEmpty(t, resp.ContinuationToken)

	// Feed the token back and verify it reconstructs the start key.
	request := authorizedRequest("GET", "/maps", "")
	request.QueryStringParameters = map[string]string{"continuation_token": resp.ContinuationToken}
	_, err = Handler(context.Background(), request)
	assert.NoError(t, err)
	assert.Equal(t,
		&types.AttributeValueMemberS{Value: testMapId}, seenStartKey["mapId"])
	assert.Equal(t,
		&types.AttributeValueMemberS{Value: testUserEmail}, seenStartKey["ownerEmail"])
}

func testListMapsBadParams(t *testing.T) {
	newTestStore(&test.MockDB{})

	request := authorizedRequest("GET", "/maps", "")
	request.QueryStringParameters = map[string]string{"limit": "twenty"}
	response, _ := Handler(context.Background(), request)
	assert.Equal(t, 400, response.StatusCode)

	request.QueryStringParameters = map[string]string{"status": "BOGUS"}
	response, _ = Handler(context.Background(), request)
	assert.Equal(t, 400, response.StatusCode)

	request.QueryStringParameters = map[string]string{"continuation_token": "???not-base64"}
	response, _ = Handler(context.Background(), request)
	assert.Equal(t, 400, response.StatusCode)
}

func mapIdRequest(method string) events.APIGatewayV2HTTPRequest {
	request := authorizedRequest(method, "/maps/{id}", "")
	request.PathParameters = map[string]string{"id": testMapId}
	request.QueryStringParameters = map[string]string{"mapName": "16516_433857.zip"}
	return request
}

func testGetMapAccess(t *testing.T) {
	// Same content uploaded by someone else is invisible to a plain caller.
	db := &test.MockDB{QueryFn: queryReturning(storedMap(mapschema.Completed, "someone.else@example.com"))}
	newTestStore(db)

	response, err := Handler(context.Background(), mapIdRequest("GET"))
	assert.NoError(t, err)
	assert.Equal(t, 403, response.StatusCode)

	// An admin sees it.
	request := mapIdRequest("GET")
	request.RequestContext.Authorizer.JWT.Claims["cognito:groups"] = "[map-admins]"
	response, err = Handler(context.Background(), request)
	assert.NoError(t, err)
	assert.Equal(t, 200, response.StatusCode)

	var resp GetMapResponse
	assert.NoError(t, json.Unmarshal([]byte(response.Body), &resp))
	assert.Len(t, resp.Maps, 1)

	// Unknown id is a 404.
	newTestStore(&test.MockDB{})
	response, _ = Handler(context.Background(), mapIdRequest("GET"))
	assert.Equal(t, 404, response.StatusCode)
}

func getItemReturning(record mapschema.MapTable) func(ctx context.Context, params *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
	return func(ctx context.Context, params *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		item, _ := attributevalue.MarshalMap(record)
		return &dynamodb.GetItemOutput{Item: item}, nil
	}
}

func testDownloadRoute(t *testing.T) {
	// Still processing: no output to hand out.
	db := &test.MockDB{GetItemFn: getItemReturning(storedMap(mapschema.Processing, testUserEmail))}
	newTestStore(db)

	request := mapIdRequest("GET")
	request.RouteKey = "GET /maps/{id}/download"
	response, err := Handler(context.Background(), request)
	assert.NoError(t, err)
	assert.Equal(t, 409, response.StatusCode)
	assert.Contains(t, response.Body, "no downloadable output")

	// Completed: presigned GET against the recorded output location.
	db = &test.MockDB{GetItemFn: getItemReturning(storedMap(mapschema.Completed, testUserEmail))}
	_, mockPresign := newTestStore(db)

	response, err = Handler(context.Background(), request)
	assert.NoError(t, err)
	assert.Equal(t, 200, response.StatusCode)

	var resp DownloadResponse
	assert.NoError(t, json.Unmarshal([]byte(response.Body), &resp))
	assert.Equal(t, "https://example.com/download/output-bucket/output/16516_433857.zip", resp.Url)
	assert.Len(t, mockPresign.GetUrls, 1)
}

func testDeleteRoute(t *testing.T) {
	record := storedMap(mapschema.Completed, testUserEmail)
	jobDeleted := false
	db := &test.MockDB{
		GetItemFn: getItemReturning(record),
		DeleteItemFn: func(ctx context.Context, params *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
			if _, isMap := params.Key["mapName"]; !isMap {
				jobDeleted = true
				return &dynamodb.DeleteItemOutput{}, nil
			}
			item, _ := attributevalue.MarshalMap(record)
			return &dynamodb.DeleteItemOutput{Attributes: item}, nil
		},
		// No other maps remain under the job.
		QueryFn: func(ctx context.Context, params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Count: 0}, nil
		},
	}
	mockS3, _ := newTestStore(db)

	response, err := Handler(context.Background(), mapIdRequest("DELETE"))
	assert.NoError(t, err)
	assert.Equal(t, 200, response.StatusCode)

	var resp DeleteResponse
	assert.NoError(t, json.Unmarshal([]byte(response.Body), &resp))
	assert.Equal(t, "Success", resp.Message)
	assert.True(t, resp.JobDeleted)
	assert.True(t, jobDeleted)
	assert.Contains(t, mockS3.DeletedKeys, "JobId-batch-1/16516_433857.zip")
	assert.Contains(t, mockS3.DeletedKeys, "output/16516_433857.zip")
}

func testListJobs(t *testing.T) {
	job := mapschema.JobTable{
		JobId:          "JobId-batch-1",
		SubmittedBy:    testUserEmail,
		Status:         mapschema.JobProcessing.String(),
		CreatedAt:      "2026-03-14T09:26:53.589Z",
		BatchSize:      3,
		ProcessedCount: 1,
	}
	db := &test.MockDB{
		QueryFn: func(ctx context.Context, params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			item, _ := attributevalue.MarshalMap(job)
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}, nil
		},
	}
	newTestStore(db)

	response, err := Handler(context.Background(), authorizedRequest("GET", "/jobs", ""))
	assert.NoError(t, err)
	assert.Equal(t, 200, response.StatusCode)

	var resp GetJobsResponse
	assert.NoError(t, json.Unmarshal([]byte(response.Body), &resp))
	assert.Len(t, resp.Jobs, 1)
	assert.Equal(t, "JobId-batch-1", resp.Jobs[0].JobId)
	assert.Equal(t, int64(3), resp.Jobs[0].BatchSize)
	assert.Equal(t, int64(1), resp.Jobs[0].ProcessedCount)
}
