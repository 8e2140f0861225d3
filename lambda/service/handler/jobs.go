package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mra-mines/map-ingestion-service/pkg/authorizer"
	"github.com/mra-mines/map-ingestion-service/pkg/gateway"
)

// jobPageCursor is the continuation token for the job listing, carrying the
// owner-index key attributes.
type jobPageCursor struct {
	JobId       string `json:"jobId"`
	SubmittedBy string `json:"submittedBy"`
	CreatedAt   string `json:"createdAt"`
}

// getJobsRoute returns a page of the caller's submitted batches, newest
// first.
func getJobsRoute(ctx context.Context, request events.APIGatewayV2HTTPRequest,
	claims *authorizer.Claims) (*events.APIGatewayV2HTTPResponse, error) {

	queryParams := request.QueryStringParameters

	limit := int32(defaultPageSize)
	if v, found := queryParams["limit"]; found {
		r, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return gateway.ErrorResp("Error: Incorrectly specified 'limit' parameter", 400), nil
		}
		limit = int32(r)
	}

	var startKey map[string]types.AttributeValue
	if v, found := queryParams["continuation_token"]; found {
		raw, err := base64.RawURLEncoding.DecodeString(v)
		if err != nil {
			return gateway.ErrorResp("Error: invalid continuation token", 400), nil
		}
		cursor := jobPageCursor{}
		if err := json.Unmarshal(raw, &cursor); err != nil {
			return gateway.ErrorResp("Error: invalid continuation token", 400), nil
		}
		startKey = map[string]types.AttributeValue{
			"jobId":       &types.AttributeValueMemberS{Value: cursor.JobId},
			"submittedBy": &types.AttributeValueMemberS{Value: cursor.SubmittedBy},
			"createdAt":   &types.AttributeValueMemberS{Value: cursor.CreatedAt},
		}
	}

	jobs, lastKey, err := store.GetJobsForOwner(ctx, store.tables.Jobs, claims.Email, limit, startKey)
	if err != nil {
		message := "Error: Unable to get jobs for owner: " + claims.Email + " ||| " + fmt.Sprint(err)
		return gateway.ErrorResp(message, 500), nil
	}

	responseBody := GetJobsResponse{}
	for _, j := range jobs {
		responseBody.Jobs = append(responseBody.Jobs, jobDTO(j))
	}

	if lastKey != nil {
		cursor := jobPageCursor{}
		if err := attributevalue.UnmarshalMap(lastKey, &cursor); err != nil {
			return nil, fmt.Errorf("UnmarshalMap: %w", err)
		}
		raw, err := json.Marshal(cursor)
		if err != nil {
			return nil, err
		}
		responseBody.ContinuationToken = base64.RawURLEncoding.EncodeToString(raw)
	}

	return gateway.JSONResp(responseBody, 200), nil
}
