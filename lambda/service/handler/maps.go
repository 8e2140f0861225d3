package handler

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	log "github.com/sirupsen/logrus"

	"github.com/mra-mines/map-ingestion-service/pkg/authorizer"
	"github.com/mra-mines/map-ingestion-service/pkg/gateway"
	"github.com/mra-mines/map-ingestion-service/pkg/models/mapschema"
	"github.com/mra-mines/map-ingestion-service/pkg/queries/dydb"
)

const defaultPageSize = 20

// mapPageCursor is the continuation token for the dashboard listing. It
// carries every attribute of the owner-index key.
type mapPageCursor struct {
	MapId      string `json:"mapId"`
	MapName    string `json:"mapName"`
	OwnerEmail string `json:"ownerEmail"`
	CreatedAt  string `json:"createdAt"`
}

// getMapsRoute returns a page of the caller's map records.
func getMapsRoute(ctx context.Context, request events.APIGatewayV2HTTPRequest,
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

	status := sql.NullString{}
	if v, found := queryParams["status"]; found {
		if _, known := mapschema.Dict[v]; !known {
			return gateway.ErrorResp(fmt.Sprintf("Error: unknown status %q", v), 400), nil
		}
		status = sql.NullString{String: v, Valid: true}
	}

	var startKey map[string]types.AttributeValue
	if v, found := queryParams["continuation_token"]; found {
		cursor, err := decodeMapCursor(v)
		if err != nil {
			return gateway.ErrorResp("Error: invalid continuation token", 400), nil
		}
		startKey = map[string]types.AttributeValue{
			"mapId":      &types.AttributeValueMemberS{Value: cursor.MapId},
			"mapName":    &types.AttributeValueMemberS{Value: cursor.MapName},
			"ownerEmail": &types.AttributeValueMemberS{Value: cursor.OwnerEmail},
			"createdAt":  &types.AttributeValueMemberS{Value: cursor.CreatedAt},
		}
	}

	records, lastKey, err := store.GetMapsForOwner(ctx, store.tables.Maps, claims.Email, status, limit, startKey)
	if err != nil {
		message := "Error: Unable to get maps for owner: " + claims.Email + " ||| " + fmt.Sprint(err)
		return gateway.ErrorResp(message, 500), nil
	}

	responseBody := GetMapsResponse{}
	for _, m := range records {
		responseBody.Maps = append(responseBody.Maps, mapDTO(m))
	}

	if lastKey != nil {
		token, err := encodeMapCursor(lastKey)
		if err != nil {
			return nil, err
		}
		responseBody.ContinuationToken = token
	}

	return gateway.JSONResp(responseBody, 200), nil
}

// getMapRoute returns every record stored under a mapId. Owners and admins
// only.
func getMapRoute(ctx context.Context, request events.APIGatewayV2HTTPRequest,
	claims *authorizer.Claims) (*events.APIGatewayV2HTTPResponse, error) {

	mapId, found := request.PathParameters["id"]
	if !found || mapId == "" {
		return gateway.ErrorResp("Error: MapID not specified", 400), nil
	}

	records, err := store.GetMapsById(ctx, store.tables.Maps, mapId)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return gateway.ErrorResp("Error: map not found: "+mapId, 404), nil
	}

	responseBody := GetMapResponse{}
	for _, m := range records {
		if !claims.CanAccessMap(m.OwnerEmail) {
			continue
		}
		responseBody.Maps = append(responseBody.Maps, mapDTO(m))
	}
	if responseBody.Maps == nil {
		return gateway.ErrorResp("User is not authorized to view this map.", 403), nil
	}

	return gateway.JSONResp(responseBody, 200), nil
}

// getMapDownloadRoute returns a pre-signed url for downloading a processed
// map.
func getMapDownloadRoute(ctx context.Context, request events.APIGatewayV2HTTPRequest,
	claims *authorizer.Claims) (*events.APIGatewayV2HTTPResponse, error) {

	record, resp := loadOwnedMap(ctx, request, claims)
	if resp != nil {
		return resp, nil
	}

	if record.Status != mapschema.Completed.String() || record.S3Output == nil {
		return gateway.ErrorResp(
			fmt.Sprintf("map %s has no downloadable output (status %s)", record.MapId, record.Status), 409), nil
	}

	log.WithFields(
		log.Fields{
			"map_id": record.MapId,
			"owner":  record.OwnerEmail,
		}).Info(fmt.Sprintf("Getting pre-signed url for: %s/%s", record.S3Output.Bucket, record.S3Output.Key))

	presignResult, err := store.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(record.S3Output.Bucket),
		Key:    aws.String(record.S3Output.Key),
	},
		s3.WithPresignExpires(time.Minute*15),
	)
	if err != nil {
		log.WithFields(log.Fields{"map_id": record.MapId}).
			Error(fmt.Sprintf("Cannot create pre-signed url: %v", err))
		return gateway.ErrorResp("Error: could not create pre-signed url for object", 500), nil
	}

	responseBody := DownloadResponse{
		Message: "Navigating to this URL will download the processed map.",
		Url:     presignResult.URL,
	}

	return gateway.JSONResp(responseBody, 200), nil
}

// deleteMapRoute removes a map record, its stored objects, and cascades to
// the job record when the last map of the batch goes away.
func deleteMapRoute(ctx context.Context, request events.APIGatewayV2HTTPRequest,
	claims *authorizer.Claims) (*events.APIGatewayV2HTTPResponse, error) {

	record, resp := loadOwnedMap(ctx, request, claims)
	if resp != nil {
		return resp, nil
	}

	key := mapschema.MapPrimaryKey{MapId: record.MapId, MapName: record.MapName}
	deleted, err := store.DeleteMap(ctx, store.tables.Maps, key)
	if err != nil {
		var notFound *dydb.MapNotFoundError
		if errors.As(err, &notFound) {
			return gateway.ErrorResp(notFound.Error(), 404), nil
		}
		return nil, err
	}

	deleteStoredObjects(ctx, deleted)

	// Cascade delete is best effort: a leftover job record is harmless and
	// visible, a failed API call here should not fail the delete.
	jobDeleted := false
	if deleted.JobId != "" {
		remaining, err := store.CountMapsForJob(ctx, store.tables.Maps, deleted.JobId)
		if err == nil && remaining == 0 {
			if err := store.DeleteJob(ctx, store.tables.Jobs, deleted.JobId); err == nil {
				jobDeleted = true
			} else {
				log.WithFields(log.Fields{"job_id": deleted.JobId}).Warn("Cascade job delete failed: ", err)
			}
		} else if err != nil {
			log.WithFields(log.Fields{"job_id": deleted.JobId}).Warn("Cascade job count failed: ", err)
		}
	}

	responseBody := DeleteResponse{Message: "Success", JobDeleted: jobDeleted}
	return gateway.JSONResp(responseBody, 200), nil
}

// loadOwnedMap resolves the {id} path parameter plus the mapName query
// parameter into a record the caller may act on. Returns a non-nil response
// when the request must be rejected.
func loadOwnedMap(ctx context.Context, request events.APIGatewayV2HTTPRequest,
	claims *authorizer.Claims) (*mapschema.MapTable, *events.APIGatewayV2HTTPResponse) {

	mapId, found := request.PathParameters["id"]
	if !found || mapId == "" {
		return nil, gateway.ErrorResp("Error: MapID not specified", 400)
	}
	mapName, found := request.QueryStringParameters["mapName"]
	if !found || mapName == "" {
		return nil, gateway.ErrorResp("Error: mapName not specified", 400)
	}

	record, err := store.GetMap(ctx, store.tables.Maps, mapId, mapName)
	if err != nil {
		var notFound *dydb.MapNotFoundError
		if errors.As(err, &notFound) {
			return nil, gateway.ErrorResp(notFound.Error(), 404)
		}
		log.Error(err)
		return nil, gateway.ErrorResp("Internal Server Error", 500)
	}

	if !claims.CanAccessMap(record.OwnerEmail) {
		return nil, gateway.ErrorResp("User is not authorized to perform this action on the map.", 403)
	}

	return record, nil
}

// deleteStoredObjects removes the uploaded archive and any processed output
// for a deleted record. Best effort.
func deleteStoredObjects(ctx context.Context, record *mapschema.MapTable) {
	objects := map[string][]s3Types.ObjectIdentifier{
		store.buckets.Upload: {
			{Key: aws.String(uploadKey(record.JobId, record.MapName))},
		},
	}
	if record.S3Output != nil {
		objects[record.S3Output.Bucket] = append(objects[record.S3Output.Bucket],
			s3Types.ObjectIdentifier{Key: aws.String(record.S3Output.Key)})
	}

	for bucket, keys := range objects {
		_, err := store.s3Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &s3Types.Delete{Objects: keys, Quiet: aws.Bool(true)},
		})
		if err != nil {
			log.WithFields(log.Fields{"map_id": record.MapId, "bucket": bucket}).
				Warn("Unable to delete stored objects: ", err)
		}
	}
}

func encodeMapCursor(lastKey map[string]types.AttributeValue) (string, error) {
	cursor := mapPageCursor{}
	if err := attributevalue.UnmarshalMap(lastKey, &cursor); err != nil {
		return "", fmt.Errorf("UnmarshalMap: %w", err)
	}
	raw, err := json.Marshal(cursor)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeMapCursor(token string) (*mapPageCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	cursor := mapPageCursor{}
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}
