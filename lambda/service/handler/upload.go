package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fastjson"

	"github.com/mra-mines/map-ingestion-service/pkg/authorizer"
	"github.com/mra-mines/map-ingestion-service/pkg/gateway"
	"github.com/mra-mines/map-ingestion-service/pkg/models/mapschema"
	"github.com/mra-mines/map-ingestion-service/pkg/models/sheet"
	"github.com/mra-mines/map-ingestion-service/pkg/queries/dydb"
)

// uploadUrlTTL bounds how long a minted upload url stays valid. It doubles
// as the age after which a RESERVED record is considered abandoned.
const uploadUrlTTL = mapschema.ReservationTTL

var sha256HexRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// postMapUploadRoute validates the upload request, reserves the map
// identity and mints a presigned upload url.
func postMapUploadRoute(ctx context.Context, request events.APIGatewayV2HTTPRequest,
	claims *authorizer.Claims) (*events.APIGatewayV2HTTPResponse, error) {

	if err := fastjson.Validate(request.Body); err != nil {
		message := "Error: Invalid JSON payload ||| " + fmt.Sprint(err)
		return gateway.ErrorResp(message, 400), nil
	}

	var req UploadRequest
	if err := json.Unmarshal([]byte(request.Body), &req); err != nil {
		message := "Error: Invalid JSON payload ||| " + fmt.Sprint(err)
		return gateway.ErrorResp(message, 400), nil
	}

	if req.ContentType != "application/zip" {
		return gateway.ErrorResp(
			fmt.Sprintf("unsupported content type %q, map archives must be application/zip", req.ContentType), 400), nil
	}
	if !sha256HexRe.MatchString(req.ContentHash) {
		return gateway.ErrorResp("contentHash must be a lowercase hex sha256 digest", 400), nil
	}

	// Defense in depth: the browser already ran the same grammar check.
	if _, err := sheet.Parse(req.FileName); err != nil {
		var formatErr *sheet.FormatError
		if errors.As(err, &formatErr) {
			return gateway.ErrorResp(formatErr.Error(), 400), nil
		}
		return nil, err
	}

	mapId, err := mapschema.MapIdFromHash(req.ContentHash)
	if err != nil {
		return gateway.ErrorResp(err.Error(), 400), nil
	}

	jobId := req.JobId
	if jobId == "" {
		jobId = "JobId-" + uuid.New().String()
	}
	batchSize := req.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	now := time.Now()
	timestamp := mapschema.Timestamp(now)

	record := mapschema.MapTable{
		MapId:      mapId,
		MapName:    req.FileName,
		Status:     mapschema.Reserved.String(),
		OwnerEmail: claims.Email,
		JobId:      jobId,
		CreatedAt:  timestamp,
		SizeBytes:  req.SizeBytes,
		MapVersion: 1,
	}

	retry := false
	err = store.CreateMap(ctx, store.tables.Maps, record)
	if err != nil {
		var existsErr *dydb.MapExistsError
		if !errors.As(err, &existsErr) {
			return nil, err
		}

		resp, takeOver := decideRetry(ctx, mapId, req.FileName, now)
		if !takeOver {
			return resp, nil
		}

		key := mapschema.MapPrimaryKey{MapId: mapId, MapName: req.FileName}
		if err := store.ResetMapForRetry(ctx, store.tables.Maps, key, jobId, mapschema.Reserved, timestamp); err != nil {
			return nil, err
		}
		retry = true
	}

	log.WithFields(
		log.Fields{
			"map_id": mapId,
			"job_id": jobId,
			"owner":  claims.Email,
			"retry":  retry,
		},
	).Info("Reserved map upload.")

	presignResult, err := store.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(store.buckets.Upload),
		Key:           aws.String(uploadKey(jobId, req.FileName)),
		ContentType:   aws.String(req.ContentType),
		ContentLength: aws.Int64(req.SizeBytes),
		Metadata: map[string]string{
			"mapid":       mapId,
			"jobid":       jobId,
			"submittedby": claims.Email,
			"batchsize":   fmt.Sprintf("%d", batchSize),
		},
	},
		s3.WithPresignExpires(uploadUrlTTL),
	)
	if err != nil {
		log.WithFields(log.Fields{"map_id": mapId, "job_id": jobId}).
			Error(fmt.Sprintf("Cannot create pre-signed url: %v", err))
		return gateway.ErrorResp("Error: could not create pre-signed url for object", 500), nil
	}

	responseBody := UploadResponse{
		MapId:     mapId,
		JobId:     jobId,
		Url:       presignResult.URL,
		ExpiresIn: int64(uploadUrlTTL.Seconds()),
		Retry:     retry,
	}

	return gateway.JSONResp(responseBody, 200), nil
}

// decideRetry consults the duplicate policy for an already-reserved map.
// Returns the rejection response, or takeOver=true when the re-upload may
// claim the record.
func decideRetry(ctx context.Context, mapId string, mapName string, now time.Time) (*events.APIGatewayV2HTTPResponse, bool) {
	existing, err := store.GetMap(ctx, store.tables.Maps, mapId, mapName)
	if err != nil {
		// Record vanished between the conditional put and this read; tell
		// the client to try again rather than guessing.
		log.WithFields(log.Fields{"map_id": mapId}).Warn("Reservation conflict but record not readable: ", err)
		return gateway.ErrorResp("upload conflict, please retry", 409), false
	}

	currentStatus := mapschema.Dict[existing.Status]
	if !mapschema.CanRetry(currentStatus, existing.LastTouched(), now) {
		message := fmt.Sprintf("a map with identical content is already %s (map %s, uploaded by %s)",
			existing.Status, mapId, existing.OwnerEmail)
		return gateway.ErrorResp(message, 409), false
	}

	return nil, true
}

func uploadKey(jobId string, fileName string) string {
	return fmt.Sprintf("%s/%s", jobId, fileName)
}
