// Package handler implements the Lambda fallback processor. It stands in
// for the Fargate task when no capacity is available: the real
// transformation pipeline is not built yet, so processing is a copy of the
// archive into the output bucket with the map bookkeeping around it.
package handler

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"

	"github.com/mra-mines/map-ingestion-service/pkg/models/mapschema"
)

var store *ProcessorStore

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	ll, err := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.SetLevel(log.InfoLevel)
	} else {
		log.SetLevel(ll)
	}

	cfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("LoadDefaultConfig: %v\n", err)
	}

	store = NewProcessorStore(
		dynamodb.NewFromConfig(cfg),
		s3.NewFromConfig(cfg),
		TableNames{
			Maps: os.Getenv("MAPS_TABLE"),
			Jobs: os.Getenv("JOBS_TABLE"),
		},
		os.Getenv("OUTPUT_BUCKET"),
	)
}

// ProcessEvent is the async invocation payload from the dispatcher.
type ProcessEvent struct {
	JobId  string `json:"jobId"`
	MapId  string `json:"mapId"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// ProcessResult reports what happened to the map.
type ProcessResult struct {
	JobId        string `json:"jobId"`
	MapId        string `json:"mapId"`
	Status       string `json:"status"`
	OutputBucket string `json:"outputBucket,omitempty"`
	OutputKey    string `json:"outputKey,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Handler processes one map end to end.
func Handler(ctx context.Context, event ProcessEvent) (*ProcessResult, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}

	mapName := event.Key
	if i := strings.LastIndex(event.Key, "/"); i >= 0 {
		mapName = event.Key[i+1:]
	}
	key := mapschema.MapPrimaryKey{MapId: event.MapId, MapName: mapName}

	log.WithFields(log.Fields{
		"job_id": event.JobId,
		"map_id": event.MapId,
		"key":    event.Key,
	}).Info("Processing map")

	timestamp := mapschema.Timestamp(time.Now())
	if err := store.UpdateJobStatus(ctx, store.tables.Jobs, event.JobId,
		mapschema.JobProcessing, timestamp, nil); err != nil {
		return nil, err
	}
	if err := store.UpdateMapStatus(ctx, store.tables.Maps, key, mapschema.Processing, timestamp); err != nil {
		return nil, err
	}

	outputKey, err := store.produceOutput(ctx, event)
	if err != nil {
		return store.failMap(ctx, event, key, err)
	}

	if err := store.SetMapOutput(ctx, store.tables.Maps, key, mapschema.S3Output{
		Bucket: store.outputBucket,
		Key:    outputKey,
		Url:    fmt.Sprintf("https://s3.amazonaws.com/%s/%s", store.outputBucket, outputKey),
	}, mapschema.Timestamp(time.Now())); err != nil {
		return nil, err
	}

	finalStatus, done, err := store.ResolveJobIfComplete(ctx, store.tables.Jobs, event.JobId,
		false, mapschema.Timestamp(time.Now()))
	if err != nil {
		return nil, err
	}
	if done {
		log.WithFields(log.Fields{"job_id": event.JobId}).
			Info("Batch finished with status " + finalStatus.String())
	}

	return &ProcessResult{
		JobId:        event.JobId,
		MapId:        event.MapId,
		Status:       mapschema.Completed.String(),
		OutputBucket: store.outputBucket,
		OutputKey:    outputKey,
	}, nil
}

func validateEvent(event ProcessEvent) error {
	var missing []string
	for field, value := range map[string]string{
		"jobId":  event.JobId,
		"mapId":  event.MapId,
		"bucket": event.Bucket,
		"key":    event.Key,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// produceOutput is the placeholder transformation: the archive is copied to
// the output bucket under a derived key. A key containing "fail" simulates a
// processing error for pipeline testing.
func (s *ProcessorStore) produceOutput(ctx context.Context, event ProcessEvent) (string, error) {
	if strings.Contains(strings.ToLower(event.Key), "fail") {
		return "", fmt.Errorf("simulated processing failure for %s", event.Key)
	}

	outputKey := event.Key + "-output"
	if strings.HasSuffix(event.Key, ".zip") {
		outputKey = strings.TrimSuffix(event.Key, ".zip") + "-output.zip"
	}

	_, err := s.s3Client.CopyObject(ctx, &s3.CopyObjectInput{
		CopySource: aws.String(fmt.Sprintf("%s/%s", event.Bucket, event.Key)),
		Bucket:     aws.String(s.outputBucket),
		Key:        aws.String(outputKey),
	})
	if err != nil {
		return "", fmt.Errorf("failed to copy %s/%s: %w", event.Bucket, event.Key, err)
	}

	log.WithFields(log.Fields{"output_key": outputKey}).Info("Copied archive to output bucket")
	return outputKey, nil
}

// failMap records the failure on the map and the batch counters. The event
// was consumed; the error is reported in the result, not returned, so the
// async invocation is not retried.
func (s *ProcessorStore) failMap(ctx context.Context, event ProcessEvent,
	key mapschema.MapPrimaryKey, cause error) (*ProcessResult, error) {

	log.WithFields(log.Fields{"job_id": event.JobId, "map_id": event.MapId}).
		Error("Processing failed: ", cause)

	timestamp := mapschema.Timestamp(time.Now())
	if err := s.SetMapFailure(ctx, s.tables.Maps, key, cause.Error(), timestamp); err != nil {
		return nil, err
	}

	finalStatus, done, err := s.ResolveJobIfComplete(ctx, s.tables.Jobs, event.JobId, true, timestamp)
	if err != nil {
		return nil, err
	}
	if done {
		log.WithFields(log.Fields{"job_id": event.JobId}).
			Info("Batch finished with status " + finalStatus.String())
	}

	return &ProcessResult{
		JobId:  event.JobId,
		MapId:  event.MapId,
		Status: mapschema.Failed.String(),
		Error:  mapschema.TruncateError(cause.Error()),
	}, nil
}
