// Package handler implements the dispatcher that turns uploaded archives
// into processing tasks. It consumes the S3 "object created" notifications
// for the input bucket, delivered through SQS, records the job and map
// state, and launches a Fargate processor per archive with an async Lambda
// as fallback.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	lambdaService "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/mra-mines/map-ingestion-service/pkg/models/mapschema"
	"github.com/mra-mines/map-ingestion-service/pkg/queries/dydb"
)

var store *DispatchStore

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

	store = NewDispatchStore(
		dynamodb.NewFromConfig(cfg),
		s3.NewFromConfig(cfg),
		ecs.NewFromConfig(cfg),
		lambdaService.NewFromConfig(cfg),
		TableNames{
			Maps: os.Getenv("MAPS_TABLE"),
			Jobs: os.Getenv("JOBS_TABLE"),
		},
		EcsConfig{
			Cluster:        os.Getenv("CLUSTER_ARN"),
			TaskDefinition: os.Getenv("TASK_DEF_ARN"),
			Subnets:        strings.Split(os.Getenv("SUBNET_IDS"), ","),
			SecurityGroup:  os.Getenv("SECURITY_GROUP"),
			ContainerName:  "processor",
		},
		os.Getenv("FALLBACK_FUNCTION_NAME"),
	)
}

// uploadEntry is one archive that landed in the input bucket, together with
// the reservation metadata the upload url stamped on the object.
type uploadEntry struct {
	Bucket      string
	Key         string
	MapName     string
	SizeBytes   int64
	MapId       string
	JobId       string
	SubmittedBy string
	BatchSize   int64
}

// Handler dispatches each uploaded archive. Messages that fail to dispatch
// are reported back to SQS for redelivery; the rest of the batch proceeds.
func Handler(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var failures []events.SQSBatchItemFailure

	for _, message := range sqsEvent.Records {
		if err := handleMessage(ctx, message); err != nil {
			log.WithFields(log.Fields{"message_id": message.MessageId}).Error(err)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: message.MessageId})
		}
	}

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func handleMessage(ctx context.Context, message events.SQSMessage) error {
	s3Event := events.S3Event{}
	if err := json.Unmarshal([]byte(message.Body), &s3Event); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	for _, record := range s3Event.Records {
		entry, err := store.uploadEntryFromRecord(ctx, record)
		if err != nil {
			return err
		}
		if err := store.dispatch(ctx, entry); err != nil {
			return err
		}
	}

	return nil
}

// uploadEntryFromRecord reads the object metadata that the presigned upload
// url stamped on the archive. Objects uploaded outside the service, without
// metadata, get fresh identifiers and are attributed to "system".
func (s *DispatchStore) uploadEntryFromRecord(ctx context.Context, record events.S3EventRecord) (*uploadEntry, error) {
	key, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to unescape object key %q: %w", record.S3.Object.Key, err)
	}

	entry := &uploadEntry{
		Bucket:      record.S3.Bucket.Name,
		Key:         key,
		MapName:     key,
		SizeBytes:   record.S3.Object.Size,
		SubmittedBy: "system",
		BatchSize:   1,
	}
	if i := strings.LastIndex(key, "/"); i >= 0 {
		entry.MapName = key[i+1:]
	}

	head, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &entry.Bucket,
		Key:    &entry.Key,
	})
	if err != nil {
		log.WithFields(log.Fields{"bucket": entry.Bucket, "key": entry.Key}).
			Warn("Unable to read object metadata: ", err)
	} else {
		if v, found := head.Metadata["submittedby"]; found {
			entry.SubmittedBy = v
		}
		entry.MapId = head.Metadata["mapid"]
		entry.JobId = head.Metadata["jobid"]
		if v, found := head.Metadata["batchsize"]; found {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				entry.BatchSize = n
			}
		}
	}

	if entry.MapId == "" {
		entry.MapId = "map_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	}
	if entry.JobId == "" {
		entry.JobId = "JobId-" + uuid.New().String()
	}

	return entry, nil
}

// dispatch records the job and map for an uploaded archive and launches its
// processor.
func (s *DispatchStore) dispatch(ctx context.Context, entry *uploadEntry) error {
	timestamp := mapschema.Timestamp(time.Now())

	created, err := s.CreateJob(ctx, s.tables.Jobs, mapschema.JobTable{
		JobId:              entry.JobId,
		SubmittedBy:        entry.SubmittedBy,
		Status:             mapschema.JobQueued.String(),
		CreatedAt:          timestamp,
		NotificationStatus: "PENDING",
		MapSource:          mapschema.MapSourceUserUpload,
		BatchSize:          entry.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}
	if created {
		log.WithFields(log.Fields{"job_id": entry.JobId}).
			Info(fmt.Sprintf("Created job for batch of %d files", entry.BatchSize))
	}

	if err := s.recordMap(ctx, entry, timestamp); err != nil {
		return err
	}

	if err := s.launchProcessor(ctx, entry); err != nil {
		message := mapschema.TruncateError(err.Error())
		log.WithFields(log.Fields{"job_id": entry.JobId, "map_id": entry.MapId}).
			Error("Unable to dispatch map: ", err)

		key := mapschema.MapPrimaryKey{MapId: entry.MapId, MapName: entry.MapName}
		if dbErr := s.SetMapFailure(ctx, s.tables.Maps, key, message, mapschema.Timestamp(time.Now())); dbErr != nil {
			log.WithFields(log.Fields{"map_id": entry.MapId}).Error(dbErr)
		}
		if dbErr := s.UpdateJobStatus(ctx, s.tables.Jobs, entry.JobId,
			mapschema.JobFailed, mapschema.Timestamp(time.Now()), nil); dbErr != nil {
			log.WithFields(log.Fields{"job_id": entry.JobId}).Error(dbErr)
		}
		return err
	}

	if err := s.markDispatched(ctx, entry); err != nil {
		return err
	}

	log.WithFields(log.Fields{"job_id": entry.JobId, "map_id": entry.MapId, "key": entry.Key}).
		Info("Dispatched map for processing")
	return nil
}

// recordMap writes the QUEUED map record, or resets an existing one. The
// reservation from the upload url normally exists already; the conditional
// put only succeeds for out-of-band uploads.
func (s *DispatchStore) recordMap(ctx context.Context, entry *uploadEntry, timestamp string) error {
	err := s.CreateMap(ctx, s.tables.Maps, mapschema.MapTable{
		MapId:      entry.MapId,
		MapName:    entry.MapName,
		Status:     mapschema.Queued.String(),
		OwnerEmail: entry.SubmittedBy,
		JobId:      entry.JobId,
		CreatedAt:  timestamp,
		SizeBytes:  entry.SizeBytes,
		MapVersion: 1,
	})
	if err == nil {
		return nil
	}
	var exists *dydb.MapExistsError
	if !errors.As(err, &exists) {
		return fmt.Errorf("failed to create map record: %w", err)
	}

	key := mapschema.MapPrimaryKey{MapId: entry.MapId, MapName: entry.MapName}
	if err := s.ResetMapForRetry(ctx, s.tables.Maps, key, entry.JobId, mapschema.Queued, timestamp); err != nil {
		return fmt.Errorf("failed to reset map record: %w", err)
	}
	return nil
}

func (s *DispatchStore) markDispatched(ctx context.Context, entry *uploadEntry) error {
	timestamp := mapschema.Timestamp(time.Now())
	key := mapschema.MapPrimaryKey{MapId: entry.MapId, MapName: entry.MapName}
	if err := s.UpdateMapStatus(ctx, s.tables.Maps, key, mapschema.Dispatched, timestamp); err != nil {
		return fmt.Errorf("failed to update map status: %w", err)
	}
	if err := s.UpdateJobStatus(ctx, s.tables.Jobs, entry.JobId, mapschema.JobDispatched, timestamp, nil); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}
