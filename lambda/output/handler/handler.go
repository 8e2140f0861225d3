// Package handler finalizes jobs when processed archives land in the output
// bucket. The record is stamped with the output location and the submitter
// is notified through SNS.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	log "github.com/sirupsen/logrus"

	"github.com/mra-mines/map-ingestion-service/pkg/models/mapschema"
)

var store *FinalizeStore

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

	store = NewFinalizeStore(
		dynamodb.NewFromConfig(cfg),
		s3.NewFromConfig(cfg),
		sns.NewFromConfig(cfg),
		os.Getenv("JOBS_TABLE"),
		os.Getenv("NOTIFY_TOPIC_ARN"),
	)
}

// notification is the SNS message body for a finished job.
type notification struct {
	JobId        string `json:"jobId"`
	Status       string `json:"status"`
	OutputBucket string `json:"outputBucket"`
	OutputKey    string `json:"outputKey"`
}

// Handler processes "object created" events on the output bucket.
func Handler(ctx context.Context, s3Event events.S3Event) error {
	for _, record := range s3Event.Records {
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			log.Error("Unable to unescape object key: ", err)
			continue
		}
		bucket := record.S3.Bucket.Name

		if err := store.finalize(ctx, bucket, key); err != nil {
			log.WithFields(log.Fields{"bucket": bucket, "key": key}).
				Error("Unable to finalize job: ", err)
		}
	}

	return nil
}

// finalize resolves the output object back to its job through the jobid
// metadata carried over from the input archive, stamps the job with the
// output location, and notifies the submitter.
func (s *FinalizeStore) finalize(ctx context.Context, bucket string, key string) error {
	head, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("HeadObject: %w", err)
	}

	jobId := head.Metadata["jobid"]
	if jobId == "" {
		return fmt.Errorf("output object %s/%s missing jobid metadata", bucket, key)
	}

	job, err := s.GetJob(ctx, s.jobsTable, jobId)
	if err != nil {
		return err
	}

	// The processors resolve the terminal status through the batch counters;
	// the output location is recorded here without reopening a finished job.
	status := mapschema.JobCompleted
	switch job.Status {
	case mapschema.JobPartialSuccess.String():
		status = mapschema.JobPartialSuccess
	case mapschema.JobFailed.String():
		status = mapschema.JobFailed
	}

	extra := map[string]string{
		"outputBucket": bucket,
		"outputKey":    key,
	}

	notifyStatus := "SENT"
	if err := s.notify(ctx, notification{
		JobId:        jobId,
		Status:       status.String(),
		OutputBucket: bucket,
		OutputKey:    key,
	}); err != nil {
		log.WithFields(log.Fields{"job_id": jobId}).Warn("Notification failed: ", err)
		notifyStatus = "FAILED"
	}
	extra["notificationStatus"] = notifyStatus

	if err := s.UpdateJobStatus(ctx, s.jobsTable, jobId, status,
		mapschema.Timestamp(time.Now()), extra); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"job_id": jobId,
		"status": status.String(),
		"output": fmt.Sprintf("s3://%s/%s", bucket, key),
	}).Info("Finalized job")
	return nil
}

func (s *FinalizeStore) notify(ctx context.Context, message notification) error {
	if s.topicArn == "" {
		return fmt.Errorf("no notification topic configured")
	}

	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	_, err = s.snsClient.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicArn),
		Subject:  aws.String(fmt.Sprintf("Map processing %s: %s", message.Status, message.JobId)),
		Message:  aws.String(string(body)),
	})
	return err
}
